//go:build unix

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/SkynetNext/localipc/internal/client"
	"github.com/SkynetNext/localipc/internal/cmsg"
	"github.com/SkynetNext/localipc/internal/config"
	"github.com/SkynetNext/localipc/internal/directory"
	"github.com/spf13/cobra"
)

var (
	sendConfigPath string
	sendFiles      []string
	sendTimeout    time.Duration
)

func init() {
	sendCmd.Flags().StringVarP(&sendConfigPath, "config", "c", "", "Configuration file; its directory section resolves names.")
	sendCmd.Flags().StringSliceVarP(&sendFiles, "file", "f", nil, "File whose descriptor is passed along (repeatable).")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Second, "Overall timeout.")
}

var sendCmd = &cobra.Command{
	Use:   "send <socket-path|name> <message>",
	Short: "Sends a message, optionally with descriptors, and prints the reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, args[0], args[1])
	},
}

func send(cmd *cobra.Command, target, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var resolver client.Resolver
	if sendConfigPath != "" {
		cfg, err := config.Load(sendConfigPath)
		if err != nil {
			return err
		}
		if cfg.Directory.Enabled {
			dir := directory.NewClient(&cfg.Directory)
			defer dir.Close()
			resolver = dir
		}
	}

	conn, err := client.NewDialer(resolver, client.Options{}).Dial(ctx, target)
	if err != nil {
		return err
	}
	defer conn.Close()

	out := cmsg.NewVecBuffer[cmsg.NoContext](0, cmsg.NoContext{})
	for _, name := range sendFiles {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := cmsg.AddRights(out, int(f.Fd())); err != nil {
			return err
		}
	}

	if _, err := conn.WriteAncillary([]byte(message), out.Erased()); err != nil {
		return err
	}
	if err := conn.Flush(ctx); err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	rctx := &cmsg.RecvContext{}
	in := cmsg.NewVecBuffer[*cmsg.RecvContext](256, rctx)
	// A message without payload travels with a one-byte filler, which
	// comes back together with the descriptors.
	want := len(message)
	if want == 0 && out.ValidLen() > 0 {
		want = 1
	}
	reply := make([]byte, want)
	got := 0
	for got < len(reply) {
		n, err := conn.ReadAncillary(reply[got:], in.Erased())
		got += n
		if err != nil {
			return fmt.Errorf("reading reply: %w", err)
		}
	}

	msgs, err := cmsg.Decode(in.Erased())
	if msgs != nil {
		defer msgs.CloseRights()
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "reply: %s\n", reply[:min(got, len(message))])
	facts := rctx.Facts()
	fmt.Fprintf(w, "descriptors: %d, control bytes: %d, truncated: %v\n",
		len(msgs.Rights), in.ValidLen(), facts.Truncated)
	return nil
}
