//go:build !unix

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <socket-path|name> <message>",
	Short: "Sends a message and prints the reply (unix only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.New("send requires unix domain sockets")
	},
}
