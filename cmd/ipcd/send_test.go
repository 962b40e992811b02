//go:build unix

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SkynetNext/localipc/internal/config"
	"github.com/SkynetNext/localipc/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDaemon(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Server.SocketPath = filepath.Join(t.TempDir(), "ipcd.sock")
	s, err := server.New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s.SocketPath()
}

func runSend(t *testing.T, args ...string) string {
	t.Helper()
	t.Cleanup(func() { sendFiles = nil })
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"send"}, args...))
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestSend_Message(t *testing.T) {
	path := startDaemon(t)

	out := runSend(t, path, "hello")
	assert.Contains(t, out, "reply: hello\n")
	assert.Contains(t, out, "descriptors: 0")
}

func TestSend_DescriptorsWithoutPayload(t *testing.T) {
	path := startDaemon(t)
	file := filepath.Join(t.TempDir(), "passed.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	out := runSend(t, path, "", "--file", file)
	assert.Contains(t, out, "reply: \n")
	assert.Contains(t, out, "descriptors: 1")
}
