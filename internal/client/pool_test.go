//go:build unix

package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/SkynetNext/localipc/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenTemp(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.sock")
	ln, err := transport.Listen(path, transport.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for a := range ln.Incoming(ctx) {
			if a.Conn != nil {
				defer a.Conn.Close()
			}
		}
	}()
	return path
}

func TestPool_GetPutReuses(t *testing.T) {
	path := listenTemp(t)
	p := NewPool(NewDialer(nil, Options{}), path, time.Minute, 4, 2)
	defer p.Close()

	c1, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Put(c1)

	c2, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	p.Put(c2)

	total, active, idle := p.Stats()
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, active)
	assert.Equal(t, 1, idle)
}

func TestPool_Full(t *testing.T) {
	path := listenTemp(t)
	p := NewPool(NewDialer(nil, Options{}), path, time.Minute, 1, 1)
	defer p.Close()

	c, err := p.Get(context.Background())
	require.NoError(t, err)
	_, err = p.Get(context.Background())
	assert.Error(t, err)
	p.Remove(c)

	_, active, _ := p.Stats()
	assert.Equal(t, 0, active)
}

func TestPool_CleanupExpired(t *testing.T) {
	path := listenTemp(t)
	p := NewPool(NewDialer(nil, Options{}), path, 10*time.Millisecond, 4, 4)
	defer p.Close()

	c, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Put(c)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, p.Cleanup())

	_, _, idle := p.Stats()
	assert.Equal(t, 0, idle)
}

func TestPool_ClosedRejectsGet(t *testing.T) {
	path := listenTemp(t)
	p := NewPool(NewDialer(nil, Options{}), path, time.Minute, 4, 4)
	require.NoError(t, p.Close())

	_, err := p.Get(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
}
