//go:build !unix

package transport

import "github.com/SkynetNext/localipc/internal/cmsg"

// ReadAncillary is not available on this platform.
func (c *Conn) ReadAncillary(p []byte, buf cmsg.Dyn) (int, error) {
	return 0, ErrNotSupported
}

// WriteAncillary is not available on this platform.
func (c *Conn) WriteAncillary(p []byte, buf cmsg.Dyn) (int, error) {
	return 0, ErrNotSupported
}
