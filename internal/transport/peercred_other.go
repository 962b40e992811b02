//go:build !linux

package transport

import "github.com/SkynetNext/localipc/internal/cmsg"

// PeerCredentials is only implemented on Linux.
func (c *Conn) PeerCredentials() (cmsg.Credentials, error) {
	return cmsg.Credentials{}, ErrNotSupported
}

// EnableCredentialPassing is only implemented on Linux.
func (c *Conn) EnableCredentialPassing() error {
	return ErrNotSupported
}
