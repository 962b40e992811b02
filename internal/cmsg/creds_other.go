//go:build unix && !linux

package cmsg

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Credential messages are only understood on Linux; elsewhere they are
// left in Messages.Raw.
const scmCredentials = -1

// ErrCredentialsUnsupported is returned by AddCredentials off Linux.
var ErrCredentialsUnsupported = errors.New("cmsg: credential messages are not supported on this platform")

// AddCredentials is not supported on this platform.
func AddCredentials(Storage, Credentials) error {
	return ErrCredentialsUnsupported
}

func parseCredentials(*unix.SocketControlMessage) (Credentials, error) {
	return Credentials{}, ErrCredentialsUnsupported
}
