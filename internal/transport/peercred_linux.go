package transport

import (
	"github.com/SkynetNext/localipc/internal/cmsg"
	"golang.org/x/sys/unix"
)

// PeerCredentials returns the credentials the kernel recorded for the peer
// when the connection was established.
func (c *Conn) PeerCredentials() (cmsg.Credentials, error) {
	raw, err := c.uc.SyscallConn()
	if err != nil {
		return cmsg.Credentials{}, err
	}
	var (
		cred *unix.Ucred
		serr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, serr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return cmsg.Credentials{}, err
	}
	if serr != nil {
		return cmsg.Credentials{}, serr
	}
	return cmsg.Credentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}

// EnableCredentialPassing asks the kernel to attach SCM_CREDENTIALS to
// every message received on c.
func (c *Conn) EnableCredentialPassing() error {
	raw, err := c.uc.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	}); err != nil {
		return err
	}
	return serr
}
