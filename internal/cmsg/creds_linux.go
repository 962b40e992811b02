package cmsg

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const scmCredentials = unix.SCM_CREDENTIALS

// AddCredentials appends an SCM_CREDENTIALS message. The kernel rejects
// credentials the sender is not entitled to claim.
func AddCredentials(s Storage, c Credentials) error {
	return appendEncoded(s, unix.UnixCredentials(&unix.Ucred{Pid: c.PID, Uid: c.UID, Gid: c.GID}))
}

func parseCredentials(scm *unix.SocketControlMessage) (Credentials, error) {
	ucred, err := unix.ParseUnixCredentials(scm)
	if err != nil {
		return Credentials{}, fmt.Errorf("cmsg: parse credentials: %w", err)
	}
	return Credentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}
