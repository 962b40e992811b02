//go:build unix

package cmsg

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrTruncated is returned by Decode when the kernel reported that control
// data did not fit the buffer. Messages decoded before the cut are still
// returned.
var ErrTruncated = errors.New("cmsg: control data was truncated")

// Message is one raw control message.
type Message struct {
	Level int
	Type  int
	Data  []byte
}

// Messages is the decoded content of a buffer's valid prefix.
type Messages struct {
	Raw         []Message
	Rights      []int
	Credentials []Credentials
}

// AddRaw appends one control message to the valid prefix, reserving room
// when the buffer allows it.
func AddRaw(s Storage, level, typ int, data []byte) error {
	msg := make([]byte, unix.CmsgSpace(len(data)))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&msg[0]))
	h.Level = int32(level)
	h.Type = int32(typ)
	h.SetLen(unix.CmsgLen(len(data)))
	copy(msg[unix.CmsgLen(0):], data)
	return appendEncoded(s, msg)
}

// AddRights appends an SCM_RIGHTS message carrying fds.
func AddRights(s Storage, fds ...int) error {
	if len(fds) == 0 {
		return nil
	}
	return appendEncoded(s, unix.UnixRights(fds...))
}

func appendEncoded(s Storage, msg []byte) error {
	if err := EnsureSpare(s, len(msg)); err != nil {
		return fmt.Errorf("cmsg: no room for %d byte control message: %w", len(msg), err)
	}
	valid, spare := SplitAtInit(s)
	copy(spare, msg)
	s.SetLen(len(valid) + len(msg))
	return nil
}

// Inspect counts what a freshly received chunk of control data contains.
// The transport records the result in the buffer's collector.
func Inspect(oob []byte, flags int) Facts {
	f := Facts{Flags: flags, Truncated: flags&unix.MSG_CTRUNC != 0}
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		f.Truncated = true
		return f
	}
	f.Messages = len(scms)
	for i := range scms {
		h := scms[i].Header
		if h.Level != unix.SOL_SOCKET {
			continue
		}
		switch h.Type {
		case unix.SCM_RIGHTS:
			f.Rights += len(scms[i].Data) / 4
		case scmCredentials:
			f.Credentials++
		}
	}
	return f
}

// Decode parses the valid prefix of d. The collector is consulted to
// report truncation; the descriptors returned belong to the caller.
func Decode(d Dyn) (*Messages, error) {
	facts := d.Context().Facts()
	out := &Messages{}
	valid := Valid(d)
	if len(valid) > 0 {
		scms, err := unix.ParseSocketControlMessage(valid)
		if err != nil {
			return nil, fmt.Errorf("cmsg: parse control messages: %w", err)
		}
		if facts.Rights > 0 {
			out.Rights = make([]int, 0, facts.Rights)
		}
		for i := range scms {
			scm := &scms[i]
			out.Raw = append(out.Raw, Message{
				Level: int(scm.Header.Level),
				Type:  int(scm.Header.Type),
				Data:  scm.Data,
			})
			if scm.Header.Level != unix.SOL_SOCKET {
				continue
			}
			switch scm.Header.Type {
			case unix.SCM_RIGHTS:
				fds, err := unix.ParseUnixRights(scm)
				if err != nil {
					return nil, fmt.Errorf("cmsg: parse rights: %w", err)
				}
				out.Rights = append(out.Rights, fds...)
			case scmCredentials:
				cred, err := parseCredentials(scm)
				if err != nil {
					return nil, err
				}
				out.Credentials = append(out.Credentials, cred)
			}
		}
	}
	if facts.Truncated {
		return out, ErrTruncated
	}
	return out, nil
}

// CloseRights closes every descriptor in m.
func (m *Messages) CloseRights() {
	for _, fd := range m.Rights {
		_ = unix.Close(fd)
	}
	m.Rights = nil
}
