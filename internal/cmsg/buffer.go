// Package cmsg provides buffers for ancillary socket data (control messages).
//
// An ancillary buffer is a single contiguous region split into a valid prefix
// of ValidLen bytes, holding well-formed control messages, and a scratch
// suffix the receive path may fill. Every buffer carries a context collector
// that accumulates facts learned while its bytes were received, so that a
// later decode of the same bytes can reconstruct typed values.
//
// The contract is enforced by documentation and by the Checked wrapper in
// tests, not by the type system.
package cmsg

import (
	"errors"
	"fmt"
)

var (
	// ErrReserveUnsupported is reported by buffers that cannot grow.
	ErrReserveUnsupported = errors.New("cmsg: buffer does not support growth")

	// ErrAllocation is reported when growth was attempted but the buffer
	// could not obtain the requested storage.
	ErrAllocation = errors.New("cmsg: buffer allocation failed")
)

// ReserveError describes a failed Reserve or ReserveExact call. The buffer
// is left unchanged when it is returned.
type ReserveError struct {
	Additional int
	Exact      bool
	Err        error
}

// Error implements the error interface.
func (e *ReserveError) Error() string {
	op := "reserve"
	if e.Exact {
		op = "reserve exact"
	}
	return fmt.Sprintf("cmsg: %s %d bytes: %v", op, e.Additional, e.Err)
}

// Unwrap returns ErrReserveUnsupported or ErrAllocation.
func (e *ReserveError) Unwrap() error {
	return e.Err
}

// Storage is the byte side of an ancillary buffer.
//
// Implementations must uphold the following:
//   - Bytes and BytesMut return slices with the same base address and the
//     same length. Neither may change until Reserve or ReserveExact is
//     called, and no other method may call those two, directly or not.
//   - After SetLen(n), ValidLen returns n until the next SetLen.
//   - The first ValidLen bytes are well-formed control messages.
//   - len(Bytes()) never drops below ValidLen while SetLen's preconditions
//     are met.
//   - Bytes, BytesMut and ValidLen never panic.
type Storage interface {
	// Bytes returns the whole buffer, valid prefix and scratch suffix.
	Bytes() []byte

	// BytesMut returns the whole buffer for writing. Callers must not
	// break the validity of the valid prefix; SplitAtInit hands out only
	// the scratch part.
	BytesMut() []byte

	// ValidLen returns the number of leading bytes holding control messages.
	ValidLen() int

	// SetLen publishes n leading bytes as valid. No checks are performed:
	// n must not exceed len(Bytes()) and the bytes must be well-formed.
	SetLen(n int)

	// Reserve makes room for at least additional bytes past ValidLen,
	// possibly over-allocating. It is the only method besides ReserveExact
	// allowed to move the buffer. On failure the buffer is unchanged.
	Reserve(additional int) error

	// ReserveExact is Reserve without deliberate over-allocation.
	ReserveExact(additional int) error
}

// Buffer is an ancillary buffer with its context collector of type C.
//
// Context and ContextMut return the same collector. For a collector that is
// not zero-sized its memory never overlaps the byte region.
type Buffer[C Collector] interface {
	Storage

	// Context returns the collector for decoding.
	Context() C

	// ContextMut returns the collector for the receive path to record into.
	ContextMut() C
}

// Dyn is an ancillary buffer with an erased collector. Buffers backed by a
// caller-owned slice qualify.
type Dyn = Buffer[Collector]

// DynOwned is a Dyn that owns all of its storage and may therefore outlive
// the call that produced it.
type DynOwned interface {
	Dyn
	OwnsStorage()
}

// OwnedBuffer is a Buffer that owns its storage.
type OwnedBuffer[C Collector] interface {
	Buffer[C]
	OwnsStorage()
}

// FixedSize supplies Reserve and ReserveExact for buffers that cannot grow.
// Embed it to get the default behaviour.
type FixedSize struct{}

// Reserve always fails with ErrReserveUnsupported.
func (FixedSize) Reserve(additional int) error {
	return &ReserveError{Additional: additional, Err: ErrReserveUnsupported}
}

// ReserveExact always fails with ErrReserveUnsupported.
func (FixedSize) ReserveExact(additional int) error {
	return &ReserveError{Additional: additional, Exact: true, Err: ErrReserveUnsupported}
}
