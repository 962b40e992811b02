package cmsg

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Checked wraps a buffer and panics as soon as the wrapped implementation
// breaks the Storage or Buffer contract: the region moving or resizing
// without Reserve, Bytes and BytesMut disagreeing, ValidLen changing without
// SetLen, or the collector overlapping the byte region.
//
// It is meant for tests and for debug builds of the transport.
type Checked[C Collector] struct {
	inner Buffer[C]
	base  *byte
	size  int
	valid int
}

// Check wraps b. The current region of b becomes the reference.
func Check[C Collector](b Buffer[C]) *Checked[C] {
	c := &Checked[C]{inner: b, valid: b.ValidLen()}
	c.rebase()
	c.observe("Check")
	return c
}

// Inner returns the wrapped buffer.
func (c *Checked[C]) Inner() Buffer[C] {
	return c.inner
}

func (c *Checked[C]) rebase() {
	ro := c.inner.Bytes()
	c.base = unsafe.SliceData(ro)
	c.size = len(ro)
}

func (c *Checked[C]) observe(op string) {
	ro := c.inner.Bytes()
	rw := c.inner.BytesMut()
	if unsafe.SliceData(ro) != unsafe.SliceData(rw) || len(ro) != len(rw) {
		panic(violation(op, "Bytes and BytesMut return different regions"))
	}
	if unsafe.SliceData(ro) != c.base || len(ro) != c.size {
		panic(violation(op, "buffer moved or resized without Reserve"))
	}
	if v := c.inner.ValidLen(); v != c.valid {
		panic(violation(op, fmt.Sprintf("valid length changed from %d to %d without SetLen", c.valid, v)))
	}
	if c.valid > len(ro) {
		panic(violation(op, "valid length exceeds capacity"))
	}
	ctx, ctxMut := any(c.inner.Context()), any(c.inner.ContextMut())
	if !sameCollector(ctx, ctxMut) {
		panic(violation(op, "Context and ContextMut return different collectors"))
	}
	if collectorOverlaps(ctx, ro) {
		panic(violation(op, "collector overlaps the byte region"))
	}
}

func (c *Checked[C]) Bytes() []byte {
	c.observe("Bytes")
	return c.inner.Bytes()
}

func (c *Checked[C]) BytesMut() []byte {
	c.observe("BytesMut")
	return c.inner.BytesMut()
}

func (c *Checked[C]) ValidLen() int {
	c.observe("ValidLen")
	return c.inner.ValidLen()
}

func (c *Checked[C]) SetLen(n int) {
	c.observe("SetLen")
	if n < 0 || n > c.size {
		panic(violation("SetLen", fmt.Sprintf("length %d outside capacity %d", n, c.size)))
	}
	c.inner.SetLen(n)
	c.valid = n
	c.observe("SetLen")
}

func (c *Checked[C]) Context() C {
	c.observe("Context")
	return c.inner.Context()
}

func (c *Checked[C]) ContextMut() C {
	c.observe("ContextMut")
	return c.inner.ContextMut()
}

func (c *Checked[C]) Reserve(additional int) error {
	return c.reserve("Reserve", additional, c.inner.Reserve)
}

func (c *Checked[C]) ReserveExact(additional int) error {
	return c.reserve("ReserveExact", additional, c.inner.ReserveExact)
}

func (c *Checked[C]) reserve(op string, additional int, fn func(int) error) error {
	c.observe(op)
	if err := fn(additional); err != nil {
		// A failed reserve must leave the buffer untouched.
		c.observe(op)
		return err
	}
	if Spare(c.inner) < additional {
		panic(violation(op, fmt.Sprintf("reported success but only %d spare bytes", Spare(c.inner))))
	}
	c.rebase()
	c.observe(op)
	return nil
}

// Disjoint reports whether the collector of d lies outside its byte region.
// Zero-sized and non-pointer collectors are always disjoint.
func Disjoint(d Dyn) bool {
	return !collectorOverlaps(any(d.Context()), d.Bytes())
}

func collectorOverlaps(ctx any, region []byte) bool {
	v := reflect.ValueOf(ctx)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || len(region) == 0 {
		return false
	}
	size := v.Type().Elem().Size()
	if size == 0 {
		return false
	}
	lo := v.Pointer()
	hi := lo + size
	rlo := uintptr(unsafe.Pointer(unsafe.SliceData(region)))
	rhi := rlo + uintptr(len(region))
	return lo < rhi && rlo < hi
}

func sameCollector(a, b any) bool {
	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) {
		return false
	}
	if t == nil || !t.Comparable() {
		return true
	}
	return a == b
}

func violation(op, msg string) string {
	return fmt.Sprintf("cmsg: contract violation in %s: %s", op, msg)
}
