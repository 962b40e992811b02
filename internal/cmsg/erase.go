package cmsg

// Erase returns b as a Dyn. Buffers whose collector type is already
// Collector are returned as is; others are wrapped in a forwarding adapter,
// which keeps every guarantee of b because it adds no state of its own.
func Erase[C Collector](b Buffer[C]) Dyn {
	if d, ok := any(b).(Dyn); ok {
		return d
	}
	return &erased[C]{b: b}
}

// EraseOwned is Erase for buffers that own their storage.
func EraseOwned[C Collector](b OwnedBuffer[C]) DynOwned {
	if d, ok := any(b).(DynOwned); ok {
		return d
	}
	return &erasedOwned[C]{erased[C]{b: b}}
}

type erased[C Collector] struct {
	b Buffer[C]
}

func (e *erased[C]) Bytes() []byte                     { return e.b.Bytes() }
func (e *erased[C]) BytesMut() []byte                  { return e.b.BytesMut() }
func (e *erased[C]) ValidLen() int                     { return e.b.ValidLen() }
func (e *erased[C]) SetLen(n int)                      { e.b.SetLen(n) }
func (e *erased[C]) Reserve(additional int) error      { return e.b.Reserve(additional) }
func (e *erased[C]) ReserveExact(additional int) error { return e.b.ReserveExact(additional) }
func (e *erased[C]) Context() Collector                { return e.b.Context() }
func (e *erased[C]) ContextMut() Collector             { return e.b.ContextMut() }

type erasedOwned[C Collector] struct {
	erased[C]
}

func (*erasedOwned[C]) OwnsStorage() {}
