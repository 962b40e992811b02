// Package limbo keeps dropped connections alive until their pending writes
// are delivered.
//
// Closing a connection handle can discard whatever it still had to send.
// When buffer preservation is requested, the connection is handed to a
// lingering sender instead: a bounded set of at most Slots senders shared by
// the whole process, each draining the connections handed to it.
package limbo

import "sync"

// Slots is the number of senders a pool can hold. It is fixed so that the
// number of lingering sends has a hard bound.
const Slots = 16

// Pool is a fixed table of senders. Occupied slots are [0, Len()); a slot
// once filled is never emptied, so the pool never shrinks.
//
// Pool is not safe for concurrent use; see Shared.
type Pool[S any] struct {
	senders                [Slots]S
	count                  int
	countIncludingOverflow int
}

// AddSender stores s in the next free slot. When the pool is full it
// returns s unchanged and false. Every call counts as an admission attempt.
func (p *Pool[S]) AddSender(s S) (S, bool) {
	p.countIncludingOverflow++
	if p.count < Slots {
		p.senders[p.count] = s
		p.count++
		var zero S
		return zero, true
	}
	return s, false
}

// Len returns the number of occupied slots.
func (p *Pool[S]) Len() int {
	return p.count
}

// Attempts returns the number of admissions ever attempted, overflowed ones
// included. It only numbers diagnostics.
func (p *Pool[S]) Attempts() int {
	return p.countIncludingOverflow
}

// Sender returns the sender in slot i, which must be occupied.
func (p *Pool[S]) Sender(i int) S {
	if i < 0 || i >= p.count {
		panic("limbo: slot index out of range")
	}
	return p.senders[i]
}

// LinearTry offers acc to every occupied slot in insertion order. f either
// accepts (returning true) or hands acc back, possibly modified, for the
// next slot. The first acceptance stops the scan. When every slot rejects,
// the last acc handed back is returned with false.
func LinearTry[S, T any](p *Pool[S], acc T, f func(s *S, acc T) (T, bool)) (T, bool) {
	for i := 0; i < p.count; i++ {
		var ok bool
		acc, ok = f(&p.senders[i], acc)
		if ok {
			var zero T
			return zero, true
		}
	}
	return acc, false
}

// LinearTryOrCreate runs LinearTry with tryf. If no slot accepts and a slot
// is free, createf builds a new sender for index Len() from acc and it is
// stored. If the pool is full, fullf receives the admission attempt number
// and acc to apply the caller's overflow policy.
func LinearTryOrCreate[S, T any](
	p *Pool[S],
	acc T,
	tryf func(s *S, acc T) (T, bool),
	createf func(index int, acc T) S,
	fullf func(attempt int, acc T),
) {
	acc, ok := LinearTry(p, acc, tryf)
	if ok {
		return
	}
	if p.count < Slots {
		// Cannot be rejected, the slot was just checked.
		p.AddSender(createf(p.count, acc))
		return
	}
	fullf(p.countIncludingOverflow, acc)
	p.countIncludingOverflow++
}

// Shared serialises access to a Pool. Each call to Do is one critical
// section; the function passed to it must not block.
type Shared[S any] struct {
	mu   sync.Mutex
	pool Pool[S]
}

// Do runs fn with exclusive access to the pool.
func (s *Shared[S]) Do(fn func(p *Pool[S])) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.pool)
}

// Stats returns the occupied slot count and the admission attempt count.
func (s *Shared[S]) Stats() (slots, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.count, s.pool.countIncludingOverflow
}
