package cmsg

// SplitAtInit splits the buffer into its valid prefix and its scratch
// suffix. The prefix is capped so appending to it cannot write into the
// suffix. Both slices stay usable until the next Reserve or ReserveExact.
func SplitAtInit(s Storage) (valid, spare []byte) {
	buf := s.BytesMut()
	n := s.ValidLen()
	return buf[:n:n], buf[n:]
}

// Valid returns the valid prefix for reading.
func Valid(s Storage) []byte {
	return s.Bytes()[:s.ValidLen()]
}

// Spare returns the number of scratch bytes after the valid prefix.
func Spare(s Storage) int {
	return len(s.Bytes()) - s.ValidLen()
}

// Capacity returns the total size of the buffer.
func Capacity(s Storage) int {
	return len(s.Bytes())
}

// EnsureSpare reserves only when fewer than n scratch bytes are left, so a
// buffer that already has room is never moved.
func EnsureSpare(s Storage, n int) error {
	spare := Spare(s)
	if spare >= n {
		return nil
	}
	return s.Reserve(n)
}

// Reset empties the valid prefix and clears the collector.
func Reset(d Dyn) {
	d.SetLen(0)
	d.ContextMut().Clear()
}
