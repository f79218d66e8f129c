// Package buffer implements a growable byte buffer with amortized
// geometric-doubling growth: capacity doubles to the next power of two
// that fits the request, capped at an optional maximum. The cap is the
// point — appenders reading from untrusted sources use it as a hard size
// ceiling.
package buffer

// Buffer is a growable byte buffer. The zero value is an empty buffer with
// no capacity cap.
type Buffer struct {
	data []byte
	// maxCapacity caps growth; zero means unbounded.
	maxCapacity int
}

// New returns an empty Buffer with an optional maximum capacity (0 = unbounded).
func New(maxCapacity int) *Buffer {
	return &Buffer{maxCapacity: maxCapacity}
}

// NewFromBytes wraps an existing slice as a Buffer's initial contents.
func NewFromBytes(b []byte, maxCapacity int) *Buffer {
	return &Buffer{data: b, maxCapacity: maxCapacity}
}

// Len returns the number of occupied bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the current backing capacity.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Bytes returns the occupied region. The caller must not retain it across a
// subsequent mutating call, since growth may reallocate.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// expandToFit grows the backing array, if needed, to hold at least n total
// bytes, doubling capacity each step and failing if that would exceed
// maxCapacity.
func (b *Buffer) expandToFit(n int) bool {
	if cap(b.data) >= n {
		return true
	}
	newCap := cap(b.data)
	if newCap == 0 {
		newCap = 64
	}
	for newCap < n {
		newCap *= 2
	}
	if b.maxCapacity != 0 && newCap > b.maxCapacity {
		if n > b.maxCapacity {
			return false
		}
		newCap = b.maxCapacity
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
	return true
}

// Append adds p to the end of the buffer, growing as needed. It reports
// false if growth would exceed the configured maximum capacity.
func (b *Buffer) Append(p []byte) bool {
	if !b.expandToFit(len(b.data) + len(p)) {
		return false
	}
	b.data = append(b.data, p...)
	return true
}

// Reset empties the buffer without releasing its backing array.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// Truncate shortens the buffer to n bytes. It is a no-op if n >= Len().
func (b *Buffer) Truncate(n int) {
	if n < len(b.data) {
		b.data = b.data[:n]
	}
}
