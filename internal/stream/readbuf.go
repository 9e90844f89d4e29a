package stream

import "fmt"

// ReadBuf tracks how much of a caller-owned byte slice has been filled.
// Reads land directly in Unfilled; the region never moves or grows.
type ReadBuf struct {
	buf    []byte
	filled int
}

// NewReadBuf returns an empty ReadBuf over buf.
func NewReadBuf(buf []byte) *ReadBuf {
	return &ReadBuf{buf: buf}
}

// Filled returns the bytes read so far.
func (rb *ReadBuf) Filled() []byte { return rb.buf[:rb.filled] }

// Unfilled returns the region the next read writes into.
func (rb *ReadBuf) Unfilled() []byte { return rb.buf[rb.filled:] }

// Remaining is len(Unfilled()).
func (rb *ReadBuf) Remaining() int { return len(rb.buf) - rb.filled }

// Capacity is the size of the underlying slice.
func (rb *ReadBuf) Capacity() int { return len(rb.buf) }

// Advance marks n more bytes as filled.
func (rb *ReadBuf) Advance(n int) {
	if n < 0 || n > rb.Remaining() {
		panic(fmt.Sprintf("stream: advance %d beyond %d remaining bytes", n, rb.Remaining()))
	}
	rb.filled += n
}

// Clear resets the filled mark without touching the bytes.
func (rb *ReadBuf) Clear() { rb.filled = 0 }
