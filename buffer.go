//go:build linux

package muduo

import (
	"bytes"

	"golang.org/x/sys/unix"
)

const (
	bufferCheapPrepend = 8
	bufferInitialSize  = 1024
)

// Buffer is an append-only, self-growing byte buffer with cheap prepend
// space reserved for later header-patching. It is not safe for concurrent
// use; each TCPConnection owns exactly one input and one output Buffer,
// both only ever touched on their connection's loop thread.
type Buffer struct {
	buf       []byte
	readerIdx int
	writerIdx int
}

// NewBuffer returns an empty Buffer with the default initial capacity.
func NewBuffer() *Buffer {
	b := &Buffer{
		buf: make([]byte, bufferCheapPrepend+bufferInitialSize),
	}
	b.readerIdx = bufferCheapPrepend
	b.writerIdx = bufferCheapPrepend
	return b
}

// ReadableBytes returns how many bytes are available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writerIdx - b.readerIdx }

// WritableBytes returns how many bytes can be appended without growing.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writerIdx }

// PrependableBytes returns how much cheap-prepend space remains before the
// reader index.
func (b *Buffer) PrependableBytes() int { return b.readerIdx }

// Peek returns the unread portion of the buffer without consuming it. The
// returned slice aliases the buffer's storage and is only valid until the
// next mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.readerIdx:b.writerIdx] }

// Retrieve consumes n bytes from the front of the readable region.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIdx += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll consumes the entire readable region, resetting both indices
// back past the cheap-prepend area.
func (b *Buffer) RetrieveAll() {
	b.readerIdx = bufferCheapPrepend
	b.writerIdx = bufferCheapPrepend
}

// RetrieveAsString consumes and returns the first n readable bytes as a
// new string.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.buf[b.readerIdx : b.readerIdx+n])
	b.Retrieve(n)
	return s
}

// RetrieveAllString consumes and returns the entire readable region as a
// new string.
func (b *Buffer) RetrieveAllString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// Append copies data onto the end of the readable region, growing the
// buffer if necessary.
func (b *Buffer) Append(data []byte) {
	b.ensureWritableBytes(len(data))
	b.writerIdx += copy(b.buf[b.writerIdx:], data)
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) { b.Append([]byte(s)) }

func (b *Buffer) ensureWritableBytes(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.PrependableBytes()+b.WritableBytes() < n+bufferCheapPrepend {
		// Not enough room even after compaction: grow.
		newBuf := make([]byte, b.writerIdx+n)
		copy(newBuf, b.buf[:b.writerIdx])
		b.buf = newBuf
		return
	}
	// Enough room once the already-consumed prefix is reclaimed.
	readable := b.ReadableBytes()
	copy(b.buf[bufferCheapPrepend:], b.buf[b.readerIdx:b.writerIdx])
	b.readerIdx = bufferCheapPrepend
	b.writerIdx = b.readerIdx + readable
}

// ReadFd reads as much as is available from fd in a single readv(2) call,
// spilling into a 64KiB stack buffer when the buffer's own writable space
// runs out so that one read never needs two syscalls. A return of (0, nil)
// means the peer closed; a socket that is merely not ready surfaces as
// unix.EAGAIN.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extra [65536]byte
	writable := b.WritableBytes()

	var iovs [][]byte
	if writable > 0 {
		iovs = append(iovs, b.buf[b.writerIdx:])
	}
	if writable < len(extra) {
		iovs = append(iovs, extra[:])
	}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writerIdx += n
	} else {
		b.writerIdx = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}

// IndexCRLF returns the offset of the first "\r\n" in the readable region,
// or -1 if none is present.
func (b *Buffer) IndexCRLF() int {
	idx := bytes.Index(b.Peek(), []byte("\r\n"))
	if idx < 0 {
		return -1
	}
	return idx
}
