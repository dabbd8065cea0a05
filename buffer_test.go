package muduo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestBuffer_AppendAndRetrieve(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, 0, b.ReadableBytes())

	b.AppendString("hello")
	assert.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, "hello", string(b.Peek()))

	assert.Equal(t, "hel", b.RetrieveAsString(3))
	assert.Equal(t, "lo", string(b.Peek()))

	b.RetrieveAll()
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestBuffer_GrowsPastInitialCapacity(t *testing.T) {
	b := NewBuffer()
	big := make([]byte, bufferInitialSize*3)
	for i := range big {
		big[i] = byte(i)
	}
	b.Append(big)
	assert.Equal(t, len(big), b.ReadableBytes())
	assert.Equal(t, big, b.Peek())
}

func TestBuffer_ReadFd(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	payload := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := unix.Write(fds[1], payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := NewBuffer()
	n, err := b.ReadFd(fds[0])
	assert.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, string(payload), string(b.Peek()))
}

func TestBuffer_IndexCRLF(t *testing.T) {
	b := NewBuffer()
	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n")
	idx := b.IndexCRLF()
	assert.Equal(t, len("GET / HTTP/1.1"), idx)
}
