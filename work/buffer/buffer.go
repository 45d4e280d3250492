package buffer

import (
	"io"
	"sync"
)

// BufferPool is a thread-safe pool of fixed-size byte slices used by the stream proxy
// to relay media segments and passthrough bodies. Reusing the copy buffers keeps the
// proxy from allocating a fresh slice for every segment a car requests, which adds up
// quickly with several viewers on adaptive streams.
type BufferPool struct {
	pool       sync.Pool
	bufferSize int
}

// NewBufferPool creates a BufferPool handing out slices of bufferSize bytes. The pool
// is ready for use right away; slices are allocated lazily on the first Get and kept
// for reuse afterwards.
func NewBufferPool(bufferSize int64) *BufferPool {
	bp := &BufferPool{bufferSize: int(bufferSize)}
	bp.pool.New = func() interface{} {
		b := make([]byte, bp.bufferSize)
		return &b
	}
	return bp
}

// Get retrieves a buffer of the configured size. The slice comes back with whatever
// the previous user left in it; callers only read back what they wrote.
func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Nil buffers and buffers whose length no longer
// matches the pool size (a caller resliced it) are dropped so Get always hands out
// full-size slices.
func (bp *BufferPool) Put(buf *[]byte) {
	if buf == nil || len(*buf) != bp.bufferSize {
		return
	}
	bp.pool.Put(buf)
}

// Size returns the size of the pooled buffers.
func (bp *BufferPool) Size() int {
	return bp.bufferSize
}

// Copy copies src to dst through a pooled buffer and returns the number of bytes
// written. The buffer goes back to the pool when the copy ends, whether it finished or
// failed.
func (bp *BufferPool) Copy(dst io.Writer, src io.Reader) (int64, error) {
	// borrow a buffer for the duration of the copy
	buf := bp.Get()
	defer bp.Put(buf)

	return io.CopyBuffer(dst, src, *buf)
}
