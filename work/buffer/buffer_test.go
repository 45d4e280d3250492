package buffer

import (
	"bytes"
	"strings"
	"testing"
)

func TestBufferPoolGetPut(t *testing.T) {
	bp := NewBufferPool(1024)
	buf := bp.Get()
	if len(*buf) != 1024 || bp.Size() != 1024 {
		t.Fatalf("buffer len = %d", len(*buf))
	}
	bp.Put(buf)

	short := make([]byte, 10)
	bp.Put(&short)
	bp.Put(nil)
	if got := bp.Get(); len(*got) != 1024 {
		t.Fatalf("pool handed out a foreign buffer of len %d", len(*got))
	}
}

func TestBufferPoolCopy(t *testing.T) {
	bp := NewBufferPool(16)
	src := strings.Repeat("segment-data-", 100)

	var dst bytes.Buffer
	n, err := bp.Copy(&dst, strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(src)) || dst.String() != src {
		t.Fatalf("copied %d bytes, content match %v", n, dst.String() == src)
	}
}
