package mempool

import (
	"testing"
)

func TestMemPool(t *testing.T) {
	for i := 1; i < 1024*64; i *= 4 {
		buf := Malloc(i)
		if len(buf) != i {
			t.Fatalf("invalid len: %v != %v", len(buf), i)
		}
		Free(buf)
	}

	buf := Malloc(8)
	copy(buf, "12345678")
	buf = Realloc(buf, 1024*64)
	if len(buf) != 1024*64 {
		t.Fatalf("invalid len: %v", len(buf))
	}
	if string(buf[:8]) != "12345678" {
		t.Fatalf("realloc lost content: %q", buf[:8])
	}
	Free(buf)

	buf = AppendString(Malloc(0), "hello")
	buf = Append(buf, ' ', 'w')
	if string(buf) != "hello w" {
		t.Fatalf("append mismatch: %q", buf)
	}
	Free(buf)
}
