// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpc

import (
	"io"

	"github.com/monoconn/httpc/mempool"
)

const readChunkSize = 4096

// buffer is the client's growable read buffer. Bytes arrive at the tail,
// are consumed from the head, and body views handed to the caller alias
// into it until the next operation.
type buffer struct {
	data []byte // mempool allocated, data[r:] is unconsumed
	r    int
}

func (b *buffer) len() int {
	return len(b.data) - b.r
}

func (b *buffer) bytes() []byte {
	return b.data[b.r:]
}

func (b *buffer) consume(n int) {
	if n > b.len() {
		n = b.len()
	}
	b.r += n
}

// reset drops consumed and unconsumed bytes alike.
func (b *buffer) reset() {
	b.data = b.data[:0]
	b.r = 0
}

func (b *buffer) free() {
	if b.data != nil {
		mempool.Free(b.data)
		b.data = nil
		b.r = 0
	}
}

// readOnce performs a single Read into the tail, growing through the
// allocator when the spare capacity runs low. Compaction moves only
// unconsumed bytes, so consumed views stay valid until the next grow.
func (b *buffer) readOnce(r io.Reader) (int, error) {
	if b.data == nil {
		b.data = mempool.Malloc(readChunkSize)[:0]
	}
	if cap(b.data)-len(b.data) < readChunkSize/4 {
		grown := mempool.Malloc(cap(b.data)*2 + readChunkSize)[:b.len()]
		copy(grown, b.data[b.r:])
		mempool.Free(b.data)
		b.data = grown
		b.r = 0
	}

	n, err := r.Read(b.data[len(b.data):cap(b.data)])
	if n > 0 {
		b.data = b.data[:len(b.data)+n]
		return n, nil
	}
	return 0, err
}
