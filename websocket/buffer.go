package websocket

import "sync"

// bufferOwner tags where a borrowed large buffer came from, so Release
// knows whether to return it to the free list or simply drop it for the
// garbage collector — the tagged-handle model spec.md's design notes
// (Section 9) call for instead of a raw-pointer tier distinction.
type bufferOwner int

const (
	ownerPool bufferOwner = iota
	ownerHeap
)

// BorrowedBuffer is a large buffer handed out by BufferProvider.Acquire.
// Bytes is sized exactly to the request; Release must be called exactly
// once, on message completion, message abort, or connection teardown.
type BorrowedBuffer struct {
	Bytes    []byte
	owner    bufferOwner
	backing  []byte // full-capacity pooled slice, restored on release
	released bool
}

// BufferProvider implements the three-tier buffer discipline of spec.md
// Section 4.2: a per-connection static buffer (see Static), a mutex-guarded
// pool of N fixed-size large buffers, and a size-capped dynamic fallback.
//
// Grounded on the pooling idiom in other_examples/momentics-hioload-ws's
// protocol.WSConnection (bufPool.Get(size, node) returning a tagged
// buffer handle), simplified down from its NUMA-aware form: this provider
// has one free list, guarded by one mutex, with no node affinity.
type BufferProvider struct {
	mu             sync.Mutex
	free           [][]byte
	pooledSize     int
	maxMessageSize uint64
}

// NewBufferProvider creates a provider with count buffers of pooledSize
// bytes each. Acquisitions beyond count (but within maxMessageSize) fall
// back to dynamic allocation.
func NewBufferProvider(count, pooledSize int, maxMessageSize uint64) *BufferProvider {
	free := make([][]byte, count)
	for i := range free {
		free[i] = make([]byte, pooledSize)
	}
	return &BufferProvider{
		free:           free,
		pooledSize:     pooledSize,
		maxMessageSize: maxMessageSize,
	}
}

// Static allocates a fixed-size buffer outside the pool, for embedding in
// a Reader at connection creation. It is never returned to the provider.
func (p *BufferProvider) Static(size int) []byte {
	return make([]byte, size)
}

// Acquire returns a buffer of at least size bytes. If size fits within
// the pooled size and a free pooled buffer exists, it is popped from the
// free list. Otherwise, if size is within maxMessageSize, a buffer is
// allocated dynamically. Acquire fails with ErrRequestTooLargeForPool if
// size exceeds maxMessageSize.
func (p *BufferProvider) Acquire(size int) (*BorrowedBuffer, error) {
	if uint64(size) > p.maxMessageSize {
		return nil, ErrRequestTooLargeForPool
	}

	if size <= p.pooledSize {
		p.mu.Lock()
		n := len(p.free)
		if n > 0 {
			backing := p.free[n-1]
			p.free = p.free[:n-1]
			p.mu.Unlock()
			return &BorrowedBuffer{Bytes: backing[:size], owner: ownerPool, backing: backing}, nil
		}
		p.mu.Unlock()
	}

	return &BorrowedBuffer{Bytes: make([]byte, size), owner: ownerHeap}, nil
}

// Release returns b to the provider. Pool-owned buffers go back onto the
// free list; heap-owned buffers are simply dropped. Releasing the same
// buffer twice returns ErrDoubleRelease and otherwise does nothing.
func (p *BufferProvider) Release(b *BorrowedBuffer) error {
	if b == nil {
		return nil
	}
	if b.released {
		return ErrDoubleRelease
	}
	b.released = true

	if b.owner != ownerPool {
		return nil
	}

	p.mu.Lock()
	p.free = append(p.free, b.backing)
	p.mu.Unlock()
	return nil
}

// FreeCount reports the number of pooled buffers currently available.
// Intended for tests asserting the release-returns-pool-count invariant.
func (p *BufferProvider) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
