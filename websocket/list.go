package websocket

import "sync"

// connArena is the intrusive doubly-linked list of live connections,
// realized as an index-addressed slab rather than a raw-pointer linked
// list (spec.md Section 9's suggested index-based linking, avoiding the
// aliasing/GC-pinning concerns a pointer-chased list would have in Go).
// Both workers use the same arena and both insert/remove from several
// goroutines: the blocking worker from its per-connection goroutines, the
// nonblocking worker from its task-pool goroutines on handshake completion
// and teardown. The mutex guards both cases.
type connArena struct {
	mu sync.Mutex

	conns []*HandlerConn
	prev  []int
	next  []int
	inUse []bool
	free  []int

	head, tail int
}

const arenaNil = -1

// newConnArena preallocates capacityHint slab slots.
func newConnArena(capacityHint int) *connArena {
	a := &connArena{head: arenaNil, tail: arenaNil}
	if capacityHint > 0 {
		a.conns = make([]*HandlerConn, 0, capacityHint)
	}
	return a
}

// Insert adds hc to the tail of the active list and returns its slab index.
func (a *connArena) Insert(hc *HandlerConn) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
		a.conns[idx] = hc
	} else {
		idx = len(a.conns)
		a.conns = append(a.conns, hc)
		a.prev = append(a.prev, arenaNil)
		a.next = append(a.next, arenaNil)
		a.inUse = append(a.inUse, false)
	}

	hc.arenaIdx = idx
	a.inUse[idx] = true
	a.prev[idx] = a.tail
	a.next[idx] = arenaNil

	if a.tail != arenaNil {
		a.next[a.tail] = idx
	} else {
		a.head = idx
	}
	a.tail = idx

	return idx
}

// Remove unlinks the slab entry at idx and returns it to the free stack.
func (a *connArena) Remove(idx int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx < 0 || idx >= len(a.inUse) || !a.inUse[idx] {
		return
	}

	p, n := a.prev[idx], a.next[idx]
	if p != arenaNil {
		a.next[p] = n
	} else {
		a.head = n
	}
	if n != arenaNil {
		a.prev[n] = p
	} else {
		a.tail = p
	}

	a.conns[idx] = nil
	a.inUse[idx] = false
	a.free = append(a.free, idx)
}

// ForEach calls fn for every currently-live connection. fn must not call
// Insert or Remove on this arena.
func (a *connArena) ForEach(fn func(hc *HandlerConn)) {
	a.mu.Lock()
	snapshot := make([]*HandlerConn, 0, len(a.conns))
	for idx := a.head; idx != arenaNil; idx = a.next[idx] {
		snapshot = append(snapshot, a.conns[idx])
	}
	a.mu.Unlock()

	for _, hc := range snapshot {
		fn(hc)
	}
}

// Len reports the number of live connections.
func (a *connArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns) - len(a.free)
}
