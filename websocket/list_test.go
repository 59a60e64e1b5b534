package websocket

import "testing"

func TestConnArena_InsertRemoveForEach(t *testing.T) {
	a := newConnArena(4)

	h1 := &HandlerConn{}
	h2 := &HandlerConn{}
	h3 := &HandlerConn{}

	i1 := a.Insert(h1)
	i2 := a.Insert(h2)
	i3 := a.Insert(h3)

	if a.Len() != 3 {
		t.Fatalf("Len = %d, want 3", a.Len())
	}

	var seen []*HandlerConn
	a.ForEach(func(hc *HandlerConn) { seen = append(seen, hc) })
	if len(seen) != 3 || seen[0] != h1 || seen[1] != h2 || seen[2] != h3 {
		t.Fatalf("ForEach order = %v", seen)
	}

	a.Remove(i2)
	if a.Len() != 2 {
		t.Fatalf("Len after remove = %d, want 2", a.Len())
	}

	seen = nil
	a.ForEach(func(hc *HandlerConn) { seen = append(seen, hc) })
	if len(seen) != 2 || seen[0] != h1 || seen[1] != h3 {
		t.Fatalf("ForEach after remove = %v", seen)
	}

	// Removing the same index twice must be a no-op, not a corruption.
	a.Remove(i2)
	if a.Len() != 2 {
		t.Fatalf("Len after double remove = %d, want 2", a.Len())
	}

	a.Remove(i1)
	a.Remove(i3)
	if a.Len() != 0 {
		t.Fatalf("Len after draining = %d, want 0", a.Len())
	}
}

func TestConnArena_FreeSlotReuse(t *testing.T) {
	a := newConnArena(1)

	h1 := &HandlerConn{}
	idx1 := a.Insert(h1)
	a.Remove(idx1)

	h2 := &HandlerConn{}
	idx2 := a.Insert(h2)
	if idx2 != idx1 {
		t.Fatalf("expected freed slot %d to be reused, got %d", idx1, idx2)
	}
	if a.Len() != 1 {
		t.Fatalf("Len = %d, want 1", a.Len())
	}
}

func TestConnArena_RemoveOutOfRangeIsNoop(t *testing.T) {
	a := newConnArena(1)
	a.Remove(42)
	a.Remove(-1)
	if a.Len() != 0 {
		t.Fatalf("Len = %d, want 0", a.Len())
	}
}
