package proc

import (
	"context"
	"sort"
	"sync"
)

type fakeTable struct {
	mu    sync.Mutex
	procs map[int32]Snapshot
}

func newFakeTable(snaps ...Snapshot) *fakeTable {
	t := &fakeTable{procs: map[int32]Snapshot{}}
	for _, s := range snaps {
		t.procs[s.PID] = s
	}
	return t
}

func (t *fakeTable) Lookup(_ context.Context, pid int32) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.procs[pid]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

func (t *fakeTable) List(_ context.Context) ([]Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Snapshot
	for _, s := range t.procs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}
