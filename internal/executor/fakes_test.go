package executor

import (
	"context"
	"sync"
	"syscall"

	"github.com/ppiankov/reaper/internal/audit"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/permission"
	"github.com/ppiankov/reaper/internal/proc"
	"github.com/ppiankov/reaper/internal/script"
)

type fakeGate struct {
	mu       sync.Mutex
	status   map[model.Subject]permission.Status
	observed map[model.Subject]permission.Status
	resolved []model.Subject
}

func newFakeGate() *fakeGate {
	return &fakeGate{status: map[model.Subject]permission.Status{}, observed: map[model.Subject]permission.Status{}}
}

func (g *fakeGate) set(subj model.Subject, st permission.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[subj] = st
}

func (g *fakeGate) Resolve(_ context.Context, subj model.Subject) permission.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolved = append(g.resolved, subj)
	st, ok := g.status[subj]
	if !ok {
		st = permission.Unknown
	}
	return permission.State{Subject: subj, Status: st}
}

func (g *fakeGate) Observe(subj model.Subject, st permission.Status, _ string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observed[subj] = st
}

type fakeAudit struct {
	mu   sync.Mutex
	recs []audit.RunRecord
}

func (a *fakeAudit) Record(rec audit.RunRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *fakeAudit) all() []audit.RunRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.RunRecord(nil), a.recs...)
}

type fakeTable struct {
	mu    sync.Mutex
	procs map[int32]proc.Snapshot
}

func newFakeTable(snaps ...proc.Snapshot) *fakeTable {
	t := &fakeTable{procs: map[int32]proc.Snapshot{}}
	for _, s := range snaps {
		t.procs[s.PID] = s
	}
	return t
}

func (t *fakeTable) Lookup(_ context.Context, pid int32) (proc.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.procs[pid]
	if !ok {
		return proc.Snapshot{}, proc.ErrNotFound
	}
	return s, nil
}

func (t *fakeTable) List(_ context.Context) ([]proc.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []proc.Snapshot
	for _, s := range t.procs {
		out = append(out, s)
	}
	return out, nil
}

type sent struct {
	pid int32
	sig syscall.Signal
}

type fakeSignaler struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (s *fakeSignaler) Signal(pid int32, sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{pid, sig})
	return nil
}

type fakeRunner struct {
	mu    sync.Mutex
	out   string
	err   error
	calls []script.Invocation
	ctxs  []context.Context
}

func (r *fakeRunner) Run(ctx context.Context, inv script.Invocation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, inv)
	r.ctxs = append(r.ctxs, ctx)
	return r.out, r.err
}

type fakeEscalator struct {
	name    string
	err     error
	out     []byte
	actions []Action
}

func (e *fakeEscalator) Name() string { return e.name }

func (e *fakeEscalator) Escalate(_ context.Context, a Action) ([]byte, error) {
	e.actions = append(e.actions, a)
	return e.out, e.err
}
