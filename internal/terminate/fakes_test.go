package terminate

import (
	"context"
	"sync"
	"syscall"

	"github.com/ppiankov/reaper/internal/audit"
	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/permission"
	"github.com/ppiankov/reaper/internal/proc"
	"github.com/ppiankov/reaper/internal/script"
)

// fakeSystem is a process table that processes leave when they receive
// the signal they die on.
type fakeSystem struct {
	mu      sync.Mutex
	procs   map[int32]proc.Snapshot
	diesOn  map[int32]syscall.Signal
	foreign map[int32]bool
	sent    []syscall.Signal
	// entered and release gate the first Signal call when set.
	entered chan struct{}
	release chan struct{}
	// delivered runs after a same-user signal lands.
	delivered func(syscall.Signal)
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{procs: map[int32]proc.Snapshot{}, diesOn: map[int32]syscall.Signal{}, foreign: map[int32]bool{}}
}

func (s *fakeSystem) add(snap proc.Snapshot, diesOn syscall.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[snap.PID] = snap
	s.diesOn[snap.PID] = diesOn
}

func (s *fakeSystem) Lookup(_ context.Context, pid int32) (proc.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.procs[pid]
	if !ok {
		return proc.Snapshot{}, proc.ErrNotFound
	}
	return snap, nil
}

func (s *fakeSystem) List(_ context.Context) ([]proc.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []proc.Snapshot
	for _, snap := range s.procs {
		out = append(out, snap)
	}
	return out, nil
}

func (s *fakeSystem) Signal(pid int32, sig syscall.Signal) error {
	s.mu.Lock()
	entered, release := s.entered, s.release
	s.entered = nil
	s.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	s.mu.Lock()
	if s.foreign[pid] {
		s.mu.Unlock()
		return proc.ErrPermission
	}
	err := s.deliver(pid, sig)
	hook := s.delivered
	s.mu.Unlock()
	if err == nil && hook != nil {
		hook(sig)
	}
	return err
}

// rootSignal ignores ownership, as the privileged helper would.
func (s *fakeSystem) rootSignal(pid int32, sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliver(pid, sig)
}

func (s *fakeSystem) deliver(pid int32, sig syscall.Signal) error {
	if _, ok := s.procs[pid]; !ok {
		return proc.ErrNotFound
	}
	s.sent = append(s.sent, sig)
	if d := s.diesOn[pid]; d != 0 && (sig == d || sig == syscall.SIGKILL && d != -1) {
		delete(s.procs, pid)
	}
	return nil
}

func (s *fakeSystem) signals() []syscall.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]syscall.Signal(nil), s.sent...)
}

// unkillable marks a process that survives even SIGKILL from its user.
const unkillable = syscall.Signal(-1)

type denyGate struct{}

func (denyGate) Resolve(_ context.Context, subj model.Subject) permission.State {
	return permission.State{Subject: subj, Status: permission.Denied}
}

func (denyGate) Observe(model.Subject, permission.Status, string) {}

type ignoringRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *ignoringRunner) Run(context.Context, script.Invocation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return "", nil
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

type helperEscalator struct {
	sys     *fakeSystem
	err     error
	actions []executor.Action
	// prompting runs while the escalation is in flight.
	prompting func()
	ctxErr    error
}

func (h *helperEscalator) Name() string { return "helper" }

func (h *helperEscalator) Escalate(ctx context.Context, a executor.Action) ([]byte, error) {
	h.actions = append(h.actions, a)
	if h.prompting != nil {
		h.prompting()
		h.ctxErr = ctx.Err()
	}
	if h.err != nil {
		return nil, h.err
	}
	return nil, h.sys.rootSignal(a.PID, a.Signal)
}
