package permission

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
	"github.com/ppiankov/reaper/internal/script"
	"github.com/ppiankov/reaper/internal/tcc"
)

type probeResult struct {
	status Status
	err    error
}

type fakeProber struct {
	mu      sync.Mutex
	results map[model.Subject]probeResult
	calls   atomic.Int32
	block   chan struct{}
}

func newFakeProber() *fakeProber {
	return &fakeProber{results: map[model.Subject]probeResult{}}
}

func (f *fakeProber) setResult(subj model.Subject, status Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[subj] = probeResult{status, err}
}

func (f *fakeProber) Probe(_ context.Context, subj model.Subject) (Status, string, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[subj]
	if !ok {
		return Unknown, "fake", nil
	}
	return r.status, "fake", r.err
}

type fakeRemediator struct {
	status Status
	err    error
	calls  atomic.Int32
}

func (f *fakeRemediator) Remediate(context.Context, model.Subject) (Status, error) {
	f.calls.Add(1)
	return f.status, f.err
}

type fakeRunner struct {
	out  string
	err  error
	seen []script.Invocation
}

func (f *fakeRunner) Run(_ context.Context, inv script.Invocation) (string, error) {
	f.seen = append(f.seen, inv)
	return f.out, f.err
}

type fakeConsent struct {
	apple map[string]tcc.Decision
	svc   tcc.Decision
	err   error
}

func (f *fakeConsent) AppleEvents(_ context.Context, _ []string, target string) (tcc.Decision, error) {
	return f.apple[target], f.err
}

func (f *fakeConsent) Service(context.Context, string, []string) (tcc.Decision, error) {
	return f.svc, f.err
}

type fakeTable map[int32]proc.Snapshot

func (f fakeTable) Lookup(_ context.Context, pid int32) (proc.Snapshot, error) {
	s, ok := f[pid]
	if !ok {
		return proc.Snapshot{}, proc.ErrNotFound
	}
	return s, nil
}

func (f fakeTable) List(context.Context) ([]proc.Snapshot, error) {
	var out []proc.Snapshot
	for _, s := range f {
		out = append(out, s)
	}
	return out, nil
}
