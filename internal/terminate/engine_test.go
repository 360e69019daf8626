package terminate

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/denylist"
	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
)

const myUID = 501

type rig struct {
	sys    *fakeSystem
	audit  *fakeAudit
	runner *ignoringRunner
	esc    *helperEscalator
	engine *Engine
}

func newRig(t *testing.T, elevated bool) *rig {
	t.Helper()
	log := zaptest.NewLogger(t)
	r := &rig{sys: newFakeSystem(), audit: &fakeAudit{}, runner: &ignoringRunner{}}
	r.esc = &helperEscalator{sys: r.sys}

	caps, err := capability.NewCatalog(capability.Builtin()...)
	require.NoError(t, err)
	journal := &executor.Journal{Audit: r.audit, SessionID: "s-test", Log: log}

	user := executor.NewUser(executor.Config{
		Catalog: caps,
		Gate:    denyGate{},
		Direct:  &executor.Direct{Table: r.sys, Signaler: r.sys},
		Runner:  r.runner,
		Log:     log,
	})
	cfg := Config{
		Catalog: caps,
		User:    user,
		Table:   r.sys,
		Journal: journal,
		Waits: Waits{
			Graceful: 40 * time.Millisecond,
			Term:     40 * time.Millisecond,
			Kill:     500 * time.Millisecond,
			Elevated: 500 * time.Millisecond,
			Poll:     5 * time.Millisecond,
		},
		Log: log,
	}
	if elevated {
		cfg.Elevated = executor.NewElevated(executor.ElevatedConfig{
			Catalog:   caps,
			Table:     r.sys,
			Escalator: r.esc,
			Log:       log,
		})
	}
	r.engine, err = New(cfg)
	require.NoError(t, err)
	return r
}

func (r *rig) target(t *testing.T, pid int32) *model.TerminationTarget {
	t.Helper()
	uid := uint32(myUID)
	res := &proc.Resolver{Table: r.sys, Denylist: denylist.NewDefault(), UID: &uid}
	tgt, err := res.Resolve(context.Background(), pid)
	require.NoError(t, err)
	return tgt
}

func kinds(atts []model.Attempt) []model.ErrorKind {
	var out []model.ErrorKind
	for _, a := range atts {
		out = append(out, a.ErrorKind)
	}
	return out
}

func TestUnresponsiveAppNeedsKill(t *testing.T) {
	r := newRig(t, true)
	r.sys.add(proc.Snapshot{PID: 31300, Name: "Frozen", UID: myUID, CreateTime: 1}, syscall.SIGKILL)
	tgt := r.target(t, 31300)
	tgt.BundleID = "com.example.frozen"

	res := r.engine.Terminate(context.Background(), Request{Target: tgt})
	require.Equal(t, Succeeded, res.State, res.Outcome.Message)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, []model.ErrorKind{model.KindTimeout, model.KindTimeout, model.KindNone}, kinds(res.Attempts))
	assert.Equal(t, capability.SignalKill, res.Attempts[2].CapabilityID)
	assert.Equal(t, 1, r.runner.calls)
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM, syscall.SIGKILL}, r.sys.signals())
	assert.Empty(t, r.esc.actions)

	recs := r.audit.all()
	require.Len(t, recs, 1)
	assert.Equal(t, capability.Terminate, recs[0].CapabilityID)
	assert.Equal(t, model.Succeeded, recs[0].Outcome.Status)
	assert.Len(t, recs[0].Attempts, 3)
	assert.GreaterOrEqual(t, recs[0].Attempts[0].WaitedMs, int64(30))
}

func TestForeignProcessEscalates(t *testing.T) {
	r := newRig(t, true)
	r.sys.add(proc.Snapshot{PID: 31400, Name: "helperd", UID: 0, CreateTime: 1}, syscall.SIGKILL)
	r.sys.foreign[31400] = true
	tgt := r.target(t, 31400)
	require.False(t, tgt.OwnerMatchesCurrentUser)

	res := r.engine.Terminate(context.Background(), Request{Target: tgt})
	require.Equal(t, Succeeded, res.State, res.Outcome.Message)
	assert.Equal(t, model.TierElevated, res.Outcome.Tier)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, []model.ErrorKind{model.KindPermissionRequired, model.KindPermissionRequired, model.KindNone}, kinds(res.Attempts))
	assert.False(t, res.Attempts[0].SignalSent)
	assert.True(t, res.Attempts[2].SignalSent)
	require.Len(t, r.esc.actions, 1)
	assert.Equal(t, syscall.SIGKILL, r.esc.actions[0].Signal)

	assert.Contains(t, res.States(), Escalating)
	assert.Contains(t, res.States(), VerifyingElevated)
	assert.Len(t, r.audit.all(), 1)
}

func TestForeignProcessWithoutElevation(t *testing.T) {
	r := newRig(t, true)
	r.sys.add(proc.Snapshot{PID: 31400, Name: "helperd", UID: 0, CreateTime: 1}, syscall.SIGKILL)
	r.sys.foreign[31400] = true

	res := r.engine.Terminate(context.Background(), Request{Target: r.target(t, 31400), NoElevate: true})
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, model.KindPermissionRequired, res.Outcome.Kind)
	assert.Len(t, res.Attempts, 2)
	assert.Empty(t, r.esc.actions)
	assert.Empty(t, r.sys.signals())
}

func TestAuthCancelledStops(t *testing.T) {
	r := newRig(t, true)
	r.sys.add(proc.Snapshot{PID: 31400, Name: "helperd", UID: 0, CreateTime: 1}, syscall.SIGKILL)
	r.sys.foreign[31400] = true
	r.esc.err = model.AuthCancelled()

	res := r.engine.Terminate(context.Background(), Request{Target: r.target(t, 31400)})
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, model.KindAuthCancelled, res.Outcome.Kind)
	assert.Equal(t, model.TierElevated, res.Outcome.Tier)
	assert.Len(t, r.esc.actions, 1)
	assert.Contains(t, res.Outcome.Message, "cancelled")
}

func TestProtectedNeverLeavesIdle(t *testing.T) {
	for _, elevated := range []bool{false, true} {
		r := newRig(t, elevated)
		r.sys.add(proc.Snapshot{PID: 150, Name: "WindowServer", UID: 88, CreateTime: 1}, syscall.SIGTERM)
		tgt := r.target(t, 150)
		require.True(t, tgt.IsProtected)

		res := r.engine.Terminate(context.Background(), Request{Target: tgt})
		assert.Equal(t, Failed, res.State)
		assert.Equal(t, model.KindProtectedTarget, res.Outcome.Kind)
		assert.Empty(t, res.Attempts)
		require.Len(t, res.Transitions, 1)
		assert.Equal(t, Transition{From: Idle, To: Failed, At: res.Transitions[0].At}, res.Transitions[0])
		assert.Empty(t, r.sys.signals())
		assert.Empty(t, r.esc.actions)
		assert.Contains(t, model.UserMessage(res.Outcome.Err), "protected")
	}
}

func TestAbsentTargetSucceeds(t *testing.T) {
	r := newRig(t, true)
	tgt := &model.TerminationTarget{PID: 999, Name: "gone", OwnerMatchesCurrentUser: true, CreateTime: 1}

	res := r.engine.Terminate(context.Background(), Request{Target: tgt})
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, model.KindAlreadyGone, res.Outcome.Kind)
	assert.Zero(t, res.SignalsSent())
	assert.Empty(t, r.sys.signals())
	require.Len(t, r.audit.all(), 1)
}

func TestPidReuseCountsAsGone(t *testing.T) {
	r := newRig(t, false)
	r.sys.add(proc.Snapshot{PID: 31500, Name: "old", UID: myUID, CreateTime: 1}, unkillable)
	tgt := r.target(t, 31500)
	r.sys.add(proc.Snapshot{PID: 31500, Name: "new", UID: myUID, CreateTime: 2}, unkillable)

	res := r.engine.Terminate(context.Background(), Request{Target: tgt})
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, model.KindAlreadyGone, res.Outcome.Kind)
	assert.Empty(t, r.sys.signals())
}

func TestUnkillableWithoutElevationTimesOut(t *testing.T) {
	r := newRig(t, false)
	r.sys.add(proc.Snapshot{PID: 31600, Name: "stuck", UID: myUID, CreateTime: 1}, unkillable)
	res := r.engine.Terminate(context.Background(), Request{Target: r.target(t, 31600)})
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, model.KindTimeout, res.Outcome.Kind)
	assert.Len(t, res.Attempts, 2)
	assert.Equal(t, 2, res.SignalsSent())
}

func TestCancelledBeforeStart(t *testing.T) {
	r := newRig(t, true)
	r.sys.add(proc.Snapshot{PID: 31700, Name: "w", UID: myUID, CreateTime: 1}, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.engine.Terminate(ctx, Request{Target: r.target(t, 31700)})
	assert.Equal(t, model.Cancelled, res.Outcome.Status)
	assert.Empty(t, r.sys.signals())
	require.Len(t, r.audit.all(), 1)
	assert.Equal(t, model.Cancelled, r.audit.all()[0].Outcome.Status)
}

func TestCancelBetweenTiersStops(t *testing.T) {
	r := newRig(t, true)
	r.sys.add(proc.Snapshot{PID: 31710, Name: "w", UID: myUID, CreateTime: 1}, syscall.SIGKILL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.sys.delivered = func(sig syscall.Signal) {
		if sig == syscall.SIGTERM {
			cancel()
		}
	}

	res := r.engine.Terminate(ctx, Request{Target: r.target(t, 31710)})
	assert.Equal(t, model.Cancelled, res.Outcome.Status)
	assert.Equal(t, model.KindCancelled, res.Outcome.Kind)
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM}, r.sys.signals())
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, capability.SignalTerm, res.Attempts[0].CapabilityID)
	assert.Empty(t, r.esc.actions)
	assert.NotContains(t, res.States(), Escalating)

	recs := r.audit.all()
	require.Len(t, recs, 1)
	assert.Equal(t, model.Cancelled, recs[0].Outcome.Status)
}

func TestCancelDuringPromptStillCompletes(t *testing.T) {
	r := newRig(t, true)
	r.sys.add(proc.Snapshot{PID: 31720, Name: "helperd", UID: 0, CreateTime: 1}, syscall.SIGKILL)
	r.sys.foreign[31720] = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.esc.prompting = cancel

	res := r.engine.Terminate(ctx, Request{Target: r.target(t, 31720)})
	require.Equal(t, Succeeded, res.State, res.Outcome.Message)
	assert.Equal(t, model.TierElevated, res.Outcome.Tier)
	assert.Len(t, res.Attempts, 3)
	require.Len(t, r.esc.actions, 1)
	assert.NoError(t, r.esc.ctxErr)
	assert.Error(t, ctx.Err())
	assert.Contains(t, res.States(), VerifyingElevated)

	recs := r.audit.all()
	require.Len(t, recs, 1)
	assert.Equal(t, model.Succeeded, recs[0].Outcome.Status)
}

func TestConcurrentCallsJoin(t *testing.T) {
	r := newRig(t, false)
	r.sys.add(proc.Snapshot{PID: 31800, Name: "w", UID: myUID, CreateTime: 1}, syscall.SIGTERM)
	r.sys.entered = make(chan struct{})
	r.sys.release = make(chan struct{})
	entered := r.sys.entered
	tgt := r.target(t, 31800)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = r.engine.Terminate(context.Background(), Request{Target: tgt})
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = r.engine.Terminate(context.Background(), Request{Target: tgt})
	}()
	time.Sleep(50 * time.Millisecond)
	close(r.sys.release)
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, Succeeded, res.State)
		assert.True(t, res.Shared)
	}
	assert.Equal(t, results[0].Attempts, results[1].Attempts)
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM}, r.sys.signals())
	assert.Len(t, r.audit.all(), 1)
}

func TestTerminateAllDistinctTargets(t *testing.T) {
	r := newRig(t, false)
	var reqs []Request
	for pid := int32(31900); pid < 31905; pid++ {
		r.sys.add(proc.Snapshot{PID: pid, Name: "w", UID: myUID, CreateTime: 1}, syscall.SIGTERM)
		reqs = append(reqs, Request{Target: r.target(t, pid)})
	}
	results := r.engine.TerminateAll(context.Background(), reqs)
	require.Len(t, results, 5)
	for i, res := range results {
		assert.Equal(t, Succeeded, res.State)
		assert.Equal(t, reqs[i].Target.PID, res.Target.PID)
	}
	assert.Len(t, r.audit.all(), 5)
}

func TestNewRejectsUnknownLadderStep(t *testing.T) {
	caps := capability.Builtin()
	for i := range caps {
		if caps[i].ID == capability.Terminate {
			caps[i].Ladder = []string{capability.DNSFlush}
		}
	}
	cat, err := capability.NewCatalog(caps...)
	require.NoError(t, err)
	_, err = New(Config{Catalog: cat, User: executor.NewUser(executor.Config{Catalog: cat}), Table: newFakeSystem()})
	assert.Error(t, err)
}
