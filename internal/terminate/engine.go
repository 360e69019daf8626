// Package terminate is the tiered process termination state machine. It
// climbs the catalog's termination ladder (graceful quit, SIGTERM, SIGKILL,
// elevated kill), verifying exit after each tier, and writes one audit
// record for the whole operation.
package terminate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/sethvargo/go-retry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
)

// DefaultParallel bounds TerminateAll.
const DefaultParallel = 8

var errStillAlive = errors.New("process still running")

// Request asks for one process to be terminated.
type Request struct {
	Target *model.TerminationTarget
	// NoElevate stops the machine before Escalating.
	NoElevate bool
}

// Config wires an Engine. Elevated may be nil, e.g. in sandboxed builds.
type Config struct {
	Catalog  *capability.Catalog
	User     executor.Executor
	Elevated executor.Executor
	Table    proc.Table
	Journal  *executor.Journal
	Waits    Waits
	Parallel int
	Log      *zap.Logger
}

type step struct {
	id       string
	attempt  State
	verify   State
	wait     time.Duration
	elevated bool
}

// Engine runs termination machines, at most one per pid at a time.
type Engine struct {
	cfg   Config
	steps []step
	group singleflight.Group
	log   *otelzap.Logger
}

// New builds an engine from the ladder of the process.terminate
// capability.
func New(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil || cfg.User == nil || cfg.Table == nil {
		return nil, fmt.Errorf("terminate: catalog, user executor and process table are required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = DefaultParallel
	}
	cfg.Waits = cfg.Waits.withDefaults()

	entry, ok := cfg.Catalog.Lookup(capability.Terminate)
	if !ok {
		return nil, fmt.Errorf("terminate: catalog has no %s capability", capability.Terminate)
	}
	e := &Engine{cfg: cfg, log: otelzap.New(cfg.Log.Named("terminate"))}
	for _, id := range entry.Ladder {
		s, err := e.stepFor(id)
		if err != nil {
			return nil, err
		}
		e.steps = append(e.steps, s)
	}
	if len(e.steps) == 0 {
		return nil, fmt.Errorf("terminate: %s has an empty ladder", capability.Terminate)
	}
	return e, nil
}

func (e *Engine) stepFor(id string) (step, error) {
	w := e.cfg.Waits
	switch id {
	case capability.GracefulQuit:
		return step{id: id, attempt: AttemptingGraceful, verify: VerifyingGraceful, wait: w.Graceful}, nil
	case capability.SignalTerm:
		return step{id: id, attempt: AttemptingSignalTerm, verify: VerifyingTerm, wait: w.Term}, nil
	case capability.SignalKill:
		return step{id: id, attempt: AttemptingSignalKill, verify: VerifyingKill, wait: w.Kill}, nil
	case capability.ElevatedKill:
		return step{id: id, attempt: AttemptingElevated, verify: VerifyingElevated, wait: w.Elevated, elevated: true}, nil
	}
	return step{}, fmt.Errorf("terminate: ladder step %q has no state", id)
}

// CanElevate reports whether an elevated tier is wired.
func (e *Engine) CanElevate() bool {
	return e.cfg.Elevated != nil
}

// Terminate runs the machine for req. A second call for a pid whose
// machine is still running joins it and gets the same result.
func (e *Engine) Terminate(ctx context.Context, req Request) Result {
	if req.Target == nil {
		out := model.OutcomeFor(model.TierUser, cerr.Wrap(model.ErrExecFailed, "terminate: no target"))
		return Result{State: Failed, Outcome: out}
	}
	key := strconv.Itoa(int(req.Target.PID))
	v, _, shared := e.group.Do(key, func() (any, error) {
		return e.run(ctx, req), nil
	})
	res := v.(Result)
	res.Shared = shared
	return res
}

// TerminateAll terminates distinct targets concurrently. Results are in
// request order.
func (e *Engine) TerminateAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Parallel)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = e.Terminate(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) run(ctx context.Context, req Request) Result {
	start := time.Now()
	m := &machine{
		state:  Idle,
		target: req.Target,
		log:    e.log.Logger.With(zap.Int32("pid", req.Target.PID), zap.String("name", req.Target.Name)),
	}
	res := e.drive(ctx, m, req)
	res.Outcome.Duration = time.Since(start)

	e.cfg.Journal.Write(ctx, executor.Entry{
		CapabilityID: capability.Terminate,
		Subject:      req.Target.Describe(),
		Outcome:      res.Outcome,
		StartedAt:    start,
		Attempts:     res.Attempts,
	})
	e.log.Ctx(ctx).Info("termination finished",
		zap.Int32("pid", req.Target.PID),
		zap.String("state", string(res.State)),
		zap.String("kind", string(res.Outcome.Kind)),
		zap.Int("attempts", len(res.Attempts)),
		zap.Duration("took", res.Outcome.Duration))
	return res
}

func (e *Engine) drive(ctx context.Context, m *machine, req Request) Result {
	t := req.Target
	if t.IsProtected {
		return m.finish(model.OutcomeFor(model.TierUser, model.ProtectedTarget(t)))
	}
	if err := ctx.Err(); err != nil {
		return m.finish(model.OutcomeFor(model.TierUser, err))
	}
	alive, err := proc.Alive(ctx, e.cfg.Table, t.PID, t.CreateTime)
	if err != nil {
		return m.finish(model.OutcomeFor(model.TierUser, cerr.Wrapf(err, "look up %s", t.Describe())))
	}
	if !alive {
		return m.finish(model.OutcomeFor(model.TierUser, model.AlreadyGone(t)))
	}

	last := model.OutcomeFor(model.TierUser, cerr.Wrapf(model.ErrExecFailed, "no tier applies to %s", t.Describe()))
	for _, s := range e.steps {
		switch {
		case s.elevated:
			if req.NoElevate || e.cfg.Elevated == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				return m.finish(model.OutcomeFor(last.Tier, err))
			}
			m.to(Escalating)
			// From here on the OS prompt owns the wait.
			ctx = context.WithoutCancel(ctx)
		case s.id == capability.GracefulQuit && !t.IsApp():
			continue
		}
		if err := ctx.Err(); err != nil {
			return m.finish(model.OutcomeFor(last.Tier, err))
		}
		done, out := e.attempt(ctx, m, s)
		last = out
		if done {
			return m.finish(out)
		}
	}
	return m.finish(last)
}

// attempt runs one tier. done means the machine stops with out.
func (e *Engine) attempt(ctx context.Context, m *machine, s step) (bool, model.Outcome) {
	exec := e.cfg.User
	if s.elevated {
		exec = e.cfg.Elevated
	}
	m.to(s.attempt)
	out := exec.Perform(ctx, executor.Request{CapabilityID: s.id, Target: m.target})
	att := model.Attempt{
		CapabilityID: s.id,
		Tier:         exec.Tier(),
		Status:       out.Status,
		ErrorKind:    out.Kind,
		Message:      out.Message,
	}

	if out.Kind == model.KindAlreadyGone {
		m.record(att)
		return true, out
	}
	if !out.OK() {
		m.record(att)
		switch out.Kind {
		case model.KindCancelled, model.KindAuthCancelled, model.KindProtectedTarget:
			return true, out
		}
		return false, out
	}

	att.SignalSent = true
	m.to(s.verify)
	began := time.Now()
	gone, err := e.verify(ctx, m.target, s.wait)
	att.WaitedMs = time.Since(began).Milliseconds()
	switch {
	case err != nil:
		res := model.OutcomeFor(exec.Tier(), err)
		att.Status, att.ErrorKind, att.Message = res.Status, res.Kind, res.Message
		m.record(att)
		return true, res
	case gone:
		m.record(att)
		return true, out
	}
	res := model.OutcomeFor(exec.Tier(), model.TimedOut(m.target.Describe()))
	att.Status, att.ErrorKind, att.Message = res.Status, res.Kind, res.Message
	m.record(att)
	return false, res
}

// verify polls until the target is gone or wait elapses.
func (e *Engine) verify(ctx context.Context, t *model.TerminationTarget, wait time.Duration) (bool, error) {
	b := retry.WithMaxDuration(wait, retry.NewConstant(e.cfg.Waits.Poll))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		alive, err := proc.Alive(ctx, e.cfg.Table, t.PID, t.CreateTime)
		if err != nil {
			return err
		}
		if alive {
			return retry.RetryableError(errStillAlive)
		}
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStillAlive):
		return false, nil
	}
	return false, err
}

// machine is the per-run state. It is owned by one goroutine.
type machine struct {
	mu          sync.Mutex
	state       State
	target      *model.TerminationTarget
	attempts    []model.Attempt
	transitions []Transition
	log         *zap.Logger
}

func (m *machine) to(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, Transition{From: m.state, To: s, At: time.Now()})
	m.log.Debug("transition", zap.String("from", string(m.state)), zap.String("to", string(s)))
	m.state = s
}

func (m *machine) record(a model.Attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
}

func (m *machine) finish(out model.Outcome) Result {
	if out.OK() {
		m.to(Succeeded)
	} else {
		m.to(Failed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Result{
		Target:      m.target,
		State:       m.state,
		Outcome:     out,
		Attempts:    m.attempts,
		Transitions: m.transitions,
	}
}
