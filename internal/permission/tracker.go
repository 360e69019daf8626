package permission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ppiankov/reaper/internal/model"
)

// Poll interval bounds.
const (
	DefaultPollInterval = 30 * time.Second
	MinPollInterval     = 5 * time.Second
	MaxPollInterval     = 5 * time.Minute
	DefaultCooldown     = 2 * time.Minute
)

// Config configures a Tracker.
type Config struct {
	PollInterval time.Duration
	Cooldown     time.Duration
	// AutoRemediate triggers one remediation per subject from the poll
	// loop when it finds a subject not granted.
	AutoRemediate bool
}

// Tracker owns every PermissionState. All mutation goes through set,
// under mu; probes for one subject are collapsed into a single call.
type Tracker struct {
	probe      Prober
	remediator Remediator
	store      *RemediationStore
	cfg        Config
	log        *otelzap.Logger
	now        func() time.Time

	mu       sync.Mutex
	states   map[model.Subject]State
	limiters map[model.Subject]*rate.Limiter

	probes singleflight.Group
	bg     sync.WaitGroup
	// base is the context async refreshes run under; Close cancels it.
	base   context.Context
	cancel context.CancelFunc
}

// Remediation is the result of RequestRemediation.
type Remediation struct {
	State State `json:"state"`
	// Debounced is true when the request fell inside the cooldown and no
	// consent flow was triggered.
	Debounced bool `json:"debounced"`
}

// NewTracker builds a tracker. store may be nil, in which case
// "already attempted" flags are not persisted.
func NewTracker(probe Prober, remediator Remediator, store *RemediationStore, cfg Config, log *zap.Logger) *Tracker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollInterval < MinPollInterval {
		cfg.PollInterval = MinPollInterval
	}
	if cfg.PollInterval > MaxPollInterval {
		cfg.PollInterval = MaxPollInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if log == nil {
		log = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Tracker{
		probe:      probe,
		remediator: remediator,
		store:      store,
		cfg:        cfg,
		log:        otelzap.New(log.Named("permission")),
		now:        time.Now,
		states:     map[model.Subject]State{},
		limiters:   map[model.Subject]*rate.Limiter{},
		base:       base,
		cancel:     cancel,
	}
}

// Close stops async refreshes and waits for them to finish.
func (t *Tracker) Close() {
	t.cancel()
	t.bg.Wait()
}

// Status returns the cached state without blocking. A missing or stale
// entry is created as-is and refreshed in the background.
func (t *Tracker) Status(subj model.Subject) State {
	t.mu.Lock()
	st, ok := t.states[subj]
	if !ok {
		st = State{Subject: subj, Status: Unknown}
		st.AutoRemediationAttempted = t.attempted(subj)
		t.states[subj] = st
	}
	stale := t.stale(st)
	t.mu.Unlock()

	if stale && t.base.Err() == nil {
		t.bg.Add(1)
		go func() {
			defer t.bg.Done()
			ctx, cancel := context.WithTimeout(t.base, 10*time.Second)
			defer cancel()
			t.refresh(ctx, subj)
		}()
	}
	return st
}

// Resolve returns a fresh state, probing synchronously when the cached one
// is stale. Process ownership is always re-probed since pids get reused.
func (t *Tracker) Resolve(ctx context.Context, subj model.Subject) State {
	t.mu.Lock()
	st, ok := t.states[subj]
	t.mu.Unlock()
	if ok && !t.stale(st) {
		return st
	}
	return t.refresh(ctx, subj)
}

func (t *Tracker) stale(st State) bool {
	if st.Subject.Kind == model.SubjectProcessOwnership || st.Subject.Kind == model.SubjectElevation {
		return true
	}
	return st.Stale(t.now(), t.cfg.PollInterval)
}

// refresh probes subj once, collapsing concurrent callers.
func (t *Tracker) refresh(ctx context.Context, subj model.Subject) State {
	v, _, _ := t.probes.Do(subj.String(), func() (any, error) {
		status, source, err := t.probe.Probe(ctx, subj)
		return t.set(subj, status, source, err), nil
	})
	return v.(State)
}

// set is the single writer for states.
func (t *Tracker) set(subj model.Subject, status Status, source string, probeErr error) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.states[subj]
	if !ok {
		prev = State{Subject: subj, Status: Unknown, AutoRemediationAttempted: t.attempted(subj)}
	}
	next := prev
	next.LastCheckedAt = t.now()
	if probeErr != nil {
		next.Error = probeErr.Error()
	} else {
		next.Status = status
		next.Source = source
		next.Error = ""
	}
	t.states[subj] = next

	if prev.Status != next.Status {
		t.log.Info("permission changed",
			zap.String("subject", subj.String()),
			zap.String("from", string(prev.Status)),
			zap.String("to", string(next.Status)),
			zap.String("source", next.Source))
	}
	return next
}

// Observe records a status learned from an actual invocation, e.g. a
// script failing with -1743.
func (t *Tracker) Observe(subj model.Subject, status Status, source string) {
	if source == "" {
		source = "observed"
	}
	t.set(subj, status, source, nil)
}

// RequestRemediation triggers the consent flow for subj unless one ran
// within the cooldown. Concurrent callers for one subject trigger at most
// one flow.
func (t *Tracker) RequestRemediation(ctx context.Context, subj model.Subject) (Remediation, error) {
	if !t.limiter(subj).Allow() {
		t.log.Ctx(ctx).Debug("remediation debounced", zap.String("subject", subj.String()))
		return Remediation{State: t.Status(subj), Debounced: true}, nil
	}
	return t.remediate(ctx, subj)
}

func (t *Tracker) remediate(ctx context.Context, subj model.Subject) (Remediation, error) {
	t.log.Ctx(ctx).Info("requesting remediation", zap.String("subject", subj.String()))

	status, err := t.remediator.Remediate(ctx, subj)
	t.markAttempted(subj)
	if err != nil {
		return Remediation{State: t.Status(subj)}, err
	}

	var st State
	if subj.Kind == model.SubjectAutomation && status != Unknown {
		st = t.set(subj, status, "remediation", nil)
	} else {
		st = t.refresh(ctx, subj)
	}
	return Remediation{State: st}, nil
}

func (t *Tracker) limiter(subj model.Subject) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[subj]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.cfg.Cooldown), 1)
		t.limiters[subj] = l
	}
	return l
}

func (t *Tracker) attempted(subj model.Subject) bool {
	if t.store == nil {
		return false
	}
	ok, err := t.store.Attempted(subj)
	if err != nil {
		t.log.Warn("remediation store unreadable", zap.Error(err))
	}
	return ok
}

func (t *Tracker) markAttempted(subj model.Subject) {
	if t.store != nil {
		if err := t.store.MarkAttempted(subj, t.now()); err != nil {
			t.log.Warn("remediation store write failed", zap.Error(err))
		}
	}
	t.mu.Lock()
	st, ok := t.states[subj]
	if !ok {
		st = State{Subject: subj, Status: Unknown}
	}
	st.AutoRemediationAttempted = true
	t.states[subj] = st
	t.mu.Unlock()
}

// Snapshot returns every tracked state, sorted by subject.
func (t *Tracker) Snapshot() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject.String() < out[j].Subject.String() })
	return out
}

// Refresh re-probes every tracked subject. Ownership entries are dropped
// instead; they are only meaningful at the moment of a request.
func (t *Tracker) Refresh(ctx context.Context) {
	t.mu.Lock()
	var subjects []model.Subject
	for subj := range t.states {
		switch subj.Kind {
		case model.SubjectProcessOwnership, model.SubjectElevation:
			delete(t.states, subj)
		default:
			subjects = append(subjects, subj)
		}
	}
	t.mu.Unlock()

	for _, subj := range subjects {
		if ctx.Err() != nil {
			return
		}
		t.refresh(ctx, subj)
	}
}

// Run polls every tracked subject at the configured interval until ctx is
// cancelled, auto-remediating each subject at most once ever.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Refresh(ctx)
			if t.cfg.AutoRemediate {
				t.autoRemediate(ctx)
			}
		}
	}
}

func (t *Tracker) autoRemediate(ctx context.Context) {
	for _, st := range t.Snapshot() {
		if st.Allows() || st.AutoRemediationAttempted {
			continue
		}
		if _, err := t.RequestRemediation(ctx, st.Subject); err != nil {
			t.log.Ctx(ctx).Warn("auto-remediation failed", zap.String("subject", st.Subject.String()), zap.Error(err))
		}
	}
}
