// Package executor runs catalog capabilities. The User and Elevated tiers
// share one pipeline: lookup, permission gate, dispatch, then exactly one
// audit record written after the operation concludes.
package executor

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/ppiankov/reaper/internal/audit"
	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/permission"
)

// Request names a capability and what it acts on. There is no way to pass
// a command or script; only catalog ids and typed arguments.
type Request struct {
	CapabilityID string
	// Target is required for process operations.
	Target *model.TerminationTarget
	// Args are integer script parameters, e.g. window and tab indices.
	Args []int
	// Subject overrides the audit description.
	Subject string
}

func (r Request) describe() string {
	switch {
	case r.Subject != "":
		return r.Subject
	case r.Target != nil:
		return r.Target.Describe()
	}
	return "system"
}

// Executor is the contract both tiers implement.
type Executor interface {
	Tier() model.Tier
	// Execute runs the request and appends one audit record.
	Execute(ctx context.Context, req Request) model.Outcome
	// Perform runs the request without recording it, for callers that
	// fold several invocations into one record of their own.
	Perform(ctx context.Context, req Request) model.Outcome
}

// Gate is the permission tracker as seen by executors.
type Gate interface {
	Resolve(ctx context.Context, subj model.Subject) permission.State
	Observe(subj model.Subject, status permission.Status, source string)
}

// Recorder appends audit records.
type Recorder interface {
	Record(rec audit.RunRecord) error
}

// Journal writes run records for one session.
type Journal struct {
	Audit     Recorder
	SessionID string
	Log       *zap.Logger
}

// Entry is everything a run record needs besides session and hash.
type Entry struct {
	CapabilityID string
	Subject      string
	Outcome      model.Outcome
	StartedAt    time.Time
	Attempts     []model.Attempt
}

// Write appends one record. A failed write is logged, never returned: the
// operation has already happened and its outcome must reach the caller.
func (j *Journal) Write(ctx context.Context, e Entry) {
	if j == nil || j.Audit == nil {
		return
	}
	rec := audit.RunRecord{
		SessionID:    j.SessionID,
		StartedAt:    e.StartedAt.UTC().Format(audit.TimestampFormat),
		CapabilityID: e.CapabilityID,
		Subject:      e.Subject,
		Outcome:      audit.OutcomeOf(e.Outcome),
		DurationMs:   time.Since(e.StartedAt).Milliseconds(),
		ExecutorTier: e.Outcome.Tier,
		Attempts:     e.Attempts,
	}
	if err := j.Audit.Record(rec); err != nil && j.Log != nil {
		otelzap.New(j.Log).Ctx(ctx).Error("audit write failed",
			zap.String("capability", e.CapabilityID), zap.Error(err))
	}
}

// pipeline is the shared lookup → gate → dispatch → record sequence.
type pipeline struct {
	tier     model.Tier
	catalog  *capability.Catalog
	journal  *Journal
	log      *otelzap.Logger
	gate     func(ctx context.Context, capb capability.Capability, req Request) error
	dispatch func(ctx context.Context, capb capability.Capability, req Request) ([]byte, error)
}

func (p *pipeline) Tier() model.Tier { return p.tier }

func (p *pipeline) Execute(ctx context.Context, req Request) model.Outcome {
	start := time.Now()
	out := p.Perform(ctx, req)
	p.journal.Write(ctx, Entry{
		CapabilityID: req.CapabilityID,
		Subject:      req.describe(),
		Outcome:      out,
		StartedAt:    start,
	})
	return out
}

func (p *pipeline) Perform(ctx context.Context, req Request) model.Outcome {
	start := time.Now()
	log := p.log.Ctx(ctx)
	fields := []zap.Field{
		zap.String("capability", req.CapabilityID),
		zap.String("tier", string(p.tier)),
		zap.String("subject", req.describe()),
	}

	finish := func(output []byte, err error) model.Outcome {
		out := model.OutcomeFor(p.tier, err)
		out.Output = output
		out.Duration = time.Since(start)
		if out.OK() {
			log.Debug("capability done", append(fields, zap.Duration("took", out.Duration), zap.String("kind", string(out.Kind)))...)
		} else {
			log.Info("capability failed", append(fields, zap.String("kind", string(out.Kind)), zap.Error(err))...)
		}
		return out
	}

	capb, ok := p.catalog.Lookup(req.CapabilityID)
	if !ok {
		return finish(nil, model.UnknownCapability(req.CapabilityID))
	}
	if err := ctx.Err(); err != nil {
		return finish(nil, err)
	}
	if err := p.gate(ctx, capb, req); err != nil {
		return finish(nil, err)
	}
	output, err := p.dispatch(ctx, capb, req)
	return finish(output, err)
}

// needsTarget checks the request carries a live process for process ops
// and refuses protected ones.
func needsTarget(capb capability.Capability, req Request) error {
	switch capb.Operation.(type) {
	case capability.KillSignal, capability.GraceEndApp:
	default:
		return nil
	}
	if req.Target == nil {
		return errorf("%s needs a process target", capb.ID)
	}
	if req.Target.IsProtected {
		return model.ProtectedTarget(req.Target)
	}
	return nil
}
