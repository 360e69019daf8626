package executor

import (
	"context"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
)

// ErrNotElevatable rejects operations that make no sense as root, such as
// Apple events that must run in the user's session.
var ErrNotElevatable = errors.New("operation cannot run elevated")

// Action is a privileged operation in transport form.
type Action struct {
	CapabilityID string         `json:"capability"`
	PID          int32          `json:"pid,omitempty"`
	CreateTime   int64          `json:"create_time,omitempty"`
	Signal       syscall.Signal `json:"signal,omitempty"`
	Path         string         `json:"path,omitempty"`
	Args         []string       `json:"args,omitempty"`
}

// Escalator performs an Action with administrator rights.
type Escalator interface {
	Name() string
	Escalate(ctx context.Context, a Action) ([]byte, error)
}

// Chain tries each escalator in order, moving on only when one reports
// ErrElevationUnavailable.
type Chain []Escalator

func (c Chain) Name() string { return "chain" }

func (c Chain) Escalate(ctx context.Context, a Action) ([]byte, error) {
	for _, e := range c {
		out, err := e.Escalate(ctx, a)
		if errors.Is(err, model.ErrElevationUnavailable) {
			continue
		}
		return out, err
	}
	return nil, errors.WithStack(model.ErrElevationUnavailable)
}

// ElevatedConfig wires the elevated executor.
type ElevatedConfig struct {
	Catalog   *capability.Catalog
	Journal   *Journal
	Table     proc.Table
	Escalator Escalator
	Log       *zap.Logger
}

// Elevated runs capabilities after acquiring administrator rights. Same
// pipeline as User; only privilege acquisition differs.
type Elevated struct {
	pipeline
	cfg ElevatedConfig
}

// NewElevated returns the elevated tier executor.
func NewElevated(cfg ElevatedConfig) *Elevated {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	e := &Elevated{cfg: cfg}
	e.pipeline = pipeline{
		tier:     model.TierElevated,
		catalog:  cfg.Catalog,
		journal:  cfg.Journal,
		log:      otelzap.New(cfg.Log.Named("executor.elevated")),
		gate:     e.gate,
		dispatch: e.dispatch,
	}
	return e
}

func (e *Elevated) gate(_ context.Context, capb capability.Capability, req Request) error {
	switch capb.Operation.(type) {
	case capability.KillSignal, capability.MaintenanceCommand:
	default:
		return errors.Wrapf(ErrNotElevatable, "%s", capb.ID)
	}
	return needsTarget(capb, req)
}

func (e *Elevated) dispatch(ctx context.Context, capb capability.Capability, req Request) ([]byte, error) {
	a := Action{CapabilityID: capb.ID}
	switch op := capb.Operation.(type) {
	case capability.KillSignal:
		t := req.Target
		alive, err := proc.Alive(ctx, e.cfg.Table, t.PID, t.CreateTime)
		if err != nil {
			return nil, errors.Wrapf(err, "check pid %d", t.PID)
		}
		if !alive {
			return nil, model.AlreadyGone(t)
		}
		a.PID, a.CreateTime, a.Signal = t.PID, t.CreateTime, op.Signal
	case capability.MaintenanceCommand:
		a.Path, a.Args = op.Path, op.Args
	}
	out, err := e.cfg.Escalator.Escalate(ctx, a)
	if errors.Is(err, model.ErrAlreadyGone) && req.Target != nil {
		return out, model.AlreadyGone(req.Target)
	}
	return out, err
}
