package executor

import (
	"context"
	"strconv"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/permission"
	"github.com/ppiankov/reaper/internal/script"
)

// quitScript asks an app to quit through its own Apple event handler.
const quitScript = `on run argv
	tell application id (item 1 of argv) to quit
end run`

// Config wires an executor.
type Config struct {
	Catalog *capability.Catalog
	Gate    Gate
	Journal *Journal
	Direct  *Direct
	Runner  script.Runner
	Log     *zap.Logger
}

// User runs capabilities with the invoking user's rights.
type User struct {
	pipeline
	cfg Config
}

// NewUser returns the user tier executor.
func NewUser(cfg Config) *User {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	u := &User{cfg: cfg}
	u.pipeline = pipeline{
		tier:     model.TierUser,
		catalog:  cfg.Catalog,
		journal:  cfg.Journal,
		log:      otelzap.New(cfg.Log.Named("executor.user")),
		gate:     u.gate,
		dispatch: u.dispatch,
	}
	return u
}

func (u *User) gate(ctx context.Context, capb capability.Capability, req Request) error {
	if err := needsTarget(capb, req); err != nil {
		return err
	}
	switch capb.Permission.Class {
	case capability.PermNone:
		return nil
	case capability.PermAutomationConsent:
		subj := model.Automation(capb.Permission.Target)
		if !u.cfg.Gate.Resolve(ctx, subj).Allows() {
			return model.PermissionRequired(subj, appName(capb))
		}
		return nil
	case capability.PermSameUserProcess:
		if req.Target.OwnerMatchesCurrentUser {
			return nil
		}
		subj := model.Ownership(req.Target.PID)
		if !u.cfg.Gate.Resolve(ctx, subj).Allows() {
			return model.PermissionRequired(subj, req.Target.Name)
		}
		return nil
	case capability.PermElevatedAuth:
		return model.PermissionRequired(model.Elevation(), capb.DisplayName)
	}
	return errors.Newf("executor: unhandled permission class %q", capb.Permission.Class)
}

func (u *User) dispatch(ctx context.Context, capb capability.Capability, req Request) ([]byte, error) {
	switch op := capb.Operation.(type) {
	case capability.KillSignal:
		err := u.cfg.Direct.Signal(ctx, req.Target, op.Signal)
		var perm *model.PermissionRequiredError
		if errors.As(err, &perm) {
			u.cfg.Gate.Observe(perm.Subject, permission.Denied, "signal")
		}
		return nil, err
	case capability.GraceEndApp:
		return nil, u.quit(ctx, req.Target)
	case capability.AppleScriptInvocation:
		args := make([]string, len(req.Args))
		for i, a := range req.Args {
			args[i] = strconv.Itoa(a)
		}
		out, err := u.cfg.Runner.Run(ctx, script.Invocation{
			Script:   op.Script,
			Args:     args,
			BundleID: op.Target,
			App:      op.AppName,
		})
		u.observeScript(op.Target, err)
		return []byte(out), err
	case capability.MaintenanceCommand:
		if op.NeedsRoot {
			return nil, model.PermissionRequired(model.Elevation(), capb.DisplayName)
		}
		return u.cfg.Direct.Command(ctx, op)
	}
	return nil, errors.Newf("executor: unhandled operation %T", capb.Operation)
}

// quit sends a quit Apple event to an app target, or SIGTERM to a bare
// process. The caller verifies exit.
func (u *User) quit(ctx context.Context, t *model.TerminationTarget) error {
	if !t.IsApp() {
		return u.cfg.Direct.Signal(ctx, t, syscall.SIGTERM)
	}
	_, err := u.cfg.Runner.Run(ctx, script.Invocation{
		Script:   quitScript,
		Args:     []string{t.BundleID},
		BundleID: t.BundleID,
		App:      t.Name,
	})
	u.observeScript(t.BundleID, err)
	if errors.Is(err, model.ErrTargetUnavailable) {
		return model.AlreadyGone(t)
	}
	if errors.Is(err, model.ErrAutomationPermissionDenied) {
		return model.PermissionRequired(model.Automation(t.BundleID), t.Name)
	}
	return err
}

// observeScript feeds what a script run revealed about consent back to
// the tracker.
func (u *User) observeScript(bundleID string, err error) {
	subj := model.Automation(bundleID)
	switch {
	case err == nil:
		u.cfg.Gate.Observe(subj, permission.Granted, "script")
	case errors.Is(err, model.ErrAutomationPermissionDenied):
		u.cfg.Gate.Observe(subj, permission.Denied, "script")
	}
}

func appName(capb capability.Capability) string {
	if op, ok := capb.Operation.(capability.AppleScriptInvocation); ok && op.AppName != "" {
		return op.AppName
	}
	return capb.Permission.Target
}
