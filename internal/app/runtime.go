// Package app wires the catalog, tracker, executors, termination engine
// and browser controllers from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/reaper/internal/audit"
	"github.com/ppiankov/reaper/internal/browser"
	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/config"
	"github.com/ppiankov/reaper/internal/denylist"
	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/helper"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/permission"
	"github.com/ppiankov/reaper/internal/proc"
	"github.com/ppiankov/reaper/internal/script"
	"github.com/ppiankov/reaper/internal/tcc"
	"github.com/ppiankov/reaper/internal/terminate"
	"github.com/ppiankov/reaper/internal/watch"
)

// BundleID is the identifier reaper registers under when packaged as an app.
const BundleID = "com.ppiankov.reaper"

// Runtime holds every long-lived service of one reaper process.
type Runtime struct {
	Config    *config.Config
	Log       *zap.Logger
	SessionID string
	Catalog   *capability.Catalog
	Denylist  *denylist.Denylist
	Table     proc.Table
	Resolver  *proc.Resolver
	Audit     *audit.Log
	Tracker   *permission.Tracker
	Runner    script.Runner
	User      executor.Executor
	// Elevated is nil when elevation is disabled.
	Elevated executor.Executor
	Helper   *helper.Client
	Engine   *terminate.Engine
	Browsers map[browser.Browser]*browser.Controller
}

// Catalog builds the full catalog: builtins plus every browser operation.
func Catalog() (*capability.Catalog, error) {
	browserCaps, err := browser.Capabilities()
	if err != nil {
		return nil, err
	}
	return capability.NewCatalog(append(capability.Builtin(), browserCaps...)...)
}

// New wires a runtime from cfg.
func New(cfg *config.Config, log *zap.Logger) (*Runtime, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("app: create data dir: %w", err)
	}
	cat, err := Catalog()
	if err != nil {
		return nil, err
	}
	dl, err := denylist.Load(cfg.Protected.Path)
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.Open(cfg.Audit.Path, audit.WithRetention(cfg.Retention()))
	if err != nil {
		return nil, err
	}

	table := proc.System{}
	runner := script.Exec{}
	uid := proc.CurrentUID()
	probes := &permission.SystemProbes{
		UserTCC:   tcc.NewStore(tcc.UserDBPath()),
		SystemTCC: tcc.NewStore(tcc.SystemDBPath),
		Clients:   clientIdentifiers(),
		Runner:    runner,
		Table:     table,
		UID:       uid,
	}
	remediator := &permission.SystemRemediator{Runner: runner, Names: browser.DisplayNameFor}
	tracker := permission.NewTracker(probes, remediator,
		permission.NewRemediationStore(cfg.Permissions.StorePath), cfg.Tracker(), log)

	rt := &Runtime{
		Config:    cfg,
		Log:       log,
		SessionID: audit.NewSessionID(),
		Catalog:   cat,
		Denylist:  dl,
		Table:     table,
		Resolver:  &proc.Resolver{Table: table, Denylist: dl, Bundles: proc.NewDefaultsBundles(), UID: &uid},
		Audit:     auditLog,
		Tracker:   tracker,
		Runner:    runner,
	}
	journal := &executor.Journal{Audit: auditLog, SessionID: rt.SessionID, Log: log}
	direct := &executor.Direct{Table: table, Signaler: table}
	rt.User = executor.NewUser(executor.Config{
		Catalog: cat, Gate: tracker, Journal: journal, Direct: direct, Runner: runner, Log: log,
	})

	if esc := rt.escalator(); esc != nil {
		rt.Elevated = executor.NewElevated(executor.ElevatedConfig{
			Catalog: cat, Journal: journal, Table: table, Escalator: esc, Log: log,
		})
	}

	engineCfg := terminate.Config{
		Catalog:  cat,
		User:     rt.User,
		Table:    table,
		Journal:  journal,
		Waits:    cfg.Waits(),
		Parallel: cfg.Termination.Parallel,
		Log:      log,
	}
	if rt.Elevated != nil {
		engineCfg.Elevated = rt.Elevated
	}
	rt.Engine, err = terminate.New(engineCfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Browsers = browser.Controllers(rt.User, runner)
	return rt, nil
}

// escalator picks the privilege path for the configured elevation mode.
func (r *Runtime) escalator() executor.Escalator {
	prompt := &executor.PromptEscalator{Runner: r.Runner}
	mode := r.Config.Elevation.Mode
	if mode == config.ElevationDisabled {
		return nil
	}
	if mode != config.ElevationPrompt {
		c, err := helper.Dial(r.Config.Elevation.Socket)
		if err != nil {
			r.Log.Warn("helper unavailable", zap.Error(err))
		} else {
			r.Helper = c
		}
	}
	switch {
	case mode == config.ElevationHelper && r.Helper != nil:
		return r.Helper
	case mode == config.ElevationPrompt || r.Helper == nil:
		return prompt
	}
	return executor.Chain{r.Helper, prompt}
}

// clientIdentifiers lists what the OS may have recorded reaper as in the
// consent store: its own bundle id, its binary path and the terminal that
// launched it.
func clientIdentifiers() []string {
	ids := []string{BundleID}
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		ids = append(ids, exe)
	}
	if host := os.Getenv("__CFBundleIdentifier"); host != "" {
		ids = append(ids, host)
	}
	return ids
}

// Background runs the permission poll loop and the file watchers until
// ctx is cancelled.
func (r *Runtime) Background(ctx context.Context) error {
	log := otelzap.New(r.Log.Named("app"))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Tracker.Run(ctx) })
	if r.Config.Permissions.WatchConsentStore {
		g.Go(func() error {
			return r.Tracker.WatchConsentStore(ctx, []string{filepath.Dir(tcc.UserDBPath())})
		})
	}
	if r.Config.Protected.Watch {
		path := r.Config.Protected.Path
		w, err := watch.New([]string{path}, func() {
			if err := r.Denylist.Reload(path); err != nil {
				log.Ctx(ctx).Warn("protected list reload failed, keeping previous", zap.Error(err))
				return
			}
			log.Ctx(ctx).Info("protected list reloaded", zap.String("path", path))
		}, watch.DefaultDebounce, r.Log)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// TerminatePID snapshots pid now and terminates it. An absent pid counts
// as already gone.
func (r *Runtime) TerminatePID(ctx context.Context, pid int32, noElevate bool) terminate.Result {
	t, err := r.Resolver.Resolve(ctx, pid)
	if errors.Is(err, proc.ErrNotFound) {
		t = &model.TerminationTarget{PID: pid}
	} else if err != nil {
		return terminate.Result{State: terminate.Failed, Outcome: model.OutcomeFor(model.TierUser, err)}
	}
	return r.Engine.Terminate(ctx, terminate.Request{Target: t, NoElevate: noElevate})
}

// Maintenance runs a maintenance capability on the user tier, moving to
// the elevated tier when it needs administrator rights and allowElevate
// is set.
func (r *Runtime) Maintenance(ctx context.Context, id string, allowElevate bool) model.Outcome {
	out := r.User.Execute(ctx, executor.Request{CapabilityID: id})
	var perm *model.PermissionRequiredError
	if out.Kind == model.KindPermissionRequired && errors.As(out.Err, &perm) &&
		perm.Subject.Kind == model.SubjectElevation && allowElevate && r.Elevated != nil {
		return r.Elevated.Execute(ctx, executor.Request{CapabilityID: id})
	}
	return out
}

// Close releases the tracker, helper connection and audit log.
func (r *Runtime) Close() error {
	if r.Tracker != nil {
		r.Tracker.Close()
	}
	if r.Helper != nil {
		_ = r.Helper.Close()
	}
	if r.Audit != nil {
		return r.Audit.Close()
	}
	return nil
}
