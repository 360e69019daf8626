package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/script"
)

// Tab is one open tab as reported by the browser at call time.
type Tab struct {
	Window int    `json:"window"`
	Index  int    `json:"tab"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// CapabilityID returns the catalog id of a browser operation.
func CapabilityID(b Browser, templateID string) string {
	return "browser." + string(b) + "." + templateID
}

var operations = []struct {
	templateID string
	name       string
	risk       capability.RiskTier
}{
	{TemplateEnumerate, "List tabs in %s", capability.RiskLow},
	{TemplateCloseTab, "Close tab in %s", capability.RiskMedium},
	{TemplateCloseWindow, "Close all tabs of a %s window", capability.RiskMedium},
}

// Capabilities renders every browser operation into catalog entries.
func Capabilities() ([]capability.Capability, error) {
	var caps []capability.Capability
	for _, t := range targets {
		for _, op := range operations {
			src, err := Render(t, op.templateID)
			if err != nil {
				return nil, err
			}
			caps = append(caps, capability.Capability{
				ID:          CapabilityID(t.Browser, op.templateID),
				DisplayName: fmt.Sprintf(op.name, t.DisplayName),
				Permission:  capability.Requirement{Class: capability.PermAutomationConsent, Target: t.BundleID},
				Risk:        op.risk,
				Operation: capability.AppleScriptInvocation{
					Target:     t.BundleID,
					AppName:    t.DisplayName,
					TemplateID: op.templateID,
					Script:     src,
				},
			})
		}
	}
	return caps, nil
}

// Dispatcher runs catalog capabilities; the user executor implements it.
type Dispatcher interface {
	Execute(ctx context.Context, req executor.Request) model.Outcome
}

// runningScript checks a bundle id without launching the app. It addresses
// no application, so it needs no automation consent and changes nothing;
// it is the one script that runs outside the catalog and the audit log.
// Its only input is the controller's own bundle id, passed as argv.
const runningScript = `on run argv
	return application id (item 1 of argv) is running
end run`

// Controller drives one browser. It holds no tab state; every call asks
// the live browser.
type Controller struct {
	target Target
	exec   Dispatcher
	runner script.Runner
}

// NewController returns the controller for t.
func NewController(t Target, exec Dispatcher, runner script.Runner) *Controller {
	return &Controller{target: t, exec: exec, runner: runner}
}

// Controllers returns one controller per supported browser.
func Controllers(exec Dispatcher, runner script.Runner) map[Browser]*Controller {
	out := make(map[Browser]*Controller, len(targets))
	for _, t := range targets {
		out[t.Browser] = NewController(t, exec, runner)
	}
	return out
}

// Target returns the browser this controller drives.
func (c *Controller) Target() Target {
	return c.target
}

// Running reports whether the browser is up, without launching it. It is a
// read-only query and is not dispatched through the executor.
func (c *Controller) Running(ctx context.Context) (bool, error) {
	out, err := c.runner.Run(ctx, script.Invocation{
		Script:   runningScript,
		Args:     []string{c.target.BundleID},
		BundleID: c.target.BundleID,
		App:      c.target.DisplayName,
	})
	if err != nil {
		return false, c.attribute(err)
	}
	return strings.TrimSpace(out) == "true", nil
}

// EnumerateTabs lists every tab of every window.
func (c *Controller) EnumerateTabs(ctx context.Context) ([]Tab, error) {
	out := c.exec.Execute(ctx, executor.Request{
		CapabilityID: CapabilityID(c.target.Browser, TemplateEnumerate),
		Subject:      c.target.DisplayName,
	})
	if !out.OK() {
		return nil, c.attribute(out.Err)
	}
	return ParseTabs(string(out.Output))
}

// CloseTab closes tab of window, both 1-based.
func (c *Controller) CloseTab(ctx context.Context, window, tab int) error {
	if window < 1 || tab < 1 {
		return c.badIndex(window, tab)
	}
	out := c.exec.Execute(ctx, executor.Request{
		CapabilityID: CapabilityID(c.target.Browser, TemplateCloseTab),
		Args:         []int{window, tab},
		Subject:      fmt.Sprintf("%s window %d tab %d", c.target.DisplayName, window, tab),
	})
	if !out.OK() {
		return c.attribute(out.Err)
	}
	return nil
}

// CloseAllTabs closes every tab of window.
func (c *Controller) CloseAllTabs(ctx context.Context, window int) error {
	if window < 1 {
		return c.badIndex(window, 1)
	}
	out := c.exec.Execute(ctx, executor.Request{
		CapabilityID: CapabilityID(c.target.Browser, TemplateCloseWindow),
		Args:         []int{window},
		Subject:      fmt.Sprintf("%s window %d", c.target.DisplayName, window),
	})
	if !out.OK() {
		return c.attribute(out.Err)
	}
	return nil
}

func (c *Controller) badIndex(window, tab int) error {
	return model.NewScriptError(-1719, c.target.BundleID, c.target.DisplayName,
		fmt.Sprintf("invalid index window %d tab %d", window, tab), model.ErrTargetUnavailable)
}

// attribute pins every browser-specific error to this controller's own
// browser. A nil err becomes a generic failure rather than success.
func (c *Controller) attribute(err error) error {
	if err == nil {
		return errors.Newf("browser: %s operation failed", c.target.DisplayName)
	}
	var serr *model.ScriptError
	if errors.As(err, &serr) {
		serr.BundleID = c.target.BundleID
		serr.App = c.target.DisplayName
	}
	var perm *model.PermissionRequiredError
	if errors.As(err, &perm) && perm.Subject.Kind == model.SubjectAutomation {
		perm.Subject = model.Automation(c.target.BundleID)
		perm.Name = c.target.DisplayName
	}
	return err
}

// ParseTabs decodes enumeration output: a tab count followed by one record
// per tab. Output whose records disagree with the count, or whose indices
// are out of sequence, is rejected whole rather than partly trusted.
func ParseTabs(out string) ([]Tab, error) {
	var recs []string
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimLeft(rec, "\r\n")
		if rec != "" {
			recs = append(recs, rec)
		}
	}
	if len(recs) == 0 {
		return nil, nil
	}
	want, err := strconv.Atoi(strings.TrimSpace(recs[0]))
	if err != nil {
		return nil, fmt.Errorf("browser: bad tab count %q", recs[0])
	}
	recs = recs[1:]
	if len(recs) != want {
		return nil, fmt.Errorf("browser: expected %d tab records, got %d", want, len(recs))
	}

	tabs := make([]Tab, 0, len(recs))
	prev := Tab{}
	for _, rec := range recs {
		f := strings.Split(rec, fieldSep)
		if len(f) != 4 {
			return nil, fmt.Errorf("browser: malformed tab record %q", rec)
		}
		w, err := strconv.Atoi(f[0])
		if err != nil {
			return nil, fmt.Errorf("browser: bad window index %q", f[0])
		}
		i, err := strconv.Atoi(f[1])
		if err != nil {
			return nil, fmt.Errorf("browser: bad tab index %q", f[1])
		}
		next := w == prev.Window && i == prev.Index+1
		first := w > prev.Window && i == 1
		if !next && !first {
			return nil, fmt.Errorf("browser: tab %d of window %d out of sequence", i, w)
		}
		url := f[2]
		if url == "missing value" {
			url = ""
		}
		prev = Tab{Window: w, Index: i, URL: url, Title: f[3]}
		tabs = append(tabs, prev)
	}
	return tabs, nil
}
