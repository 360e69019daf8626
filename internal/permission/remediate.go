package permission

import (
	"context"
	"errors"

	"github.com/pkg/browser"

	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/script"
)

// System Settings panes.
const (
	AutomationPane    = "x-apple.systempreferences:com.apple.preference.security?Privacy_Automation"
	AccessibilityPane = "x-apple.systempreferences:com.apple.preference.security?Privacy_Accessibility"
)

// ErrNotRemediable is returned for subjects with no consent flow.
var ErrNotRemediable = errors.New("permission: subject has no remediation flow")

// Remediator triggers the OS consent flow for a subject and reports the
// status it observed, Unknown if it could not tell.
type Remediator interface {
	Remediate(ctx context.Context, subj model.Subject) (Status, error)
}

// pokeScript touches the target once so the OS shows its consent dialog.
// The bundle id arrives as argv.
const pokeScript = `on run argv
	tell application id (item 1 of argv) to count windows
end run`

// SystemRemediator pokes target apps and opens System Settings panes.
type SystemRemediator struct {
	Runner script.Runner
	// OpenURL opens a pane; defaults to browser.OpenURL.
	OpenURL func(url string) error
	// Names maps bundle ids to display names for error attribution.
	Names func(bundleID string) string
}

// Remediate implements Remediator.
func (r *SystemRemediator) Remediate(ctx context.Context, subj model.Subject) (Status, error) {
	switch subj.Kind {
	case model.SubjectAutomation:
		name := subj.ID
		if r.Names != nil {
			if n := r.Names(subj.ID); n != "" {
				name = n
			}
		}
		_, err := r.Runner.Run(ctx, script.Invocation{
			Script:   pokeScript,
			Args:     []string{subj.ID},
			BundleID: subj.ID,
			App:      name,
		})
		if err == nil {
			return Granted, nil
		}
		status := Unknown
		if model.KindOf(err) == model.KindAutomationPermissionDenied {
			status = Denied
		}
		if openErr := r.open(AutomationPane); openErr != nil {
			return status, openErr
		}
		return status, nil

	case model.SubjectAccessibility, model.SubjectProcessOwnership:
		out, err := r.Runner.Run(ctx, script.Invocation{Script: trustedCheck, BundleID: "com.apple.systemevents", App: "System Events"})
		if err == nil && out == "true" {
			return Granted, nil
		}
		if openErr := r.open(AccessibilityPane); openErr != nil {
			return Unknown, openErr
		}
		if err == nil {
			return Denied, nil
		}
		return Unknown, nil
	}
	return Unknown, ErrNotRemediable
}

func (r *SystemRemediator) open(url string) error {
	if r.OpenURL != nil {
		return r.OpenURL(url)
	}
	return browser.OpenURL(url)
}
