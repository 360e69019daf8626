package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
	"github.com/ppiankov/reaper/internal/script"
	"github.com/ppiankov/reaper/internal/tcc"
)

// Prober answers the authorization question for one subject. Errors leave
// the tracker's previous status in place; they never produce a grant.
type Prober interface {
	Probe(ctx context.Context, subj model.Subject) (Status, string, error)
}

// ConsentReader is the subset of tcc.Store the probes use.
type ConsentReader interface {
	AppleEvents(ctx context.Context, clients []string, target string) (tcc.Decision, error)
	Service(ctx context.Context, service string, clients []string) (tcc.Decision, error)
}

// SystemProbes answers from the consent databases, a trusted-check script
// and the process table.
type SystemProbes struct {
	UserTCC   ConsentReader
	SystemTCC ConsentReader
	// Clients are the identifiers the OS may have recorded for reaper.
	Clients []string
	Runner  script.Runner
	Table   proc.Table
	UID     uint32
}

// trustedCheck asks System Events whether UI scripting is enabled for the
// caller. Running it also lists the caller in the Accessibility pane.
const trustedCheck = `tell application "System Events" to return UI elements enabled`

// Probe implements Prober.
func (p *SystemProbes) Probe(ctx context.Context, subj model.Subject) (Status, string, error) {
	switch subj.Kind {
	case model.SubjectAutomation:
		if p.UserTCC == nil {
			return Unknown, "tcc", errors.New("no consent store")
		}
		d, err := p.UserTCC.AppleEvents(ctx, p.Clients, subj.ID)
		if err != nil {
			return Unknown, "tcc", err
		}
		return fromDecision(d), "tcc", nil

	case model.SubjectAccessibility:
		if p.SystemTCC != nil {
			if d, err := p.SystemTCC.Service(ctx, tcc.ServiceAccessibility, p.Clients); err == nil && d != tcc.Unset {
				return fromDecision(d), "tcc", nil
			}
		}
		if p.Runner == nil {
			return Unknown, "script", errors.New("no script runner")
		}
		out, err := p.Runner.Run(ctx, script.Invocation{Script: trustedCheck, BundleID: "com.apple.systemevents", App: "System Events"})
		if err != nil {
			return Unknown, "script", err
		}
		if strings.TrimSpace(out) == "true" {
			return Granted, "script", nil
		}
		return Denied, "script", nil

	case model.SubjectProcessOwnership:
		pid, ok := subj.PID()
		if !ok {
			return Unknown, "uid", fmt.Errorf("bad process subject %q", subj)
		}
		s, err := p.Table.Lookup(ctx, pid)
		if errors.Is(err, proc.ErrNotFound) {
			// Nothing left to protect; the signal will report it gone.
			return Granted, "absent", nil
		}
		if err != nil {
			return Unknown, "uid", err
		}
		if p.UID == 0 || s.UID == p.UID {
			return Granted, "uid", nil
		}
		return Denied, "uid", nil

	case model.SubjectElevation:
		// Acquired per invocation by the elevated tier; never cached.
		return Unknown, "prompt", nil
	}
	return Unknown, "", fmt.Errorf("unknown subject kind %q", subj.Kind)
}

func fromDecision(d tcc.Decision) Status {
	switch d {
	case tcc.Allowed:
		return Granted
	case tcc.Denied:
		return Denied
	}
	return Unknown
}
