package executor

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/script"
)

const killPath = "/bin/kill"

// PromptEscalator acquires administrator rights through the system
// password prompt, one prompt per action.
type PromptEscalator struct {
	Runner script.Runner
}

func (p *PromptEscalator) Name() string { return "prompt" }

// Escalate runs a as root via "do shell script ... with administrator
// privileges". Once the prompt is up the call is not cancellable: the
// caller's context is detached so a cancel cannot leave a half-applied
// privileged operation.
func (p *PromptEscalator) Escalate(ctx context.Context, a Action) ([]byte, error) {
	cmd, err := ShellCommand(a)
	if err != nil {
		return nil, err
	}
	src := "do shell script " + script.Quote(cmd) + " with administrator privileges"
	out, err := p.Runner.Run(context.WithoutCancel(ctx), script.Invocation{Script: src})
	if err == nil {
		return []byte(out), nil
	}
	if errors.Is(err, model.ErrAuthCancelled) {
		return nil, model.AuthCancelled()
	}
	var serr *model.ScriptError
	if errors.As(err, &serr) {
		if strings.Contains(serr.Message, "No such process") {
			return nil, errors.WithStack(model.ErrAlreadyGone)
		}
		return nil, errors.WithHint(
			errors.Wrapf(model.ErrExecFailed, "%s: %s", a.CapabilityID, serr.Message), serr.Message)
	}
	return nil, err
}

// ShellCommand renders a as a quoted /bin/sh command line.
func ShellCommand(a Action) (string, error) {
	switch {
	case a.PID > 0:
		if a.Signal <= 0 {
			return "", errors.Newf("executor: action %s has no signal", a.CapabilityID)
		}
		return killPath + " -" + strconv.Itoa(int(a.Signal)) + " " + strconv.Itoa(int(a.PID)), nil
	case a.Path != "":
		parts := make([]string, 0, len(a.Args)+1)
		parts = append(parts, script.ShellQuote(a.Path))
		for _, arg := range a.Args {
			parts = append(parts, script.ShellQuote(arg))
		}
		return strings.Join(parts, " "), nil
	}
	return "", errors.Newf("executor: action %s has neither pid nor path", a.CapabilityID)
}
