package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"

	cerr "github.com/cockroachdb/errors"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
)

// CommandRunner runs a fixed binary.
type CommandRunner func(ctx context.Context, path string, args ...string) ([]byte, error)

// ExecCommand runs path with args and returns combined output.
func ExecCommand(ctx context.Context, path string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// Direct performs signal and maintenance operations with the rights of
// the current process. The user tier uses it as is; the privileged helper
// uses it running as root.
type Direct struct {
	Table    proc.Table
	Signaler proc.Signaler
	Commands CommandRunner
}

// Signal delivers sig to t after confirming the pid still belongs to the
// same process.
func (d *Direct) Signal(ctx context.Context, t *model.TerminationTarget, sig syscall.Signal) error {
	alive, err := proc.Alive(ctx, d.Table, t.PID, t.CreateTime)
	if err != nil {
		return cerr.Wrapf(err, "check pid %d", t.PID)
	}
	if !alive {
		return model.AlreadyGone(t)
	}
	switch err := d.Signaler.Signal(t.PID, sig); {
	case err == nil:
		return nil
	case errors.Is(err, proc.ErrNotFound):
		return model.AlreadyGone(t)
	case errors.Is(err, proc.ErrPermission):
		return model.PermissionRequired(model.Ownership(t.PID), t.Name)
	default:
		return cerr.Wrapf(err, "signal %s", t.Describe())
	}
}

// Command runs a maintenance command.
func (d *Direct) Command(ctx context.Context, op capability.MaintenanceCommand) ([]byte, error) {
	run := d.Commands
	if run == nil {
		run = ExecCommand
	}
	out, err := run(ctx, op.Path, op.Args...)
	if err != nil {
		if ctx.Err() != nil {
			return out, cerr.Wrap(ctx.Err(), op.Path)
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return out, cerr.WithHint(cerr.Wrapf(model.ErrExecFailed, "%s: %s", op.Path, msg), msg)
	}
	return out, nil
}

func errorf(format string, args ...any) error {
	return cerr.Wrapf(model.ErrExecFailed, format, args...)
}
