package model

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
)

// ErrorKind is the stable, machine-readable class of a failure. It is what
// callers switch on and what the audit log stores.
type ErrorKind string

const (
	KindNone                       ErrorKind = ""
	KindUnknownCapability          ErrorKind = "unknown_capability"
	KindProtectedTarget            ErrorKind = "protected_target"
	KindPermissionRequired         ErrorKind = "permission_required"
	KindAuthCancelled              ErrorKind = "auth_cancelled"
	KindAlreadyGone                ErrorKind = "already_gone"
	KindAutomationPermissionDenied ErrorKind = "automation_permission_denied"
	KindTargetUnavailable          ErrorKind = "target_unavailable"
	KindScriptUnclassified         ErrorKind = "script_unclassified"
	KindExecFailed                 ErrorKind = "exec_failed"
	KindTimeout                    ErrorKind = "timeout"
	KindCancelled                  ErrorKind = "cancelled"
)

// Sentinels. Wrapped errors keep them in the chain so errors.Is works on
// anything the executors return.
var (
	ErrUnknownCapability          = errors.New("unknown capability")
	ErrProtectedTarget            = errors.New("protected target")
	ErrPermissionRequired         = errors.New("permission required")
	ErrAuthCancelled              = errors.New("authorization cancelled")
	ErrAlreadyGone                = errors.New("target already gone")
	ErrAutomationPermissionDenied = errors.New("automation permission denied")
	ErrTargetUnavailable          = errors.New("target unavailable")
	ErrUnclassified               = errors.New("script failed")
	ErrExecFailed                 = errors.New("command failed")
	ErrTimeout                    = errors.New("timed out")
	ErrElevationUnavailable       = errors.New("elevation unavailable")
)

// UnknownCapability reports a lookup of an id that is not in the catalog.
func UnknownCapability(id string) error {
	return errors.WithHint(
		errors.Wrapf(ErrUnknownCapability, "%q", id),
		fmt.Sprintf("%q is not a known action", id))
}

// ProtectedTarget reports an attempt to act on a protected process.
func ProtectedTarget(t *TerminationTarget) error {
	return errors.WithHint(
		errors.Wrapf(ErrProtectedTarget, "%s", t.Describe()),
		fmt.Sprintf("%s is a protected system process and cannot be terminated", displayName(t)))
}

// AlreadyGone reports that the target no longer exists. Callers treat it
// as success.
func AlreadyGone(t *TerminationTarget) error {
	return errors.WithHint(
		errors.Wrapf(ErrAlreadyGone, "%s", t.Describe()),
		fmt.Sprintf("%s has already exited", displayName(t)))
}

// AuthCancelled reports that the user dismissed the administrator prompt.
func AuthCancelled() error {
	return errors.WithHint(
		errors.WithStack(ErrAuthCancelled),
		"The administrator password prompt was cancelled")
}

// TimedOut reports an operation that outlived its deadline.
func TimedOut(what string) error {
	return errors.WithHint(
		errors.Wrapf(ErrTimeout, "%s", what),
		fmt.Sprintf("%s did not finish in time", what))
}

func displayName(t *TerminationTarget) string {
	if t.Name != "" {
		return t.Name
	}
	return "pid " + strconv.Itoa(int(t.PID))
}

// PermissionRequiredError names the subject whose consent is missing.
type PermissionRequiredError struct {
	Subject Subject
	// Name is a display name for the subject, e.g. "Google Chrome".
	Name string
}

// PermissionRequired builds a PermissionRequiredError for subj.
func PermissionRequired(subj Subject, name string) error {
	return errors.WithStack(&PermissionRequiredError{Subject: subj, Name: name})
}

func (e *PermissionRequiredError) Error() string {
	return "permission required: " + e.Subject.String()
}

func (e *PermissionRequiredError) Unwrap() error { return ErrPermissionRequired }

// Hint is picked up by UserMessage.
func (e *PermissionRequiredError) Hint() string {
	name := e.Name
	if name == "" {
		name = e.Subject.ID
	}
	switch e.Subject.Kind {
	case SubjectAutomation:
		return fmt.Sprintf("Reaper needs Automation permission to control %s. Allow it in System Settings > Privacy & Security > Automation.", name)
	case SubjectAccessibility:
		return "Reaper needs Accessibility permission. Allow it in System Settings > Privacy & Security > Accessibility."
	case SubjectProcessOwnership:
		return fmt.Sprintf("Process %s belongs to another user and needs administrator rights", name)
	case SubjectElevation:
		return "This action needs administrator rights"
	}
	return e.Error()
}

// ScriptError is a failed AppleScript invocation. Code is the AppleScript
// error number, 0 if none could be parsed.
type ScriptError struct {
	Code int
	// BundleID is the application the script addressed.
	BundleID string
	// App is its display name.
	App     string
	Message string
	class   error
}

// NewScriptError builds a ScriptError whose chain includes class, one of
// ErrAutomationPermissionDenied, ErrTargetUnavailable, ErrAuthCancelled or
// ErrUnclassified.
func NewScriptError(code int, bundleID, app, msg string, class error) *ScriptError {
	if class == nil {
		class = ErrUnclassified
	}
	return &ScriptError{Code: code, BundleID: bundleID, App: app, Message: msg, class: class}
}

func (e *ScriptError) Error() string {
	target := e.App
	if target == "" {
		target = e.BundleID
	}
	if target == "" {
		return fmt.Sprintf("applescript error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("applescript error %d (%s): %s", e.Code, target, e.Message)
}

func (e *ScriptError) Unwrap() error { return e.class }

// Hint is picked up by UserMessage.
func (e *ScriptError) Hint() string {
	name := e.App
	if name == "" {
		name = e.BundleID
	}
	switch e.class {
	case ErrAutomationPermissionDenied:
		return fmt.Sprintf("Reaper is not allowed to control %s. Allow it in System Settings > Privacy & Security > Automation.", name)
	case ErrTargetUnavailable:
		if name == "" {
			return "The application is not running or has no matching window or tab"
		}
		return fmt.Sprintf("%s is not running or has no matching window or tab", name)
	case ErrAuthCancelled:
		return "The administrator password prompt was cancelled"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error()
}

// KindOf classifies err. Order matters: cancellation wins over whatever
// the interrupted call reported.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var perm *PermissionRequiredError
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrUnknownCapability):
		return KindUnknownCapability
	case errors.Is(err, ErrProtectedTarget):
		return KindProtectedTarget
	case errors.As(err, &perm), errors.Is(err, ErrPermissionRequired):
		return KindPermissionRequired
	case errors.Is(err, ErrAuthCancelled):
		return KindAuthCancelled
	case errors.Is(err, ErrAlreadyGone):
		return KindAlreadyGone
	case errors.Is(err, ErrAutomationPermissionDenied):
		return KindAutomationPermissionDenied
	case errors.Is(err, ErrTargetUnavailable):
		return KindTargetUnavailable
	case errors.Is(err, ErrUnclassified):
		return KindScriptUnclassified
	}
	return KindExecFailed
}

type hinter interface{ Hint() string }

// UserMessage renders err for display. Typed errors and hints attached with
// errors.WithHint win over the raw error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var h hinter
	if errors.As(err, &h) {
		return h.Hint()
	}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		return hints[0]
	}
	if errors.Is(err, context.Canceled) {
		return "The action was cancelled"
	}
	return err.Error()
}
