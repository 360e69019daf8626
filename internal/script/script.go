// Package script runs AppleScript through osascript and classifies its
// numbered errors. Scripts are fixed text; runtime values reach them only
// through argv and are read with "on run argv".
package script

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/reaper/internal/model"
)

// Osascript is the interpreter path.
const Osascript = "/usr/bin/osascript"

// Invocation is one script run. BundleID and App identify the application
// the script addresses and are copied into any ScriptError.
type Invocation struct {
	Script   string
	Args     []string
	BundleID string
	App      string
}

// Runner runs scripts. Implementations return *model.ScriptError for
// numbered AppleScript failures.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (string, error)
}

// Exec runs scripts with /usr/bin/osascript, feeding the script on stdin so
// argv stays free for parameters.
type Exec struct {
	// Path overrides the interpreter, for tests.
	Path string
}

// Run executes inv and returns trimmed stdout.
func (e Exec) Run(ctx context.Context, inv Invocation) (string, error) {
	path := e.Path
	if path == "" {
		path = Osascript
	}
	args := append([]string{"-"}, inv.Args...)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(inv.Script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), "osascript")
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", errors.Wrap(err, "osascript")
		}
		return "", Classify(msg, inv.BundleID, inv.App)
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// errCodeRe matches the trailing "(-1743)" osascript prints after an
// execution error.
var errCodeRe = regexp.MustCompile(`\((-?\d+)\)\s*$`)

// ParseCode extracts the AppleScript error number from osascript stderr.
func ParseCode(stderr string) (int, bool) {
	m := errCodeRe.FindStringSubmatch(strings.TrimSpace(stderr))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Error codes that mean the user has not consented to automation of the
// target, or has revoked it.
var consentCodes = map[int]bool{
	-1743:  true, // errAEEventNotPermitted
	-1744:  true, // errAEEventWouldRequireUserConsent
	-10004: true, // privilege violation
}

// Error codes that mean the target app, window or tab is not there.
var unavailableCodes = map[int]bool{
	-600:   true, // application isn't running
	-609:   true, // connection invalid
	-1712:  true, // apple event timed out
	-1719:  true, // invalid index
	-1728:  true, // can't get object
	-10810: true, // launch services failure
}

// CodeClass maps an AppleScript error number onto the model sentinel.
func CodeClass(code int) error {
	switch {
	case consentCodes[code]:
		return model.ErrAutomationPermissionDenied
	case unavailableCodes[code]:
		return model.ErrTargetUnavailable
	case code == -128:
		return model.ErrAuthCancelled
	}
	return model.ErrUnclassified
}

// Classify builds the ScriptError for osascript stderr output, attributed
// to the given application.
func Classify(stderr, bundleID, app string) *model.ScriptError {
	code, _ := ParseCode(stderr)
	return model.NewScriptError(code, bundleID, app, cleanMessage(stderr), CodeClass(code))
}

// cleanMessage strips "0:42: execution error: " and the trailing code.
func cleanMessage(stderr string) string {
	msg := strings.TrimSpace(stderr)
	if i := strings.Index(msg, "execution error: "); i >= 0 {
		msg = msg[i+len("execution error: "):]
	}
	msg = errCodeRe.ReplaceAllString(msg, "")
	return strings.TrimSpace(msg)
}

// Quote renders s as an AppleScript string literal. Only used to build
// fixed shell commands for the administrator prompt, never with tab data.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// ShellQuote single-quotes s for /bin/sh.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
