package executor

import (
	"context"
	"syscall"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/permission"
	"github.com/ppiankov/reaper/internal/proc"
	"github.com/ppiankov/reaper/internal/script"
)

const chromeID = "com.google.Chrome"

func testCatalog(t *testing.T) *capability.Catalog {
	t.Helper()
	caps := append(capability.Builtin(), capability.Capability{
		ID:          "browser.chrome.enumerate_tabs",
		DisplayName: "List tabs in Google Chrome",
		Permission:  capability.Requirement{Class: capability.PermAutomationConsent, Target: chromeID},
		Risk:        capability.RiskLow,
		Operation: capability.AppleScriptInvocation{
			Target: chromeID, AppName: "Google Chrome", TemplateID: "enumerate_tabs",
			Script: "on run argv\nreturn 1\nend run",
		},
	})
	cat, err := capability.NewCatalog(caps...)
	require.NoError(t, err)
	return cat
}

type harness struct {
	gate   *fakeGate
	audit  *fakeAudit
	table  *fakeTable
	sig    *fakeSignaler
	runner *fakeRunner
	cmds   [][]string
	user   *User
}

func newHarness(t *testing.T, snaps ...proc.Snapshot) *harness {
	h := &harness{
		gate:   newFakeGate(),
		audit:  &fakeAudit{},
		table:  newFakeTable(snaps...),
		sig:    &fakeSignaler{},
		runner: &fakeRunner{},
	}
	log := zaptest.NewLogger(t)
	h.user = NewUser(Config{
		Catalog: testCatalog(t),
		Gate:    h.gate,
		Journal: &Journal{Audit: h.audit, SessionID: "s-test", Log: log},
		Direct: &Direct{Table: h.table, Signaler: h.sig, Commands: func(_ context.Context, path string, args ...string) ([]byte, error) {
			h.cmds = append(h.cmds, append([]string{path}, args...))
			return []byte("ok"), nil
		}},
		Runner: h.runner,
		Log:    log,
	})
	return h
}

func ownTarget(pid int32) *model.TerminationTarget {
	return &model.TerminationTarget{PID: pid, Name: "worker", OwnerMatchesCurrentUser: true, CreateTime: 100}
}

func TestUnknownCapabilityIsRecorded(t *testing.T) {
	h := newHarness(t)
	out := h.user.Execute(context.Background(), Request{CapabilityID: "rm.rf"})
	assert.Equal(t, model.Failed, out.Status)
	assert.Equal(t, model.KindUnknownCapability, out.Kind)

	recs := h.audit.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "rm.rf", recs[0].CapabilityID)
	assert.Equal(t, model.KindUnknownCapability, recs[0].Outcome.ErrorKind)
}

func TestSignalOwnProcess(t *testing.T) {
	h := newHarness(t, proc.Snapshot{PID: 42, Name: "worker", CreateTime: 100})
	out := h.user.Execute(context.Background(), Request{CapabilityID: capability.SignalTerm, Target: ownTarget(42)})
	require.True(t, out.OK(), out.Message)
	assert.Equal(t, model.TierUser, out.Tier)
	require.Len(t, h.sig.sent, 1)
	assert.Equal(t, syscall.SIGTERM, h.sig.sent[0].sig)
	assert.Empty(t, h.gate.resolved, "own process skips the tracker")
	require.Len(t, h.audit.all(), 1)
	assert.Equal(t, "pid 42 (worker)", h.audit.all()[0].Subject)
}

func TestProtectedTargetNeverSignalled(t *testing.T) {
	h := newHarness(t, proc.Snapshot{PID: 42, CreateTime: 100})
	target := ownTarget(42)
	target.IsProtected = true
	out := h.user.Execute(context.Background(), Request{CapabilityID: capability.SignalKill, Target: target})
	assert.Equal(t, model.KindProtectedTarget, out.Kind)
	assert.Empty(t, h.sig.sent)
}

func TestReusedPidIsAlreadyGone(t *testing.T) {
	h := newHarness(t, proc.Snapshot{PID: 42, CreateTime: 999})
	out := h.user.Execute(context.Background(), Request{CapabilityID: capability.SignalKill, Target: ownTarget(42)})
	assert.Equal(t, model.Succeeded, out.Status)
	assert.Equal(t, model.KindAlreadyGone, out.Kind)
	assert.Empty(t, h.sig.sent)
}

func TestForeignProcessNeedsOwnership(t *testing.T) {
	h := newHarness(t, proc.Snapshot{PID: 7, CreateTime: 100})
	target := &model.TerminationTarget{PID: 7, Name: "root-daemon", CreateTime: 100}

	out := h.user.Execute(context.Background(), Request{CapabilityID: capability.SignalTerm, Target: target})
	assert.Equal(t, model.KindPermissionRequired, out.Kind)
	var perm *model.PermissionRequiredError
	require.True(t, errors.As(out.Err, &perm))
	assert.Equal(t, model.Ownership(7), perm.Subject)
	assert.Empty(t, h.sig.sent)
}

func TestSignalEPERMObservesDenied(t *testing.T) {
	h := newHarness(t, proc.Snapshot{PID: 7, CreateTime: 100})
	h.gate.set(model.Ownership(7), permission.Granted)
	h.sig.err = proc.ErrPermission
	target := &model.TerminationTarget{PID: 7, Name: "x", CreateTime: 100}

	out := h.user.Execute(context.Background(), Request{CapabilityID: capability.SignalTerm, Target: target})
	assert.Equal(t, model.KindPermissionRequired, out.Kind)
	assert.Equal(t, permission.Denied, h.gate.observed[model.Ownership(7)])
}

func TestElevatedCapabilityRefusedOnUserTier(t *testing.T) {
	h := newHarness(t)
	out := h.user.Execute(context.Background(), Request{CapabilityID: capability.MemoryPurge})
	assert.Equal(t, model.KindPermissionRequired, out.Kind)
	assert.Empty(t, h.cmds)
}

func TestMaintenanceCommand(t *testing.T) {
	h := newHarness(t)
	out := h.user.Execute(context.Background(), Request{CapabilityID: capability.DNSFlush})
	require.True(t, out.OK())
	assert.Equal(t, [][]string{{"/usr/bin/dscacheutil", "-flushcache"}}, h.cmds)
	assert.Equal(t, "system", h.audit.all()[0].Subject)
}

func TestAutomationGate(t *testing.T) {
	h := newHarness(t)
	req := Request{CapabilityID: "browser.chrome.enumerate_tabs", Subject: "Google Chrome"}

	out := h.user.Execute(context.Background(), req)
	assert.Equal(t, model.KindPermissionRequired, out.Kind)
	assert.Contains(t, model.UserMessage(out.Err), "Google Chrome")
	assert.Empty(t, h.runner.calls)

	h.gate.set(model.Automation(chromeID), permission.Granted)
	h.runner.out = "tabs"
	out = h.user.Execute(context.Background(), req)
	require.True(t, out.OK())
	assert.Equal(t, "tabs", string(out.Output))
	require.Len(t, h.runner.calls, 1)
	assert.Equal(t, chromeID, h.runner.calls[0].BundleID)
	assert.Equal(t, permission.Granted, h.gate.observed[model.Automation(chromeID)])
	assert.Len(t, h.audit.all(), 2)
}

func TestScriptConsentRevokedObservesDenied(t *testing.T) {
	h := newHarness(t)
	h.gate.set(model.Automation(chromeID), permission.Granted)
	h.runner.err = script.Classify("execution error: Not authorized to send Apple events to Google Chrome. (-1743)", chromeID, "Google Chrome")

	out := h.user.Execute(context.Background(), Request{CapabilityID: "browser.chrome.enumerate_tabs"})
	assert.Equal(t, model.KindAutomationPermissionDenied, out.Kind)
	assert.Equal(t, permission.Denied, h.gate.observed[model.Automation(chromeID)])
}

func TestScriptArgsAreIntegers(t *testing.T) {
	h := newHarness(t)
	h.gate.set(model.Automation(chromeID), permission.Granted)
	h.user.Execute(context.Background(), Request{CapabilityID: "browser.chrome.enumerate_tabs", Args: []int{2, 11}})
	require.Len(t, h.runner.calls, 1)
	assert.Equal(t, []string{"2", "11"}, h.runner.calls[0].Args)
}

func TestGracefulQuitApp(t *testing.T) {
	h := newHarness(t, proc.Snapshot{PID: 9, CreateTime: 100})
	target := ownTarget(9)
	target.BundleID = "com.apple.mail"
	target.Name = "Mail"

	out := h.user.Execute(context.Background(), Request{CapabilityID: capability.GracefulQuit, Target: target})
	require.True(t, out.OK())
	require.Len(t, h.runner.calls, 1)
	assert.Equal(t, []string{"com.apple.mail"}, h.runner.calls[0].Args)
	assert.Empty(t, h.sig.sent)
}

func TestGracefulQuitBareProcessSendsTerm(t *testing.T) {
	h := newHarness(t, proc.Snapshot{PID: 9, CreateTime: 100})
	out := h.user.Execute(context.Background(), Request{CapabilityID: capability.GracefulQuit, Target: ownTarget(9)})
	require.True(t, out.OK())
	require.Len(t, h.sig.sent, 1)
	assert.Equal(t, syscall.SIGTERM, h.sig.sent[0].sig)
}

func TestPerformDoesNotRecord(t *testing.T) {
	h := newHarness(t)
	out := h.user.Perform(context.Background(), Request{CapabilityID: capability.DNSFlush})
	require.True(t, out.OK())
	assert.Empty(t, h.audit.all())
}

func TestCancelledBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.user.Execute(ctx, Request{CapabilityID: capability.DNSFlush})
	assert.Equal(t, model.Cancelled, out.Status)
	assert.Empty(t, h.cmds)
	require.Len(t, h.audit.all(), 1)
	assert.Equal(t, model.Cancelled, h.audit.all()[0].Outcome.Status)
}
