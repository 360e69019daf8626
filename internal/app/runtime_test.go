package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/model"
)

type stubExecutor struct {
	tier model.Tier
	out  model.Outcome
	reqs []executor.Request
}

func (s *stubExecutor) Tier() model.Tier { return s.tier }

func (s *stubExecutor) Execute(_ context.Context, req executor.Request) model.Outcome {
	s.reqs = append(s.reqs, req)
	return s.out
}

func (s *stubExecutor) Perform(ctx context.Context, req executor.Request) model.Outcome {
	return s.Execute(ctx, req)
}

func TestCatalogIncludesBrowsers(t *testing.T) {
	cat, err := Catalog()
	require.NoError(t, err)
	for _, id := range []string{capability.Terminate, capability.MemoryPurge, "browser.safari.close_tab", "browser.arc.enumerate_tabs"} {
		_, ok := cat.Lookup(id)
		assert.True(t, ok, id)
	}
}

func TestMaintenanceFallsBackToElevated(t *testing.T) {
	user := &stubExecutor{tier: model.TierUser,
		out: model.OutcomeFor(model.TierUser, model.PermissionRequired(model.Elevation(), "Purge"))}
	elevated := &stubExecutor{tier: model.TierElevated, out: model.Success(model.TierElevated)}
	rt := &Runtime{User: user, Elevated: elevated}

	out := rt.Maintenance(context.Background(), capability.MemoryPurge, true)
	assert.True(t, out.OK())
	assert.Equal(t, model.TierElevated, out.Tier)
	require.Len(t, elevated.reqs, 1)

	out = rt.Maintenance(context.Background(), capability.MemoryPurge, false)
	assert.Equal(t, model.KindPermissionRequired, out.Kind)
	assert.Len(t, elevated.reqs, 1)
}

func TestMaintenanceOwnershipNeverElevates(t *testing.T) {
	user := &stubExecutor{tier: model.TierUser,
		out: model.OutcomeFor(model.TierUser, model.PermissionRequired(model.Automation("com.apple.Safari"), "Safari"))}
	elevated := &stubExecutor{tier: model.TierElevated, out: model.Success(model.TierElevated)}
	rt := &Runtime{User: user, Elevated: elevated}

	out := rt.Maintenance(context.Background(), capability.DNSFlush, true)
	assert.False(t, out.OK())
	assert.Empty(t, elevated.reqs)
}

func TestClientIdentifiers(t *testing.T) {
	t.Setenv("__CFBundleIdentifier", "com.apple.Terminal")
	ids := clientIdentifiers()
	assert.Equal(t, BundleID, ids[0])
	assert.Contains(t, ids, "com.apple.Terminal")
}
