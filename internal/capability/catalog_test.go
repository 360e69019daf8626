package capability

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalog(t *testing.T) {
	cat, err := NewCatalog(Builtin()...)
	require.NoError(t, err)

	term, ok := cat.Lookup(Terminate)
	require.True(t, ok)
	assert.Equal(t, []string{GracefulQuit, SignalTerm, SignalKill, ElevatedKill}, term.Ladder)

	kill, ok := cat.Lookup(SignalKill)
	require.True(t, ok)
	assert.Equal(t, KillSignal{Signal: syscall.SIGKILL}, kill.Operation)

	purge, _ := cat.Lookup(MemoryPurge)
	assert.True(t, purge.Elevated())
	dns, _ := cat.Lookup(DNSFlush)
	assert.False(t, dns.Elevated())
}

func TestLookupUnknown(t *testing.T) {
	cat, err := NewCatalog(Builtin()...)
	require.NoError(t, err)
	_, ok := cat.Lookup("process.rm_rf")
	assert.False(t, ok)
}

func TestAllSorted(t *testing.T) {
	cat, err := NewCatalog(Builtin()...)
	require.NoError(t, err)
	all := cat.All()
	require.Len(t, all, cat.Len())
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestCatalogIsACopy(t *testing.T) {
	caps := Builtin()
	cat, err := NewCatalog(caps...)
	require.NoError(t, err)

	for i := range caps {
		if caps[i].ID == Terminate {
			caps[i].Ladder[0] = "tampered"
		}
	}
	term, _ := cat.Lookup(Terminate)
	assert.Equal(t, GracefulQuit, term.Ladder[0])
}

func TestNewCatalogRejects(t *testing.T) {
	tests := []struct {
		name string
		caps []Capability
	}{
		{"empty id", []Capability{{Operation: GraceEndApp{}}}},
		{"no operation", []Capability{{ID: "x"}}},
		{"duplicate", []Capability{
			{ID: "x", Operation: GraceEndApp{}},
			{ID: "x", Operation: GraceEndApp{}},
		}},
		{"relative path", []Capability{
			{ID: "x", Operation: MaintenanceCommand{Path: "purge"}},
		}},
		{"odd signal", []Capability{
			{ID: "x", Operation: KillSignal{Signal: syscall.SIGHUP}},
		}},
		{"script without consent", []Capability{
			{ID: "x", Operation: AppleScriptInvocation{Target: "com.apple.Safari", Script: "return 1"}},
		}},
		{"script consent mismatch", []Capability{{
			ID:         "x",
			Permission: Requirement{Class: PermAutomationConsent, Target: "com.google.Chrome"},
			Operation:  AppleScriptInvocation{Target: "com.apple.Safari", Script: "return 1"},
		}}},
		{"unknown ladder step", []Capability{
			{ID: "x", Operation: GraceEndApp{}, Ladder: []string{"y"}},
		}},
		{"self ladder", []Capability{
			{ID: "x", Operation: GraceEndApp{}, Ladder: []string{"x"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.caps...)
			assert.Error(t, err)
		})
	}
}

func TestRiskTierLabel(t *testing.T) {
	assert.Equal(t, "low", RiskLow.String())
	assert.Equal(t, "high", RiskHigh.String())
	assert.Equal(t, "unknown(9)", RiskTier(9).String())
	b, err := RiskMedium.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "medium", string(b))
}
