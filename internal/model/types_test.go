package model

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubject(t *testing.T) {
	for _, s := range []Subject{
		Automation("com.apple.Safari"),
		Ownership(4242),
		Accessibility(),
		Elevation(),
	} {
		got, err := ParseSubject(s.String())
		require.NoError(t, err, s.String())
		assert.Equal(t, s, got)
	}

	for _, bad := range []string{"", "automation", "process_ownership:abc", "accessibility:x", "camera:1"} {
		_, err := ParseSubject(bad)
		assert.Error(t, err, bad)
	}
}

func TestSubjectPID(t *testing.T) {
	pid, ok := Ownership(99).PID()
	require.True(t, ok)
	assert.Equal(t, int32(99), pid)

	_, ok = Automation("com.apple.Safari").PID()
	assert.False(t, ok)
}

func TestIsSelfTarget(t *testing.T) {
	assert.True(t, IsSelfTarget(int32(os.Getpid()), "whatever"))
	assert.True(t, IsSelfTarget(1234, "/usr/local/bin/reaper-helper"))
	assert.True(t, IsSelfTarget(1234, "Reaper"))
	assert.False(t, IsSelfTarget(1234, "Safari"))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "pid 5 (Mail)", (&TerminationTarget{PID: 5, Name: "Mail"}).Describe())
	assert.Equal(t, "pid 5", (&TerminationTarget{PID: 5}).Describe())
}
