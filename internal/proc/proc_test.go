package proc

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemLookupSelf(t *testing.T) {
	s, err := System{}.Lookup(context.Background(), int32(os.Getpid()))
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), s.PID)
	assert.NotEmpty(t, s.Name)
	assert.Equal(t, CurrentUID(), s.UID)
	assert.NotZero(t, s.CreateTime)
}

func TestSignalAndAlive(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := int32(cmd.Process.Pid)

	ctx := context.Background()
	s, err := System{}.Lookup(ctx, pid)
	require.NoError(t, err)

	alive, err := Alive(ctx, System{}, pid, s.CreateTime)
	require.NoError(t, err)
	assert.True(t, alive)

	require.NoError(t, System{}.Signal(pid, syscall.SIGKILL))
	_ = cmd.Wait()

	assert.Eventually(t, func() bool {
		alive, _ := Alive(ctx, System{}, pid, s.CreateTime)
		return !alive
	}, 2*time.Second, 20*time.Millisecond)

	assert.ErrorIs(t, System{}.Signal(pid, syscall.SIGTERM), ErrNotFound)
}

func TestSignalRefusesNonPositive(t *testing.T) {
	err := System{}.Signal(0, syscall.SIGTERM)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestAliveDetectsReuse(t *testing.T) {
	table := newFakeTable(Snapshot{PID: 50, Name: "new", CreateTime: 2000})

	alive, err := Alive(context.Background(), table, 50, 1000)
	require.NoError(t, err)
	assert.False(t, alive, "a pid with a different start time is a different process")

	alive, err = Alive(context.Background(), table, 50, 2000)
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = Alive(context.Background(), table, 51, 0)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestMemory(t *testing.T) {
	m, err := Memory(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, m.Total)
}
