// Package proc reads live process snapshots and delivers signals.
package proc

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound means no process with the pid exists (or it was reused).
	ErrNotFound = errors.New("proc: no such process")
	// ErrPermission means the caller may not signal the process.
	ErrPermission = errors.New("proc: operation not permitted")
)

// Snapshot is a point-in-time view of one process.
type Snapshot struct {
	PID        int32  `json:"pid"`
	PPID       int32  `json:"ppid"`
	Name       string `json:"name"`
	Exe        string `json:"exe,omitempty"`
	UID        uint32 `json:"uid"`
	CreateTime int64  `json:"create_time"` // ms since epoch
	RSS        uint64 `json:"rss"`
}

// Table looks up processes.
type Table interface {
	Lookup(ctx context.Context, pid int32) (Snapshot, error)
	List(ctx context.Context) ([]Snapshot, error)
}

// Signaler delivers signals.
type Signaler interface {
	Signal(pid int32, sig syscall.Signal) error
}

// System is the gopsutil-backed Table and unix Signaler.
type System struct{}

// Lookup snapshots pid, returning ErrNotFound if it does not exist.
func (System) Lookup(ctx context.Context, pid int32) (Snapshot, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("proc: lookup %d: %w", pid, err)
	}
	return snapshot(ctx, p)
}

// List snapshots every visible process. Processes that exit mid-scan are
// skipped.
func (System) List(ctx context.Context) ([]Snapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("proc: list: %w", err)
	}
	out := make([]Snapshot, 0, len(procs))
	for _, p := range procs {
		s, err := snapshot(ctx, p)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func snapshot(ctx context.Context, p *process.Process) (Snapshot, error) {
	s := Snapshot{PID: p.Pid}

	created, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		if exists, _ := process.PidExistsWithContext(ctx, p.Pid); !exists {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("proc: create time %d: %w", p.Pid, err)
	}
	s.CreateTime = created

	// Name and owner are required; the rest is best effort since other
	// users' processes often hide their exe and memory.
	if s.Name, err = p.NameWithContext(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("proc: name %d: %w", p.Pid, err)
	}
	uids, err := p.UidsWithContext(ctx)
	if err != nil || len(uids) == 0 {
		return Snapshot{}, fmt.Errorf("proc: uid %d: %w", p.Pid, err)
	}
	s.UID = uids[0]

	if ppid, err := p.PpidWithContext(ctx); err == nil {
		s.PPID = ppid
	}
	if exe, err := p.ExeWithContext(ctx); err == nil {
		s.Exe = exe
	}
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		s.RSS = mi.RSS
	}
	return s, nil
}

// Signal sends sig to pid, mapping ESRCH and EPERM onto ErrNotFound and
// ErrPermission.
func (System) Signal(pid int32, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("proc: refusing to signal pid %d", pid)
	}
	err := unix.Kill(int(pid), sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return ErrNotFound
	case errors.Is(err, unix.EPERM):
		return ErrPermission
	}
	return fmt.Errorf("proc: signal %d: %w", pid, err)
}

// Alive reports whether the process identified by pid and createTime still
// exists. A reused pid counts as gone.
func Alive(ctx context.Context, t Table, pid int32, createTime int64) (bool, error) {
	s, err := t.Lookup(ctx, pid)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if createTime != 0 && s.CreateTime != createTime {
		return false, nil
	}
	return true, nil
}

// CurrentUID returns the real uid of this process.
func CurrentUID() uint32 {
	return uint32(unix.Getuid())
}

// MemStats is a system memory summary.
type MemStats struct {
	Total     uint64    `json:"total"`
	Available uint64    `json:"available"`
	Used      uint64    `json:"used"`
	Taken     time.Time `json:"taken"`
}

// Memory samples system memory.
func Memory(ctx context.Context) (MemStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemStats{}, fmt.Errorf("proc: memory: %w", err)
	}
	return MemStats{Total: vm.Total, Available: vm.Available, Used: vm.Used, Taken: time.Now()}, nil
}
