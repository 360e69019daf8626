package helper

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/denylist"
	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
)

type fakeProcs struct {
	mu    sync.Mutex
	procs map[int32]proc.Snapshot
	sent  []syscall.Signal
	cmds  []string
}

func (f *fakeProcs) Lookup(_ context.Context, pid int32) (proc.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.procs[pid]
	if !ok {
		return proc.Snapshot{}, proc.ErrNotFound
	}
	return s, nil
}

func (f *fakeProcs) List(context.Context) ([]proc.Snapshot, error) { return nil, nil }

func (f *fakeProcs) Signal(pid int32, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sig)
	delete(f.procs, pid)
	return nil
}

func (f *fakeProcs) run(_ context.Context, path string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, path)
	return []byte("done"), nil
}

// testHelper serves a helper over bufconn and returns a client for it.
func testHelper(t *testing.T, snaps ...proc.Snapshot) (*Client, *fakeProcs) {
	t.Helper()
	fp := &fakeProcs{procs: map[int32]proc.Snapshot{}}
	for _, s := range snaps {
		fp.procs[s.PID] = s
	}
	cat, err := capability.NewCatalog(capability.Builtin()...)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	root := uint32(0)
	srv, err := New(Config{
		Catalog:  cat,
		Direct:   &executor.Direct{Table: fp, Signaler: fp, Commands: fp.run},
		Resolver: &proc.Resolver{Table: fp, Denylist: denylist.NewDefault(), UID: &root},
		Version:  "test",
		Log:      zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	go srv.ServeOn(lis)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := NewClient(conn)
	t.Cleanup(func() {
		c.Close()
		srv.GracefulStop()
	})
	return c, fp
}

func TestEscalateKill(t *testing.T) {
	c, fp := testHelper(t, proc.Snapshot{PID: 4242, Name: "daemon", UID: 0, CreateTime: 7})
	_, err := c.Escalate(context.Background(), executor.Action{
		CapabilityID: capability.ElevatedKill, PID: 4242, CreateTime: 7, Signal: syscall.SIGKILL,
	})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if len(fp.sent) != 1 || fp.sent[0] != syscall.SIGKILL {
		t.Fatalf("sent = %v, want [SIGKILL]", fp.sent)
	}
}

func TestEscalateUsesCatalogSignal(t *testing.T) {
	c, fp := testHelper(t, proc.Snapshot{PID: 4242, Name: "daemon", CreateTime: 7})
	_, err := c.Escalate(context.Background(), executor.Action{
		CapabilityID: capability.SignalTerm, PID: 4242, Signal: syscall.SIGKILL,
	})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if fp.sent[0] != syscall.SIGTERM {
		t.Fatalf("sent %v, want the catalog's SIGTERM", fp.sent[0])
	}
}

func TestEscalateGoneProcess(t *testing.T) {
	c, fp := testHelper(t)
	_, err := c.Escalate(context.Background(), executor.Action{CapabilityID: capability.ElevatedKill, PID: 4242, Signal: syscall.SIGKILL})
	if !errors.Is(err, model.ErrAlreadyGone) {
		t.Fatalf("err = %v, want already gone", err)
	}
	if len(fp.sent) != 0 {
		t.Fatal("signal sent to absent process")
	}
}

func TestEscalateReusedPid(t *testing.T) {
	c, fp := testHelper(t, proc.Snapshot{PID: 4242, Name: "other", CreateTime: 99})
	_, err := c.Escalate(context.Background(), executor.Action{CapabilityID: capability.ElevatedKill, PID: 4242, CreateTime: 7, Signal: syscall.SIGKILL})
	if !errors.Is(err, model.ErrAlreadyGone) {
		t.Fatalf("err = %v, want already gone", err)
	}
	if len(fp.sent) != 0 {
		t.Fatal("signal sent to reused pid")
	}
}

func TestEscalateRefusesProtected(t *testing.T) {
	c, fp := testHelper(t, proc.Snapshot{PID: 4242, Name: "loginwindow", CreateTime: 7})
	_, err := c.Escalate(context.Background(), executor.Action{CapabilityID: capability.ElevatedKill, PID: 4242, Signal: syscall.SIGKILL})
	if !errors.Is(err, model.ErrProtectedTarget) {
		t.Fatalf("err = %v, want protected", err)
	}
	if model.KindOf(err) != model.KindProtectedTarget {
		t.Fatalf("kind = %s", model.KindOf(err))
	}
	if len(fp.sent) != 0 {
		t.Fatal("signal sent to protected process")
	}
}

func TestEscalateIgnoresRequestPath(t *testing.T) {
	c, fp := testHelper(t)
	out, err := c.Escalate(context.Background(), executor.Action{CapabilityID: capability.MemoryPurge, Path: "/bin/rm", Args: []string{"-rf", "/"}})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if string(out) != "done" {
		t.Fatalf("output = %q", out)
	}
	if len(fp.cmds) != 1 || fp.cmds[0] != "/usr/sbin/purge" {
		t.Fatalf("ran %v, want catalog path", fp.cmds)
	}
}

func TestEscalateUnknownAndNonElevatable(t *testing.T) {
	c, _ := testHelper(t)
	_, err := c.Escalate(context.Background(), executor.Action{CapabilityID: "shell.exec"})
	if !errors.Is(err, model.ErrUnknownCapability) {
		t.Fatalf("err = %v, want unknown capability", err)
	}
	_, err = c.Escalate(context.Background(), executor.Action{CapabilityID: capability.GracefulQuit, PID: 4242})
	if !errors.Is(err, executor.ErrNotElevatable) {
		t.Fatalf("err = %v, want not elevatable", err)
	}
}

func TestPing(t *testing.T) {
	c, _ := testHelper(t)
	res, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if res.Version != "test" || res.UID != os.Getuid() {
		t.Fatalf("ping = %+v", res)
	}
}

func TestMissingSocketIsUnavailable(t *testing.T) {
	c, err := Dial(filepath.Join(t.TempDir(), "absent.sock"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	_, err = c.Escalate(context.Background(), executor.Action{CapabilityID: capability.ElevatedKill, PID: 1})
	if !errors.Is(err, model.ErrElevationUnavailable) {
		t.Fatalf("err = %v, want elevation unavailable", err)
	}
}

func TestActionStructRoundTrip(t *testing.T) {
	in := executor.Action{CapabilityID: "x", PID: 123, CreateTime: 1_760_000_000_123, Signal: syscall.SIGTERM, Path: "/p", Args: []string{"a", "b"}}
	s, err := actionToStruct(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := structToAction(s)
	if err != nil {
		t.Fatal(err)
	}
	if out.PID != in.PID || out.CreateTime != in.CreateTime || out.Signal != in.Signal || len(out.Args) != 2 {
		t.Fatalf("round trip = %+v", out)
	}
}

func TestListenUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "rh")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "h.sock")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	lis, err := Listen(path, -1)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lis.Close()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", fi.Mode().Perm())
	}
}
