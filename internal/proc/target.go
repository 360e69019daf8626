package proc

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ppiankov/reaper/internal/denylist"
	"github.com/ppiankov/reaper/internal/model"
)

// BundleLookup maps an executable path to the bundle id of the application
// it is the main executable of.
type BundleLookup interface {
	BundleID(ctx context.Context, exe string) string
}

// Resolver turns a pid into a fresh TerminationTarget.
type Resolver struct {
	Table    Table
	Denylist *denylist.Denylist
	Bundles  BundleLookup
	// UID is the uid targets are compared against; defaults to CurrentUID.
	UID *uint32
}

// Resolve snapshots pid now. It returns ErrNotFound if the process is gone.
func (r *Resolver) Resolve(ctx context.Context, pid int32) (*model.TerminationTarget, error) {
	s, err := r.Table.Lookup(ctx, pid)
	if err != nil {
		return nil, err
	}
	return r.FromSnapshot(ctx, s), nil
}

// FromSnapshot classifies an existing snapshot.
func (r *Resolver) FromSnapshot(ctx context.Context, s Snapshot) *model.TerminationTarget {
	uid := CurrentUID()
	if r.UID != nil {
		uid = *r.UID
	}
	t := &model.TerminationTarget{
		PID:                     s.PID,
		Name:                    s.Name,
		UID:                     s.UID,
		OwnerMatchesCurrentUser: s.UID == uid,
		CreateTime:              s.CreateTime,
	}
	if r.Bundles != nil && s.Exe != "" {
		t.BundleID = r.Bundles.BundleID(ctx, s.Exe)
	}
	dl := r.Denylist
	if dl == nil {
		dl = denylist.NewDefault()
	}
	t.IsProtected, _ = dl.IsProtected(denylist.Process{PID: s.PID, Name: s.Name, BundleID: t.BundleID, Exe: s.Exe})
	return t
}

// AppBundlePath returns the innermost .app directory containing exe, or ""
// for bare executables. Helpers nested inside another app resolve to their
// own bundle, not the parent's.
func AppBundlePath(exe string) string {
	if strings.HasSuffix(exe, ".app") {
		return exe
	}
	idx := strings.LastIndex(exe, ".app/")
	if idx < 0 {
		return ""
	}
	return exe[:idx+len(".app")]
}

// bundleInfo is the part of Info.plist the resolver needs.
type bundleInfo struct {
	ID         string
	Executable string
}

// mainExecutable reports whether exe is the CFBundleExecutable of app.
func (b bundleInfo) mainExecutable(app, exe string) bool {
	if b.Executable == "" {
		return false
	}
	return filepath.Clean(exe) == filepath.Join(app, "Contents", "MacOS", b.Executable)
}

// DefaultsBundles reads CFBundleIdentifier and CFBundleExecutable with
// /usr/bin/defaults and caches the answer per bundle path.
type DefaultsBundles struct {
	mu    sync.Mutex
	cache map[string]bundleInfo
	// read is swapped in tests.
	read func(ctx context.Context, app string) (bundleInfo, error)
}

// NewDefaultsBundles returns a BundleLookup backed by /usr/bin/defaults.
func NewDefaultsBundles() *DefaultsBundles {
	return &DefaultsBundles{cache: map[string]bundleInfo{}, read: readBundleInfo}
}

// BundleID returns the bundle id when exe is the main executable of its
// innermost app bundle. Helpers, XPC services and bare executables get "",
// so they never qualify for an application quit.
func (d *DefaultsBundles) BundleID(ctx context.Context, exe string) string {
	app := AppBundlePath(exe)
	if app == "" {
		return ""
	}
	d.mu.Lock()
	info, ok := d.cache[app]
	d.mu.Unlock()
	if !ok {
		var err error
		info, err = d.read(ctx, app)
		if err != nil {
			return ""
		}
		d.mu.Lock()
		d.cache[app] = info
		d.mu.Unlock()
	}
	if !info.mainExecutable(app, exe) {
		return ""
	}
	return info.ID
}

func readBundleInfo(ctx context.Context, app string) (bundleInfo, error) {
	id, err := readInfoKey(ctx, app, "CFBundleIdentifier")
	if err != nil {
		return bundleInfo{}, err
	}
	exe, err := readInfoKey(ctx, app, "CFBundleExecutable")
	if err != nil {
		return bundleInfo{}, err
	}
	return bundleInfo{ID: id, Executable: exe}, nil
}

func readInfoKey(ctx context.Context, app, key string) (string, error) {
	out, err := exec.CommandContext(ctx, "/usr/bin/defaults", "read", app+"/Contents/Info", key).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
