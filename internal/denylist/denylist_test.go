package denylist

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinNamesProtected(t *testing.T) {
	dl := NewDefault()

	for _, name := range []string{"WindowServer", "launchd", "loginwindow", "Finder", "Dock", "SystemUIServer", "kernel_task"} {
		if ok, reason := dl.IsProtected(Process{PID: 500, Name: name}); !ok {
			t.Errorf("expected %s to be protected", name)
		} else if reason == "" {
			t.Errorf("expected a reason for %s", name)
		}
	}
}

func TestNameMatchCaseInsensitive(t *testing.T) {
	dl := NewDefault()

	if ok, _ := dl.IsProtected(Process{PID: 500, Name: "windowserver"}); !ok {
		t.Error("expected case-insensitive name match")
	}
}

func TestKernelPIDsProtected(t *testing.T) {
	dl := NewDefault()

	for _, pid := range []int32{0, 1} {
		if ok, _ := dl.IsProtected(Process{PID: pid, Name: "anything"}); !ok {
			t.Errorf("expected pid %d to be protected", pid)
		}
	}
}

func TestSelfProtected(t *testing.T) {
	dl := NewDefault()

	if ok, _ := dl.IsProtected(Process{PID: int32(os.Getpid()), Name: "go-test"}); !ok {
		t.Error("expected own pid to be protected")
	}
	if ok, _ := dl.IsProtected(Process{PID: 777, Name: "reaper-helper"}); !ok {
		t.Error("expected helper to be protected")
	}
}

func TestBundleAndPathProtected(t *testing.T) {
	dl := NewDefault()

	if ok, _ := dl.IsProtected(Process{PID: 600, Name: "X", BundleID: "com.apple.finder"}); !ok {
		t.Error("expected Finder bundle to be protected")
	}
	exe := "/System/Library/CoreServices/loginwindow.app/Contents/MacOS/loginwindow2"
	if ok, _ := dl.IsProtected(Process{PID: 601, Name: "lw2", Exe: exe}); !ok {
		t.Error("expected loginwindow.app path to be protected")
	}
}

func TestOrdinaryAppAllowed(t *testing.T) {
	dl := NewDefault()

	if ok, reason := dl.IsProtected(Process{PID: 4242, Name: "Slack", BundleID: "com.tinyspeck.slackmacgap", Exe: "/Applications/Slack.app/Contents/MacOS/Slack"}); ok {
		t.Errorf("expected Slack to be allowed, got %q", reason)
	}
}

func TestLoadExtensionAddsOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "protected.yaml")
	data := "names:\n  - Backup Agent\nbundle_ids:\n  - com.example.vault\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	dl, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok, _ := dl.IsProtected(Process{PID: 900, Name: "Backup Agent"}); !ok {
		t.Error("expected extension name to be protected")
	}
	if ok, _ := dl.IsProtected(Process{PID: 901, Name: "x", BundleID: "com.example.vault"}); !ok {
		t.Error("expected extension bundle to be protected")
	}
	if ok, _ := dl.IsProtected(Process{PID: 902, Name: "WindowServer"}); !ok {
		t.Error("builtins must survive an extension")
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	dl, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := dl.IsProtected(Process{PID: 500, Name: "Dock"}); !ok {
		t.Error("expected defaults")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protected.yaml")
	if err := os.WriteFile(path, []byte("names: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protected.yaml")
	if err := os.WriteFile(path, []byte("names: [Vault]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	dl, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("names: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := dl.Reload(path); err == nil {
		t.Fatal("expected reload error")
	}
	if ok, _ := dl.IsProtected(Process{PID: 900, Name: "Vault"}); !ok {
		t.Error("previous extension should stay in force")
	}

	if err := os.WriteFile(path, []byte("names: [Other]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := dl.Reload(path); err != nil {
		t.Fatal(err)
	}
	if ok, _ := dl.IsProtected(Process{PID: 900, Name: "Vault"}); ok {
		t.Error("reload should replace the extension")
	}
}

func TestEntriesIncludeExtensionAndAreCopies(t *testing.T) {
	dl := New(Patterns{Names: []string{"corp-agent"}})

	e := dl.Entries()
	found := false
	for _, n := range e.Names {
		if n == "corp-agent" {
			found = true
		}
	}
	if !found {
		t.Fatal("extension name missing from Entries")
	}
	if len(e.Names) != len(DefaultPatterns.Names)+1 {
		t.Errorf("expected builtins plus one, got %d names", len(e.Names))
	}

	e.Names[0] = "mutated"
	if dl.Entries().Names[0] == "mutated" {
		t.Error("Entries must return a copy")
	}
}
