package denylist

import (
	"testing"
)

func FuzzIsProtected(f *testing.F) {
	dl := NewDefault()

	seeds := []struct {
		name string
		exe  string
	}{
		{"Safari", "/Applications/Safari.app/Contents/MacOS/Safari"},
		{"WindowServer", "/System/Library/PrivateFrameworks/SkyLight.framework/Resources/WindowServer"},
		{"", ""},
		{"a*b", "/**/"},
	}
	for _, s := range seeds {
		f.Add(s.name, s.exe)
	}

	f.Fuzz(func(t *testing.T, name, exe string) {
		// Must not panic on any input
		dl.IsProtected(Process{PID: 1000, Name: name, Exe: exe})
	})
}
