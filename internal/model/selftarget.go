package model

import (
	"os"
	"path/filepath"
	"strings"
)

// selfTargetNames are process names that belong to reaper itself.
// Terminating them would leave the caller without a way to report the
// outcome, so they are always treated as protected.
var selfTargetNames = []string{
	"reaper",
	"reaper-helper",
}

// IsSelfTarget reports whether a process is reaper itself or its helper.
func IsSelfTarget(pid int32, name string) bool {
	if int(pid) == os.Getpid() {
		return true
	}
	lower := strings.ToLower(filepath.Base(name))
	for _, n := range selfTargetNames {
		if lower == n {
			return true
		}
	}
	return false
}
