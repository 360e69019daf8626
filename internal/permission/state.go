// Package permission tracks OS authorization state per subject and drives
// remediation. Unknown is never treated as granted.
package permission

import (
	"time"

	"github.com/ppiankov/reaper/internal/model"
)

// Status is the tri-state authorization answer.
type Status string

const (
	Granted Status = "granted"
	Denied  Status = "denied"
	Unknown Status = "unknown"
)

// State is the tracker's view of one subject.
type State struct {
	Subject                  model.Subject `json:"subject"`
	Status                   Status        `json:"status"`
	LastCheckedAt            time.Time     `json:"last_checked_at"`
	AutoRemediationAttempted bool          `json:"auto_remediation_attempted"`
	// Source says where the status came from: tcc, script, uid, observed.
	Source string `json:"source,omitempty"`
	// Error is the last probe failure, if any.
	Error string `json:"error,omitempty"`
}

// Allows reports whether executors may proceed. Only an explicit grant
// passes; unknown gates the same as denied.
func (s State) Allows() bool {
	return s.Status == Granted
}

// Stale reports whether the state needs a fresh probe.
func (s State) Stale(now time.Time, ttl time.Duration) bool {
	return s.LastCheckedAt.IsZero() || now.Sub(s.LastCheckedAt) >= ttl
}
