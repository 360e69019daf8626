package audit

import (
	"github.com/google/uuid"

	"github.com/ppiankov/reaper/internal/model"
)

// Outcome is the recorded result of one executor invocation.
type Outcome struct {
	Status    model.Status    `json:"status"`
	ErrorKind model.ErrorKind `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// RunRecord is one line in the hash-chained JSONL audit log.
// All fields are structs or slices of structs (no map[string]any) so
// json.Marshal field order is deterministic and hashing reproducible.
type RunRecord struct {
	Timestamp    string          `json:"ts"`
	SessionID    string          `json:"session_id"`
	StartedAt    string          `json:"started_at"`
	CapabilityID string          `json:"capability"`
	Subject      string          `json:"subject"`
	Outcome      Outcome         `json:"outcome"`
	DurationMs   int64           `json:"duration_ms"`
	ExecutorTier model.Tier      `json:"tier"`
	Attempts     []model.Attempt `json:"attempts,omitempty"`
	PrevHash     string          `json:"prev_hash"`
}

// OutcomeOf flattens an executor outcome for the log.
func OutcomeOf(o model.Outcome) Outcome {
	return Outcome{Status: o.Status, ErrorKind: o.Kind, Message: o.Message}
}

// NewSessionID returns a fresh session identifier. One process run is one
// session.
func NewSessionID() string {
	return "s-" + uuid.NewString()
}
