package audit

import (
	"time"

	"github.com/ppiankov/reaper/internal/model"
)

// ReplayFilter holds filtering criteria for session replay.
type ReplayFilter struct {
	SessionID string
	From      time.Time // zero value = no lower bound
	To        time.Time // zero value = no upper bound
}

// ReplaySummary holds outcome counts and metadata for a replayed session.
type ReplaySummary struct {
	Total          int    `json:"total"`
	SucceededCount int    `json:"succeeded_count"`
	FailedCount    int    `json:"failed_count"`
	CancelledCount int    `json:"cancelled_count"`
	ElevatedCount  int    `json:"elevated_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered records and summary for a session replay.
type ReplayResult struct {
	SessionID string        `json:"session_id"`
	Records   []RunRecord   `json:"records"`
	Summary   ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns the records of one session.
// An empty SessionID replays every session.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	recs, err := ReadFile(path, Filter{SessionID: filter.SessionID, From: filter.From, To: filter.To})
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{SessionID: filter.SessionID, Records: recs}
	for _, rec := range recs {
		updateSummary(&result.Summary, rec)
	}
	return result, nil
}

func updateSummary(s *ReplaySummary, rec RunRecord) {
	s.Total++

	switch rec.Outcome.Status {
	case model.Succeeded:
		s.SucceededCount++
	case model.Failed:
		s.FailedCount++
	case model.Cancelled:
		s.CancelledCount++
	}

	if rec.ExecutorTier == model.TierElevated {
		s.ElevatedCount++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = rec.Timestamp
	}
	s.LastTimestamp = rec.Timestamp
}
