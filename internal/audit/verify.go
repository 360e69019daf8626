package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/reaper/internal/model"
)

// VerifyResult is the outcome of checking a log file. A broken log
// reports the first bad record only.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Sessions  int    `json:"sessions"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

func broken(line int, format string, args ...any) VerifyResult {
	return VerifyResult{Error: fmt.Sprintf(format, args...), ErrorLine: line}
}

// Verify walks the log checking that every prev_hash links to the line
// before it and that every record carries a parseable timestamp, a
// capability and a known status. A missing file is an empty, valid log.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return VerifyResult{Valid: true}
	}
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	var (
		scanner  = newScanner(f)
		line     int
		want     = GenesisHash
		sessions = map[string]struct{}{}
	)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		line++

		var rec RunRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return broken(line, "parse error: %v", err)
		}
		switch {
		case rec.PrevHash != want && line == 1:
			return broken(line, "first record prev_hash is %q, expected genesis hash", rec.PrevHash)
		case rec.PrevHash != want:
			return broken(line, "hash mismatch: expected %s, got %s", want, rec.PrevHash)
		case rec.CapabilityID == "":
			return broken(line, "record has no capability")
		}
		switch rec.Outcome.Status {
		case model.Succeeded, model.Failed, model.Cancelled:
		default:
			return broken(line, "unknown status %q", rec.Outcome.Status)
		}
		if _, err := time.Parse(TimestampFormat, rec.Timestamp); err != nil {
			return broken(line, "bad timestamp %q", rec.Timestamp)
		}
		sessions[rec.SessionID] = struct{}{}
		want = HashLine(raw)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: line, Sessions: len(sessions)}
}
