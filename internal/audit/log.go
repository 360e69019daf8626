package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the layout used in record timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// DefaultRetention is how long records are kept.
const DefaultRetention = 30 * 24 * time.Hour

// maxLine bounds a single record; attempts keep records small.
const maxLine = 1 << 20

// Log is an append-only JSONL audit log with SHA-256 hash chaining.
// Each record's prev_hash is the hash of the previous record's JSON line,
// forming a tamper-evident chain. Records are never updated in place;
// Prune and Clear rewrite the whole file and restart the chain.
type Log struct {
	path      string
	file      *os.File
	prevHash  string
	retention time.Duration
	now       func() time.Time
	mu        sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithRetention sets the retention window. Zero keeps records forever.
func WithRetention(d time.Duration) Option {
	return func(l *Log) { l.retention = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Open opens (or creates) an audit log file for appending, pruning records
// older than the retention window. If the file already exists, it reads
// the last line to recover the chain tail.
func Open(path string, opts ...Option) (*Log, error) {
	l := &Log{
		path:      path,
		prevHash:  GenesisHash,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	if l.retention > 0 {
		if _, err := l.prune(l.now()); err != nil {
			return nil, err
		}
	}

	lastLine, err := lastLineOf(path)
	if err != nil {
		return nil, err
	}
	if len(lastLine) > 0 {
		l.prevHash = HashLine(lastLine)
	}

	if err := l.openFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) openFile() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: open file: %w", err)
	}
	l.file = file
	return nil
}

func lastLineOf(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	scanner := newScanner(f)
	var lastLine []byte
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		lastLine = append(lastLine[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return lastLine, nil
}

func newScanner(f *os.File) *bufio.Scanner {
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), maxLine)
	return s
}

// Path returns the file backing the log.
func (l *Log) Path() string {
	return l.path
}

// Record appends a RunRecord with hash chaining. It sets the record's
// PrevHash and Timestamp (if empty), marshals to JSON, writes the line,
// and syncs to disk.
func (l *Log) Record(rec RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp == "" {
		rec.Timestamp = l.now().UTC().Format(TimestampFormat)
	}
	return l.appendLocked(rec)
}

func (l *Log) appendLocked(rec RunRecord) error {
	rec.PrevHash = l.prevHash

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Filter selects records. Zero values match everything.
type Filter struct {
	SessionID    string
	CapabilityID string
	From         time.Time
	To           time.Time
	// Last keeps only the newest N matches.
	Last int
}

func (f Filter) match(rec RunRecord) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.CapabilityID != "" && rec.CapabilityID != f.CapabilityID {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, rec.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

// Records returns matching records in log order.
func (l *Log) Records(f Filter) ([]RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readRecords(l.path, f)
}

// ReadFile returns matching records from an audit log file without
// opening it for writing.
func ReadFile(path string, f Filter) ([]RunRecord, error) {
	return readRecords(path, f)
}

func readRecords(path string, f Filter) ([]RunRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer file.Close()

	var out []RunRecord
	scanner := newScanner(file)
	for scanner.Scan() {
		var rec RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		if f.match(rec) {
			out = append(out, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read: %w", err)
	}
	if f.Last > 0 && len(out) > f.Last {
		out = out[len(out)-f.Last:]
	}
	return out, nil
}

// Clear removes every record and restarts the chain at genesis.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("audit: truncate: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.prevHash = GenesisHash
	return nil
}

// Prune drops records older than the retention window relative to now and
// rechains the rest. It returns how many records were removed.
func (l *Log) Prune(now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.retention <= 0 {
		return 0, nil
	}
	if err := l.file.Close(); err != nil {
		return 0, fmt.Errorf("audit: close: %w", err)
	}
	removed, err := l.prune(now)
	if openErr := l.openFile(); openErr != nil && err == nil {
		err = openErr
	}
	return removed, err
}

// prune rewrites the file without holding it open. Callers hold mu or
// own l exclusively.
func (l *Log) prune(now time.Time) (int, error) {
	all, err := readRecords(l.path, Filter{})
	if err != nil || len(all) == 0 {
		return 0, err
	}
	cutoff := now.Add(-l.retention)
	var keep []RunRecord
	for _, rec := range all {
		ts, err := time.Parse(TimestampFormat, rec.Timestamp)
		if err == nil && ts.Before(cutoff) {
			continue
		}
		keep = append(keep, rec)
	}
	removed := len(all) - len(keep)
	if removed == 0 {
		return 0, nil
	}

	tail, err := writeChain(l.path, keep)
	if err != nil {
		return 0, err
	}
	l.prevHash = tail
	return removed, nil
}

// writeChain atomically replaces path with recs, recomputing prev_hash,
// and returns the new chain tail.
func writeChain(path string, recs []RunRecord) (string, error) {
	var buf bytes.Buffer
	prev := GenesisHash
	for _, rec := range recs {
		rec.PrevHash = prev
		line, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("audit: marshal record: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		prev = HashLine(line)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return "", fmt.Errorf("audit: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("audit: rename: %w", err)
	}
	return prev, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
