package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/reaper/internal/model"
)

// storeFile is the on-disk shape of the remediation store.
type storeFile struct {
	Attempted map[string]time.Time `yaml:"attempted"`
}

// RemediationStore remembers which subjects have already had automatic
// remediation, so a restart does not nag the user again.
type RemediationStore struct {
	path string
	mu   sync.Mutex
}

// NewRemediationStore returns a store backed by path. The file is created
// on first write.
func NewRemediationStore(path string) *RemediationStore {
	return &RemediationStore{path: path}
}

// Attempted reports whether remediation was already tried for subj.
func (s *RemediationStore) Attempted(subj model.Subject) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return false, err
	}
	_, ok := f.Attempted[subj.String()]
	return ok, nil
}

// MarkAttempted records that remediation was tried for subj at when.
func (s *RemediationStore) MarkAttempted(subj model.Subject, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	f.Attempted[subj.String()] = when.UTC()
	return s.writeAtomic(f)
}

// Reset forgets subj. An empty subject forgets everything.
func (s *RemediationStore) Reset(subj model.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	if subj.Kind == "" {
		f.Attempted = map[string]time.Time{}
	} else {
		delete(f.Attempted, subj.String())
	}
	return s.writeAtomic(f)
}

// List returns the remembered subjects, sorted.
func (s *RemediationStore) List() ([]model.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return nil, err
	}
	var out []model.Subject
	for key := range f.Attempted {
		subj, err := model.ParseSubject(key)
		if err != nil {
			continue
		}
		out = append(out, subj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *RemediationStore) read() (*storeFile, error) {
	f := &storeFile{Attempted: map[string]time.Time{}}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("permission: read remediation store: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("permission: parse remediation store: %w", err)
	}
	if f.Attempted == nil {
		f.Attempted = map[string]time.Time{}
	}
	return f, nil
}

func (s *RemediationStore) writeAtomic(f *storeFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("permission: marshal remediation store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("permission: create store directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("permission: write remediation store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("permission: write remediation store: %w", err)
	}
	return nil
}
