// Package denylist decides which processes are protected from termination.
package denylist

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/reaper/internal/model"
)

// Patterns holds the raw protected entries organized by category.
type Patterns struct {
	Names     []string `yaml:"names"`
	BundleIDs []string `yaml:"bundle_ids"`
	Paths     []string `yaml:"paths"`
}

// Denylist holds the compiled protected set. Safe for concurrent use;
// Reload swaps the extension in place.
type Denylist struct {
	mu           sync.RWMutex
	names        map[string]bool // lower-cased
	bundleIDs    map[string]bool // lower-cased
	pathPatterns []*regexp.Regexp
	raw          Patterns
}

// New builds a Denylist from the defaults plus extra. Entries in extra
// only ever add to the defaults.
func New(extra Patterns) *Denylist {
	d := &Denylist{}
	d.set(extra)
	return d
}

// NewDefault creates a Denylist with only the builtin entries.
func NewDefault() *Denylist {
	return New(Patterns{})
}

func (d *Denylist) set(extra Patterns) {
	merged := Patterns{
		Names:     append(append([]string(nil), DefaultPatterns.Names...), extra.Names...),
		BundleIDs: append(append([]string(nil), DefaultPatterns.BundleIDs...), extra.BundleIDs...),
		Paths:     append(append([]string(nil), DefaultPatterns.Paths...), extra.Paths...),
	}

	names := make(map[string]bool, len(merged.Names))
	for _, n := range merged.Names {
		names[strings.ToLower(strings.TrimSpace(n))] = true
	}
	bundles := make(map[string]bool, len(merged.BundleIDs))
	for _, b := range merged.BundleIDs {
		bundles[strings.ToLower(strings.TrimSpace(b))] = true
	}
	var paths []*regexp.Regexp
	for _, p := range merged.Paths {
		if compiled, err := regexp.Compile("^" + patternToRegex(p) + "$"); err == nil {
			paths = append(paths, compiled)
		}
	}

	d.mu.Lock()
	d.names, d.bundleIDs, d.pathPatterns, d.raw = names, bundles, paths, merged
	d.mu.Unlock()
}

// DefaultPath returns ~/.reaper/protected.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".reaper", "protected.yaml")
}

// Load reads an extension file. A missing file yields the defaults.
func Load(path string) (*Denylist, error) {
	extra, err := readPatterns(path)
	if err != nil {
		return nil, err
	}
	return New(extra), nil
}

// Reload re-reads path and replaces the extension. On error the previous
// set stays in force.
func (d *Denylist) Reload(path string) error {
	extra, err := readPatterns(path)
	if err != nil {
		return err
	}
	d.set(extra)
	return nil
}

func readPatterns(path string) (Patterns, error) {
	if path == "" {
		path = DefaultPath()
	}
	var p Patterns
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("denylist: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("denylist: parse %s: %w", path, err)
	}
	return p, nil
}

// Process is the subset of a process snapshot the denylist inspects.
type Process struct {
	PID      int32
	Name     string
	BundleID string
	Exe      string
}

// IsProtected reports whether p may never be terminated, with a reason.
// pid 0 and 1 and reaper itself are always protected.
func (d *Denylist) IsProtected(p Process) (bool, string) {
	if p.PID <= 1 {
		return true, fmt.Sprintf("pid %d is a kernel process", p.PID)
	}
	if model.IsSelfTarget(p.PID, p.Name) {
		return true, "reaper does not terminate itself"
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if p.Name != "" && d.names[strings.ToLower(p.Name)] {
		return true, "protected name: " + p.Name
	}
	if p.Exe != "" {
		base := strings.ToLower(filepath.Base(p.Exe))
		if d.names[base] {
			return true, "protected name: " + filepath.Base(p.Exe)
		}
		for _, re := range d.pathPatterns {
			if re.MatchString(p.Exe) {
				return true, "protected path: " + p.Exe
			}
		}
	}
	if p.BundleID != "" && d.bundleIDs[strings.ToLower(p.BundleID)] {
		return true, "protected bundle: " + p.BundleID
	}
	return false, ""
}

// Entries returns a copy of the merged builtin and extension entries.
func (d *Denylist) Entries() Patterns {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Patterns{
		Names:     append([]string(nil), d.raw.Names...),
		BundleIDs: append([]string(nil), d.raw.BundleIDs...),
		Paths:     append([]string(nil), d.raw.Paths...),
	}
}

// patternToRegex converts a simple glob-like pattern to a regex.
func patternToRegex(pattern string) string {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\*`, "[^/]*")
	return escaped
}
