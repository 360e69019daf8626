package capability

import (
	"fmt"
	"path/filepath"
	"sort"
	"syscall"
)

// Catalog is the immutable id → Capability registry. It has no mutation
// API; build a new one with NewCatalog.
type Catalog struct {
	byID map[string]Capability
}

// NewCatalog validates caps and freezes them into a catalog.
func NewCatalog(caps ...Capability) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Capability, len(caps))}
	for _, capb := range caps {
		if err := validate(capb); err != nil {
			return nil, err
		}
		if _, dup := c.byID[capb.ID]; dup {
			return nil, fmt.Errorf("capability: duplicate id %q", capb.ID)
		}
		capb.Ladder = append([]string(nil), capb.Ladder...)
		if m, ok := capb.Operation.(MaintenanceCommand); ok {
			m.Args = append([]string(nil), m.Args...)
			capb.Operation = m
		}
		c.byID[capb.ID] = capb
	}
	for _, capb := range c.byID {
		for _, step := range capb.Ladder {
			if step == capb.ID {
				return nil, fmt.Errorf("capability: %q lists itself in its ladder", capb.ID)
			}
			if _, ok := c.byID[step]; !ok {
				return nil, fmt.Errorf("capability: %q ladder names unknown id %q", capb.ID, step)
			}
		}
	}
	return c, nil
}

func validate(c Capability) error {
	if c.ID == "" {
		return fmt.Errorf("capability: empty id")
	}
	if c.Operation == nil {
		return fmt.Errorf("capability: %q has no operation", c.ID)
	}
	switch op := c.Operation.(type) {
	case KillSignal:
		if op.Signal != syscall.SIGTERM && op.Signal != syscall.SIGKILL {
			return fmt.Errorf("capability: %q uses unsupported signal %v", c.ID, op.Signal)
		}
	case AppleScriptInvocation:
		if op.Script == "" {
			return fmt.Errorf("capability: %q has an empty script", c.ID)
		}
		if c.Permission.Class != PermAutomationConsent || c.Permission.Target != op.Target {
			return fmt.Errorf("capability: %q must require automation consent for %q", c.ID, op.Target)
		}
	case MaintenanceCommand:
		if !filepath.IsAbs(op.Path) {
			return fmt.Errorf("capability: %q command path %q is not absolute", c.ID, op.Path)
		}
	}
	return nil
}

// Lookup returns the capability registered under id. Callers must never
// synthesize a Capability; an unknown id is a programmer error.
func (c *Catalog) Lookup(id string) (Capability, bool) {
	capb, ok := c.byID[id]
	return capb, ok
}

// All returns every capability sorted by id.
func (c *Catalog) All() []Capability {
	out := make([]Capability, 0, len(c.byID))
	for _, capb := range c.byID {
		out = append(out, capb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered capabilities.
func (c *Catalog) Len() int {
	return len(c.byID)
}
