// Package capability holds the static catalog of every destructive action
// reaper can perform. Executors resolve ids here and nowhere else, so the
// full action surface is a finite set fixed at startup.
package capability

import (
	"fmt"
	"syscall"
)

// PermissionClass is the kind of consent an action needs before it runs.
type PermissionClass string

const (
	PermNone              PermissionClass = "none"
	PermSameUserProcess   PermissionClass = "same_user_process"
	PermElevatedAuth      PermissionClass = "elevated_auth"
	PermAutomationConsent PermissionClass = "automation_consent"
)

// Requirement is a capability's declared permission. Target is the bundle
// id for automation consent and empty otherwise.
type Requirement struct {
	Class  PermissionClass `json:"class" yaml:"class"`
	Target string          `json:"target,omitempty" yaml:"target,omitempty"`
}

func (r Requirement) String() string {
	if r.Target == "" {
		return string(r.Class)
	}
	return fmt.Sprintf("%s(%s)", r.Class, r.Target)
}

// Operation is the underlying action of a capability. The set of variants
// is closed: only the types in this package implement it.
type Operation interface {
	Kind() string
	sealed()
}

// KillSignal delivers a POSIX signal to the target process.
type KillSignal struct {
	Signal syscall.Signal
}

// GraceEndApp asks a user-facing application to quit.
type GraceEndApp struct{}

// AppleScriptInvocation runs a pre-rendered script against one
// application. Runtime parameters reach the script only as integer argv.
type AppleScriptInvocation struct {
	// Target is the bundle id the script addresses.
	Target string
	// AppName is its display name, used in errors.
	AppName string
	// TemplateID names the template the script was rendered from.
	TemplateID string
	Script     string
}

// MaintenanceCommand runs a fixed binary with fixed arguments.
type MaintenanceCommand struct {
	Path      string
	Args      []string
	NeedsRoot bool
}

func (KillSignal) Kind() string            { return "kill_signal" }
func (GraceEndApp) Kind() string           { return "grace_end_app" }
func (AppleScriptInvocation) Kind() string { return "applescript_invocation" }
func (MaintenanceCommand) Kind() string    { return "maintenance_command" }

func (KillSignal) sealed()            {}
func (GraceEndApp) sealed()           {}
func (AppleScriptInvocation) sealed() {}
func (MaintenanceCommand) sealed()    {}

// Capability is an immutable descriptor of one vetted action.
type Capability struct {
	ID          string
	DisplayName string
	Permission  Requirement
	Risk        RiskTier
	Operation   Operation
	// Ladder lists, in order, the capability ids a composite action walks
	// through. Only process.terminate uses it.
	Ladder []string
}

// Elevated reports whether the capability can only run with administrator
// rights.
func (c Capability) Elevated() bool {
	if c.Permission.Class == PermElevatedAuth {
		return true
	}
	if m, ok := c.Operation.(MaintenanceCommand); ok {
		return m.NeedsRoot
	}
	return false
}
