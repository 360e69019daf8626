package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tier is the privilege level an executor runs under.
type Tier string

const (
	TierUser     Tier = "user"
	TierElevated Tier = "elevated"
)

// Status is the terminal state of one executor invocation.
type Status string

const (
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// SubjectKind names what a permission applies to.
type SubjectKind string

const (
	SubjectProcessOwnership SubjectKind = "process_ownership"
	SubjectAutomation       SubjectKind = "automation"
	SubjectAccessibility    SubjectKind = "accessibility"
	// SubjectElevation is never tracked; it is acquired per invocation
	// by the elevated tier and only appears in PermissionRequired errors.
	SubjectElevation SubjectKind = "elevation"
)

// Subject identifies one permission-bearing pair, e.g. automation of
// com.apple.Safari or ownership of pid 4242.
type Subject struct {
	Kind SubjectKind `json:"kind" yaml:"kind"`
	ID   string      `json:"id,omitempty" yaml:"id,omitempty"`
}

// Automation returns the automation-consent subject for a bundle ID.
func Automation(bundleID string) Subject {
	return Subject{Kind: SubjectAutomation, ID: bundleID}
}

// Ownership returns the process-ownership subject for a pid.
func Ownership(pid int32) Subject {
	return Subject{Kind: SubjectProcessOwnership, ID: strconv.Itoa(int(pid))}
}

// Accessibility returns the accessibility subject for this process.
func Accessibility() Subject {
	return Subject{Kind: SubjectAccessibility}
}

// Elevation returns the subject used when an action needs administrator rights.
func Elevation() Subject {
	return Subject{Kind: SubjectElevation}
}

// String renders the subject as kind[:id]. ParseSubject reverses it.
func (s Subject) String() string {
	if s.ID == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.ID
}

// PID returns the pid of a process-ownership subject.
func (s Subject) PID() (int32, bool) {
	if s.Kind != SubjectProcessOwnership {
		return 0, false
	}
	n, err := strconv.ParseInt(s.ID, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// ParseSubject parses "automation:com.apple.Safari", "accessibility",
// "process_ownership:123" and "elevation".
func ParseSubject(s string) (Subject, error) {
	kind, id, _ := strings.Cut(strings.TrimSpace(s), ":")
	subj := Subject{Kind: SubjectKind(kind), ID: id}
	switch subj.Kind {
	case SubjectAutomation:
		if id == "" {
			return Subject{}, fmt.Errorf("automation subject needs a bundle id")
		}
	case SubjectProcessOwnership:
		if _, ok := subj.PID(); !ok {
			return Subject{}, fmt.Errorf("process_ownership subject needs a numeric pid, got %q", id)
		}
	case SubjectAccessibility, SubjectElevation:
		if id != "" {
			return Subject{}, fmt.Errorf("%s subject takes no id", kind)
		}
	default:
		return Subject{}, fmt.Errorf("unknown subject kind %q", kind)
	}
	return subj, nil
}

// TerminationTarget is a live snapshot of one process. It is built fresh
// for every request and never cached: a pid means nothing once reused.
type TerminationTarget struct {
	PID                     int32  `json:"pid"`
	Name                    string `json:"name"`
	BundleID                string `json:"bundle_id,omitempty"`
	UID                     uint32 `json:"uid"`
	OwnerMatchesCurrentUser bool   `json:"owner_matches_current_user"`
	IsProtected             bool   `json:"is_protected"`
	// CreateTime is the process start in ms since epoch; together with
	// the pid it identifies the process across polls.
	CreateTime int64 `json:"create_time"`
}

// IsApp reports whether the target is a user-facing application bundle.
func (t *TerminationTarget) IsApp() bool {
	return t.BundleID != ""
}

// Describe returns the RunRecord subject description.
func (t *TerminationTarget) Describe() string {
	if t.Name == "" {
		return fmt.Sprintf("pid %d", t.PID)
	}
	return fmt.Sprintf("pid %d (%s)", t.PID, t.Name)
}

// Attempt is the per-tier detail folded into a single RunRecord.
type Attempt struct {
	CapabilityID string    `json:"capability"`
	Tier         Tier      `json:"tier"`
	Status       Status    `json:"status"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Message      string    `json:"message,omitempty"`
	SignalSent   bool      `json:"signal_sent,omitempty"`
	WaitedMs     int64     `json:"waited_ms"`
}

// Outcome is what an executor invocation returns to its caller.
type Outcome struct {
	Status   Status        `json:"status"`
	Kind     ErrorKind     `json:"error_kind,omitempty"`
	Message  string        `json:"message,omitempty"`
	Tier     Tier          `json:"tier"`
	Duration time.Duration `json:"-"`
	Output   []byte        `json:"-"`
	Err      error         `json:"-"`
}

// OK reports whether the invocation counts as a success.
func (o Outcome) OK() bool {
	return o.Status == Succeeded
}

// Success builds a succeeded outcome for tier.
func Success(tier Tier) Outcome {
	return Outcome{Status: Succeeded, Tier: tier}
}

// OutcomeFor classifies err into an outcome. AlreadyGone counts as success
// and context cancellation as cancelled.
func OutcomeFor(tier Tier, err error) Outcome {
	if err == nil {
		return Success(tier)
	}
	kind := KindOf(err)
	o := Outcome{
		Status:  Failed,
		Kind:    kind,
		Message: UserMessage(err),
		Tier:    tier,
		Err:     err,
	}
	switch kind {
	case KindAlreadyGone:
		o.Status = Succeeded
	case KindCancelled:
		o.Status = Cancelled
	}
	return o
}
