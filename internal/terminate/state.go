package terminate

import (
	"time"

	"github.com/ppiankov/reaper/internal/model"
)

// State is a termination state machine state.
type State string

const (
	Idle                 State = "idle"
	AttemptingGraceful   State = "attempting_graceful"
	VerifyingGraceful    State = "verifying_graceful"
	AttemptingSignalTerm State = "attempting_signal_term"
	VerifyingTerm        State = "verifying_term"
	AttemptingSignalKill State = "attempting_signal_kill"
	VerifyingKill        State = "verifying_kill"
	Escalating           State = "escalating"
	AttemptingElevated   State = "attempting_elevated"
	VerifyingElevated    State = "verifying_elevated"
	Succeeded            State = "succeeded"
	Failed               State = "failed"
)

// Terminal reports whether s ends the machine.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Transition is one edge taken by a machine.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Result is what a termination returns. Attempts hold one entry per tier
// tried, in order.
type Result struct {
	Target      *model.TerminationTarget `json:"target"`
	State       State                    `json:"state"`
	Outcome     model.Outcome            `json:"outcome"`
	Attempts    []model.Attempt          `json:"attempts"`
	Transitions []Transition             `json:"transitions"`
	// Shared is set when the result was produced by a machine that more
	// than one caller joined.
	Shared bool `json:"shared,omitempty"`
}

// SignalsSent counts attempts that delivered something to the target.
func (r Result) SignalsSent() int {
	n := 0
	for _, a := range r.Attempts {
		if a.SignalSent {
			n++
		}
	}
	return n
}

// States lists the states the machine entered, in order.
func (r Result) States() []State {
	out := make([]State, 0, len(r.Transitions))
	for _, tr := range r.Transitions {
		out = append(out, tr.To)
	}
	return out
}

// Waits bound each tier's verification.
type Waits struct {
	Graceful time.Duration `mapstructure:"graceful" yaml:"graceful"`
	Term     time.Duration `mapstructure:"term" yaml:"term"`
	Kill     time.Duration `mapstructure:"kill" yaml:"kill"`
	Elevated time.Duration `mapstructure:"elevated" yaml:"elevated"`
	Poll     time.Duration `mapstructure:"poll" yaml:"poll"`
}

// DefaultWaits returns the standard per-tier bounds.
func DefaultWaits() Waits {
	return Waits{
		Graceful: 3 * time.Second,
		Term:     2 * time.Second,
		Kill:     time.Second,
		Elevated: 2 * time.Second,
		Poll:     100 * time.Millisecond,
	}
}

func (w Waits) withDefaults() Waits {
	d := DefaultWaits()
	if w.Graceful <= 0 {
		w.Graceful = d.Graceful
	}
	if w.Term <= 0 {
		w.Term = d.Term
	}
	if w.Kill <= 0 {
		w.Kill = d.Kill
	}
	if w.Elevated <= 0 {
		w.Elevated = d.Elevated
	}
	if w.Poll <= 0 {
		w.Poll = d.Poll
	}
	return w
}
