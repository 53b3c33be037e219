// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import "github.com/Thermoquad/bambustat/pkg/printer"

// Phase of the fault channel
type Phase int

const (
	PhaseClear        Phase = iota // no fault reported
	PhaseFaulted                   // fault reported, not dismissed
	PhaseAcknowledged              // the reported fault was dismissed by the user
)

func (p Phase) String() string {
	switch p {
	case PhaseClear:
		return "clear"
	case PhaseFaulted:
		return "faulted"
	case PhaseAcknowledged:
		return "acknowledged"
	}
	return "unknown"
}

// Transition is the result of observing one fault code
type Transition int

const (
	TransitionNone      Transition = iota
	TransitionRaised               // a fault appeared
	TransitionReopened             // a different fault replaced a dismissed one
	TransitionRecovered            // the fault cleared
)

func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionRaised:
		return "raised"
	case TransitionReopened:
		return "reopened"
	case TransitionRecovered:
		return "recovered"
	}
	return "unknown"
}

// RecoveryTracker is the fault state machine. It only keeps books; the
// commands that resolve a fault are produced by the Dispatcher.
//
// Invariant: ignore is either 0 or equal to last.
type RecoveryTracker struct {
	last    uint32
	ignore  uint32
	retry   printer.Command
	hasLast bool
}

// NewRecoveryTracker returns a tracker in the Clear phase
func NewRecoveryTracker() *RecoveryTracker {
	return &RecoveryTracker{}
}

// Observe feeds the fault code of one telemetry update.
func (r *RecoveryTracker) Observe(code uint32) Transition {
	if code == 0 {
		wasFaulted := r.last != 0
		r.last = 0
		r.ignore = 0
		if wasFaulted {
			return TransitionRecovered
		}
		return TransitionNone
	}

	if code == r.last {
		return TransitionNone
	}

	wasAcknowledged := r.Phase() == PhaseAcknowledged
	r.last = code
	if r.ignore != code {
		r.ignore = 0
	}
	if wasAcknowledged {
		return TransitionReopened
	}
	return TransitionRaised
}

// Phase returns the current phase
func (r *RecoveryTracker) Phase() Phase {
	switch {
	case r.last == 0:
		return PhaseClear
	case r.ignore == r.last:
		return PhaseAcknowledged
	}
	return PhaseFaulted
}

// LastError returns the most recently reported fault code
func (r *RecoveryTracker) LastError() uint32 { return r.last }

// IgnoreError returns the dismissed fault code, or 0
func (r *RecoveryTracker) IgnoreError() uint32 { return r.ignore }

// Status returns the tracker state in the shape collaborators consume
func (r *RecoveryTracker) Status() printer.FaultStatus {
	return printer.FaultStatus{
		LastError:    r.last,
		IgnoreError:  r.ignore,
		Acknowledged: r.Phase() == PhaseAcknowledged,
	}
}

// Ignore dismisses the current fault. Later reports of the same code are
// treated as acknowledged. It returns false when there is no fault.
func (r *RecoveryTracker) Ignore() bool {
	if r.last == 0 {
		return false
	}
	r.ignore = r.last
	return true
}

// Continue reports whether there is a fault to continue past. The fault
// stays recorded; the printer clears it once it resumes.
func (r *RecoveryTracker) Continue() bool {
	return r.last != 0
}

// Remember records the last command issued to the printer, which Retry
// re-issues.
func (r *RecoveryTracker) Remember(cmd printer.Command) {
	payload := make([]byte, len(cmd.Payload))
	copy(payload, cmd.Payload)
	cmd.Payload = payload
	r.retry = cmd
	r.hasLast = true
}

// Retry returns the remembered command. ok is false when nothing has been
// issued yet.
func (r *RecoveryTracker) Retry() (cmd printer.Command, ok bool) {
	if !r.hasLast {
		return printer.Command{}, false
	}
	return r.retry, true
}
