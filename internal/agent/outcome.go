package agent

import "github.com/anchorbot/anchor/internal/cbt"

// OutcomeKind identifies how a turn terminated.
type OutcomeKind int

const (
	// OutcomeApproved means the supervisor explicitly approved the reply.
	OutcomeApproved OutcomeKind = iota
	// OutcomeFallback means the retry budget was exhausted and the last
	// drafted candidate is returned best-effort, never approved. Kept
	// distinct so callers and telemetry can tell it from approval.
	OutcomeFallback
	// OutcomeCrisis means acute risk was detected and the fixed safety
	// payload was substituted without drafting anything.
	OutcomeCrisis
)

// String returns the telemetry label for the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeApproved:
		return "approved"
	case OutcomeFallback:
		return "fallback"
	case OutcomeCrisis:
		return "crisis"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of the grounding loop for one turn.
// Exactly one outcome exists per turn.
type Outcome struct {
	Kind OutcomeKind
	// Text is the final reply shown to the user.
	Text string
	// Technique names the CBT technique of the winning draft; empty for
	// crisis outcomes.
	Technique string
	// Iterations is the 0-based index of the draft attempt the reply
	// came from; 0 for crisis outcomes.
	Iterations int
	// Snapshot is the analysis this turn was grounded on.
	Snapshot cbt.Snapshot
}
