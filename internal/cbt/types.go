// Package cbt defines the clinical data model shared by the state
// analyzer, the therapist drafter, and the supervisor critic: the
// psychological snapshot of a user message, the supervisor verdict, and
// the closed taxonomies both are expressed in.
package cbt

// Distortion is a cognitive distortion label. The canonical values
// below mirror the supervision protocol's Russian taxonomy; analyzer
// output outside the closed set is preserved verbatim as an open label
// rather than rejected, since the taxonomy is a product decision.
type Distortion string

const (
	DistortionNone             Distortion = "Нет искажений"
	DistortionAllOrNothing     Distortion = "Черно-белое мышление"
	DistortionCatastrophizing  Distortion = "Катастрофизация"
	DistortionOvergeneralizing Distortion = "Сверхобобщение"
	DistortionMindReading      Distortion = "Чтение мыслей"
	DistortionShould           Distortion = "Долженствование"
	DistortionLabeling         Distortion = "Навешивание ярлыков"
)

// ThoughtLevel classifies how deep in the cognitive model the user's
// statement sits.
type ThoughtLevel string

const (
	LevelAutomaticThought   ThoughtLevel = "automatic_thought"
	LevelIntermediateBelief ThoughtLevel = "intermediate_belief"
	LevelCoreBelief         ThoughtLevel = "core_belief"
)

// Snapshot is the structured psychological analysis of one user
// message. It is owned by the turn that produced it and never mutated
// after creation.
type Snapshot struct {
	// Emotion is the named or implied emotion.
	Emotion string `json:"emotion"`
	// Intensity is the emotion intensity on a 1-10 scale.
	Intensity int `json:"intensity"`
	// ThoughtLevel is the cognitive depth of the statement.
	ThoughtLevel ThoughtLevel `json:"thought_level"`
	// Distortion is the primary cognitive distortion.
	Distortion Distortion `json:"distortion"`
	// SafetyRisk is true when the message hints at suicide or
	// self-harm. The grounding loop short-circuits on it.
	SafetyRisk bool `json:"safety_risk"`
	// Degraded is true when analysis failed and this snapshot is the
	// substituted safe default rather than a model judgment.
	Degraded bool `json:"degraded,omitempty"`
}

// DegradedSnapshot returns the deterministic snapshot substituted when
// analysis fails or returns an unparseable result. Unknown risk is
// treated as requiring caution (SafetyRisk true) and intensity sits at
// the neutral mid-value. Identical inputs always yield this same value.
func DegradedSnapshot() Snapshot {
	return Snapshot{
		Emotion:      "неопределено",
		Intensity:    5,
		ThoughtLevel: LevelAutomaticThought,
		Distortion:   DistortionNone,
		SafetyRisk:   true,
		Degraded:     true,
	}
}

// IsCrisis reports whether the snapshot requires the fixed safety
// response instead of therapeutic dialogue. It is a pure function of
// the snapshot's risk flag; a positive result is final and cannot be
// overridden by any later critique.
func IsCrisis(s Snapshot) bool {
	return s.SafetyRisk
}

// RubricTag names a category of the supervision protocol a draft can
// violate.
type RubricTag string

const (
	// TagSafety marks a reply unsafe for the patient.
	TagSafety RubricTag = "safety"
	// TagProtocol marks a breach of the session protocol ordering
	// (validation before exploration, no direct advice).
	TagProtocol RubricTag = "protocol"
	// TagLevel marks a reply targeting the wrong thought level.
	TagLevel RubricTag = "level"
)

// Draft is one therapist output: the candidate reply text plus the
// technique it applied.
type Draft struct {
	// Content is the reply text shown to the user if approved.
	Content string `json:"content"`
	// Technique names the CBT technique used, e.g. "Сократовский диалог".
	Technique string `json:"technique_used"`
}

// Verdict is the supervisor's judgment of one draft.
//
// Invariants, enforced at the parse boundary:
//   - Approved implies Feedback is empty.
//   - Not approved implies Feedback is non-empty.
type Verdict struct {
	// Approved is true only on an explicit positive judgment across
	// every rubric category.
	Approved bool `json:"approved"`
	// Feedback is the instruction to the therapist on what to fix.
	Feedback string `json:"feedback,omitempty"`
	// Violations lists the rubric categories the draft failed.
	Violations []RubricTag `json:"violations,omitempty"`
}
