package cbt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks wire structs at the model boundary. A model response
// either passes validation and becomes a fully populated value, or the
// caller gets a *ParseError, never a partially populated object.
var validate = validator.New()

// ParseError reports that a model response could not be turned into a
// valid structured value. Callers branch on it with errors.As to apply
// the component's degradation policy.
type ParseError struct {
	// What names the value being parsed ("snapshot", "draft", "verdict").
	What string
	// Raw is the model output that failed to parse, for trace logging.
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// snapshotWire is the analyzer's JSON response format. Pointer fields
// distinguish absent from zero: intensity and the risk flag must be
// present even when the rest of the analysis is uncertain.
type snapshotWire struct {
	Emotion      string `json:"current_emotion" validate:"required"`
	Intensity    *int   `json:"intensity" validate:"required"`
	ThoughtLevel string `json:"thought_level" validate:"required,oneof=automatic_thought intermediate_belief core_belief"`
	Distortion   string `json:"distortion" validate:"required"`
	SafetyRisk   *bool  `json:"safety_risk" validate:"required"`
}

// ParseSnapshot converts a raw analyzer response into a Snapshot.
// Markdown code fences are tolerated. Returns *ParseError if the JSON
// is malformed, a required field is missing, or intensity is outside
// the 1-10 scale.
func ParseSnapshot(raw string) (Snapshot, error) {
	content := stripFences(raw)

	var w snapshotWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		return Snapshot{}, &ParseError{What: "snapshot", Raw: raw, Err: err}
	}
	if err := validate.Struct(&w); err != nil {
		return Snapshot{}, &ParseError{What: "snapshot", Raw: raw, Err: err}
	}
	if *w.Intensity < 1 || *w.Intensity > 10 {
		return Snapshot{}, &ParseError{
			What: "snapshot",
			Raw:  raw,
			Err:  fmt.Errorf("intensity %d outside 1-10", *w.Intensity),
		}
	}

	return Snapshot{
		Emotion:      w.Emotion,
		Intensity:    *w.Intensity,
		ThoughtLevel: ThoughtLevel(w.ThoughtLevel),
		Distortion:   Distortion(w.Distortion),
		SafetyRisk:   *w.SafetyRisk,
	}, nil
}

// draftWire is the therapist's JSON response format.
type draftWire struct {
	Content   string `json:"content" validate:"required"`
	Technique string `json:"technique_used"`
}

// ParseDraft converts a raw therapist response into a Draft. The reply
// text must be non-empty; an empty draft is a parse failure, not a
// valid candidate.
func ParseDraft(raw string) (Draft, error) {
	content := stripFences(raw)

	var w draftWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		return Draft{}, &ParseError{What: "draft", Raw: raw, Err: err}
	}
	if err := validate.Struct(&w); err != nil {
		return Draft{}, &ParseError{What: "draft", Raw: raw, Err: err}
	}
	if strings.TrimSpace(w.Content) == "" {
		return Draft{}, &ParseError{
			What: "draft",
			Raw:  raw,
			Err:  fmt.Errorf("empty reply content"),
		}
	}

	return Draft{Content: w.Content, Technique: w.Technique}, nil
}

// verdictWire is the supervisor's JSON response format: one boolean per
// rubric category plus corrective feedback. Pointer fields so that a
// response omitting a judgment fails validation instead of silently
// reading as false.
type verdictWire struct {
	IsSafe              *bool  `json:"is_safe" validate:"required"`
	AdherenceToProtocol *bool  `json:"adherence_to_protocol" validate:"required"`
	CorrectLevel        *bool  `json:"correct_level_identification" validate:"required"`
	Feedback            string `json:"feedback"`
}

// genericFeedback is substituted when the supervisor rejects a draft
// without actionable feedback, so the next draft attempt always has a
// non-empty instruction.
const genericFeedback = "Пересмотри ответ на соответствие протоколу."

// ParseVerdict converts a raw supervisor response into a Verdict.
// Approval requires every rubric category to pass. The verdict
// invariants are normalized here: an approved verdict carries no
// feedback, a rejection always carries some.
func ParseVerdict(raw string) (Verdict, error) {
	content := stripFences(raw)

	var w verdictWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		return Verdict{}, &ParseError{What: "verdict", Raw: raw, Err: err}
	}
	if err := validate.Struct(&w); err != nil {
		return Verdict{}, &ParseError{What: "verdict", Raw: raw, Err: err}
	}

	v := Verdict{Approved: *w.IsSafe && *w.AdherenceToProtocol && *w.CorrectLevel}
	if v.Approved {
		return v, nil
	}

	if !*w.IsSafe {
		v.Violations = append(v.Violations, TagSafety)
	}
	if !*w.AdherenceToProtocol {
		v.Violations = append(v.Violations, TagProtocol)
	}
	if !*w.CorrectLevel {
		v.Violations = append(v.Violations, TagLevel)
	}

	v.Feedback = strings.TrimSpace(w.Feedback)
	if v.Feedback == "" {
		v.Feedback = genericFeedback
	}
	return v, nil
}

// ImplicitRejection is the verdict substituted when the supervisor is
// unreachable or returns an unparseable result. Approval must only ever
// come from an explicit positive verdict, never from the absence of one.
func ImplicitRejection() Verdict {
	return Verdict{
		Approved: false,
		Feedback: genericFeedback,
	}
}

// stripFences removes a surrounding markdown code fence, which many
// models wrap around JSON output despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
