package cbt

import (
	"errors"
	"testing"
)

func TestParseSnapshot(t *testing.T) {
	raw := `{"current_emotion": "тревога", "intensity": 7,
		"thought_level": "automatic_thought",
		"distortion": "Катастрофизация", "safety_risk": false}`

	s, err := ParseSnapshot(raw)
	if err != nil {
		t.Fatalf("ParseSnapshot error: %v", err)
	}
	if s.Emotion != "тревога" {
		t.Errorf("emotion = %q, want %q", s.Emotion, "тревога")
	}
	if s.Intensity != 7 {
		t.Errorf("intensity = %d, want 7", s.Intensity)
	}
	if s.Distortion != DistortionCatastrophizing {
		t.Errorf("distortion = %q, want %q", s.Distortion, DistortionCatastrophizing)
	}
	if s.SafetyRisk {
		t.Error("safety_risk = true, want false")
	}
	if s.Degraded {
		t.Error("parsed snapshot must not be marked degraded")
	}
}

func TestParseSnapshot_CodeFences(t *testing.T) {
	raw := "```json\n{\"current_emotion\": \"грусть\", \"intensity\": 3, \"thought_level\": \"core_belief\", \"distortion\": \"Навешивание ярлыков\", \"safety_risk\": true}\n```"

	s, err := ParseSnapshot(raw)
	if err != nil {
		t.Fatalf("ParseSnapshot error: %v", err)
	}
	if !s.SafetyRisk {
		t.Error("safety_risk = false, want true")
	}
	if s.ThoughtLevel != LevelCoreBelief {
		t.Errorf("thought_level = %q, want %q", s.ThoughtLevel, LevelCoreBelief)
	}
}

func TestParseSnapshot_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `not json at all`},
		{"missing risk flag", `{"current_emotion": "страх", "intensity": 5, "thought_level": "automatic_thought", "distortion": "Нет искажений"}`},
		{"missing intensity", `{"current_emotion": "страх", "thought_level": "automatic_thought", "distortion": "Нет искажений", "safety_risk": false}`},
		{"intensity out of range", `{"current_emotion": "страх", "intensity": 14, "thought_level": "automatic_thought", "distortion": "Нет искажений", "safety_risk": false}`},
		{"unknown thought level", `{"current_emotion": "страх", "intensity": 5, "thought_level": "meta_belief", "distortion": "Нет искажений", "safety_risk": false}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot(tt.raw)
			if err == nil {
				t.Fatal("expected parse error")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("error %T is not *ParseError", err)
			}
		})
	}
}

func TestDegradedSnapshot_SafeMaximal(t *testing.T) {
	s := DegradedSnapshot()

	// Unknown risk requires caution, never none.
	if !s.SafetyRisk {
		t.Error("degraded snapshot must set the risk flag")
	}
	if s.Intensity != 5 {
		t.Errorf("degraded intensity = %d, want neutral mid-value 5", s.Intensity)
	}
	if !s.Degraded {
		t.Error("degraded snapshot must be marked degraded")
	}

	// The degraded path is deterministic.
	if DegradedSnapshot() != s {
		t.Error("DegradedSnapshot must return the same value every call")
	}
}

func TestParseDraft(t *testing.T) {
	raw := `{"content": "Похоже, тебе сейчас очень тяжело. Что именно тебя задело сильнее всего?", "technique_used": "Сократовский диалог"}`

	d, err := ParseDraft(raw)
	if err != nil {
		t.Fatalf("ParseDraft error: %v", err)
	}
	if d.Technique != "Сократовский диалог" {
		t.Errorf("technique = %q", d.Technique)
	}
}

func TestParseDraft_EmptyContent(t *testing.T) {
	for _, raw := range []string{
		`{"content": "", "technique_used": "x"}`,
		`{"content": "   ", "technique_used": "x"}`,
		`{"technique_used": "x"}`,
	} {
		if _, err := ParseDraft(raw); err == nil {
			t.Errorf("ParseDraft(%q) should fail: reply text must be non-empty", raw)
		}
	}
}

func TestParseVerdict_Approved(t *testing.T) {
	raw := `{"is_safe": true, "adherence_to_protocol": true,
		"correct_level_identification": true,
		"feedback": "всё хорошо"}`

	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("ParseVerdict error: %v", err)
	}
	if !v.Approved {
		t.Error("verdict should be approved")
	}
	// Approved implies feedback empty, even when the model supplied some.
	if v.Feedback != "" {
		t.Errorf("approved verdict feedback = %q, want empty", v.Feedback)
	}
	if len(v.Violations) != 0 {
		t.Errorf("approved verdict violations = %v, want none", v.Violations)
	}
}

func TestParseVerdict_Rejected(t *testing.T) {
	raw := `{"is_safe": true, "adherence_to_protocol": false,
		"correct_level_identification": false,
		"feedback": "Сначала валидация, потом исследование."}`

	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("ParseVerdict error: %v", err)
	}
	if v.Approved {
		t.Error("verdict should be rejected")
	}
	if v.Feedback != "Сначала валидация, потом исследование." {
		t.Errorf("feedback = %q", v.Feedback)
	}
	want := []RubricTag{TagProtocol, TagLevel}
	if len(v.Violations) != len(want) {
		t.Fatalf("violations = %v, want %v", v.Violations, want)
	}
	for i, tag := range want {
		if v.Violations[i] != tag {
			t.Errorf("violations[%d] = %q, want %q", i, v.Violations[i], tag)
		}
	}
}

func TestParseVerdict_RejectionWithoutFeedback(t *testing.T) {
	raw := `{"is_safe": false, "adherence_to_protocol": true,
		"correct_level_identification": true, "feedback": ""}`

	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("ParseVerdict error: %v", err)
	}
	if v.Approved {
		t.Error("verdict should be rejected")
	}
	if v.Feedback == "" {
		t.Error("rejection must always carry feedback")
	}
}

func TestParseVerdict_MissingJudgment(t *testing.T) {
	// A verdict that omits a rubric category must fail parsing rather
	// than read the missing judgment as false (or worse, as approval).
	raw := `{"is_safe": true, "feedback": "ok"}`

	_, err := ParseVerdict(raw)
	if err == nil {
		t.Fatal("expected parse error for missing judgments")
	}
}

func TestImplicitRejection(t *testing.T) {
	v := ImplicitRejection()
	if v.Approved {
		t.Error("implicit rejection must never approve")
	}
	if v.Feedback == "" {
		t.Error("implicit rejection must carry generic feedback")
	}
}
