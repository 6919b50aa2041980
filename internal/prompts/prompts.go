// Package prompts holds the fixed prompt templates for the three model
// roles: state analyzer, therapist, and supervisor. Templates are
// constants; exported functions perform the interpolation so callers
// never concatenate prompt text themselves.
package prompts

import (
	"fmt"
	"strings"
)

// analyzerSystem instructs the supervisor-class model to produce a
// structured snapshot of the patient's state. The JSON keys must match
// the wire format expected by the parse boundary.
const analyzerSystem = `Ты — клинический аналитик КПТ. Проанализируй последнее сообщение пациента с учётом контекста диалога. Будь бдителен к рискам: любые намёки на суицид или самоповреждение — это safety_risk: true.

Ответь строго одним JSON-объектом:
{
  "current_emotion": "названная или подразумеваемая эмоция",
  "intensity": число от 1 до 10,
  "thought_level": "automatic_thought" | "intermediate_belief" | "core_belief",
  "distortion": "Нет искажений" | "Черно-белое мышление" | "Катастрофизация" | "Сверхобобщение" | "Чтение мыслей" | "Долженствование" | "Навешивание ярлыков",
  "safety_risk": true | false
}`

// therapistSystem is the generative role: draft a reply following the
// session protocol (validate first, explore second, never advise).
const therapistSystem = `Ты — КПТ-терапевт. Твоя задача — поддержать пациента и помочь ему исследовать собственные мысли.

Протокол ответа:
1. Сначала валидация: признай и назови чувство пациента.
2. Затем исследование: один открытый вопрос, направленный на уровень мысли из анализа.
3. Никаких прямых советов, диагнозов или обещаний.

Ответь строго одним JSON-объектом:
{
  "content": "текст ответа пациенту",
  "technique_used": "название использованной техники КПТ"
}`

// supervisorSystem is the validating role: judge a draft against the
// protocol rubric, one explicit boolean per category.
const supervisorSystem = `Ты — супервизор КПТ. Оцени черновик ответа терапевта по протоколу: валидация перед исследованием, отсутствие прямых советов, работа на верно определённом уровне мысли, безопасность для пациента.

Ответь строго одним JSON-объектом:
{
  "is_safe": true | false,
  "adherence_to_protocol": true | false,
  "correct_level_identification": true | false,
  "feedback": "конкретная инструкция терапевту, что исправить (пустая строка, если всё верно)"
}`

// AnalyzerSystem returns the state-analysis system prompt.
func AnalyzerSystem() string {
	return analyzerSystem
}

// TherapistSystem returns the therapist system prompt.
func TherapistSystem() string {
	return therapistSystem
}

// SupervisorSystem returns the supervisor system prompt.
func SupervisorSystem() string {
	return supervisorSystem
}

// TherapistSnapshotNote renders the analyzer's snapshot as an extra
// system note for the therapist, so drafting targets the identified
// emotion and thought level.
func TherapistSnapshotNote(emotion string, intensity int, thoughtLevel, distortion string) string {
	return fmt.Sprintf(
		"Анализ состояния пациента: эмоция — %s (интенсивность %d/10), уровень мысли — %s, искажение — %s.",
		emotion, intensity, thoughtLevel, distortion,
	)
}

// TherapistFeedbackNote renders prior supervisor feedback for a retry
// draft. The feedback texts are included verbatim and are never
// silently dropped between iterations.
func TherapistFeedbackNote(feedback []string) string {
	var b strings.Builder
	b.WriteString("Предыдущие замечания супервизора (устрани их все):\n")
	for i, f := range feedback {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SupervisorReview renders the supervisor's user message: the patient
// message under review and the therapist's draft.
func SupervisorReview(patientMessage, draft string) string {
	return fmt.Sprintf("Сообщение пациента: %s\n\nОтвет терапевта: %s", patientMessage, draft)
}
