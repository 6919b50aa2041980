package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/anchorbot/anchor/internal/cbt"
	"github.com/anchorbot/anchor/internal/config"
	"github.com/anchorbot/anchor/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLoopConfig() config.LoopConfig {
	return config.LoopConfig{
		MaxAttempts:        3,
		AnalyzeTimeoutSec:  5,
		DraftTimeoutSec:    5,
		CritiqueTimeoutSec: 5,
	}
}

func testSafety() config.SafetyConfig {
	return config.SafetyConfig{
		Version:    "v1",
		CrisisText: "Пожалуйста, обратись за помощью: 112.",
	}
}

func calmSnapshot() cbt.Snapshot {
	return cbt.Snapshot{
		Emotion:      "тревога",
		Intensity:    6,
		ThoughtLevel: cbt.LevelAutomaticThought,
		Distortion:   cbt.DistortionCatastrophizing,
	}
}

// fakeDrafter replays scripted results and records the feedback and
// conversation context each attempt received.
type fakeDrafter struct {
	drafts   []cbt.Draft
	errs     []error
	calls    int
	feedback [][]string
	recent   [][]llm.Message
}

func (f *fakeDrafter) Draft(_ context.Context, tc TurnContext, _ cbt.Snapshot, priorFeedback []string) (cbt.Draft, error) {
	i := f.calls
	f.calls++
	f.feedback = append(f.feedback, append([]string(nil), priorFeedback...))
	f.recent = append(f.recent, tc.Recent)
	if i < len(f.errs) && f.errs[i] != nil {
		return cbt.Draft{}, f.errs[i]
	}
	if i < len(f.drafts) {
		return f.drafts[i], nil
	}
	return cbt.Draft{Content: fmt.Sprintf("draft %d", i), Technique: "Сократовский диалог"}, nil
}

// fakeCritic replays scripted verdicts.
type fakeCritic struct {
	verdicts []cbt.Verdict
	errs     []error
	calls    int
}

func (f *fakeCritic) Critique(_ context.Context, _ TurnContext, _ cbt.Draft, _ cbt.Snapshot) (cbt.Verdict, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return cbt.Verdict{}, f.errs[i]
	}
	if i < len(f.verdicts) {
		return f.verdicts[i], nil
	}
	return cbt.Verdict{Approved: true}, nil
}

func newTestController(t *testing.T, d Drafter, c Critic) *Controller {
	t.Helper()
	return NewController(d, c, testLoopConfig(), testSafety(), testLogger(), nil)
}

func TestRunCrisisShortCircuit(t *testing.T) {
	drafter := &fakeDrafter{}
	critic := &fakeCritic{}
	ctrl := newTestController(t, drafter, critic)

	snapshot := calmSnapshot()
	snapshot.SafetyRisk = true

	out, err := ctrl.Run(context.Background(), TurnContext{TurnID: "t1"}, snapshot, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind != OutcomeCrisis {
		t.Errorf("kind = %v, want crisis", out.Kind)
	}
	if out.Text != testSafety().CrisisText {
		t.Errorf("text = %q, want the fixed safety payload", out.Text)
	}
	if drafter.calls != 0 || critic.calls != 0 {
		t.Errorf("models consulted during crisis: drafter=%d critic=%d", drafter.calls, critic.calls)
	}
}

func TestRunApprovedFirstAttempt(t *testing.T) {
	drafter := &fakeDrafter{drafts: []cbt.Draft{{Content: "ответ", Technique: "Валидация"}}}
	critic := &fakeCritic{verdicts: []cbt.Verdict{{Approved: true}}}
	ctrl := newTestController(t, drafter, critic)

	out, err := ctrl.Run(context.Background(), TurnContext{TurnID: "t1"}, calmSnapshot(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind != OutcomeApproved {
		t.Errorf("kind = %v, want approved", out.Kind)
	}
	if out.Text != "ответ" {
		t.Errorf("text = %q", out.Text)
	}
	if out.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", out.Iterations)
	}
	if drafter.calls != 1 || critic.calls != 1 {
		t.Errorf("calls: drafter=%d critic=%d, want 1/1", drafter.calls, critic.calls)
	}
}

func TestRunApprovedAfterRetry(t *testing.T) {
	drafter := &fakeDrafter{drafts: []cbt.Draft{
		{Content: "первый"},
		{Content: "второй"},
	}}
	critic := &fakeCritic{verdicts: []cbt.Verdict{
		{Approved: false, Feedback: "сначала валидация"},
		{Approved: true},
	}}
	ctrl := newTestController(t, drafter, critic)

	out, err := ctrl.Run(context.Background(), TurnContext{TurnID: "t1"}, calmSnapshot(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind != OutcomeApproved || out.Text != "второй" || out.Iterations != 1 {
		t.Errorf("outcome = %+v, want approved %q at iteration 1", out, "второй")
	}
}

func TestRunFeedbackPropagatedVerbatim(t *testing.T) {
	drafter := &fakeDrafter{}
	critic := &fakeCritic{verdicts: []cbt.Verdict{
		{Approved: false, Feedback: "замечание один"},
		{Approved: false, Feedback: "замечание два"},
		{Approved: false, Feedback: "замечание три"},
	}}
	ctrl := newTestController(t, drafter, critic)

	out, err := ctrl.Run(context.Background(), TurnContext{TurnID: "t1"}, calmSnapshot(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind != OutcomeFallback {
		t.Fatalf("kind = %v, want fallback", out.Kind)
	}
	if out.Text != "draft 2" || out.Iterations != 2 {
		t.Errorf("fallback = %q at %d, want last draft at iteration 2", out.Text, out.Iterations)
	}

	want := [][]string{
		{},
		{"замечание один"},
		{"замечание один", "замечание два"},
	}
	if len(drafter.feedback) != len(want) {
		t.Fatalf("draft attempts = %d, want %d", len(drafter.feedback), len(want))
	}
	for i, fb := range want {
		got := drafter.feedback[i]
		if len(got) != len(fb) {
			t.Errorf("attempt %d feedback = %v, want %v", i, got, fb)
			continue
		}
		for j := range fb {
			if got[j] != fb[j] {
				t.Errorf("attempt %d feedback[%d] = %q, want verbatim %q", i, j, got[j], fb[j])
			}
		}
	}
}

func TestRunIterationBound(t *testing.T) {
	drafter := &fakeDrafter{}
	critic := &fakeCritic{verdicts: []cbt.Verdict{
		{Approved: false, Feedback: "нет"},
		{Approved: false, Feedback: "нет"},
		{Approved: false, Feedback: "нет"},
		{Approved: false, Feedback: "нет"},
		{Approved: false, Feedback: "нет"},
	}}
	ctrl := newTestController(t, drafter, critic)

	if _, err := ctrl.Run(context.Background(), TurnContext{TurnID: "t1"}, calmSnapshot(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if drafter.calls != 3 {
		t.Errorf("drafter calls = %d, want exactly the budget of 3", drafter.calls)
	}
	if critic.calls != 3 {
		t.Errorf("critic calls = %d, want 3", critic.calls)
	}
}

func TestRunFirstDraftUnavailableIsFatal(t *testing.T) {
	drafter := &fakeDrafter{errs: []error{errors.New("model down")}}
	critic := &fakeCritic{}
	ctrl := newTestController(t, drafter, critic)

	_, err := ctrl.Run(context.Background(), TurnContext{TurnID: "t1"}, calmSnapshot(), nil)
	if !errors.Is(err, ErrDraftUnavailable) {
		t.Fatalf("err = %v, want ErrDraftUnavailable", err)
	}
	if critic.calls != 0 {
		t.Errorf("critic called %d times with no draft to judge", critic.calls)
	}
}

func TestRunRetryDraftFailureFallsBackToLastCandidate(t *testing.T) {
	drafter := &fakeDrafter{
		drafts: []cbt.Draft{{Content: "единственный"}},
		errs:   []error{nil, errors.New("model down")},
	}
	critic := &fakeCritic{verdicts: []cbt.Verdict{
		{Approved: false, Feedback: "исправь"},
	}}
	ctrl := newTestController(t, drafter, critic)

	out, err := ctrl.Run(context.Background(), TurnContext{TurnID: "t1"}, calmSnapshot(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind != OutcomeFallback || out.Text != "единственный" || out.Iterations != 0 {
		t.Errorf("outcome = %+v, want fallback to the attempt-0 draft", out)
	}
}

func TestRunCritiqueErrorNeverApproves(t *testing.T) {
	drafter := &fakeDrafter{}
	critic := &fakeCritic{errs: []error{
		errors.New("timeout"),
		errors.New("timeout"),
		errors.New("timeout"),
	}}
	ctrl := newTestController(t, drafter, critic)

	out, err := ctrl.Run(context.Background(), TurnContext{TurnID: "t1"}, calmSnapshot(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind == OutcomeApproved {
		t.Fatal("unreachable critique produced an approval")
	}
	if out.Kind != OutcomeFallback {
		t.Errorf("kind = %v, want fallback", out.Kind)
	}
	// Implicit rejections still feed generic guidance into retries.
	if len(drafter.feedback) != 3 || len(drafter.feedback[2]) != 2 {
		t.Errorf("feedback chain = %v, want generic feedback accumulating", drafter.feedback)
	}
}

func TestRunStatusStages(t *testing.T) {
	drafter := &fakeDrafter{}
	critic := &fakeCritic{}
	ctrl := newTestController(t, drafter, critic)

	var stages []string
	status := func(stage string) { stages = append(stages, stage) }

	if _, err := ctrl.Run(context.Background(), TurnContext{TurnID: "t1"}, calmSnapshot(), status); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{StageDrafting, StageReviewing}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages[%d] = %q, want %q", i, stages[i], want[i])
		}
	}
}
