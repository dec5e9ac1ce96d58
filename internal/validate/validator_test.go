package validate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

type fakeSource struct {
	pulse      *domain.Pulse
	rejections int
	turns      []*domain.Turn
	calls      map[string][]*domain.ToolCall
}

func (f *fakeSource) GetPulse(id string) (*domain.Pulse, error) {
	return f.pulse, nil
}

func (f *fakeSource) IncrementRejectionCount(id string) (int, error) {
	f.rejections++
	f.pulse.RejectionCount++
	return f.pulse.RejectionCount, nil
}

func (f *fakeSource) RecentAssistantTurns(sessionID string, n int) ([]*domain.Turn, error) {
	if len(f.turns) > n {
		return f.turns[len(f.turns)-n:], nil
	}
	return f.turns, nil
}

func (f *fakeSource) ToolCallsForTurn(turnID string) ([]*domain.ToolCall, error) {
	return f.calls[turnID], nil
}

func newFake(rejectionCount int) *fakeSource {
	return &fakeSource{
		pulse: &domain.Pulse{ID: "p1", Status: domain.PulseRunning, RejectionCount: rejectionCount},
		calls: make(map[string][]*domain.ToolCall),
	}
}

func (f *fakeSource) addTurn(calls ...*domain.ToolCall) {
	id := fmt.Sprintf("turn-%d", len(f.turns))
	f.turns = append(f.turns, &domain.Turn{ID: id, SessionID: "s1", Role: "assistant"})
	f.calls[id] = calls
}

func TestValidateCompletion_CleanHistoryAccepts(t *testing.T) {
	src := newFake(0)
	src.addTurn(&domain.ToolCall{ToolName: "bash", Success: true})
	v := New(src, src)

	result, err := v.ValidateCompletion(context.Background(), "p1", "s1", false)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Errorf("clean history rejected: %s", result.RejectionReason)
	}
}

func TestValidateCompletion_LatestShellRunWins(t *testing.T) {
	src := newFake(0)
	// Failing shell call in turn N, successful rerun in turn N+2
	src.addTurn(&domain.ToolCall{ToolName: "bash", Success: false, Output: `{"error":"tests failed"}`})
	src.addTurn(&domain.ToolCall{ToolName: "edit", Success: true, Input: `{"file_path":"a.go"}`})
	src.addTurn(&domain.ToolCall{ToolName: "bash", Success: true})
	v := New(src, src)

	result, err := v.ValidateCompletion(context.Background(), "p1", "s1", false)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Errorf("earlier shell failure blocked completion despite successful rerun: %s", result.RejectionReason)
	}
	if len(result.Failures) != 0 {
		t.Errorf("failures = %+v, want none", result.Failures)
	}
}

func TestValidateCompletion_PerFileTargets(t *testing.T) {
	src := newFake(0)
	// a.go fixed later, b.go still failing
	src.addTurn(
		&domain.ToolCall{ToolName: "edit", Success: false, Input: `{"file_path":"a.go"}`, Output: `{"error":"no match"}`},
		&domain.ToolCall{ToolName: "edit", Success: false, Input: `{"file_path":"b.go"}`, Output: `{"error":"no match"}`},
	)
	src.addTurn(&domain.ToolCall{ToolName: "edit", Success: true, Input: `{"file_path":"a.go"}`})
	v := New(src, src)

	result, err := v.ValidateCompletion(context.Background(), "p1", "s1", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Fatal("b.go failure should block completion")
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %+v, want exactly b.go", result.Failures)
	}
	if result.Failures[0].Target != "edit:b.go" {
		t.Errorf("failure target = %q, want edit:b.go", result.Failures[0].Target)
	}
	if !strings.Contains(result.RejectionReason, "no match") {
		t.Errorf("rejection reason missing tool error: %s", result.RejectionReason)
	}
}

func TestValidateCompletion_OnlyLastFiveTurnsScanned(t *testing.T) {
	src := newFake(0)
	// Old failure pushed out of the window by five clean turns
	src.addTurn(&domain.ToolCall{ToolName: "bash", Success: false, Output: `{"error":"ancient"}`})
	for i := 0; i < 5; i++ {
		src.addTurn(&domain.ToolCall{ToolName: "edit", Success: true, Input: fmt.Sprintf(`{"file_path":"f%d.go"}`, i)})
	}
	v := New(src, src)

	result, err := v.ValidateCompletion(context.Background(), "p1", "s1", false)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Errorf("failure outside five-turn window blocked completion: %s", result.RejectionReason)
	}
}

func TestValidateCompletion_NonFailureCapableToolsIgnored(t *testing.T) {
	src := newFake(0)
	src.addTurn(&domain.ToolCall{ToolName: "read", Success: false, Output: `{"error":"not found"}`})
	v := New(src, src)

	result, _ := v.ValidateCompletion(context.Background(), "p1", "s1", false)
	if !result.Valid {
		t.Error("read failures must not block completion")
	}
}

func TestValidateCompletion_EscapeHatch(t *testing.T) {
	// Below threshold: preemptive acknowledgment refused
	src := newFake(1)
	v := New(src, src)

	result, err := v.ValidateCompletion(context.Background(), "p1", "s1", true)
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Error("escape hatch invoked preemptively")
	}
	if result.EscapeHatchAvailable {
		t.Error("escape hatch reported available at 1 rejection")
	}
	if !strings.Contains(result.RejectionReason, "Keep working") {
		t.Errorf("rejection reason = %q", result.RejectionReason)
	}

	// At threshold: acknowledgment accepted without re-scanning history
	src = newFake(2)
	src.addTurn(&domain.ToolCall{ToolName: "bash", Success: false, Output: `{"error":"still broken"}`})
	v = New(src, src)

	result, err = v.ValidateCompletion(context.Background(), "p1", "s1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || !result.EscapeHatchAvailable {
		t.Errorf("result = %+v, want valid with escape hatch", result)
	}
}

func TestValidateCompletion_RejectionMentionsHatchWhenAvailable(t *testing.T) {
	src := newFake(2)
	src.addTurn(&domain.ToolCall{ToolName: "bash", Success: false, Output: `{"error":"flaky"}`})
	v := New(src, src)

	result, _ := v.ValidateCompletion(context.Background(), "p1", "s1", false)
	if result.Valid {
		t.Fatal("failing shell call accepted")
	}
	if !strings.Contains(result.RejectionReason, "hasUnresolvedIssues=true") {
		t.Errorf("rejection should mention the escape hatch: %s", result.RejectionReason)
	}

	// Below threshold the hint is absent
	src = newFake(0)
	src.addTurn(&domain.ToolCall{ToolName: "bash", Success: false, Output: `{"error":"flaky"}`})
	v = New(src, src)
	result, _ = v.ValidateCompletion(context.Background(), "p1", "s1", false)
	if strings.Contains(result.RejectionReason, "hasUnresolvedIssues=true") {
		t.Error("escape hatch hinted before threshold")
	}
}

func TestValidateCompletion_AcknowledgmentNeedsNoSession(t *testing.T) {
	// Hatch eligibility depends only on the rejection count, so an
	// acknowledged completion must work without conversation history.
	src := newFake(EscapeHatchThreshold)
	v := New(src, src)

	result, err := v.ValidateCompletion(context.Background(), "p1", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || !result.EscapeHatchAvailable {
		t.Errorf("result = %+v, want valid acknowledgment", result)
	}
}

func TestRejectCompletion_IncrementsCounter(t *testing.T) {
	src := newFake(0)
	v := New(src, src)

	n, err := v.RejectCompletion(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || src.rejections != 1 {
		t.Errorf("count = %d, rejections = %d", n, src.rejections)
	}
}

func TestLatestByKey_LastWins(t *testing.T) {
	l := newLatestByKey()
	first := &domain.ToolCall{ID: "1", ToolName: "bash", Success: false}
	second := &domain.ToolCall{ID: "2", ToolName: "bash", Success: true}
	other := &domain.ToolCall{ID: "3", ToolName: "edit", Success: false}

	l.put("shell", first)
	l.put("edit:a.go", other)
	l.put("shell", second)

	vals := l.values()
	if len(vals) != 2 {
		t.Fatalf("values = %d, want 2", len(vals))
	}
	// Insertion order preserved, value overwritten
	if vals[0].ID != "2" || vals[1].ID != "3" {
		t.Errorf("values = %s, %s; want 2, 3", vals[0].ID, vals[1].ID)
	}
}
