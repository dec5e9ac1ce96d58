package store

import (
	"errors"
	"testing"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndListPulses(t *testing.T) {
	s := newTestStore(t)

	pulses, err := s.CreatePulses("wf-1", []string{"add parser", "wire CLI", "docs"})
	if err != nil {
		t.Fatal(err)
	}
	if len(pulses) != 3 {
		t.Fatalf("created %d pulses, want 3", len(pulses))
	}

	listed, err := s.ListPulses("wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 3 {
		t.Fatalf("listed %d pulses, want 3", len(listed))
	}
	if listed[0].Description != "add parser" || listed[2].Description != "docs" {
		t.Errorf("pulses out of creation order: %q, %q, %q",
			listed[0].Description, listed[1].Description, listed[2].Description)
	}
	for _, p := range listed {
		if p.Status != domain.PulseProposed {
			t.Errorf("pulse %s status = %s, want proposed", p.ID, p.Status)
		}
	}
}

func TestStore_NextProposedPulse(t *testing.T) {
	s := newTestStore(t)

	next, err := s.NextProposedPulse("wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("empty workflow returned pulse %v, want nil", next)
	}

	pulses, _ := s.CreatePulses("wf-1", []string{"first", "second"})

	next, err = s.NextProposedPulse("wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != pulses[0].ID {
		t.Fatalf("next pulse = %v, want %s", next, pulses[0].ID)
	}

	if err := s.StartPulse(next.ID, "pulse/wf-1-1", "/tmp/wt"); err != nil {
		t.Fatal(err)
	}

	next, _ = s.NextProposedPulse("wf-1")
	if next == nil || next.ID != pulses[1].ID {
		t.Fatalf("next pulse after start = %v, want %s", next, pulses[1].ID)
	}
}

func TestStore_StatusTransitionGuards(t *testing.T) {
	s := newTestStore(t)
	pulses, _ := s.CreatePulses("wf-1", []string{"only"})
	id := pulses[0].ID

	// Completing a proposed pulse is illegal
	err := s.CompletePulse(id, "abc123", "msg")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("CompletePulse on proposed = %v, want ErrIllegalTransition", err)
	}

	if err := s.StartPulse(id, "branch", "/wt"); err != nil {
		t.Fatal(err)
	}

	// Starting twice is illegal
	if err := s.StartPulse(id, "branch", "/wt"); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("double StartPulse = %v, want ErrIllegalTransition", err)
	}

	if err := s.CompletePulse(id, "abc123", "feat: done"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetPulse(id)
	if got.Status != domain.PulseSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if got.CommitSHA != "abc123" {
		t.Errorf("commit sha = %q, want abc123", got.CommitSHA)
	}
	if got.Description != "feat: done" {
		t.Errorf("description = %q, want commit message", got.Description)
	}

	// Terminal states are final
	if err := s.FailPulse(id, ""); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("FailPulse on succeeded = %v, want ErrIllegalTransition", err)
	}
}

func TestStore_FailAndStopRecordRecoverySHA(t *testing.T) {
	s := newTestStore(t)
	pulses, _ := s.CreatePulses("wf-1", []string{"a", "b"})

	s.StartPulse(pulses[0].ID, "br-a", "/wt")
	if err := s.FailPulse(pulses[0].ID, "rec111"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetPulse(pulses[0].ID)
	if got.Status != domain.PulseFailed || got.RecoveryCommitSHA != "rec111" {
		t.Errorf("got status=%s recovery=%q, want failed/rec111", got.Status, got.RecoveryCommitSHA)
	}

	s.StartPulse(pulses[1].ID, "br-b", "/wt")
	if err := s.StopPulse(pulses[1].ID, ""); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetPulse(pulses[1].ID)
	if got.Status != domain.PulseStopped || got.RecoveryCommitSHA != "" {
		t.Errorf("got status=%s recovery=%q, want stopped/empty", got.Status, got.RecoveryCommitSHA)
	}
}

func TestStore_IncrementRejectionCount(t *testing.T) {
	s := newTestStore(t)
	pulses, _ := s.CreatePulses("wf-1", []string{"a"})
	id := pulses[0].ID
	s.StartPulse(id, "br", "/wt")

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementRejectionCount(id)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("rejection count = %d, want %d", got, want)
		}
	}
}

func TestStore_SetUnresolvedIssuesRequiresSucceeded(t *testing.T) {
	s := newTestStore(t)
	pulses, _ := s.CreatePulses("wf-1", []string{"a"})
	id := pulses[0].ID

	// The flag only exists on a succeeded pulse
	if err := s.SetUnresolvedIssues(id); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("SetUnresolvedIssues on proposed = %v, want ErrIllegalTransition", err)
	}

	s.StartPulse(id, "br", "/wt")
	if err := s.SetUnresolvedIssues(id); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("SetUnresolvedIssues on running = %v, want ErrIllegalTransition", err)
	}

	s.CompletePulse(id, "sha", "feat: done")
	if err := s.SetUnresolvedIssues(id); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetPulse(id)
	if !got.HasUnresolvedIssues {
		t.Error("flag not set on succeeded pulse")
	}
}

func TestStore_PreflightSetupRoundTrip(t *testing.T) {
	s := newTestStore(t)

	setup := &domain.PreflightSetup{
		WorkflowID: "wf-1",
		SessionID:  "sess-1",
		Commands: []domain.VerificationCommand{
			{Command: "npm run build", Source: domain.SourceBuild},
			{Command: "npm run lint", Source: domain.SourceLint},
			{Command: "npm test", Source: domain.SourceTest},
		},
	}
	if err := s.SavePreflightSetup(setup); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPreflightSetup("wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Commands) != 3 {
		t.Fatalf("commands = %d, want 3", len(got.Commands))
	}
	if got.Commands[0].Command != "npm run build" || got.Commands[2].Source != domain.SourceTest {
		t.Errorf("commands out of order: %+v", got.Commands)
	}

	_, err = s.GetPreflightSetup("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing setup = %v, want ErrNotFound", err)
	}
}

func TestStore_BaselineOutputs(t *testing.T) {
	s := newTestStore(t)

	out := domain.CommandOutput{Stdout: "ok", Stderr: "", ExitCode: 0}
	if err := s.SaveBaselineOutput("wf-1", "npm test", out); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetBaselineOutput("wf-1", "npm test")
	if err != nil {
		t.Fatal(err)
	}
	if got.Stdout != "ok" || got.ExitCode != 0 {
		t.Errorf("baseline = %+v", got)
	}

	// Overwrite
	out.ExitCode = 1
	s.SaveBaselineOutput("wf-1", "npm test", out)
	got, _ = s.GetBaselineOutput("wf-1", "npm test")
	if got.ExitCode != 1 {
		t.Errorf("exit code after overwrite = %d, want 1", got.ExitCode)
	}

	_, err = s.GetBaselineOutput("wf-1", "other")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing baseline = %v, want ErrNotFound", err)
	}
}

func TestStore_BaselineIssues(t *testing.T) {
	s := newTestStore(t)

	issues := []*domain.BaselineIssue{
		{WorkflowID: "wf-1", Source: domain.SourceBuild, Pattern: "TS2304", IssueType: domain.SeverityError, FilePath: "a.ts"},
		{WorkflowID: "wf-1", Source: domain.SourceLint, Pattern: "no-unused-vars", IssueType: domain.SeverityWarning},
	}
	if err := s.AddBaselineIssues(issues); err != nil {
		t.Fatal(err)
	}

	build, err := s.ListBaselineIssues("wf-1", domain.SourceBuild)
	if err != nil {
		t.Fatal(err)
	}
	if len(build) != 1 || build[0].Pattern != "TS2304" {
		t.Errorf("build issues = %+v", build)
	}

	lint, _ := s.ListBaselineIssues("wf-1", domain.SourceLint)
	if len(lint) != 1 || lint[0].FilePath != "" {
		t.Errorf("lint issues = %+v", lint)
	}
}

func TestStore_ConversationHistory(t *testing.T) {
	s := newTestStore(t)

	// Seven turns; only the last five assistant turns should come back
	for i := 0; i < 7; i++ {
		turn := &domain.Turn{SessionID: "sess-1", Role: "assistant"}
		if err := s.SaveTurn(turn); err != nil {
			t.Fatal(err)
		}
		call := &domain.ToolCall{
			TurnID:   turn.ID,
			ToolName: "bash",
			Output:   `{"stdout":"ok"}`,
			Success:  i%2 == 0,
		}
		if err := s.SaveToolCall(call); err != nil {
			t.Fatal(err)
		}
	}

	turns, err := s.RecentAssistantTurns("sess-1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 5 {
		t.Fatalf("turns = %d, want 5", len(turns))
	}

	calls, err := s.ToolCallsForTurn(turns[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0].ToolName != "bash" {
		t.Errorf("calls = %+v", calls)
	}
}
