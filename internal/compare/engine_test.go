package compare

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

type fakeJudge struct {
	calls  int
	result domain.ComparisonResult
	err    error
	failN  int // fail the first N calls
}

func (f *fakeJudge) JudgeEquivalence(ctx context.Context, req JudgeRequest) (domain.ComparisonResult, error) {
	f.calls++
	if f.calls <= f.failN {
		return domain.ComparisonResult{}, errors.New("transport failure")
	}
	if f.err != nil {
		return domain.ComparisonResult{}, f.err
	}
	return f.result, nil
}

func newTestEngine(j Judge) *Engine {
	e := NewEngine(j, 0)
	e.retryDelay = time.Millisecond
	return e
}

func TestCompareOutputs_BothSucceededAreEquivalent(t *testing.T) {
	judge := &fakeJudge{}
	e := newTestEngine(judge)

	baseline := domain.CommandOutput{Stdout: "ok (3ms)", ExitCode: 0}
	current := domain.CommandOutput{Stdout: "ok (250ms)", ExitCode: 0}

	result, err := e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)
	if err != nil {
		t.Fatal(err)
	}
	if !result.AreEquivalent {
		t.Error("both exit 0 must be equivalent")
	}
	if judge.calls != 0 {
		t.Errorf("judge called %d times, want 0", judge.calls)
	}

	// Even with completely different text
	current = domain.CommandOutput{Stdout: "totally different output", ExitCode: 0}
	result, _ = e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)
	if !result.AreEquivalent || judge.calls != 0 {
		t.Error("textual differences must not matter when both runs succeed")
	}
}

func TestCompareOutputs_ObviousRegressionSkipsJudge(t *testing.T) {
	judge := &fakeJudge{}
	e := newTestEngine(judge)

	baseline := domain.CommandOutput{Stdout: "ok", ExitCode: 0}
	current := domain.CommandOutput{Stderr: "Error: tests crashed", ExitCode: 1}

	result, err := e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)
	if err != nil {
		t.Fatal(err)
	}
	if result.AreEquivalent {
		t.Error("obvious regression judged equivalent")
	}
	if len(result.NewIssues) == 0 {
		t.Error("expected a synthesized issue message")
	}
	if judge.calls != 0 {
		t.Errorf("judge called %d times, want 0 (fast rejection)", judge.calls)
	}
}

func TestCompareOutputs_AmbiguousExitCodeGoesToJudge(t *testing.T) {
	judge := &fakeJudge{result: domain.ComparisonResult{AreEquivalent: true}}
	e := newTestEngine(judge)

	// Current failed but output contains no error keywords
	baseline := domain.CommandOutput{Stdout: "done", ExitCode: 0}
	current := domain.CommandOutput{Stdout: "done, 2 snapshots obsolete", ExitCode: 1}

	result, err := e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)
	if err != nil {
		t.Fatal(err)
	}
	if !result.AreEquivalent {
		t.Error("judge verdict not honored")
	}
	if judge.calls != 1 {
		t.Errorf("judge called %d times, want 1", judge.calls)
	}
}

func TestCompareOutputs_NormalizedIdenticalFailures(t *testing.T) {
	judge := &fakeJudge{}
	e := newTestEngine(judge)

	baseline := domain.CommandOutput{Stderr: "1 failed in 3ms", ExitCode: 1}
	current := domain.CommandOutput{Stderr: "1 failed in 78ms", ExitCode: 1}

	result, err := e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)
	if err != nil {
		t.Fatal(err)
	}
	if !result.AreEquivalent {
		t.Error("identical normalized failures must be equivalent")
	}
	if judge.calls != 0 {
		t.Errorf("judge called %d times, want 0", judge.calls)
	}
}

func TestCompareOutputs_JudgeRetriesOnceThenConservative(t *testing.T) {
	judge := &fakeJudge{failN: 2}
	e := newTestEngine(judge)

	baseline := domain.CommandOutput{Stderr: "failure A", ExitCode: 1}
	current := domain.CommandOutput{Stderr: "failure B", ExitCode: 1}

	result, err := e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)
	if err != nil {
		t.Fatal(err)
	}
	if judge.calls != 2 {
		t.Errorf("judge called %d times, want 2 (one retry)", judge.calls)
	}
	if result.AreEquivalent {
		t.Error("unavailable judge must be conservative")
	}
	if len(result.NewIssues) == 0 || !strings.Contains(result.NewIssues[0], "unavailable") {
		t.Errorf("issues = %v, want unavailability note", result.NewIssues)
	}
}

func TestCompareOutputs_JudgeRecoversOnRetry(t *testing.T) {
	judge := &fakeJudge{failN: 1, result: domain.ComparisonResult{AreEquivalent: true}}
	e := newTestEngine(judge)

	baseline := domain.CommandOutput{Stderr: "failure A", ExitCode: 1}
	current := domain.CommandOutput{Stderr: "failure B", ExitCode: 1}

	result, err := e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)
	if err != nil {
		t.Fatal(err)
	}
	if !result.AreEquivalent {
		t.Error("retry verdict not honored")
	}
	if judge.calls != 2 {
		t.Errorf("judge called %d times, want 2", judge.calls)
	}
}

func TestCompareOutputs_EquivalentResultsAreCached(t *testing.T) {
	judge := &fakeJudge{result: domain.ComparisonResult{AreEquivalent: true}}
	e := newTestEngine(judge)

	baseline := domain.CommandOutput{Stderr: "failure A", ExitCode: 1}
	current := domain.CommandOutput{Stderr: "failure B", ExitCode: 1}

	for i := 0; i < 3; i++ {
		result, err := e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)
		if err != nil {
			t.Fatal(err)
		}
		if !result.AreEquivalent {
			t.Fatal("expected equivalent")
		}
	}
	if judge.calls != 1 {
		t.Errorf("judge called %d times, want 1 (cache hit after first)", judge.calls)
	}
}

func TestCompareOutputs_NegativeResultsNotCached(t *testing.T) {
	judge := &fakeJudge{result: domain.ComparisonResult{AreEquivalent: false, NewIssues: []string{"regression"}}}
	e := newTestEngine(judge)

	baseline := domain.CommandOutput{Stderr: "failure A", ExitCode: 1}
	current := domain.CommandOutput{Stderr: "failure B", ExitCode: 1}

	e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)
	e.CompareOutputs(context.Background(), "wf", "npm test", baseline, current)

	if judge.calls != 2 {
		t.Errorf("judge called %d times, want 2 (negatives recomputed)", judge.calls)
	}
}

func TestCompareOutputs_CacheScopedByWorkflow(t *testing.T) {
	judge := &fakeJudge{result: domain.ComparisonResult{AreEquivalent: true}}
	e := newTestEngine(judge)

	baseline := domain.CommandOutput{Stderr: "failure A", ExitCode: 1}
	current := domain.CommandOutput{Stderr: "failure B", ExitCode: 1}

	e.CompareOutputs(context.Background(), "wf-1", "npm test", baseline, current)
	e.CompareOutputs(context.Background(), "wf-2", "npm test", baseline, current)

	if judge.calls != 2 {
		t.Errorf("judge called %d times, want 2 (distinct workflows)", judge.calls)
	}
}

func TestResultCache_Bounded(t *testing.T) {
	c := newResultCache(2)
	c.put("a", domain.ComparisonResult{AreEquivalent: true})
	c.put("b", domain.ComparisonResult{AreEquivalent: true})
	c.put("c", domain.ComparisonResult{AreEquivalent: true})

	if len(c.entries) > 2 {
		t.Errorf("cache size = %d, want <= 2", len(c.entries))
	}
	if _, ok := c.get("c"); !ok {
		t.Error("most recent entry evicted")
	}
}
