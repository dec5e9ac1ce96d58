// Package compare decides whether two captures of a verification command
// represent the same real-world outcome, using a deterministic fast path and
// an LLM judgment for ambiguous cases.
package compare

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// errorKeywords trigger the fast rejection of an obvious regression when the
// baseline succeeded and the current run failed.
var errorKeywords = []string{
	"error", "failed", "failure", "exception", "fatal", "panic",
	"cannot", "could not", "unable to",
}

// JudgeRequest carries both raw captures to the LLM judge
type JudgeRequest struct {
	Command  string
	Baseline domain.CommandOutput
	Current  domain.CommandOutput
}

// Judge renders a structured equivalence judgment for ambiguous comparisons
type Judge interface {
	JudgeEquivalence(ctx context.Context, req JudgeRequest) (domain.ComparisonResult, error)
}

// Engine compares command outputs against recorded baselines
type Engine struct {
	judge      Judge
	cache      *resultCache
	retryDelay time.Duration
}

// NewEngine creates an Engine with the given judge and cache capacity
// (0 means DefaultCacheSize).
func NewEngine(judge Judge, cacheSize int) *Engine {
	return &Engine{
		judge:      judge,
		cache:      newResultCache(cacheSize),
		retryDelay: time.Second,
	}
}

// CompareOutputs decides whether current is behaviorally equivalent to the
// recorded baseline for a command. Steps short-circuit in order: obvious
// regression, differing exit codes, both succeeded, normalized identity,
// LLM judgment.
func (e *Engine) CompareOutputs(ctx context.Context, workflowID, command string, baseline, current domain.CommandOutput) (domain.ComparisonResult, error) {
	// Step 1: baseline succeeded, current failed with error-looking output.
	// Reject immediately without consulting the judge.
	if baseline.ExitCode == 0 && current.ExitCode != 0 && containsErrorKeyword(current.Combined()) {
		return domain.ComparisonResult{
			AreEquivalent: false,
			NewIssues: []string{fmt.Sprintf(
				"command %q previously succeeded but now exits with code %d and error output",
				command, current.ExitCode)},
		}, nil
	}

	// Step 2: differing exit codes without an obvious regression are
	// ambiguous; let the judge decide.
	if baseline.ExitCode != current.ExitCode {
		return e.judgeWithCache(ctx, workflowID, command, baseline, current)
	}

	// Step 3: success is success, regardless of textual differences
	if baseline.ExitCode == 0 {
		return domain.ComparisonResult{AreEquivalent: true}, nil
	}

	// Step 4: same non-zero exit; identical modulo noise means equivalent
	if StripNumbers(baseline.Combined()) == StripNumbers(current.Combined()) {
		return domain.ComparisonResult{AreEquivalent: true}, nil
	}

	// Step 5: text differs in a way normalization can't explain
	return e.judgeWithCache(ctx, workflowID, command, baseline, current)
}

func (e *Engine) judgeWithCache(ctx context.Context, workflowID, command string, baseline, current domain.CommandOutput) (domain.ComparisonResult, error) {
	key := cacheKey(workflowID, StripNumbers(baseline.Combined()), StripNumbers(current.Combined()))
	if cached, ok := e.cache.get(key); ok {
		return cached, nil
	}

	result, err := e.judge.JudgeEquivalence(ctx, JudgeRequest{Command: command, Baseline: baseline, Current: current})
	if err != nil {
		log.Printf("[compare] judge call failed, retrying once: %v", err)
		select {
		case <-time.After(e.retryDelay):
		case <-ctx.Done():
			return unavailableResult(ctx.Err()), nil
		}
		result, err = e.judge.JudgeEquivalence(ctx, JudgeRequest{Command: command, Baseline: baseline, Current: current})
	}
	if err != nil {
		// Never silently pass unverifiable output
		return unavailableResult(err), nil
	}

	// Only equivalent results are cached: a stale "equivalent" is cheap to
	// trust, a cached negative would keep blocking work that was fixed.
	if result.AreEquivalent {
		e.cache.put(key, result)
	}
	return result, nil
}

func unavailableResult(err error) domain.ComparisonResult {
	return domain.ComparisonResult{
		AreEquivalent: false,
		NewIssues: []string{fmt.Sprintf(
			"automated output comparison was unavailable (%v); treating outputs as non-equivalent", err)},
	}
}

func containsErrorKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
