// Package llm implements the output-comparison judge on top of the Anthropic
// Messages API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hochfrequenz/pulse-orchestrator/internal/compare"
	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

const judgeSystemPrompt = `You compare two captures of the same build/lint/test command: a recorded baseline and a current run.
Decide whether they represent the same real-world outcome.

Ignore timing differences, test ordering, progress indicators, and cosmetic formatting.
Focus on real errors, failures, and warnings.
Tests that were failing in the baseline but pass in the current run are improvements, not new issues.

Respond with a single JSON object and nothing else:
{"areEquivalent": bool, "isStrictlyImprovement": bool, "newIssues": ["..."]}`

// Client is the Anthropic-backed comparison judge
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClient creates a judge using the given API key and model
func NewClient(apiKey, model string) *Client {
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 1024,
	}
}

// JudgeEquivalence submits both raw captures and parses the structured verdict
func (c *Client) JudgeEquivalence(ctx context.Context, req compare.JudgeRequest) (domain.ComparisonResult, error) {
	prompt := buildPrompt(req)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: judgeSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return domain.ComparisonResult{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return parseVerdict(text.String())
}

func buildPrompt(req compare.JudgeRequest) string {
	return fmt.Sprintf(`Command: %s

=== BASELINE (exit code %d) ===
stdout:
%s
stderr:
%s

=== CURRENT (exit code %d) ===
stdout:
%s
stderr:
%s`,
		req.Command,
		req.Baseline.ExitCode, req.Baseline.Stdout, req.Baseline.Stderr,
		req.Current.ExitCode, req.Current.Stdout, req.Current.Stderr)
}

// parseVerdict extracts the JSON object from the model response, tolerating
// fenced code blocks and surrounding prose.
func parseVerdict(text string) (domain.ComparisonResult, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return domain.ComparisonResult{}, fmt.Errorf("no JSON object in judge response: %q", text)
	}

	var result domain.ComparisonResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return domain.ComparisonResult{}, fmt.Errorf("parsing judge response: %w", err)
	}
	return result, nil
}
