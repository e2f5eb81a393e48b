package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/codeflow"
)

const reviewerSystem = `You are a strict code reviewer.
You receive an instruction and a description of the changes made for it.
Judge whether the changes correctly and completely satisfy the instruction.
Respond with a single JSON object and nothing else:
{"approved": true|false, "comments": "...", "severity": "minor"|"major"|"critical"}
Leave severity empty when approving.`

// Reviewer implements codeflow.Reviewer with an LLM. Reviews always run in a
// fresh session so the reviewer judges the change description on its own
// merits, without the producer's conversational context.
type Reviewer struct {
	client *Client
}

func NewReviewer(client *Client) *Reviewer {
	return &Reviewer{client: client}
}

type reviewResponse struct {
	Approved bool   `json:"approved"`
	Comments string `json:"comments"`
	Severity string `json:"severity"`
}

func (r *Reviewer) Review(ctx context.Context, changeDescription, instruction, sessionToken string) (*codeflow.ReviewOutcome, error) {
	prompt := fmt.Sprintf("Instruction:\n%s\n\nChanges made:\n%s", instruction, changeDescription)
	text, _, err := r.client.send(ctx, reviewerSystem, prompt, "")
	if err != nil {
		return nil, err
	}
	parsed, err := parseReviewResponse(text)
	if err != nil {
		return nil, err
	}
	return &codeflow.ReviewOutcome{
		Approved:     parsed.Approved,
		Comments:     parsed.Comments,
		Severity:     parsed.Severity,
		SessionToken: sessionToken,
	}, nil
}

// parseReviewResponse extracts the JSON verdict, tolerating surrounding
// prose or code fences.
func parseReviewResponse(text string) (*reviewResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("review response contains no JSON object: %q", text)
	}
	var parsed reviewResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse review response: %w", err)
	}
	return &parsed, nil
}
