package agents

import (
	"context"
	"strings"

	"github.com/deepnoodle-ai/codeflow"
)

const plannerSystem = `You are a senior software engineer producing an implementation plan.
Given a goal, write a concrete, ordered plan in markdown.
If the work decomposes into independent units, structure the plan with "## Task 1",
"## Task 2", ... headings, one per unit. If it is a single unit of work, use no
task headings at all.
End the plan with a "Key files:" line listing the files most relevant to the work,
comma separated. Do not include anything after that line.`

// Planner implements codeflow.Planner with an LLM.
type Planner struct {
	client *Client
}

func NewPlanner(client *Client) *Planner {
	return &Planner{client: client}
}

func (p *Planner) Plan(ctx context.Context, goal string) (*codeflow.PlanResult, error) {
	// Planning always starts a fresh session; plans must not inherit context
	// from prior runs.
	text, _, err := p.client.send(ctx, plannerSystem, goal, "")
	if err != nil {
		return nil, err
	}
	return &codeflow.PlanResult{
		PlanArtifact: text,
		KeyFiles:     extractKeyFiles(text),
	}, nil
}

// extractKeyFiles parses the trailing "Key files:" line of a plan.
func extractKeyFiles(plan string) []string {
	lines := strings.Split(plan, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		rest, ok := strings.CutPrefix(line, "Key files:")
		if !ok {
			return nil
		}
		var files []string
		for _, f := range strings.Split(rest, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				files = append(files, f)
			}
		}
		return files
	}
	return nil
}
