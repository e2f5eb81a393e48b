package codeflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// ApprovalPolicy is a compiled script evaluated at the approval gate. The
// script sees the workflow goal, the plan artifact, and the derived task
// count, and returns a truthy value to approve without human intervention. A
// falsy result leaves the workflow waiting for a human decision rather than
// rejecting it.
type ApprovalPolicy struct {
	code *compiler.Code
}

// approvalGlobalNames must match the globals passed at evaluation time.
var approvalGlobalNames = []string{"goal", "plan", "total_tasks"}

// CompileApprovalPolicy compiles an approval policy script.
func CompileApprovalPolicy(ctx context.Context, code string) (*ApprovalPolicy, error) {
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to parse approval policy: %w", err)
	}
	names := make([]string, len(approvalGlobalNames))
	copy(names, approvalGlobalNames)
	sort.Strings(names)

	compiled, err := compiler.Compile(ast, compiler.WithGlobalNames(names))
	if err != nil {
		return nil, fmt.Errorf("failed to compile approval policy: %w", err)
	}
	return &ApprovalPolicy{code: compiled}, nil
}

// Evaluate runs the policy against the current checkpoint.
func (p *ApprovalPolicy) Evaluate(ctx context.Context, cp *Checkpoint) (bool, error) {
	totalTasks := 0
	if cp.TotalTasks != nil {
		totalTasks = *cp.TotalTasks
	}
	globals := map[string]any{
		"goal":        cp.Goal,
		"plan":        cp.PlanArtifact,
		"total_tasks": totalTasks,
	}
	value, err := risor.EvalCode(ctx, p.code, risor.WithGlobals(globals))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate approval policy: %w", err)
	}
	return isTruthy(value), nil
}

func isTruthy(obj object.Object) bool {
	switch o := obj.(type) {
	case *object.Bool:
		return o.Value()
	case *object.Int:
		return o.Value() != 0
	case *object.Float:
		return o.Value() != 0.0
	case *object.String:
		return o.Value() != "" && o.Value() != "false"
	case *object.List:
		return len(o.Value()) > 0
	case *object.Map:
		return len(o.Value()) > 0
	case *object.NilType:
		return false
	default:
		return obj.IsTruthy()
	}
}
