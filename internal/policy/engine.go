// Package policy evaluates the reap policy for stale instances.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Reap decisions.
const (
	DecisionTerminate     = "terminate"      // mark terminal only
	DecisionKillTerminate = "kill_terminate" // signal the process, then mark terminal
	DecisionSkip          = "skip"           // leave for a later tick (grace)
)

// Engine is the OPA policy engine for reap decisions.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is the evaluation input for one stale instance.
type Input struct {
	InstanceID string `json:"instance_id"`
	TaskListID string `json:"task_list_id"`
	StaleForMs int64  `json:"stale_for_ms"`
	HasPID     bool   `json:"has_pid"`
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.reap_policy.decision"),
		rego.Module("reap_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the reap decision for a stale instance. An evaluation
// error or an unexpected result falls back to DecisionTerminate: reaping must
// not depend on a policy engine that can itself fail.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return DecisionTerminate, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionTerminate, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		switch s {
		case DecisionTerminate, DecisionKillTerminate, DecisionSkip:
			return s, nil
		}
	}
	return DecisionTerminate, nil
}

// DefaultPolicy is the default reap policy: signal the process when we hold a
// handle for it, otherwise just mark the instance terminal.
const DefaultPolicy = `
package reap_policy

default decision = "terminate"

decision = "kill_terminate" {
	input.has_pid
}
`
