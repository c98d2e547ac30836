// Package policy evaluates the OPA send policy applied before a message is
// persisted.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// SendInput is the document evaluated for each send intent.
type SendInput struct {
	SenderID      string `json:"sender_id"`
	ReceiverID    string `json:"receiver_id"`
	BodyLength    int    `json:"body_length"`
	MaxBodyLength int    `json:"max_body_length"`
	HasAttachment bool   `json:"has_attachment"`
	NewContact    bool   `json:"new_contact"`
}

// NewEngine compiles policyContent. The module must define
// data.chat_policy.decision.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_policy.decision"),
		rego.Module("chat_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the decision for input and an optional reason.
func (e *Engine) Evaluate(ctx context.Context, input SendInput) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "no decision", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]any:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			decision = DecisionAllow
		}
		return decision, reason, nil
	default:
		return DecisionAllow, "unexpected return type", nil
	}
}

// DefaultPolicy blocks bodies longer than max_body_length.
const DefaultPolicy = `
package chat_policy

default decision = "allow"

decision = "block" {
	input.max_body_length > 0
	input.body_length > input.max_body_length
}
`
