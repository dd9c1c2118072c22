package auth

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
)

// RegoQuery is the rule every policy module must define. It is evaluated
// with input.action set to "read" or "write".
const RegoQuery = "allow = data.objgraph.authz.allow"

// RegoPolicy evaluates entity access with an Open Policy Agent module.
// Evaluation errors are logged and deny access.
type RegoPolicy struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewRegoPolicy compiles the policy module read from src
func NewRegoPolicy(ctx context.Context, src io.Reader, logger *zap.Logger) (*RegoPolicy, error) {
	module, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("unable to read authz policies: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	query, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module("objgraph.rego", string(module)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile authz policies: %w", err)
	}

	return &RegoPolicy{query: query, logger: logger}, nil
}

// ReadableBy implements Policy
func (r *RegoPolicy) ReadableBy(ctx context.Context, e *entity.Entity, p *Principal) bool {
	return r.allowed(ctx, "read", e, p)
}

// WritableBy implements Policy
func (r *RegoPolicy) WritableBy(ctx context.Context, e *entity.Entity, p *Principal) bool {
	return r.allowed(ctx, "write", e, p)
}

func (r *RegoPolicy) allowed(ctx context.Context, action string, e *entity.Entity, p *Principal) bool {
	input := map[string]any{
		"action": action,
		"entity": policyInput(e, true),
	}
	if p != nil {
		input["principal"] = map[string]any{"name": p.Name, "roles": p.Roles}
	}

	results, err := r.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		r.logger.Error("opa eval failed",
			zap.String("type", e.Type),
			zap.Int64("id", e.ID),
			zap.Error(err))
		return false
	}
	if len(results) == 0 {
		return false
	}

	allowed, ok := results[0].Bindings["allow"].(bool)
	return ok && allowed
}

// policyInput flattens an entity for policy evaluation. Loaded to-one
// targets are included one level deep so policies can delegate to a parent.
func policyInput(e *entity.Entity, nested bool) map[string]any {
	attrs := make(map[string]any, len(e.Attributes))
	for k, v := range e.Attributes {
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		attrs[k] = v
	}

	out := map[string]any{
		"type":       e.Type,
		"id":         e.ID,
		"version":    e.Version,
		"attributes": attrs,
	}

	if nested {
		assocs := make(map[string]any, len(e.Associations))
		for name, a := range e.Associations {
			if a.Many {
				assocs[name] = a.IDs()
				continue
			}
			if len(a.Refs) == 0 {
				assocs[name] = nil
				continue
			}
			ref := a.Refs[0]
			if ref.IsLoaded() {
				assocs[name] = policyInput(ref.Target, false)
			} else {
				assocs[name] = map[string]any{"id": ref.ID}
			}
		}
		out["associations"] = assocs
	}

	return out
}
