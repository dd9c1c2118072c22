package auth

import (
	"context"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
)

// Policy decides whether a principal may read or write an entity.
// Implementations must not fetch anything: the entity passed in carries every
// association the policy declared it needs.
type Policy interface {
	ReadableBy(ctx context.Context, e *entity.Entity, p *Principal) bool
	WritableBy(ctx context.Context, e *entity.Entity, p *Principal) bool
}

// PolicySource looks up the policy registered for an entity type.
// It returns nil for unrestricted types.
type PolicySource interface {
	PolicyFor(typeName string) Policy
}

// CheckFunc is a single capability check
type CheckFunc func(ctx context.Context, e *entity.Entity, p *Principal) bool

// Funcs adapts a pair of functions to Policy. A nil function allows access.
type Funcs struct {
	Read  CheckFunc
	Write CheckFunc
}

// ReadableBy implements Policy
func (f Funcs) ReadableBy(ctx context.Context, e *entity.Entity, p *Principal) bool {
	return f.Read == nil || f.Read(ctx, e, p)
}

// WritableBy implements Policy
func (f Funcs) WritableBy(ctx context.Context, e *entity.Entity, p *Principal) bool {
	return f.Write == nil || f.Write(ctx, e, p)
}

// AllOf combines policies so that every one of them has to allow access
func AllOf(policies ...Policy) Policy {
	return allOf(policies)
}

type allOf []Policy

func (a allOf) ReadableBy(ctx context.Context, e *entity.Entity, p *Principal) bool {
	for _, policy := range a {
		if policy != nil && !policy.ReadableBy(ctx, e, p) {
			return false
		}
	}
	return true
}

func (a allOf) WritableBy(ctx context.Context, e *entity.Entity, p *Principal) bool {
	for _, policy := range a {
		if policy != nil && !policy.WritableBy(ctx, e, p) {
			return false
		}
	}
	return true
}

// Gate answers capability questions for any registered entity type.
// Types without a policy are readable and writable by everyone. A nil Gate
// allows everything.
type Gate struct {
	source PolicySource
	global []Policy
}

// NewGate creates a gate over the per-type policies of source. Global
// policies apply to every type in addition to its own policy.
func NewGate(source PolicySource, global ...Policy) *Gate {
	return &Gate{source: source, global: global}
}

// ReadableBy reports whether p may read e
func (g *Gate) ReadableBy(ctx context.Context, e *entity.Entity, p *Principal) bool {
	if e == nil {
		return true
	}
	if e.Unauthorized {
		return false
	}
	policy := g.policyFor(e.Type)
	return policy == nil || policy.ReadableBy(ctx, e, p)
}

// WritableBy reports whether p may write e
func (g *Gate) WritableBy(ctx context.Context, e *entity.Entity, p *Principal) bool {
	if e == nil {
		return true
	}
	if e.Unauthorized {
		return false
	}
	policy := g.policyFor(e.Type)
	return policy == nil || policy.WritableBy(ctx, e, p)
}

func (g *Gate) policyFor(typeName string) Policy {
	if g == nil {
		return nil
	}
	var own Policy
	if g.source != nil {
		own = g.source.PolicyFor(typeName)
	}
	if len(g.global) == 0 {
		return own
	}
	if own == nil {
		return allOf(g.global)
	}
	return allOf(append([]Policy{own}, g.global...))
}
