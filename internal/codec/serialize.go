package codec

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
	"github.com/conduit-lang/objgraph/internal/orm/store"
)

// Serialize converts e into a tree for principal p.
//
// Eager associations are written inline when loaded. A lazy association is
// written inline when include names it, left out when exclude names it and
// written as a reference token otherwise. Tokens never trigger a load. An
// association whose targets are not loaded, or that leads back to an entity
// already being written, falls back to a token.
func (c *Codec) Serialize(ctx context.Context, e *entity.Entity, include, exclude Paths, p *auth.Principal) (Node, error) {
	if e == nil {
		return nil, nil
	}
	return c.serialize(ctx, e, include, exclude, p, nil, false)
}

// SerializeFlat serializes entities with every association, eager ones
// included, written as a reference token.
func (c *Codec) SerializeFlat(ctx context.Context, ents []*entity.Entity, p *auth.Principal) ([]Node, error) {
	return c.serializeAll(ctx, ents, func(ctx context.Context, e *entity.Entity) (Node, error) {
		if e == nil {
			return nil, nil
		}
		return c.serialize(ctx, e, nil, nil, p, nil, true)
	})
}

// SerializeAll serializes every entity in order. Top level entities are
// independent of each other and are processed concurrently.
func (c *Codec) SerializeAll(ctx context.Context, ents []*entity.Entity, include, exclude Paths, p *auth.Principal) ([]Node, error) {
	return c.serializeAll(ctx, ents, func(ctx context.Context, e *entity.Entity) (Node, error) {
		return c.Serialize(ctx, e, include, exclude, p)
	})
}

func (c *Codec) serializeAll(ctx context.Context, ents []*entity.Entity, one func(context.Context, *entity.Entity) (Node, error)) ([]Node, error) {
	out := make([]Node, len(ents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, e := range ents {
		g.Go(func() error {
			node, err := one(gctx, e)
			if err != nil {
				return err
			}
			out[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Codec) serialize(ctx context.Context, e *entity.Entity, include, exclude Paths, p *auth.Principal, ancestors []*entity.Entity, flat bool) (Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Unauthorized || !c.gate.ReadableBy(ctx, e, p) {
		return unauthorizedNode(e), nil
	}

	t, ok := c.meta.Type(e.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownType, e.Type)
	}

	node := Node{
		KeyType:      e.Type,
		KeyID:        e.ID,
		KeyVersion:   e.Version,
		KeyCreatedAt: e.CreatedAt,
		KeyUpdatedAt: e.UpdatedAt,
	}

	for _, f := range t.Fields {
		if f.Hidden {
			continue
		}
		switch f.Kind {
		case schema.KindScalar:
			node[f.Name] = e.Attributes[f.Name]
		case schema.KindVirtual:
			node[f.Name] = f.Virtual(e)
		case schema.KindToOne, schema.KindToMany:
			if flat {
				writeToken(node, e.Associations[f.Name], f)
				continue
			}
			inline := f.IsEager() || include.Has(f.Name)
			if !inline && exclude.Has(f.Name) {
				continue
			}
			if err := c.writeAssociation(ctx, node, e, f, inline, include, exclude, p, ancestors); err != nil {
				return nil, err
			}
		}
	}
	return node, nil
}

func (c *Codec) writeAssociation(ctx context.Context, node Node, e *entity.Entity, f *schema.Field, inline bool, include, exclude Paths, p *auth.Principal, ancestors []*entity.Entity) error {
	a := e.Associations[f.Name]
	chain := append(ancestors[:len(ancestors):len(ancestors)], e)

	if inline && inlinable(a, chain) {
		sub, subExclude := include.Sub(f.Name), exclude.Sub(f.Name)
		if f.Kind == schema.KindToOne {
			if a.Empty() {
				node[f.Name] = nil
				return nil
			}
			child, err := c.serialize(ctx, a.Refs[0].Target, sub, subExclude, p, chain, false)
			if err != nil {
				return err
			}
			node[f.Name] = child
			return nil
		}

		children := make([]Node, 0, len(a.Refs))
		for _, r := range a.Refs {
			child, err := c.serialize(ctx, r.Target, sub, subExclude, p, chain, false)
			if err != nil {
				return err
			}
			children = append(children, child)
		}
		node[f.Name] = children
		return nil
	}

	writeToken(node, a, f)
	return nil
}

func writeToken(node Node, a *entity.Association, f *schema.Field) {
	if f.Kind == schema.KindToOne {
		if a.Empty() {
			node[RefIDKey(f.Name)] = nil
		} else {
			node[RefIDKey(f.Name)] = a.Refs[0].ID
		}
		return
	}
	ids := []int64{}
	if a != nil {
		ids = a.IDs()
	}
	node[RefIDsKey(f.Name)] = ids
}

// inlinable reports whether every target is loaded and none of them is
// already on the chain being written
func inlinable(a *entity.Association, chain []*entity.Entity) bool {
	if a == nil {
		return false
	}
	if len(chain) > store.MaxExpandDepth {
		return false
	}
	for _, r := range a.Refs {
		if !r.IsLoaded() {
			return false
		}
		for _, anc := range chain {
			if anc == r.Target {
				return false
			}
		}
	}
	return true
}

func unauthorizedNode(e *entity.Entity) Node {
	return Node{
		KeyID:           e.ID,
		KeyType:         e.Type,
		KeyUnauthorized: true,
	}
}
