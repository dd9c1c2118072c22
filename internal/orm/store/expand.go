package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// MaxExpandDepth bounds how deep association paths are followed
const MaxExpandDepth = 10

// pathTree is a set of dot separated association paths
type pathTree map[string]pathTree

func parsePaths(paths []string) pathTree {
	root := pathTree{}
	for _, p := range paths {
		node := root
		for _, segment := range strings.Split(p, ".") {
			segment = strings.TrimSpace(segment)
			if segment == "" {
				break
			}
			child, ok := node[segment]
			if !ok {
				child = pathTree{}
				node[segment] = child
			}
			node = child
		}
	}
	return root
}

func (t pathTree) merge(other pathTree) {
	for k, sub := range other {
		child, ok := t[k]
		if !ok {
			child = pathTree{}
			t[k] = child
		}
		child.merge(sub)
	}
}

// Expand loads the associations of roots named by paths. At every level the
// eager associations and policy paths of the type are loaded as well; those
// implicit loads stop at types already on the current path so that eager
// cycles terminate. Entities reached more than once share one instance.
func Expand(ctx context.Context, meta *schema.Metadata, loader Loader, roots []*entity.Entity, paths []string) error {
	x := &expander{
		meta:     meta,
		loader:   loader,
		identity: make(map[entity.Key]*entity.Entity),
	}
	for _, e := range roots {
		if e != nil {
			x.identity[e.Key()] = e
		}
	}

	byType := make(map[string][]*entity.Entity)
	var order []string
	for _, e := range roots {
		if e == nil {
			continue
		}
		if _, ok := byType[e.Type]; !ok {
			order = append(order, e.Type)
		}
		byType[e.Type] = append(byType[e.Type], e)
	}

	explicit := parsePaths(paths)
	for _, typeName := range order {
		if err := x.expand(ctx, byType[typeName], typeName, explicit, nil); err != nil {
			return err
		}
	}
	return nil
}

type expander struct {
	meta     *schema.Metadata
	loader   Loader
	identity map[entity.Key]*entity.Entity
}

func (x *expander) expand(ctx context.Context, ents []*entity.Entity, typeName string, explicit pathTree, chain []string) error {
	if len(ents) == 0 {
		return nil
	}
	if len(chain) >= MaxExpandDepth {
		return nil
	}
	t, ok := x.meta.Type(typeName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}

	for name := range explicit {
		if f, ok := t.Field(name); !ok || !f.IsAssociation() {
			return fmt.Errorf("%w: %s.%s", ErrUnknownAssociation, typeName, name)
		}
	}

	policyPaths := parsePaths(t.PolicyExpand)
	chain = append(chain, typeName)

	for _, f := range t.Associations() {
		sub, isExplicit := explicit[f.Name]
		_, isPolicy := policyPaths[f.Name]
		if !isExplicit && !isPolicy && !f.IsEager() {
			continue
		}
		cyclic := !isExplicit && contains(chain, f.Target)
		if cyclic && !isPolicy {
			continue
		}

		next := pathTree{}
		if sub != nil {
			next.merge(sub)
		}
		if ps := policyPaths[f.Name]; ps != nil {
			next.merge(ps)
		}

		targets, err := x.loadField(ctx, ents, f)
		if err != nil {
			return err
		}
		// Policy paths back into the current chain are attached but not followed
		if cyclic {
			continue
		}
		if err := x.expand(ctx, targets, f.Target, next, chain); err != nil {
			return err
		}
	}
	return nil
}

// loadField replaces the references of field f with loaded instances and
// returns the distinct targets in id order
func (x *expander) loadField(ctx context.Context, ents []*entity.Entity, f *schema.Field) ([]*entity.Entity, error) {
	var missing []int64
	seen := make(map[int64]bool)
	for _, e := range ents {
		a, ok := e.Associations[f.Name]
		if !ok {
			continue
		}
		for _, r := range a.Refs {
			key := entity.Key{Type: f.Target, ID: r.ID}
			if _, cached := x.identity[key]; cached || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			missing = append(missing, r.ID)
		}
	}

	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		loaded, err := x.loader.Load(ctx, f.Target, missing)
		if err != nil {
			return nil, err
		}
		for id, target := range loaded {
			x.identity[entity.Key{Type: f.Target, ID: id}] = target
		}
	}

	var targets []*entity.Entity
	distinct := make(map[int64]bool)
	for _, e := range ents {
		a, ok := e.Associations[f.Name]
		if !ok {
			continue
		}
		for i, r := range a.Refs {
			target, ok := x.identity[entity.Key{Type: f.Target, ID: r.ID}]
			if !ok {
				continue
			}
			a.Refs[i] = entity.Loaded(target)
			if !distinct[r.ID] {
				distinct[r.ID] = true
				targets = append(targets, target)
			}
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
