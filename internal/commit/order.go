package commit

import (
	"sort"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// createOrder returns the indexes of creates in the order they can be
// persisted. Creates are ranked by the insertion order of their types and
// keep submission order within a rank. Within a type, a create that another
// references by temporary id through an owned to-one field goes first.
// Instance cycles keep submission order and fail on the unresolved id.
func createOrder(meta *schema.Metadata, creates []*entity.Entity) []int {
	order := make([]int, len(creates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return meta.Rank(creates[order[a]].Type) < meta.Rank(creates[order[b]].Type)
	})

	out := make([]int, 0, len(order))
	for start := 0; start < len(order); {
		end := start + 1
		typeName := creates[order[start]].Type
		for end < len(order) && creates[order[end]].Type == typeName {
			end++
		}
		out = append(out, orderWithinType(meta, creates, order[start:end])...)
		start = end
	}
	return out
}

func orderWithinType(meta *schema.Metadata, creates []*entity.Entity, group []int) []int {
	if len(group) < 2 {
		return group
	}
	t, ok := meta.Type(creates[group[0]].Type)
	if !ok {
		return group
	}

	byTmp := make(map[int64]int, len(group))
	for _, i := range group {
		if creates[i].IsTemporary() {
			byTmp[creates[i].ID] = i
		}
	}

	// deps[i] lists the creates i must follow
	deps := make(map[int][]int)
	for _, i := range group {
		for _, f := range t.Associations() {
			if f.Kind != schema.KindToOne || f.Target != t.Name || !meta.Owns(t.Name, f.Name) {
				continue
			}
			r, ok := creates[i].One(f.Name)
			if !ok {
				continue
			}
			if j, ok := byTmp[r.ID]; ok && j != i {
				deps[i] = append(deps[i], j)
			}
		}
	}

	placed := make(map[int]bool, len(group))
	out := make([]int, 0, len(group))
	for len(out) < len(group) {
		progressed := false
		for _, i := range group {
			if placed[i] || !ready(deps[i], placed) {
				continue
			}
			placed[i] = true
			out = append(out, i)
			progressed = true
			break
		}
		if !progressed {
			for _, i := range group {
				if !placed[i] {
					placed[i] = true
					out = append(out, i)
				}
			}
		}
	}
	return out
}

func ready(deps []int, placed map[int]bool) bool {
	for _, d := range deps {
		if !placed[d] {
			return false
		}
	}
	return true
}
