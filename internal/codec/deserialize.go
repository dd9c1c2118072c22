package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// Deserialize reconstructs an entity of typeName from a tree. An empty
// typeName takes the type from the tree's type tag.
//
// Reference tokens become unloaded references. Ids found in tmpIDs, the
// entity's own id included, are replaced by the ids they map to. A token
// bound to null clears the association; a missing token leaves it unset.
// Virtual fields and unknown keys are ignored.
func (c *Codec) Deserialize(node Node, typeName string, tmpIDs map[int64]int64) (*entity.Entity, error) {
	if node == nil {
		return nil, &DecodeError{Type: typeName, Message: "entity must be an object"}
	}

	if tag, ok := node[KeyType]; ok && tag != nil {
		s, isString := tag.(string)
		if !isString {
			return nil, &DecodeError{Type: typeName, Field: KeyType, Message: "must be a string"}
		}
		if typeName == "" {
			typeName = s
		} else if s != typeName {
			return nil, &DecodeError{Type: typeName, Field: KeyType, Message: fmt.Sprintf("expected %s, got %s", typeName, s)}
		}
	}
	if typeName == "" {
		return nil, &DecodeError{Field: KeyType, Message: "is required"}
	}
	t, ok := c.meta.Type(typeName)
	if !ok {
		return nil, &DecodeError{Type: typeName, Field: KeyType, Message: "unknown entity type"}
	}

	e := entity.New(typeName)
	fail := func(field, msg string) error {
		return &DecodeError{Type: typeName, ID: e.ID, Field: field, Message: msg}
	}

	if raw, ok := node[KeyID]; ok && raw != nil {
		id, ok := toInt64(raw)
		if !ok {
			return nil, fail(KeyID, "must be an integer")
		}
		e.ID = resolve(id, tmpIDs)
	}
	if raw, ok := node[KeyVersion]; ok && raw != nil {
		v, ok := toInt64(raw)
		if !ok {
			return nil, fail(KeyVersion, "must be an integer")
		}
		e.Version = v
	}

	for _, f := range t.Fields {
		switch f.Kind {
		case schema.KindScalar:
			raw, ok := node[f.Name]
			if !ok {
				continue
			}
			v, err := Scalar(f.Scalar, raw)
			if err != nil {
				return nil, fail(f.Name, err.Error())
			}
			e.Set(f.Name, v)

		case schema.KindToOne:
			raw, ok := lookupRef(node, f.Name, RefIDKey(f.Name))
			if !ok {
				continue
			}
			if raw == nil {
				e.SetOne(f.Name, nil)
				continue
			}
			id, ok := refID(raw)
			if !ok {
				return nil, fail(RefIDKey(f.Name), "must be an integer id or null")
			}
			ref := entity.Unloaded(resolve(id, tmpIDs))
			e.SetOne(f.Name, &ref)

		case schema.KindToMany:
			raw, ok := lookupRef(node, f.Name, RefIDsKey(f.Name))
			if !ok {
				continue
			}
			if raw == nil {
				e.SetMany(f.Name, nil)
				continue
			}
			list, ok := raw.([]any)
			if !ok {
				if ids, isIDs := raw.([]int64); isIDs {
					list = make([]any, len(ids))
					for i, id := range ids {
						list[i] = id
					}
				} else {
					return nil, fail(RefIDsKey(f.Name), "must be a list of ids")
				}
			}
			refs := make([]entity.Ref, 0, len(list))
			for _, item := range list {
				id, ok := refID(item)
				if !ok {
					return nil, fail(RefIDsKey(f.Name), "must be a list of ids")
				}
				refs = append(refs, entity.Unloaded(resolve(id, tmpIDs)))
			}
			e.SetMany(f.Name, refs)
		}
	}
	return e, nil
}

// lookupRef finds an association value, preferring the token over an
// inline tree
func lookupRef(node Node, field, tokenKey string) (any, bool) {
	if raw, ok := node[tokenKey]; ok {
		return raw, true
	}
	raw, ok := node[field]
	if !ok {
		return nil, false
	}
	if list, isList := raw.([]Node); isList {
		items := make([]any, len(list))
		for i, n := range list {
			items[i] = n
		}
		return items, true
	}
	return raw, true
}

// refID accepts a bare id or an inline tree carrying one
func refID(raw any) (int64, bool) {
	if n, ok := raw.(Node); ok {
		raw = n[KeyID]
	}
	return toInt64(raw)
}

func resolve(id int64, tmpIDs map[int64]int64) int64 {
	if id < 0 {
		if mapped, ok := tmpIDs[id]; ok {
			return mapped
		}
	}
	return id
}

// Scalar converts a tree value to the canonical Go value of a scalar type:
// string, int64, float64, bool, time.Time (UTC) or decoded JSON. Numbers
// inside JSON values stay json.Number at every depth.
func Scalar(typ schema.ScalarType, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch typ {
	case schema.TypeString, schema.TypeText:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("must be a string")
	case schema.TypeInt:
		if n, ok := toInt64(raw); ok {
			return n, nil
		}
		return nil, fmt.Errorf("must be an integer")
	case schema.TypeFloat:
		if f, ok := toFloat64(raw); ok {
			return f, nil
		}
		return nil, fmt.Errorf("must be a number")
	case schema.TypeBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("must be a boolean")
	case schema.TypeTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("must be an RFC 3339 timestamp")
			}
			return ts.UTC(), nil
		}
		return nil, fmt.Errorf("must be an RFC 3339 timestamp")
	case schema.TypeJSON:
		return raw, nil
	}
	return nil, fmt.Errorf("unsupported type %s", typ)
}

func toInt64(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) >= 1<<63 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
