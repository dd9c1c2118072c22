package validation

import (
	"fmt"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

type fieldValidators struct {
	field      *schema.Field
	validators []Validator
}

// Engine validates entities of every resolved type. Validators are built
// once per field, so the engine is safe for concurrent use.
type Engine struct {
	types map[string][]fieldValidators
}

// NewEngine compiles the constraints of every type in meta
func NewEngine(meta *schema.Metadata) (*Engine, error) {
	e := &Engine{types: make(map[string][]fieldValidators)}
	for _, t := range meta.Types() {
		var fvs []fieldValidators
		for _, f := range t.Fields {
			switch f.Kind {
			case schema.KindScalar:
				vs, err := ValidatorsFor(f)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", t.Name, err)
				}
				fvs = append(fvs, fieldValidators{field: f, validators: vs})
			case schema.KindToOne:
				if f.Constraints.Required {
					fvs = append(fvs, fieldValidators{field: f})
				}
			}
		}
		e.types[t.Name] = fvs
	}
	return e, nil
}

// Validate checks every declared field of ent. Absent scalars count as null.
// It returns *Errors when any constraint is violated.
func (e *Engine) Validate(ent *entity.Entity) error {
	fvs, ok := e.types[ent.Type]
	if !ok {
		return fmt.Errorf("unknown entity type %s", ent.Type)
	}

	errs := &Errors{EntityType: ent.Type, EntityID: ent.ID}
	for _, fv := range fvs {
		if fv.field.Kind == schema.KindToOne {
			if _, ok := ent.One(fv.field.Name); !ok {
				errs.Add(fv.field.Name, "must not be null")
			}
			continue
		}

		value := ent.Attributes[fv.field.Name]
		for _, v := range fv.validators {
			if err := v.Validate(value); err != nil {
				errs.Add(fv.field.Name, err.Error())
				break
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
