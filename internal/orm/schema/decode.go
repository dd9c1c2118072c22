package schema

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type fileSchema struct {
	Types []fileType `yaml:"types"`
}

type fileType struct {
	Name         string      `yaml:"name"`
	Table        string      `yaml:"table"`
	PolicyExpand []string    `yaml:"policy_expand"`
	Fields       []fileField `yaml:"fields"`
}

type fileField struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	ToOne     string   `yaml:"to_one"`
	ToMany    string   `yaml:"to_many"`
	MappedBy  string   `yaml:"mapped_by"`
	Fetch     string   `yaml:"fetch"`
	Required  bool     `yaml:"required"`
	Hidden    bool     `yaml:"hidden"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	MinLength *int     `yaml:"min_length"`
	MaxLength *int     `yaml:"max_length"`
	Pattern   string   `yaml:"pattern"`
}

// Decode reads entity type declarations from a YAML document:
//
//	types:
//	  - name: Entry
//	    fields:
//	      - {name: title, type: string, required: true, max_length: 30}
//	      - {name: comments, to_many: EntryComment, mapped_by: entry}
//
// Virtual attributes and policies cannot be declared in YAML.
func Decode(r io.Reader) ([]*EntityType, error) {
	var doc fileSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	types := make([]*EntityType, 0, len(doc.Types))
	for _, ft := range doc.Types {
		b := NewType(ft.Name)
		if ft.Table != "" {
			b.Table(ft.Table)
		}
		if len(ft.PolicyExpand) > 0 {
			b.PolicyExpand(ft.PolicyExpand...)
		}

		for _, ff := range ft.Fields {
			opts, err := ff.options()
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", ft.Name, ff.Name, err)
			}
			switch {
			case ff.ToOne != "" && ff.ToMany != "":
				return nil, fmt.Errorf("%s.%s: to_one and to_many are exclusive", ft.Name, ff.Name)
			case ff.ToOne != "":
				b.ToOne(ff.Name, ff.ToOne, opts...)
			case ff.ToMany != "":
				b.ToMany(ff.Name, ff.ToMany, opts...)
			default:
				b.Scalar(ff.Name, ScalarType(ff.Type), opts...)
			}
		}

		t, err := b.Build()
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func (ff fileField) options() ([]FieldOption, error) {
	var opts []FieldOption
	if ff.Required {
		opts = append(opts, Required())
	}
	if ff.Hidden {
		opts = append(opts, Hidden())
	}
	if ff.Min != nil {
		opts = append(opts, Min(*ff.Min))
	}
	if ff.Max != nil {
		opts = append(opts, Max(*ff.Max))
	}
	if ff.MinLength != nil {
		opts = append(opts, MinLength(*ff.MinLength))
	}
	if ff.MaxLength != nil {
		opts = append(opts, MaxLength(*ff.MaxLength))
	}
	if ff.Pattern != "" {
		opts = append(opts, Pattern(ff.Pattern))
	}
	if ff.MappedBy != "" {
		opts = append(opts, MappedBy(ff.MappedBy))
	}
	switch ff.Fetch {
	case "", "lazy":
	case "eager":
		opts = append(opts, Eager())
	default:
		return nil, fmt.Errorf("unknown fetch policy %q", ff.Fetch)
	}
	return opts, nil
}
