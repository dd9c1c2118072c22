package sqlstore

import (
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// Every table starts with these columns
var baseColumns = []string{"id", "version", "created_at", "updated_at"}

// tableLayout maps one entity type onto its table, the foreign key columns
// of its owned to-one associations and the join tables of its owned to-many
// associations
type tableLayout struct {
	typ        *schema.EntityType
	table      string
	scalars    []*schema.Field
	foreignKey []*schema.Field
	joins      []*schema.Field
}

func newLayout(t *schema.EntityType) *tableLayout {
	l := &tableLayout{typ: t, table: t.Table, scalars: t.Scalars()}
	for _, f := range t.Associations() {
		if f.MappedBy != "" {
			continue
		}
		if f.Kind == schema.KindToOne {
			l.foreignKey = append(l.foreignKey, f)
		} else {
			l.joins = append(l.joins, f)
		}
	}
	return l
}

// columns lists every selected column in a fixed order
func (l *tableLayout) columns() []string {
	cols := append([]string(nil), baseColumns...)
	for _, f := range l.scalars {
		cols = append(cols, f.Name)
	}
	for _, f := range l.foreignKey {
		cols = append(cols, fkColumn(f))
	}
	return cols
}

func fkColumn(f *schema.Field) string {
	return f.Name + "_id"
}

func joinTable(owner *schema.EntityType, f *schema.Field) string {
	return owner.Table + "_" + f.Name
}
