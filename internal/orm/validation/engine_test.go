package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	r := schema.NewRegistry()
	require.NoError(t, r.Register(
		schema.NewType("Parent").
			String("name", schema.Required(), schema.MaxLength(30)).
			Int("rank", schema.Min(0)).
			MustBuild(),
		schema.NewType("Child").
			ToOne("parent", "Parent", schema.Required()).
			ToOne("friend", "Child").
			MustBuild(),
	))
	meta, err := r.Resolve()
	require.NoError(t, err)

	engine, err := NewEngine(meta)
	require.NoError(t, err)
	return engine
}

func TestEngineValidate(t *testing.T) {
	engine := newEngine(t)

	t.Run("valid entity", func(t *testing.T) {
		p := entity.New("Parent")
		p.Set("name", "test")
		p.Set("rank", int64(3))
		assert.NoError(t, engine.Validate(p))
	})

	t.Run("absent required scalar", func(t *testing.T) {
		p := entity.Placeholder("Parent", 7)
		err := engine.Validate(p)
		require.Error(t, err)

		var verrs *Errors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "Parent", verrs.EntityType)
		assert.Equal(t, int64(7), verrs.EntityID)
		assert.Equal(t, []FieldError{{Field: "name", Message: "must not be null"}}, verrs.Fields)
	})

	t.Run("reports one message per field", func(t *testing.T) {
		p := entity.New("Parent")
		p.Set("name", "this name is definitely longer than thirty characters")
		p.Set("rank", int64(-1))

		var verrs *Errors
		require.ErrorAs(t, engine.Validate(p), &verrs)
		require.Len(t, verrs.Fields, 2)
		assert.Equal(t, "name", verrs.Fields[0].Field)
		assert.Equal(t, "rank", verrs.Fields[1].Field)
		assert.Contains(t, verrs.Error(), "validation failed for Parent 0:")
	})

	t.Run("required to-one", func(t *testing.T) {
		c := entity.New("Child")
		var verrs *Errors
		require.ErrorAs(t, engine.Validate(c), &verrs)
		assert.Equal(t, "parent", verrs.Fields[0].Field)

		ref := entity.Unloaded(1)
		c.SetOne("parent", &ref)
		assert.NoError(t, engine.Validate(c))
	})

	t.Run("unknown type", func(t *testing.T) {
		assert.Error(t, engine.Validate(entity.New("Missing")))
	})
}
