package codec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

var touched bool

func testCodec(t *testing.T) *Codec {
	t.Helper()
	adminOnly := auth.Funcs{Read: func(ctx context.Context, e *entity.Entity, p *auth.Principal) bool {
		return p.HasRole("admin")
	}}

	r := schema.NewRegistry()
	require.NoError(t, r.Register(
		schema.NewType("Parent").
			String("name").
			Int("age").
			Float("score").
			Timestamp("born").
			String("secret", schema.Hidden()).
			ToOne("profile", "Profile", schema.Eager()).
			ToMany("children", "Child", schema.MappedBy("parent")).
			ToMany("tags", "Tag").
			Virtual("greeting", schema.TypeString, func(e *entity.Entity) any {
				touched = true
				name, _ := e.Get("name")
				return "hello " + name.(string)
			}).
			MustBuild(),
		schema.NewType("Child").
			String("name").
			ToOne("parent", "Parent").
			ToOne("toy", "Tag").
			MustBuild(),
		schema.NewType("Profile").String("bio").Policy(adminOnly).MustBuild(),
		schema.NewType("Tag").String("label").MustBuild(),
	))
	meta, err := r.Resolve()
	require.NoError(t, err)
	return New(meta, auth.NewGate(meta))
}

// family builds a parent with a loaded profile, two loaded children that
// point back at it, and an unloaded tag
func family() *entity.Entity {
	parent := entity.Placeholder("Parent", 1)
	parent.Version = 3
	parent.Set("name", "ann")
	parent.Set("age", int64(40))
	parent.Set("score", nil)
	parent.Set("secret", "s3")

	profile := entity.Placeholder("Profile", 7)
	profile.Set("bio", "likes tea")
	pref := entity.Loaded(profile)
	parent.SetOne("profile", &pref)

	var kids []entity.Ref
	for _, id := range []int64{10, 11} {
		child := entity.Placeholder("Child", id)
		child.Set("name", "kid")
		back := entity.Loaded(parent)
		child.SetOne("parent", &back)
		child.SetOne("toy", nil)
		kids = append(kids, entity.Loaded(child))
	}
	parent.SetMany("children", kids)
	parent.SetMany("tags", []entity.Ref{entity.Unloaded(5)})
	return parent
}
