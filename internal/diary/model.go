// Package diary is a small example model: users keep diary entries, each
// with one content body and any number of comments. Lurkers may read every
// entry but write none.
package diary

import (
	"context"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// LurkerRole may read all entries and write none
const LurkerRole = "lurker"

// Types returns the diary entity types
func Types() []*schema.EntityType {
	return []*schema.EntityType{
		schema.NewType("Entry").
			String("title", schema.MaxLength(200)).
			String("user_name", schema.Required()).
			Timestamp("date").
			ToOne("content", "EntryContent", schema.Required()).
			ToMany("comments", "EntryComment", schema.MappedBy("entry")).
			Virtual("comment_count", schema.TypeInt, commentCount).
			Policy(auth.Funcs{Read: entryReadable, Write: entryWritable}).
			MustBuild(),
		schema.NewType("EntryContent").
			Text("text").
			ToOne("entry", "Entry", schema.MappedBy("content")).
			Policy(viaEntry).
			PolicyExpand("entry").
			MustBuild(),
		schema.NewType("EntryComment").
			Text("text", schema.Required(), schema.MinLength(1)).
			Timestamp("created").
			ToOne("entry", "Entry", schema.Required()).
			Policy(viaEntry).
			PolicyExpand("entry").
			MustBuild(),
	}
}

// Register adds the diary types to r
func Register(r *schema.Registry) error {
	return r.Register(Types()...)
}

func entryReadable(ctx context.Context, e *entity.Entity, p *auth.Principal) bool {
	return isOwner(e, p) || p.HasRole(LurkerRole)
}

func entryWritable(ctx context.Context, e *entity.Entity, p *auth.Principal) bool {
	return !p.HasRole(LurkerRole) && isOwner(e, p)
}

func isOwner(e *entity.Entity, p *auth.Principal) bool {
	owner, _ := e.Get("user_name")
	return p != nil && owner == p.Name
}

func commentCount(e *entity.Entity) any {
	a, ok := e.Association("comments")
	if !ok {
		return nil
	}
	return int64(len(a.Refs))
}

// viaEntry lets whoever may access the owning entry access the child.
// Children without an entry are unrestricted.
var viaEntry = auth.Funcs{
	Read: func(ctx context.Context, e *entity.Entity, p *auth.Principal) bool {
		entry, ok := loadedEntry(e)
		return !ok || entryReadable(ctx, entry, p)
	},
	Write: func(ctx context.Context, e *entity.Entity, p *auth.Principal) bool {
		entry, ok := loadedEntry(e)
		return !ok || entryWritable(ctx, entry, p)
	},
}

func loadedEntry(e *entity.Entity) (*entity.Entity, bool) {
	r, ok := e.One("entry")
	if !ok || !r.IsLoaded() {
		return nil, false
	}
	return r.Target, true
}
