// Package notify announces committed batches to other processes over Redis
// and to connected clients over websockets.
package notify

import (
	"context"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/commit"
	"github.com/conduit-lang/objgraph/internal/orm/entity"
)

// Ref names one entity touched by a commit
type Ref struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// Event is the published form of a commit notification. It names the
// entities touched and never carries their contents.
type Event struct {
	BatchID   string `json:"batchId"`
	Principal string `json:"principal,omitempty"`
	Created   []Ref  `json:"created"`
	Updated   []Ref  `json:"updated"`
	Deleted   []Ref  `json:"deleted"`
}

// NewEvent builds the event of a notification, keeping only the entities
// keep accepts. A nil keep accepts everything.
func NewEvent(n commit.Notification, keep func(*entity.Entity) bool) Event {
	return Event{
		BatchID:   n.BatchID,
		Principal: auth.NameOf(n.Principal),
		Created:   refs(n.Created, keep),
		Updated:   refs(n.Updated, keep),
		Deleted:   refs(n.Deleted, keep),
	}
}

// Empty reports whether the event names no entity
func (e Event) Empty() bool {
	return len(e.Created) == 0 && len(e.Updated) == 0 && len(e.Deleted) == 0
}

func refs(ents []*entity.Entity, keep func(*entity.Entity) bool) []Ref {
	out := make([]Ref, 0, len(ents))
	for _, e := range ents {
		if keep != nil && !keep(e) {
			continue
		}
		out = append(out, Ref{Type: e.Type, ID: e.ID})
	}
	return out
}

// readableBy returns a filter keeping what p may read
func readableBy(ctx context.Context, gate *auth.Gate, p *auth.Principal) func(*entity.Entity) bool {
	return func(e *entity.Entity) bool {
		return gate.ReadableBy(ctx, e, p)
	}
}
