// Package store defines the persistence contract the commit orchestrator
// and read services drive, plus helpers shared by its implementations.
package store

import (
	"context"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
)

// Reader fetches entities. Every returned entity carries all of its scalars
// and every association as references; the association paths named in
// expand are loaded, along with eager associations and the paths each type's
// policy needs.
type Reader interface {
	// FindByID returns ErrNotFound when no row matches
	FindByID(ctx context.Context, typeName string, id int64, expand []string) (*entity.Entity, error)
	// FindByIDs returns the entities found, in the order of ids
	FindByIDs(ctx context.Context, typeName string, ids []int64, expand []string) ([]*entity.Entity, error)
	// FindByExample matches on the non-null scalars and to-one references
	// the example carries
	FindByExample(ctx context.Context, example *entity.Entity, expand []string) ([]*entity.Entity, error)
	FindAll(ctx context.Context, typeName string, expand []string) ([]*entity.Entity, error)
}

// Writer mutates entities inside a transaction
type Writer interface {
	// PersistNew inserts an entity without an id and returns it as stored
	PersistNew(ctx context.Context, e *entity.Entity) (*entity.Entity, error)
	// Update stores e if the persisted version equals expectedVersion and
	// returns ErrOptimisticLockFailed otherwise
	Update(ctx context.Context, e *entity.Entity, expectedVersion int64) (*entity.Entity, error)
	Delete(ctx context.Context, typeName string, id int64) error
}

// Tx is a unit of work. Reads observe the transaction's own writes.
type Tx interface {
	Reader
	Writer
}

// Store is a transactional entity store
type Store interface {
	Reader
	// WithTx runs fn in a transaction that commits when fn returns nil and
	// rolls back otherwise
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Loader fetches entities by id without loading any association. Missing
// ids are absent from the result.
type Loader interface {
	Load(ctx context.Context, typeName string, ids []int64) (map[int64]*entity.Entity, error)
}
