// Package service implements the operations exposed to clients on top of
// the store, the codec and the commit orchestrator.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/codec"
	"github.com/conduit-lang/objgraph/internal/commit"
	"github.com/conduit-lang/objgraph/internal/fault"
	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
	"github.com/conduit-lang/objgraph/internal/orm/store"
)

// Service answers reads and commits for the principal carried in the
// request context. Errors are returned untranslated.
type Service struct {
	store  store.Store
	meta   *schema.Metadata
	codec  *codec.Codec
	gate   *auth.Gate
	orch   *commit.Orchestrator
	logger *zap.Logger
}

// New creates a service
func New(st store.Store, c *codec.Codec, gate *auth.Gate, orch *commit.Orchestrator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		meta:   c.Metadata(),
		codec:  c,
		gate:   gate,
		orch:   orch,
		logger: logger,
	}
}

// Definitions returns the field types of every entity type
func (s *Service) Definitions() map[string]map[string]string {
	return s.meta.Definitions()
}

// Definition returns the field types of one entity type
func (s *Service) Definition(typeName string) (map[string]string, error) {
	def, ok := s.meta.Definition(typeName)
	if !ok {
		return nil, fault.New(fault.NotFound, "Unknown entity type")
	}
	return def, nil
}

// GetByID returns one entity with the fetch paths inline and the exclude
// paths left out. An unreadable entity comes back as its placeholder.
func (s *Service) GetByID(ctx context.Context, typeName string, id int64, fetch, exclude codec.Paths) (codec.Node, error) {
	e, err := s.store.FindByID(ctx, typeName, id, fetch.List())
	if err != nil {
		return nil, err
	}
	return s.codec.Serialize(ctx, e, fetch, exclude, auth.PrincipalFrom(ctx))
}

// GetByIDs returns the entities found among ids, in the order given
func (s *Service) GetByIDs(ctx context.Context, typeName string, ids []int64, fetch, exclude codec.Paths) ([]codec.Node, error) {
	ents, err := s.store.FindByIDs(ctx, typeName, ids, fetch.List())
	if err != nil {
		return nil, err
	}
	return s.codec.SerializeAll(ctx, ents, fetch, exclude, auth.PrincipalFrom(ctx))
}

// GetByExample returns the readable entities whose scalars and to-one
// references equal those set on the example tree
func (s *Service) GetByExample(ctx context.Context, typeName string, example codec.Node, fetch codec.Paths) ([]codec.Node, error) {
	probe, err := s.codec.Deserialize(example, typeName, nil)
	if err != nil {
		return nil, err
	}
	ents, err := s.store.FindByExample(ctx, probe, fetch.List())
	if err != nil {
		return nil, err
	}
	return s.readable(ctx, ents, fetch)
}

// GetAll returns every readable entity of a type
func (s *Service) GetAll(ctx context.Context, typeName string, fetch codec.Paths) ([]codec.Node, error) {
	ents, err := s.store.FindAll(ctx, typeName, fetch.List())
	if err != nil {
		return nil, err
	}
	return s.readable(ctx, ents, fetch)
}

// Create persists a single entity as a one element commit and returns it
func (s *Service) Create(ctx context.Context, typeName string, node codec.Node) (codec.Node, error) {
	if node == nil {
		node = codec.Node{}
	}
	intent := make(codec.Node, len(node)+1)
	for k, v := range node {
		intent[k] = v
	}
	intent[codec.KeyType] = typeName

	resp, err := s.orch.Commit(ctx, commit.Request{Created: []codec.Node{intent}})
	if err != nil {
		return nil, err
	}
	return resp.Persisted[0], nil
}

// Commit applies a batch
func (s *Service) Commit(ctx context.Context, req commit.Request) (*commit.Response, error) {
	return s.orch.Commit(ctx, req)
}

func (s *Service) readable(ctx context.Context, ents []*entity.Entity, fetch codec.Paths) ([]codec.Node, error) {
	p := auth.PrincipalFrom(ctx)
	visible := make([]*entity.Entity, 0, len(ents))
	for _, e := range ents {
		if s.gate.ReadableBy(ctx, e, p) {
			visible = append(visible, e)
		}
	}
	if dropped := len(ents) - len(visible); dropped > 0 {
		s.logger.Debug("filtered unreadable entities",
			zap.String("principal", auth.NameOf(p)),
			zap.Int("dropped", dropped))
	}
	return s.codec.SerializeAll(ctx, visible, fetch, nil, p)
}
