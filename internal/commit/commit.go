// Package commit applies batches of creates, updates and deletes submitted
// as entity trees in a single store transaction.
package commit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/codec"
	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
	"github.com/conduit-lang/objgraph/internal/orm/store"
	"github.com/conduit-lang/objgraph/internal/orm/validation"
)

// Request is a commit batch. Creates may carry negative temporary ids that
// other entities in the batch reference.
type Request struct {
	Created []codec.Node `json:"createdEntities"`
	Updated []codec.Node `json:"updatedEntities"`
	Deleted []codec.Node `json:"deletedEntities"`
}

// UnmarshalJSON accepts creates under either createdEntities or
// persistedEntities. Numbers are kept as json.Number.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		Created   []codec.Node `json:"createdEntities"`
		Persisted []codec.Node `json:"persistedEntities"`
		Updated   []codec.Node `json:"updatedEntities"`
		Deleted   []codec.Node `json:"deletedEntities"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	r.Created = append(raw.Created, raw.Persisted...)
	r.Updated = raw.Updated
	r.Deleted = raw.Deleted
	return nil
}

// Response reports the outcome of a batch
type Response struct {
	ReplacedTemporaryIDs map[int64]int64 `json:"replacedTemporaryIds"`
	Persisted            []codec.Node    `json:"persistedEntities"`
	Updated              []codec.Node    `json:"updatedEntities"`
}

// Orchestrator drives commit batches through a store
type Orchestrator struct {
	store     store.Store
	meta      *schema.Metadata
	codec     *codec.Codec
	gate      *auth.Gate
	validator *validation.Engine
	listeners []Listener
	logger    *zap.Logger
}

// New creates an orchestrator
func New(st store.Store, c *codec.Codec, gate *auth.Gate, validator *validation.Engine, logger *zap.Logger, listeners ...Listener) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     st,
		meta:      c.Metadata(),
		codec:     c,
		gate:      gate,
		validator: validator,
		listeners: listeners,
		logger:    logger,
	}
}

// AddListener registers l to be told about every successful commit
func (o *Orchestrator) AddListener(l Listener) {
	o.listeners = append(o.listeners, l)
}

// batch is the state of one commit
type batch struct {
	principal *auth.Principal
	tmpIDs    map[int64]int64
	created   []*entity.Entity
	updated   []*entity.Entity
	deleted   []*entity.Entity
	removed   map[entityKey]bool
}

type entityKey struct {
	typeName string
	id       int64
}

// Commit applies req for the principal in ctx. Nothing is persisted unless
// every intent succeeds. Errors are returned untranslated.
func (o *Orchestrator) Commit(ctx context.Context, req Request) (*Response, error) {
	b := &batch{
		principal: auth.PrincipalFrom(ctx),
		tmpIDs:    make(map[int64]int64),
		removed:   make(map[entityKey]bool),
	}
	batchID := uuid.NewString()
	logger := o.logger.With(
		zap.String("batch_id", batchID),
		zap.String("principal", auth.NameOf(b.principal)),
	)
	logger.Debug("commit started",
		zap.Int("created", len(req.Created)),
		zap.Int("updated", len(req.Updated)),
		zap.Int("deleted", len(req.Deleted)))

	err := o.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := o.checkUpdates(ctx, tx, b, req.Updated); err != nil {
			return err
		}
		if err := o.applyCreates(ctx, tx, b, req.Created); err != nil {
			return err
		}
		if err := o.applyUpdates(ctx, tx, b, req.Updated); err != nil {
			return err
		}
		if err := o.applyDeletes(ctx, tx, b, req.Deleted); err != nil {
			return err
		}
		return o.refresh(ctx, tx, b)
	})
	if err != nil {
		logger.Debug("commit aborted", zap.Error(err))
		return nil, err
	}

	resp := &Response{ReplacedTemporaryIDs: b.tmpIDs}
	if resp.Persisted, err = o.codec.SerializeFlat(ctx, b.created, b.principal); err != nil {
		return nil, err
	}
	if resp.Updated, err = o.codec.SerializeFlat(ctx, b.updated, b.principal); err != nil {
		return nil, err
	}

	logger.Info("commit completed",
		zap.Int("created", len(b.created)),
		zap.Int("updated", len(b.updated)),
		zap.Int("deleted", len(b.deleted)))
	o.notify(ctx, logger, Notification{
		BatchID:   batchID,
		Principal: b.principal,
		Created:   b.created,
		Updated:   b.updated,
		Deleted:   b.deleted,
	})
	return resp, nil
}

// checkUpdates verifies read and write access to the persisted state of
// every update before anything is written
func (o *Orchestrator) checkUpdates(ctx context.Context, tx store.Tx, b *batch, nodes []codec.Node) error {
	for _, node := range nodes {
		e, err := o.codec.Deserialize(node, "", nil)
		if err != nil {
			return err
		}
		if e.IsTemporary() {
			continue
		}
		current, err := tx.FindByID(ctx, e.Type, e.ID, nil)
		if err != nil {
			return err
		}
		if !o.gate.ReadableBy(ctx, current, b.principal) || !o.gate.WritableBy(ctx, current, b.principal) {
			return auth.Denied("update", e.Type, e.ID)
		}
	}
	return nil
}

func (o *Orchestrator) applyCreates(ctx context.Context, tx store.Tx, b *batch, nodes []codec.Node) error {
	intents := make([]*entity.Entity, len(nodes))
	claimed := make(map[int64]bool)
	for i, node := range nodes {
		e, err := o.codec.Deserialize(node, "", nil)
		if err != nil {
			return err
		}
		if e.ID > 0 || claimed[e.ID] {
			verrs := &validation.Errors{EntityType: e.Type, EntityID: e.ID}
			verrs.Add(codec.KeyID, "must be a unique temporary id or absent")
			return verrs
		}
		if e.ID < 0 {
			claimed[e.ID] = true
		}
		intents[i] = e
	}

	for _, i := range createOrder(o.meta, intents) {
		tmpID := intents[i].ID
		e, err := o.codec.Deserialize(nodes[i], "", b.tmpIDs)
		if err != nil {
			return err
		}
		e.ID = 0
		e.Version = 0
		o.dropInverse(e)

		if err := unresolved(e, tmpID); err != nil {
			return err
		}
		if err := o.validate(e); err != nil {
			return err
		}
		if err := o.loadForPolicy(ctx, tx, e); err != nil {
			return err
		}
		if !o.gate.WritableBy(ctx, e, b.principal) {
			return auth.Denied("create", e.Type, tmpID)
		}

		persisted, err := tx.PersistNew(ctx, e)
		if err != nil {
			return err
		}
		if tmpID < 0 {
			b.tmpIDs[tmpID] = persisted.ID
		}
		b.created = append(b.created, persisted)
	}
	return nil
}

func (o *Orchestrator) applyUpdates(ctx context.Context, tx store.Tx, b *batch, nodes []codec.Node) error {
	for _, node := range nodes {
		raw, err := o.codec.Deserialize(node, "", nil)
		if err != nil {
			return err
		}
		e, err := o.codec.Deserialize(node, "", b.tmpIDs)
		if err != nil {
			return err
		}
		o.dropInverse(e)
		if err := unresolved(e, raw.ID); err != nil {
			return err
		}
		current, err := tx.FindByID(ctx, e.Type, e.ID, nil)
		if err != nil {
			return err
		}
		if !o.gate.WritableBy(ctx, current, b.principal) {
			return auth.Denied("update", e.Type, e.ID)
		}
		expected := e.Version
		if raw.IsTemporary() {
			// created in this batch, so the client cannot know its version
			expected = current.Version
		}

		t, _ := o.meta.Type(e.Type)
		merged := current.Clone()
		for name, v := range e.Attributes {
			merged.Attributes[name] = v
		}
		for _, f := range t.Associations() {
			a, ok := e.Associations[f.Name]
			if !ok {
				continue
			}
			if f.Kind == schema.KindToOne && !a.Empty() {
				// attach the stored target, never the client's placeholder
				target, err := tx.FindByID(ctx, f.Target, a.Refs[0].ID, nil)
				if err != nil {
					return err
				}
				ref := entity.Loaded(target)
				merged.SetOne(f.Name, &ref)
				continue
			}
			merged.Associations[f.Name] = a
		}

		if err := o.validate(merged); err != nil {
			return err
		}
		updated, err := tx.Update(ctx, merged, expected)
		if err != nil {
			return err
		}
		b.updated = append(b.updated, updated)
	}
	return nil
}

func (o *Orchestrator) applyDeletes(ctx context.Context, tx store.Tx, b *batch, nodes []codec.Node) error {
	for _, node := range nodes {
		e, err := o.codec.Deserialize(node, "", b.tmpIDs)
		if err != nil {
			return err
		}
		current, err := tx.FindByID(ctx, e.Type, e.ID, nil)
		if err != nil {
			return err
		}
		if !o.gate.WritableBy(ctx, current, b.principal) {
			return auth.Denied("delete", current.Type, current.ID)
		}
		if err := tx.Delete(ctx, current.Type, current.ID); err != nil {
			return err
		}
		b.deleted = append(b.deleted, current)
		b.removed[entityKey{current.Type, current.ID}] = true
	}
	return nil
}

// refresh replaces created and updated entities with their stored state.
// Entities deleted later in the batch are dropped.
func (o *Orchestrator) refresh(ctx context.Context, tx store.Tx, b *batch) error {
	var err error
	if b.created, err = o.refreshAll(ctx, tx, b, b.created); err != nil {
		return err
	}
	b.updated, err = o.refreshAll(ctx, tx, b, b.updated)
	return err
}

func (o *Orchestrator) refreshAll(ctx context.Context, tx store.Tx, b *batch, list []*entity.Entity) ([]*entity.Entity, error) {
	out := list[:0]
	for _, e := range list {
		if b.removed[entityKey{e.Type, e.ID}] {
			continue
		}
		fresh, err := tx.FindByID(ctx, e.Type, e.ID, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, fresh)
	}
	return out, nil
}

// dropInverse removes associations the type does not own. The owning side
// is the only one written.
func (o *Orchestrator) dropInverse(e *entity.Entity) {
	for name := range e.Associations {
		if !o.meta.Owns(e.Type, name) {
			delete(e.Associations, name)
		}
	}
}

// loadForPolicy loads what the type's policy inspects onto a new entity
func (o *Orchestrator) loadForPolicy(ctx context.Context, tx store.Tx, e *entity.Entity) error {
	loader, ok := tx.(store.Loader)
	if !ok {
		return nil
	}
	return store.Expand(ctx, o.meta, loader, []*entity.Entity{e}, nil)
}

// unresolved reports references to temporary ids no create in the batch
// has claimed
func unresolved(e *entity.Entity, id int64) error {
	verrs := &validation.Errors{EntityType: e.Type, EntityID: id}
	if e.IsTemporary() {
		verrs.Add(codec.KeyID, fmt.Sprintf("unknown temporary id %d", e.ID))
	}
	names := make([]string, 0, len(e.Associations))
	for name := range e.Associations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, r := range e.Associations[name].Refs {
			if r.ID < 0 {
				verrs.Add(name, fmt.Sprintf("references unknown temporary id %d", r.ID))
			}
		}
	}
	if verrs.HasErrors() {
		return verrs
	}
	return nil
}

func (o *Orchestrator) validate(e *entity.Entity) error {
	if o.validator == nil {
		return nil
	}
	return o.validator.Validate(e)
}
