// Package codec converts entity graphs to and from the tree representation
// exchanged with clients.
//
// A tree is a Node: scalar fields by name, the type tag under "type", and
// associations either inline (a nested Node or list of Nodes under the field
// name) or as reference tokens ("<field>_ref_id" / "<field>_ref_ids"). Nodes
// the caller may not read are replaced by {id, type, unauthorized: true}.
package codec

import (
	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// Node is one entity in tree form
type Node = map[string]any

// Wire keys shared by every node
const (
	KeyType         = "type"
	KeyID           = "id"
	KeyVersion      = "version"
	KeyCreatedAt    = "created_at"
	KeyUpdatedAt    = "updated_at"
	KeyUnauthorized = "unauthorized"

	RefIDSuffix  = "_ref_id"
	RefIDsSuffix = "_ref_ids"
)

// DefaultParallelism bounds concurrent serialization of top level entities
const DefaultParallelism = 4

// Codec serializes and deserializes entities of the registered types
type Codec struct {
	meta        *schema.Metadata
	gate        *auth.Gate
	parallelism int
}

// Option configures a Codec
type Option func(*Codec)

// WithParallelism sets how many top level entities SerializeAll processes
// at once. Values below one serialize sequentially.
func WithParallelism(n int) Option {
	return func(c *Codec) {
		if n < 1 {
			n = 1
		}
		c.parallelism = n
	}
}

// New creates a codec. A nil gate lets every caller read everything.
func New(meta *schema.Metadata, gate *auth.Gate, opts ...Option) *Codec {
	c := &Codec{
		meta:        meta,
		gate:        gate,
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metadata returns the schema the codec works against
func (c *Codec) Metadata() *schema.Metadata {
	return c.meta
}

// RefIDKey returns the token key of a to-one field
func RefIDKey(field string) string {
	return field + RefIDSuffix
}

// RefIDsKey returns the token key of a to-many field
func RefIDsKey(field string) string {
	return field + RefIDsSuffix
}
