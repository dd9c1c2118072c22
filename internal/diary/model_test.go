package diary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/commit"
	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

func TestInsertionOrder(t *testing.T) {
	r := schema.NewRegistry()
	require.NoError(t, Register(r))
	meta, err := r.Resolve()
	require.NoError(t, err)

	var names []string
	for _, t := range meta.InsertionOrder() {
		names = append(names, t.Name)
	}
	assert.Equal(t, []string{"EntryContent", "Entry", "EntryComment"}, names)
}

func TestPolicies(t *testing.T) {
	ctx := context.Background()
	alice := &auth.Principal{Name: "alice"}
	bob := &auth.Principal{Name: "bob"}
	lurker := &auth.Principal{Name: "carol", Roles: []string{LurkerRole}}
	lurkingAlice := &auth.Principal{Name: "alice", Roles: []string{LurkerRole}}

	entry := entity.Placeholder("Entry", 1)
	entry.Set("user_name", "alice")

	comment := entity.Placeholder("EntryComment", 2)
	ref := entity.Loaded(entry)
	comment.SetOne("entry", &ref)

	orphan := entity.Placeholder("EntryComment", 3)

	policy := auth.Funcs{Read: entryReadable, Write: entryWritable}
	tests := []struct {
		name          string
		policy        auth.Policy
		e             *entity.Entity
		p             *auth.Principal
		read, write bool
	}{
		{"owner", policy, entry, alice, true, true},
		{"stranger", policy, entry, bob, false, false},
		{"lurker", policy, entry, lurker, true, false},
		{"lurking owner", policy, entry, lurkingAlice, true, false},
		{"anonymous", policy, entry, nil, false, false},
		{"comment follows entry", viaEntry, comment, bob, false, false},
		{"comment owner", viaEntry, comment, alice, true, true},
		{"comment without entry", viaEntry, orphan, bob, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.read, tt.policy.ReadableBy(ctx, tt.e, tt.p))
			assert.Equal(t, tt.write, tt.policy.WritableBy(ctx, tt.e, tt.p))
		})
	}
}

func TestCommentCount(t *testing.T) {
	e := entity.New("Entry")
	assert.Nil(t, commentCount(e))
	e.SetMany("comments", []entity.Ref{entity.Unloaded(1), entity.Unloaded(2)})
	assert.Equal(t, int64(2), commentCount(e))
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewLogger(zap.New(core))

	entry := entity.Placeholder("Entry", 5)
	entry.Set("user_name", "alice")
	entry.Set("title", "monday")
	err := l.CommitCompleted(context.Background(), commit.Notification{
		Created: []*entity.Entity{entity.Placeholder("EntryContent", 1), entry},
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "diary entry created", entries[0].Message)
	assert.Equal(t, "monday", entries[0].ContextMap()["title"])
}
