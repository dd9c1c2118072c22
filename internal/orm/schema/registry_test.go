package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeNames(types []*EntityType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.Name
	}
	return out
}

func resolve(t *testing.T, types ...*EntityType) (*Metadata, error) {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(types...))
	return r.Resolve()
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewType("Parent").MustBuild()))

	err := r.Register(NewType("Parent").MustBuild())
	assert.Error(t, err)

	_, ok := r.Get("Parent")
	assert.True(t, ok)
	assert.Equal(t, []string{"Parent"}, r.List())

	_, err = NewRegistry().Resolve()
	assert.Error(t, err)
}

func TestResolveInsertionOrder(t *testing.T) {
	t.Run("owner precedes dependent regardless of registration order", func(t *testing.T) {
		m, err := resolve(t,
			NewType("Child").ToOne("parent", "Parent").MustBuild(),
			NewType("Parent").String("name").ToMany("children", "Child", MappedBy("parent")).MustBuild(),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"Parent", "Child"}, typeNames(m.InsertionOrder()))
		assert.Less(t, m.Rank("Parent"), m.Rank("Child"))
		assert.Equal(t, -1, m.Rank("Missing"))
	})

	t.Run("diary model", func(t *testing.T) {
		m, err := resolve(t,
			NewType("Entry").
				ToOne("content", "EntryContent").
				ToMany("comments", "EntryComment", MappedBy("entry")).
				MustBuild(),
			NewType("EntryContent").ToOne("entry", "Entry", MappedBy("content")).MustBuild(),
			NewType("EntryComment").ToOne("entry", "Entry").MustBuild(),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"EntryContent", "Entry", "EntryComment"}, typeNames(m.InsertionOrder()))
	})

	t.Run("owned to-many target goes first", func(t *testing.T) {
		m, err := resolve(t,
			NewType("Playlist").ToMany("songs", "Song").MustBuild(),
			NewType("Song").String("title").MustBuild(),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"Song", "Playlist"}, typeNames(m.InsertionOrder()))
	})

	t.Run("unrelated types keep registration order", func(t *testing.T) {
		m, err := resolve(t,
			NewType("Alpha").MustBuild(),
			NewType("Beta").MustBuild(),
			NewType("Gamma").MustBuild(),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, typeNames(m.InsertionOrder()))
	})

	t.Run("diamond", func(t *testing.T) {
		m, err := resolve(t,
			NewType("D").ToOne("b", "B").ToOne("c", "C").MustBuild(),
			NewType("C").ToOne("a", "A").MustBuild(),
			NewType("B").ToOne("a", "A").MustBuild(),
			NewType("A").MustBuild(),
		)
		require.NoError(t, err)
		order := typeNames(m.InsertionOrder())
		require.Len(t, order, 4)
		assert.Equal(t, "A", order[0])
		assert.Equal(t, "D", order[3])
	})

	t.Run("self references do not create cycles", func(t *testing.T) {
		m, err := resolve(t,
			NewType("Node").
				ToOne("parent", "Node").
				ToMany("children", "Node", MappedBy("parent")).
				MustBuild(),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"Node"}, typeNames(m.InsertionOrder()))
		assert.True(t, m.Owns("Node", "parent"))
		assert.False(t, m.Owns("Node", "children"))
	})
}

func TestResolveCycles(t *testing.T) {
	t.Run("mutually owned to-ones", func(t *testing.T) {
		_, err := resolve(t,
			NewType("A").ToOne("b", "B").MustBuild(),
			NewType("B").ToOne("a", "A").MustBuild(),
		)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOwnershipCycle)
		assert.Contains(t, err.Error(), "Cycle 1:")
	})

	t.Run("cycle reachable from a root", func(t *testing.T) {
		_, err := resolve(t,
			NewType("Root").MustBuild(),
			NewType("A").ToOne("root", "Root").ToOne("c", "C").MustBuild(),
			NewType("B").ToOne("a", "A").MustBuild(),
			NewType("C").ToOne("b", "B").MustBuild(),
		)
		assert.ErrorIs(t, err, ErrOwnershipCycle)
	})

	t.Run("three type cycle", func(t *testing.T) {
		_, err := resolve(t,
			NewType("A").ToMany("bs", "B").MustBuild(),
			NewType("B").ToMany("cs", "C").MustBuild(),
			NewType("C").ToOne("a", "A").MustBuild(),
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "->")
	})
}

func TestResolveValidation(t *testing.T) {
	t.Run("unknown target", func(t *testing.T) {
		_, err := resolve(t, NewType("A").ToOne("b", "Missing").MustBuild())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown target type Missing")
	})

	t.Run("mapped by must name an association back", func(t *testing.T) {
		_, err := resolve(t,
			NewType("A").String("name").MustBuild(),
			NewType("B").ToOne("a", "A", MappedBy("name")).MustBuild(),
		)
		assert.Error(t, err)

		_, err = resolve(t,
			NewType("A").ToOne("c", "C").MustBuild(),
			NewType("B").ToMany("as", "A", MappedBy("c")).MustBuild(),
			NewType("C").MustBuild(),
		)
		assert.Error(t, err)
	})

	t.Run("both sides mapped", func(t *testing.T) {
		_, err := resolve(t,
			NewType("A").ToOne("b", "B", MappedBy("a")).MustBuild(),
			NewType("B").ToOne("a", "A", MappedBy("b")).MustBuild(),
		)
		assert.Error(t, err)
	})

	t.Run("policy expand path", func(t *testing.T) {
		_, err := resolve(t, NewType("A").String("name").PolicyExpand("name").MustBuild())
		assert.Error(t, err)
	})
}

func TestMetadata(t *testing.T) {
	m, err := resolve(t,
		NewType("Parent").
			String("name", Required()).
			String("secret", Hidden()).
			ToMany("children", "Child", MappedBy("parent")).
			MustBuild(),
		NewType("Child").ToOne("parent", "Parent").PolicyExpand("parent").MustBuild(),
	)
	require.NoError(t, err)

	t.Run("ownership and inverses", func(t *testing.T) {
		assert.True(t, m.Owns("Child", "parent"))
		assert.False(t, m.Owns("Parent", "children"))
		assert.False(t, m.Owns("Parent", "name"))
		assert.False(t, m.Owns("Missing", "x"))

		inv, ok := m.Inverse("Child", "parent")
		require.True(t, ok)
		assert.Equal(t, "children", inv.Name)

		inv, ok = m.Inverse("Parent", "children")
		require.True(t, ok)
		assert.Equal(t, "parent", inv.Name)
	})

	t.Run("definitions", func(t *testing.T) {
		def, ok := m.Definition("Parent")
		require.True(t, ok)
		assert.Equal(t, "string", def["name"])
		assert.Equal(t, "[]Child", def["children"])
		assert.Equal(t, "int", def["id"])
		assert.NotContains(t, def, "secret")

		all := m.Definitions()
		assert.Equal(t, "Parent", all["Child"]["parent"])

		_, ok = m.Definition("Missing")
		assert.False(t, ok)
	})

	t.Run("types", func(t *testing.T) {
		assert.Equal(t, []string{"Parent", "Child"}, typeNames(m.Types()))
		_, ok := m.Type("Child")
		assert.True(t, ok)
		assert.Nil(t, m.PolicyFor("Child"))
	})
}
