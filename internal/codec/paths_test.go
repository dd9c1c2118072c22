package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePaths(t *testing.T) {
	p := ParsePaths("comments.author, tags", "comments.entry", "", " . ")

	assert.True(t, p.Has("comments"))
	assert.True(t, p.Has("tags"))
	assert.False(t, p.Has("author"))

	sub := p.Sub("comments")
	assert.True(t, sub.Has("author"))
	assert.True(t, sub.Has("entry"))
	assert.Empty(t, p.Sub("missing"))
	assert.Empty(t, p.Sub("tags"))

	assert.Equal(t, []string{"comments.author", "comments.entry", "tags"}, p.List())

	var none Paths
	assert.False(t, none.Has("x"))
	assert.Empty(t, none.Sub("x"))
}
