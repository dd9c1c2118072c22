package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatError(t *testing.T) {
	out := FormatError(ErrorOptions{
		Context:      "unknown type",
		Problem:      "Entyr",
		Suggestions:  []string{"Entry"},
		HelpCommands: []string{"List types: objgraph schema"},
		NoColor:      true,
	})

	assert.Contains(t, out, "UNKNOWN TYPE: Entyr")
	assert.Contains(t, out, "Did you mean: Entry?")
	assert.Contains(t, out, "→ List types: objgraph schema")
}

func TestWriteSuccess(t *testing.T) {
	var buf bytes.Buffer
	WriteSuccess(&buf, "migrated", true)
	assert.Equal(t, "✓ migrated\n", buf.String())
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, true, "FIELD", "TYPE")
	tbl.AddRow("title", "string")
	tbl.AddRow("comments", "[]EntryComment")
	tbl.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "FIELD     TYPE", lines[0])
	assert.Equal(t, "title     string", lines[2])
	assert.Equal(t, "comments  []EntryComment", lines[3])
}

func TestFindSimilar(t *testing.T) {
	candidates := []string{"Entry", "EntryComment", "EntryContent", "User"}

	assert.Equal(t, []string{"Entry"}, FindSimilar("entyr", candidates))
	assert.Empty(t, FindSimilar("Zebra", candidates))
	assert.Equal(t, 3, LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 0, LevenshteinDistance("", ""))
	assert.Equal(t, 4, LevenshteinDistance("", "user"))
}
