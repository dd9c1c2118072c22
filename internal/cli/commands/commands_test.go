package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/objgraph/internal/auth"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "objgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, NewRootCommand(), "version", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "objgraph version: dev")
	assert.Contains(t, out, "Go version: go")
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: shh\n")

	out, _, err := run(t, NewRootCommand(), "token", "alice", "--role", "admin", "--config", path)
	require.NoError(t, err)

	p, err := auth.NewTokenService("shh", time.Hour).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, []string{"admin"}, p.Roles)

	_, _, err = run(t, NewRootCommand(), "token", "alice", "--config", writeConfig(t, "log:\n  level: info\n"))
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestHashPasswordCommand(t *testing.T) {
	cmd := newHashPasswordCommand(func(string) (string, error) { return "s3cret", nil })
	out, _, err := run(t, cmd)
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("s3cret", strings.TrimSpace(out)))

	cmd = newHashPasswordCommand(func(string) (string, error) { return "", errors.New("interrupt") })
	_, _, err = run(t, cmd)
	assert.Error(t, err)
}

func TestSchemaCommand(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	out, _, err := run(t, NewRootCommand(), "schema", "--no-color", "--config", path)
	require.NoError(t, err)
	content := strings.Index(out, "EntryContent")
	entry := strings.Index(out, "Entry ")
	comment := strings.Index(out, "EntryComment")
	assert.True(t, content < entry && entry < comment, out)

	out, _, err = run(t, NewRootCommand(), "schema", "Entry", "--no-color", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[]EntryComment")

	_, stderr, err := run(t, NewRootCommand(), "schema", "Entyr", "--no-color", "--config", path)
	assert.Error(t, err)
	assert.Contains(t, stderr, "Did you mean: Entry?")
}

func TestSchemaFromFile(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`
types:
  - name: Author
    fields:
      - {name: name, type: string, required: true}
  - name: Book
    fields:
      - {name: title, type: string}
      - {name: author, to_one: Author}
`), 0o644))
	path := writeConfig(t, "schema:\n  file: "+schemaPath+"\n")

	out, _, err := run(t, NewRootCommand(), "schema", "Book", "--no-color", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "author")
	assert.Contains(t, out, "Author")
}

func TestMigrateCommand(t *testing.T) {
	sqlite := writeConfig(t, "database:\n  driver: sqlite3\n  url: file:unused.db\n")

	t.Run("memory store", func(t *testing.T) {
		flags := &globalFlags{configPath: writeConfig(t, "log:\n  level: info\n")}
		_, _, err := run(t, newMigrateCommand(flags, nil))
		assert.ErrorContains(t, err, "SQL database")
	})

	t.Run("dry run", func(t *testing.T) {
		flags := &globalFlags{configPath: sqlite, noColor: true}
		out, _, err := run(t, newMigrateCommand(flags, nil), "--dry-run")
		require.NoError(t, err)
		assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS")
		assert.Less(t, strings.Index(out, "entry_contents"), strings.Index(out, "entry_comments"))
	})

	t.Run("declined", func(t *testing.T) {
		flags := &globalFlags{configPath: sqlite, noColor: true}
		asked := ""
		confirm := func(message string) (bool, error) {
			asked = message
			return false, nil
		}
		out, _, err := run(t, newMigrateCommand(flags, confirm))
		require.NoError(t, err)
		assert.Contains(t, asked, "sqlite3")
		assert.Contains(t, out, "Migration cancelled")
	})
}

func TestServeStopsOnCancel(t *testing.T) {
	path := writeConfig(t, "server:\n  host: 127.0.0.1\n  port: 0\n  shutdown_timeout: 2s\nauth:\n  jwt_secret: shh\nlog:\n  level: error\n")
	flags := &globalFlags{configPath: path}
	cfg, err := flags.load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
