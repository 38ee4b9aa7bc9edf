package storage

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_attempts.sql": {Data: []byte("SELECT 2")},
		"001_init.sql":     {Data: []byte("SELECT 1")},
		"003_more.sql":     {Data: []byte("SELECT 3")},
		"README.md":        {Data: []byte("docs")},
		"old/000_x.sql":    {Data: []byte("SELECT 0")},
	}

	pending, err := pendingMigrations(fsys, map[string]bool{"002_attempts.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "003_more.sql"}, pending)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	names, err := fs.Glob(MigrationSource(""), "*.sql")
	require.NoError(t, err)
	assert.Contains(t, names, "001_init.sql")
}
