package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory database with all repositories
func setupTestDB(t *testing.T) (*Repositories, func()) {
	t.Helper()

	cfg := Config{
		DSN:             ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 30 * time.Second,
	}

	repos, err := NewRepositories(context.Background(), cfg)
	require.NoError(t, err)

	return repos, func() {
		assert.NoError(t, repos.Close())
	}
}

func TestRepositories_Setup(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, repos.Ping(context.Background()))
	assert.NotNil(t, repos.Job)
	assert.NotNil(t, repos.Result)

	// schema is idempotent, re-running it should not fail
	require.NoError(t, initSchema(context.Background(), repos.DB))
}

func TestIsLockError(t *testing.T) {
	assert.False(t, isLockError(nil))
	assert.True(t, isLockError(errString("database is locked")))
	assert.True(t, isLockError(errString("SQLITE_BUSY: db busy")))
	assert.False(t, isLockError(errString("syntax error")))
}

func TestIsConflictError(t *testing.T) {
	assert.False(t, isConflictError(nil))
	assert.True(t, isConflictError(errString("constraint failed: UNIQUE constraint failed: jobs.source_url, jobs.external_id")))
	assert.False(t, isConflictError(errString("database is locked")))
}

type errString string

func (e errString) Error() string { return string(e) }
