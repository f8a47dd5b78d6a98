package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officebet/pool-engine/internal/config"
	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/store"
)

func TestOpen_Memory(t *testing.T) {
	b, err := Open(context.Background(), &config.Config{Storage: config.StorageConfig{Driver: config.DriverMemory}})
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &store.MemoryStore{}, b.Store)
	assert.Nil(t, b.Redis)
}

func TestOpen_SQLitePersists(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Storage: config.StorageConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "pool.db"),
	}}

	b, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, b.Store.CreateAccount(ctx, &model.Account{ID: "a1", Username: "alice", Balance: 1000}))
	b.Close()

	b, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()

	a, err := b.Store.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), a.Balance)
}
