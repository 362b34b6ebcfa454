package app

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/sparechange/internal/baseline"
	"github.com/wnt/sparechange/internal/config"
	"github.com/wnt/sparechange/internal/database"
	"github.com/wnt/sparechange/internal/ledger"
	"github.com/wnt/sparechange/internal/tracker"
)

func TestBuildRequiresDatabaseName(t *testing.T) {
	_, err := Build(context.Background(), config.Config{}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
}

func TestServeStopsOnCancel(t *testing.T) {
	db, err := database.Open(sqlite.Open(":memory:"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	store := baseline.NewStore(db)
	l := ledger.New(db, ledger.DefaultThreshold)
	a := &App{
		Config:    config.Config{HTTPPort: "0"},
		Baselines: store,
		Ledger:    l,
		Tracker:   tracker.New(nil, nil, store, l, tracker.Config{}, zerolog.Nop()),
		db:        db,
		logger:    zerolog.Nop(),
	}
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
