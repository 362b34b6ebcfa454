package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/sparechange/internal/baseline"
	"github.com/wnt/sparechange/internal/database"
	"github.com/wnt/sparechange/internal/ledger"
	"github.com/wnt/sparechange/internal/pricing"
	"github.com/wnt/sparechange/internal/solana"
	"gorm.io/gorm"
)

const (
	walletA = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	walletB = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	unpricedMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeSource serves per-wallet histories, newest first. The first entry of
// latest overrides the most recent transaction id.
type fakeSource struct {
	mutex       sync.Mutex
	histories   map[string][]solana.Transfer
	latest      map[string]string
	errs        map[string]error
	fetchCalls  int
	latestCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		histories: map[string][]solana.Transfer{},
		latest:    map[string]string{},
		errs:      map[string]error{},
	}
}

func (f *fakeSource) push(wallet string, transfers ...solana.Transfer) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	// transfers are given oldest first
	for _, t := range transfers {
		f.histories[wallet] = append([]solana.Transfer{t}, f.histories[wallet]...)
	}
}

func (f *fakeSource) FetchOutgoing(ctx context.Context, wallet string, limit int, sinceID string) ([]solana.Transfer, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.fetchCalls++
	if err := f.errs[wallet]; err != nil {
		return nil, err
	}

	var out []solana.Transfer
	for _, t := range f.histories[wallet] {
		if sinceID != "" && t.ID == sinceID {
			break
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) Latest(ctx context.Context, wallet string) (string, bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.latestCalls++
	if err := f.errs[wallet]; err != nil {
		return "", false, err
	}
	if id, ok := f.latest[wallet]; ok {
		return id, true, nil
	}
	if h := f.histories[wallet]; len(h) > 0 {
		return h[0].ID, true, nil
	}
	return "", false, nil
}

func (f *fakeSource) calls() (int, int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.fetchCalls, f.latestCalls
}

type fakePrices map[string]decimal.Decimal

func (p fakePrices) PriceAt(ctx context.Context, asset string, at time.Time) pricing.Quote {
	price, ok := p[asset]
	if !ok {
		return pricing.Quote{Price: decimal.Zero, At: at, Source: "fake"}
	}
	return pricing.Quote{Price: price, At: at, Source: "fake"}
}

type fakeLocker struct {
	mutex sync.Mutex
	held  map[string]bool
	err   error
}

func (l *fakeLocker) Acquire(ctx context.Context, key string) (string, bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held[key] {
		return "", false, nil
	}
	l.held[key] = true
	return "token", true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.held, key)
	return nil
}

type fixture struct {
	db      *gorm.DB
	source  *fakeSource
	tracker *Tracker
	store   *baseline.Store
	ledger  *ledger.Ledger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := database.Open(sqlite.Open(":memory:"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	source := newFakeSource()
	prices := fakePrices{
		solana.USDCMint:    decimal.NewFromInt(1),
		solana.NativeAsset: decimal.RequireFromString("133.50"),
	}
	store := baseline.NewStore(db)
	l := ledger.New(db, decimal.NewFromInt(1))

	return &fixture{
		db:      db,
		source:  source,
		tracker: New(source, prices, store, l, Config{FetchTimeout: time.Second, Concurrency: 2}, zerolog.Nop(), opts...),
		store:   store,
		ledger:  l,
	}
}

func usdc(id string, amount string, offset time.Duration) solana.Transfer {
	return solana.Transfer{
		ID:        id,
		Timestamp: baseTime.Add(offset),
		Symbol:    "USDC",
		Mint:      solana.USDCMint,
		Quantity:  decimal.RequireFromString(amount),
	}
}

func unpriced(id string, offset time.Duration) solana.Transfer {
	return solana.Transfer{
		ID:        id,
		Timestamp: baseTime.Add(offset),
		Symbol:    "BONK",
		Mint:      unpricedMint,
		Quantity:  decimal.NewFromInt(1000),
	}
}

func (f *fixture) baseline(t *testing.T, wallet string) string {
	t.Helper()
	b, err := f.store.Get(context.Background(), wallet)
	require.NoError(t, err)
	return b.LastID()
}

func TestTrackRoundupsEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.push(walletA, usdc("T0", "5.00", 0))
	init, err := f.tracker.InitializeWallet(ctx, walletA)
	require.NoError(t, err)
	assert.True(t, init.IsNewWallet)
	assert.Equal(t, "T0", init.LastTrackedTransferID)

	f.source.push(walletA,
		usdc("T1", "13.35", time.Minute),
		usdc("T2", "8.85", 2*time.Minute),
		usdc("T3", "22.80", 3*time.Minute),
	)

	result, err := f.tracker.TrackRoundups(ctx, walletA, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Stored)
	assert.Equal(t, 0, result.Skipped)
	assert.True(t, decimal.RequireFromString("1.00").Equal(result.TotalRoundup), "total = %s", result.TotalRoundup)
	assert.True(t, result.IsReadyForInvestment)
	assert.Equal(t, "T3", result.NewBaseline)
	assert.Equal(t, "T3", f.baseline(t, walletA))

	roundups, err := f.tracker.GetRoundups(ctx, walletA, 10)
	require.NoError(t, err)
	require.Len(t, roundups.Records, 3)
	assert.Equal(t, 3, roundups.Count)
	assert.Equal(t, int64(3), roundups.TotalCount)
	assert.Equal(t, "T3", roundups.Records[0].TransferID)
	assert.True(t, decimal.RequireFromString("0.20").Equal(roundups.Records[0].RoundupAmount))
	assert.Equal(t, "T1", roundups.Records[2].TransferID)
	assert.True(t, decimal.RequireFromString("0.65").Equal(roundups.Records[2].RoundupAmount))
	require.NotNil(t, roundups.Records[2].AssetMint)
	assert.Equal(t, solana.USDCMint, *roundups.Records[2].AssetMint)
	assert.True(t, roundups.IsReadyForInvestment)

	total, err := f.tracker.GetTotal(ctx, walletA)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.00").Equal(total))
}

func TestTrackRoundupsNativeTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SetBaseline(ctx, walletA, "T0")
	require.NoError(t, err)
	f.source.push(walletA, usdc("T0", "1", 0), solana.Transfer{
		ID:        "T1",
		Timestamp: baseTime.Add(time.Minute),
		Symbol:    solana.NativeAsset,
		Quantity:  decimal.RequireFromString("0.1"),
	})

	result, err := f.tracker.TrackRoundups(ctx, walletA, 100, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stored)

	roundups, err := f.tracker.GetRoundups(ctx, walletA, 10)
	require.NoError(t, err)
	require.Len(t, roundups.Records, 1)
	entry := roundups.Records[0]
	assert.Nil(t, entry.AssetMint)
	assert.Equal(t, "SOL", entry.AssetSymbol)
	assert.True(t, decimal.RequireFromString("13.35").Equal(entry.USDValue), "usd = %s", entry.USDValue)
	assert.True(t, decimal.RequireFromString("0.65").Equal(entry.RoundupAmount))
	assert.Equal(t, "fake", entry.PriceSource)
}

func TestTrackRoundupsSkipsWithoutStalling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SetBaseline(ctx, walletA, "T0")
	require.NoError(t, err)
	f.source.push(walletA,
		usdc("T0", "1", 0),
		usdc("T1", "2.50", time.Minute),
		unpriced("T2", 2*time.Minute),
		usdc("T3", "3.75", 3*time.Minute),
	)

	result, err := f.tracker.TrackRoundups(ctx, walletA, 100, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "T3", result.NewBaseline)
	assert.Equal(t, "T3", f.baseline(t, walletA))
	assert.True(t, decimal.RequireFromString("0.75").Equal(result.TotalRoundup))
	assert.False(t, result.IsReadyForInvestment)
}

func TestTrackRoundupsRequiresInitialization(t *testing.T) {
	f := newFixture(t)
	f.source.push(walletA, usdc("T1", "1.50", 0))

	_, err := f.tracker.TrackRoundups(context.Background(), walletA, 100, false)
	assert.ErrorIs(t, err, ErrNotInitialized)

	fetches, _ := f.source.calls()
	assert.Equal(t, 0, fetches)

	count, err := f.ledger.Count(context.Background(), walletA)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTrackRoundupsInvalidAddress(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker.TrackRoundups(context.Background(), "not-a-wallet", 100, false)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, KindInvalidAddress, KindOf(err))
}

func TestTrackRoundupsBaselineIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.push(walletA, usdc("T0", "1", 0))
	_, err := f.tracker.InitializeWallet(ctx, walletA)
	require.NoError(t, err)

	// Nothing new
	result, err := f.tracker.TrackRoundups(ctx, walletA, 100, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, "T0", result.NewBaseline)
	assert.True(t, result.TotalRoundup.IsZero())

	f.source.push(walletA, usdc("T1", "1.10", time.Minute))
	result, err = f.tracker.TrackRoundups(ctx, walletA, 100, false)
	require.NoError(t, err)
	assert.Equal(t, "T1", result.NewBaseline)

	f.source.push(walletA, usdc("T2", "1.20", 2*time.Minute))
	result, err = f.tracker.TrackRoundups(ctx, walletA, 100, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, "T2", result.NewBaseline)

	// Reprocessing sees only duplicates and keeps the baseline
	result, err = f.tracker.TrackRoundups(ctx, walletA, 100, true)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Stored) // T0 predates initialization
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, "T2", result.NewBaseline)
}

func TestTrackRoundupsReprocessRecoversSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prices := f.tracker.prices.(fakePrices)

	_, err := f.store.SetBaseline(ctx, walletA, "T0")
	require.NoError(t, err)
	f.source.push(walletA, usdc("T0", "1", 0), unpriced("T1", time.Minute))

	result, err := f.tracker.TrackRoundups(ctx, walletA, 100, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "T1", result.NewBaseline)

	prices[unpricedMint] = decimal.RequireFromString("0.00123")
	result, err = f.tracker.TrackRoundups(ctx, walletA, 100, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, "T1", result.NewBaseline)
}

func TestTrackRoundupsUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SetBaseline(ctx, walletA, "T0")
	require.NoError(t, err)
	f.source.errs[walletA] = errors.New("connection refused")

	_, err = f.tracker.TrackRoundups(ctx, walletA, 100, false)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "T0", f.baseline(t, walletA))
}

func TestTrackRoundupsPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SetBaseline(ctx, walletA, "T0")
	require.NoError(t, err)
	f.source.push(walletA, usdc("T0", "1", 0), usdc("T1", "1.50", time.Minute))

	err = f.db.Callback().Create().Before("gorm:create").Register("test:fail_roundups", func(tx *gorm.DB) {
		if tx.Statement.Table == "roundup_entries" {
			tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(t, err)

	_, err = f.tracker.TrackRoundups(ctx, walletA, 100, false)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, "T0", f.baseline(t, walletA))
}

func TestTrackRoundupsLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{}}
	f := newFixture(t, WithLocker(locker))
	ctx := context.Background()

	_, err := f.store.SetBaseline(ctx, walletA, "T0")
	require.NoError(t, err)

	locker.held[walletA] = true
	_, err = f.tracker.TrackRoundups(ctx, walletA, 100, false)
	assert.ErrorIs(t, err, ErrTrackingInProgress)

	delete(locker.held, walletA)
	_, err = f.tracker.TrackRoundups(ctx, walletA, 100, false)
	require.NoError(t, err)
	assert.Empty(t, locker.held, "lock must be released after the run")

	// Lock backend failures do not block tracking
	locker.err = errors.New("redis down")
	_, err = f.tracker.TrackRoundups(ctx, walletA, 100, false)
	assert.NoError(t, err)
}

func TestInitializeWallet(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.source.push(walletA, usdc("T1", "1", 0))

		first, err := f.tracker.InitializeWallet(ctx, walletA)
		require.NoError(t, err)
		assert.True(t, first.IsNewWallet)

		f.source.push(walletA, usdc("T2", "1", time.Minute))
		second, err := f.tracker.InitializeWallet(ctx, walletA)
		require.NoError(t, err)
		assert.False(t, second.IsNewWallet)
		assert.Equal(t, "T1", second.LastTrackedTransferID)

		_, latestCalls := f.source.calls()
		assert.Equal(t, 1, latestCalls)
	})

	t.Run("baseline on non-transfer transaction", func(t *testing.T) {
		f := newFixture(t)
		f.source.latest[walletA] = "INCOMING"

		result, err := f.tracker.InitializeWallet(context.Background(), walletA)
		require.NoError(t, err)
		assert.Equal(t, "INCOMING", result.LastTrackedTransferID)
	})

	t.Run("no history", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.tracker.InitializeWallet(context.Background(), walletA)
		assert.ErrorIs(t, err, ErrNoTransactionHistory)
		assert.Equal(t, KindNoTransactionHistory, KindOf(err))
	})

	t.Run("invalid address", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.tracker.InitializeWallet(context.Background(), "0xdeadbeef")
		assert.ErrorIs(t, err, ErrInvalidAddress)
		_, latestCalls := f.source.calls()
		assert.Zero(t, latestCalls)
	})

	t.Run("upstream failure", func(t *testing.T) {
		f := newFixture(t)
		f.source.errs[walletA] = errors.New("timeout")
		_, err := f.tracker.InitializeWallet(context.Background(), walletA)
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

func TestGetRoundupsEmpty(t *testing.T) {
	f := newFixture(t)

	result, err := f.tracker.GetRoundups(context.Background(), walletB, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Zero(t, result.Count)
	assert.True(t, result.TotalRoundup.IsZero())
	assert.False(t, result.IsReadyForInvestment)

	_, err = f.tracker.GetTotal(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestResetBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.tracker.ResetBaseline(ctx, walletA), ErrNotInitialized)

	_, err := f.store.SetBaseline(ctx, walletA, "T0")
	require.NoError(t, err)
	require.NoError(t, f.tracker.ResetBaseline(ctx, walletA))

	_, err = f.tracker.TrackRoundups(ctx, walletA, 100, false)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestNextBaseline(t *testing.T) {
	batch := []solana.Transfer{{ID: "T3"}, {ID: "T2"}, {ID: "T1"}}

	assert.Equal(t, "", nextBaseline(nil, "T1", false))
	assert.Equal(t, "T3", nextBaseline(batch, "T0", false))
	assert.Equal(t, "T3", nextBaseline(batch, "", true))
	assert.Equal(t, "T3", nextBaseline(batch, "T2", true))
	assert.Equal(t, "", nextBaseline(batch, "T3", true))
	assert.Equal(t, "", nextBaseline(batch, "UNKNOWN", true))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "", KindOf(nil))
	assert.Equal(t, KindNotInitialized, KindOf(ErrNotInitialized))
	assert.Equal(t, KindUpstreamUnavailable, KindOf(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, errors.New("boom"))))
	assert.Equal(t, KindTrackingInProgress, KindOf(ErrTrackingInProgress))
	assert.Equal(t, KindInternal, KindOf(errors.New("other")))
}

// barrierSource holds every fetch until all expected callers have fetched,
// so concurrent runs read the same baseline and the same batch.
type barrierSource struct {
	*fakeSource
	arrived sync.WaitGroup
}

func (b *barrierSource) FetchOutgoing(ctx context.Context, wallet string, limit int, sinceID string) ([]solana.Transfer, error) {
	out, err := b.fakeSource.FetchOutgoing(ctx, wallet, limit, sinceID)
	b.arrived.Done()
	b.arrived.Wait()
	return out, err
}

func TestTrackRoundupsOverlappingRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SetBaseline(ctx, walletA, "T0")
	require.NoError(t, err)
	f.source.push(walletA,
		usdc("T0", "5.00", 0),
		usdc("T1", "13.35", time.Minute),
		usdc("T2", "8.85", 2*time.Minute),
		usdc("T3", "22.80", 3*time.Minute),
	)

	const runs = 2
	source := &barrierSource{fakeSource: f.source}
	source.arrived.Add(runs)
	tr := New(source, f.tracker.prices, f.store, f.ledger, f.tracker.config, zerolog.Nop())

	results := make([]*TrackResult, runs)
	errs := make([]error, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tr.TrackRoundups(ctx, walletA, 100, false)
		}(i)
	}
	wg.Wait()

	stored, skipped := 0, 0
	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i], "run %d", i)
		assert.Equal(t, 3, results[i].Processed)
		assert.Equal(t, "T3", results[i].NewBaseline)
		stored += results[i].Stored
		skipped += results[i].Skipped
	}
	assert.Equal(t, 3, stored)
	assert.Equal(t, 3, skipped)

	assert.Equal(t, "T3", f.baseline(t, walletA))
	count, err := f.ledger.Count(ctx, walletA)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	total, err := f.ledger.TotalFor(ctx, walletA)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.00").Equal(total), "total = %s", total)
}

func TestTrackRoundupsReportsTruncatedBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SetBaseline(ctx, walletA, "T0")
	require.NoError(t, err)
	f.source.push(walletA,
		usdc("T0", "5.00", 0),
		usdc("T1", "1.10", time.Minute),
		usdc("T2", "1.20", 2*time.Minute),
		usdc("T3", "1.30", 3*time.Minute),
	)

	result, err := f.tracker.TrackRoundups(ctx, walletA, 2, false)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, 2, result.Stored)
	// The baseline still moves to the newest transfer; T1 is not tracked
	assert.Equal(t, "T3", result.NewBaseline)

	f.source.push(walletA, usdc("T4", "1.40", 4*time.Minute))
	result, err = f.tracker.TrackRoundups(ctx, walletA, 2, false)
	require.NoError(t, err)
	assert.False(t, result.Truncated)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, "T4", result.NewBaseline)
}
