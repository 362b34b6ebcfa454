package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnt/sparechange/internal/baseline"
	"github.com/wnt/sparechange/internal/ledger"
	"github.com/wnt/sparechange/internal/logger"
	"github.com/wnt/sparechange/internal/metrics"
	"github.com/wnt/sparechange/internal/models"
	"github.com/wnt/sparechange/internal/pricing"
	"github.com/wnt/sparechange/internal/solana"
)

// Default configuration values
const (
	DefaultLimit        = 100
	DefaultFetchTimeout = 30 * time.Second
	DefaultConcurrency  = 4

	releaseTimeout = 5 * time.Second
)

// TransferSource lists a wallet's outgoing transfers
type TransferSource interface {
	FetchOutgoing(ctx context.Context, wallet string, limit int, sinceID string) ([]solana.Transfer, error)
	Latest(ctx context.Context, wallet string) (string, bool, error)
}

// PriceLookup prices an asset for a transfer made at a given time
type PriceLookup interface {
	PriceAt(ctx context.Context, asset string, at time.Time) pricing.Quote
}

// Locker serializes runs for the same wallet
type Locker interface {
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Config holds tracker settings
type Config struct {
	FetchTimeout time.Duration
	Concurrency  int
}

// Tracker turns a wallet's outgoing transfers into recorded round-ups
type Tracker struct {
	source    TransferSource
	prices    PriceLookup
	baselines *baseline.Store
	ledger    *ledger.Ledger
	locker    Locker
	config    Config
	logger    zerolog.Logger
}

// Option configures a Tracker
type Option func(*Tracker)

// WithLocker enables the per-wallet run lock
func WithLocker(l Locker) Option {
	return func(t *Tracker) { t.locker = l }
}

// New creates a tracker
func New(
	source TransferSource,
	prices PriceLookup,
	baselines *baseline.Store,
	ledger *ledger.Ledger,
	cfg Config,
	log zerolog.Logger,
	opts ...Option,
) *Tracker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	t := &Tracker{
		source:    source,
		prices:    prices,
		baselines: baselines,
		ledger:    ledger,
		config:    cfg,
		logger:    log.With().Str("component", "tracker").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// InitResult is the outcome of InitializeWallet
type InitResult struct {
	Wallet                string `json:"wallet"`
	LastTrackedTransferID string `json:"last_tracked_transfer_id"`
	IsNewWallet           bool   `json:"is_new_wallet"`
}

// TrackResult is the outcome of TrackRoundups
type TrackResult struct {
	Wallet               string          `json:"wallet"`
	Processed            int             `json:"processed"`
	Stored               int             `json:"stored"`
	Skipped              int             `json:"skipped"`
	TotalRoundup         decimal.Decimal `json:"total_roundup"`
	NewBaseline          string          `json:"new_baseline"`
	IsReadyForInvestment bool            `json:"is_ready_for_investment"`
	// Truncated is set when the batch hit the limit; older transfers past
	// the baseline may not have been seen
	Truncated bool `json:"truncated"`
}

// RoundupsResult is the outcome of GetRoundups
type RoundupsResult struct {
	Wallet               string                `json:"wallet"`
	Records              []models.RoundupEntry `json:"records"`
	TotalRoundup         decimal.Decimal       `json:"total_roundup"`
	Count                int                   `json:"count"`
	TotalCount           int64                 `json:"total_count"`
	IsReadyForInvestment bool                  `json:"is_ready_for_investment"`
}

func validateAddress(address string) error {
	if _, err := solana.ParseAddress(address); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return nil
}

// InitializeWallet sets the baseline of address to its most recent
// transaction, so that only later transfers are rounded up. A wallet that is
// already initialized keeps its baseline.
func (t *Tracker) InitializeWallet(ctx context.Context, address string) (*InitResult, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	log := logger.WithWallet(t.logger, address)

	existing, err := t.baselines.Get(ctx, address)
	switch {
	case err == nil:
		log.Debug().Str("baseline", existing.LastID()).Msg("Wallet already initialized")
		return &InitResult{Wallet: address, LastTrackedTransferID: existing.LastID()}, nil
	case !errors.Is(err, baseline.ErrNotFound):
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.config.FetchTimeout)
	defer cancel()

	latest, found, err := t.source.Latest(fetchCtx, address)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch latest transaction")
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if !found {
		return nil, ErrNoTransactionHistory
	}

	stored, created, err := t.baselines.Initialize(ctx, address, latest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	log.Info().
		Str("baseline", stored.LastID()).
		Bool("created", created).
		Msg("Wallet initialized")

	return &InitResult{
		Wallet:                address,
		LastTrackedTransferID: stored.LastID(),
		IsNewWallet:           created,
	}, nil
}

// TrackRoundups records round-ups for the outgoing transfers of address made
// after its baseline and advances the baseline to the newest of them.
//
// Transfers that cannot be priced are skipped and the baseline still
// advances past them; reprocess mode walks the whole history again to pick
// them up, relying on the ledger to ignore transfers it already holds.
func (t *Tracker) TrackRoundups(ctx context.Context, address string, limit int, reprocess bool) (*TrackResult, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	runID := uuid.NewString()
	log := logger.WithRun(logger.WithWallet(t.logger, address), runID)
	startTime := time.Now()
	defer func() {
		metrics.RecordTrack(time.Since(startTime).Seconds())
	}()

	if t.locker != nil {
		release, err := t.lock(ctx, address, log)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	current, err := t.baselines.Get(ctx, address)
	if errors.Is(err, baseline.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	since := current.LastID()
	if reprocess {
		since = ""
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.config.FetchTimeout)
	transfers, err := t.source.FetchOutgoing(fetchCtx, address, limit, since)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch transfers")
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	result := &TrackResult{
		Wallet:      address,
		Processed:   len(transfers),
		NewBaseline: current.LastID(),
		Truncated:   len(transfers) >= limit,
	}
	if result.Truncated {
		log.Warn().
			Int("limit", limit).
			Bool("reprocess", reprocess).
			Msg("Batch reached the transfer limit, older transfers since the baseline are not tracked")
		metrics.TruncatedRuns.Inc()
	}

	for _, transfer := range transfers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stored, err := t.recordTransfer(ctx, address, transfer, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if stored {
			result.Stored++
		} else {
			result.Skipped++
		}
	}

	if next := nextBaseline(transfers, current.LastID(), reprocess); next != "" {
		if err := t.advance(ctx, address, current.LastID(), next, log); err != nil {
			return nil, err
		}
		result.NewBaseline = next
		if latest, err := t.baselines.Get(ctx, address); err == nil {
			result.NewBaseline = latest.LastID()
		}
	}

	total, err := t.ledger.TotalFor(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	result.TotalRoundup = total
	result.IsReadyForInvestment = t.ledger.IsReady(total)

	log.Info().
		Int("processed", result.Processed).
		Int("stored", result.Stored).
		Int("skipped", result.Skipped).
		Str("total", total.StringFixed(2)).
		Str("baseline", result.NewBaseline).
		Bool("reprocess", reprocess).
		Dur("duration", time.Since(startTime)).
		Msg("Tracking run completed")

	return result, nil
}

// recordTransfer prices and records one transfer. It reports whether a new
// entry was stored; unpriceable and duplicate transfers are not.
func (t *Tracker) recordTransfer(ctx context.Context, address string, transfer solana.Transfer, log zerolog.Logger) (bool, error) {
	quote := t.prices.PriceAt(ctx, transfer.Asset(), transfer.Timestamp)
	if !quote.Available() {
		log.Warn().
			Str("transfer", transfer.ID).
			Str("asset", transfer.Asset()).
			Msg("Skipping transfer without price")
		metrics.RecordTransfer("unpriced")
		return false, nil
	}

	usd := transfer.Quantity.Mul(quote.Price)
	entry := &models.RoundupEntry{
		WalletAddress: address,
		TransferID:    transfer.ID,
		TransferAt:    transfer.Timestamp,
		AssetSymbol:   transfer.Symbol,
		Quantity:      transfer.Quantity,
		USDValue:      usd.Round(2),
		RoundupAmount: ledger.CalculateRoundup(usd),
		PriceSource:   quote.Source,
	}
	if !transfer.IsNative() {
		mint := transfer.Mint
		entry.AssetMint = &mint
	}

	stored, err := t.ledger.Record(ctx, entry)
	if err != nil {
		log.Error().Err(err).Str("transfer", transfer.ID).Msg("Failed to record round-up")
		return false, err
	}
	if stored == nil {
		log.Debug().Str("transfer", transfer.ID).Msg("Transfer already recorded")
		metrics.RecordTransfer("duplicate")
		return false, nil
	}

	log.Debug().
		Str("transfer", transfer.ID).
		Str("usd", usd.StringFixed(2)).
		Str("roundup", entry.RoundupAmount.StringFixed(2)).
		Str("source", quote.Source).
		Msg("Recorded round-up")
	metrics.RecordTransfer("stored")
	return true, nil
}

// nextBaseline picks the id the baseline should move to, or "" to keep it.
// In reprocess mode the batch starts at the top of history, so the newest
// transfer only replaces the baseline when the baseline is found further
// down the same batch.
func nextBaseline(transfers []solana.Transfer, current string, reprocess bool) string {
	if len(transfers) == 0 {
		return ""
	}
	newest := transfers[0].ID
	if !reprocess || current == "" {
		return newest
	}
	for i, transfer := range transfers {
		if transfer.ID == current {
			if i == 0 {
				return ""
			}
			return newest
		}
	}
	return ""
}

func (t *Tracker) advance(ctx context.Context, address, expected, next string, log zerolog.Logger) error {
	err := t.baselines.Advance(ctx, address, expected, next)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, baseline.ErrConflict):
		// A concurrent run already moved the baseline
		log.Warn().
			Str("expected", expected).
			Str("next", next).
			Msg("Baseline advanced by another run")
		metrics.BaselineConflicts.Inc()
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

func (t *Tracker) lock(ctx context.Context, address string, log zerolog.Logger) (func(), error) {
	token, ok, err := t.locker.Acquire(ctx, address)
	if err != nil {
		// The baseline CAS and the ledger's unique index still protect the run
		log.Warn().Err(err).Msg("Run lock unavailable, continuing without it")
		return func() {}, nil
	}
	if !ok {
		return nil, ErrTrackingInProgress
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := t.locker.Release(releaseCtx, address, token); err != nil {
			log.Warn().Err(err).Msg("Failed to release run lock")
		}
	}, nil
}

// GetRoundups returns up to limit recorded round-ups of address, newest first
func (t *Tracker) GetRoundups(ctx context.Context, address string, limit int) (*RoundupsResult, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	records, err := t.ledger.List(ctx, address, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	count, err := t.ledger.Count(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	total, err := t.ledger.TotalFor(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return &RoundupsResult{
		Wallet:               address,
		Records:              records,
		TotalRoundup:         total,
		Count:                len(records),
		TotalCount:           count,
		IsReadyForInvestment: t.ledger.IsReady(total),
	}, nil
}

// GetTotal returns the round-up total of address
func (t *Tracker) GetTotal(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := validateAddress(address); err != nil {
		return decimal.Zero, err
	}
	total, err := t.ledger.TotalFor(ctx, address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return total, nil
}

// IsReady reports whether total reached the investment threshold
func (t *Tracker) IsReady(total decimal.Decimal) bool {
	return t.ledger.IsReady(total)
}

// ResetBaseline removes the baseline of address so it can be initialized again
func (t *Tracker) ResetBaseline(ctx context.Context, address string) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	err := t.baselines.Delete(ctx, address)
	if errors.Is(err, baseline.ErrNotFound) {
		return ErrNotInitialized
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	log := logger.WithWallet(t.logger, address)
	log.Warn().Msg("Baseline reset")
	return nil
}
