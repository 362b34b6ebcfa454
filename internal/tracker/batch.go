package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wnt/sparechange/internal/ledger"
	"golang.org/x/sync/errgroup"
)

// WalletRun is the outcome of tracking one wallet in a batch
type WalletRun struct {
	Wallet string       `json:"wallet"`
	Result *TrackResult `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
	Kind   string       `json:"kind,omitempty"`
}

// BatchResult summarizes TrackAll
type BatchResult struct {
	Wallets   int         `json:"wallets"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Runs      []WalletRun `json:"runs"`
}

// TrackAll runs TrackRoundups once for every initialized wallet with bounded
// concurrency. Failures of single wallets are reported, not returned.
func (t *Tracker) TrackAll(ctx context.Context) (*BatchResult, error) {
	baselines, err := t.baselines.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	t.logger.Info().
		Int("wallets", len(baselines)).
		Int("concurrency", t.config.Concurrency).
		Msg("Starting batch tracking")

	runs := make([]WalletRun, len(baselines))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(t.config.Concurrency)

	for i, b := range baselines {
		i, b := i, b
		eg.Go(func() error {
			run := WalletRun{Wallet: b.Address}
			result, err := t.TrackRoundups(egCtx, b.Address, DefaultLimit, false)
			if err != nil {
				t.logger.Error().Err(err).Str("wallet", b.Address).Msg("Batch tracking failed for wallet")
				run.Error = err.Error()
				run.Kind = KindOf(err)
			} else {
				run.Result = result
			}
			runs[i] = run
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	batch := &BatchResult{Wallets: len(runs), Runs: runs}
	for _, run := range runs {
		if run.Error == "" {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}

	t.logger.Info().
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Msg("Batch tracking completed")

	return batch, nil
}

// ScannedTransfer is a priced transfer that has not been recorded
type ScannedTransfer struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Symbol      string          `json:"symbol"`
	Mint        string          `json:"mint,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	PriceSource string          `json:"price_source"`
	USDValue    decimal.Decimal `json:"usd_value"`
	Roundup     decimal.Decimal `json:"roundup"`
}

// Scan lists up to limit outgoing transfers of address from the top of its
// history with the round-up each would produce. Nothing is written.
func (t *Tracker) Scan(ctx context.Context, address string, limit int) ([]ScannedTransfer, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.config.FetchTimeout)
	transfers, err := t.source.FetchOutgoing(fetchCtx, address, limit, "")
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	scanned := make([]ScannedTransfer, 0, len(transfers))
	for _, transfer := range transfers {
		quote := t.prices.PriceAt(ctx, transfer.Asset(), transfer.Timestamp)
		usd := transfer.Quantity.Mul(quote.Price)
		scanned = append(scanned, ScannedTransfer{
			ID:          transfer.ID,
			Timestamp:   transfer.Timestamp,
			Symbol:      transfer.Symbol,
			Mint:        transfer.Mint,
			Quantity:    transfer.Quantity,
			Price:       quote.Price,
			PriceSource: quote.Source,
			USDValue:    usd.Round(2),
			Roundup:     ledger.CalculateRoundup(usd),
		})
	}

	return scanned, nil
}
