package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnt/sparechange/internal/metrics"
	"github.com/wnt/sparechange/internal/solana"
)

const (
	DefaultCacheTTL = time.Minute
	DefaultTimeout  = 5 * time.Second

	// Transfers older than this are priced at the current price
	freshnessWindow = 5 * time.Minute
)

var stableAssets = map[string]bool{
	solana.USDCMint: true,
	solana.USDTMint: true,
	"USDC":          true,
	"USDT":          true,
}

type cachedQuote struct {
	quote     Quote
	fetchedAt time.Time
}

// Lookup resolves USD prices through a process-local TTL cache in front of a Source
type Lookup struct {
	source  Source
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mutex sync.Mutex
	cache map[string]cachedQuote
}

// NewLookup creates a price lookup. Non-positive ttl or timeout fall back to the defaults.
func NewLookup(source Source, ttl, timeout time.Duration, logger zerolog.Logger) *Lookup {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lookup{
		source:  source,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With().Str("component", "price_lookup").Logger(),
		cache:   make(map[string]cachedQuote),
	}
}

// Price returns the current USD price of asset. Failures yield a zero quote
// and are not cached.
func (l *Lookup) Price(ctx context.Context, asset string) Quote {
	now := l.now()

	asset = strings.TrimSpace(asset)
	if asset == "" {
		l.logger.Warn().Msg("Price requested for empty asset")
		metrics.RecordPriceLookup("failed")
		return Quote{Price: decimal.Zero, At: now}
	}

	if isStable(asset) {
		metrics.RecordPriceLookup("stable")
		return Quote{Price: decimal.NewFromInt(1), At: now, Source: SourceStable}
	}

	mint := resolveMint(asset)

	l.mutex.Lock()
	cached, ok := l.cache[mint]
	l.mutex.Unlock()
	if ok && now.Sub(cached.fetchedAt) < l.ttl {
		metrics.RecordPriceLookup("cache_hit")
		quote := cached.quote
		quote.Source = SourceCache
		return quote
	}

	// Concurrent misses for the same mint may both fetch; last write wins
	fetchCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	quote, err := l.source.Fetch(fetchCtx, mint)
	if err != nil || !quote.Available() {
		l.logger.Warn().
			Err(err).
			Str("asset", asset).
			Str("source", l.source.Name()).
			Msg("Price unavailable")
		metrics.RecordPriceLookup("failed")
		return Quote{Price: decimal.Zero, At: now, Source: l.source.Name()}
	}

	if quote.At.IsZero() {
		quote.At = now
	}
	quote.Source = l.source.Name()

	l.mutex.Lock()
	l.cache[mint] = cachedQuote{quote: quote, fetchedAt: now}
	l.mutex.Unlock()

	metrics.RecordPriceLookup("fetched")
	return quote
}

// PriceAt prices asset for a transfer made at the given time. Historical
// prices are not fetched: transfers older than the freshness window use the
// current price and carry the approximation suffix in their source tag.
func (l *Lookup) PriceAt(ctx context.Context, asset string, at time.Time) Quote {
	quote := l.Price(ctx, asset)
	if quote.Available() && quote.Source != SourceStable && l.now().Sub(at) > freshnessWindow {
		quote.Source += ApproxSuffix
	}
	return quote
}

func isStable(asset string) bool {
	return stableAssets[asset] || stableAssets[strings.ToUpper(asset)]
}

// resolveMint maps native SOL to the wrapped SOL mint used by price feeds
func resolveMint(asset string) string {
	if strings.EqualFold(asset, solana.NativeAsset) {
		return solanago.SolMint.String()
	}
	return asset
}
