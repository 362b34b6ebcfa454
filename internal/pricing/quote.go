package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Source tags
const (
	SourceCache  = "cache"
	SourceStable = "stable"
	// ApproxSuffix marks quotes used for transfers older than the freshness window
	ApproxSuffix = "+approx"
)

// Quote is a unit price in USD. A zero price means no price is available.
type Quote struct {
	Price      decimal.Decimal
	At         time.Time
	Source     string
	Confidence string
}

// Available reports whether the quote carries a usable price
func (q Quote) Available() bool {
	return q.Price.IsPositive()
}

// Source fetches live prices from an external feed
type Source interface {
	Name() string
	Fetch(ctx context.Context, mint string) (Quote, error)
}
