package pricing

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wnt/sparechange/internal/utils"
)

// DefaultJupiterURL is the Jupiter price API v2 endpoint
const DefaultJupiterURL = "https://api.jup.ag/price/v2"

// JupiterSource fetches prices from the Jupiter price API
type JupiterSource struct {
	httpClient *utils.HTTPClient
}

type jupiterResponse struct {
	Data map[string]*jupiterPrice `json:"data"`
}

type jupiterPrice struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Price     decimal.Decimal `json:"price"`
	ExtraInfo *struct {
		ConfidenceLevel string `json:"confidenceLevel"`
	} `json:"extraInfo"`
}

// NewJupiterSource creates a Jupiter price source for baseURL
func NewJupiterSource(baseURL string) *JupiterSource {
	if baseURL == "" {
		baseURL = DefaultJupiterURL
	}
	return &JupiterSource{
		httpClient: utils.NewHTTPClient(
			utils.WithBaseURL(baseURL),
			utils.WithTimeout(DefaultTimeout),
			// Price lookups are never retried inside a run
			utils.WithRetries(0, 0),
		),
	}
}

// Name returns the source tag
func (j *JupiterSource) Name() string {
	return "jupiter"
}

// Fetch returns the current price of mint
func (j *JupiterSource) Fetch(ctx context.Context, mint string) (Quote, error) {
	resp, err := j.httpClient.Get(ctx, "", url.Values{
		"ids":           {mint},
		"showExtraInfo": {"true"},
	})
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter price request failed: %w", err)
	}

	var body jupiterResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return Quote{}, fmt.Errorf("failed to decode jupiter price response: %w", err)
	}

	price, ok := body.Data[mint]
	if !ok || price == nil {
		return Quote{}, fmt.Errorf("no jupiter price for %s", mint)
	}
	if !price.Price.IsPositive() {
		return Quote{}, fmt.Errorf("non-positive jupiter price for %s: %s", mint, price.Price)
	}

	quote := Quote{
		Price: price.Price,
		At:    time.Now().UTC(),
	}
	if price.ExtraInfo != nil {
		quote.Confidence = price.ExtraInfo.ConfidenceLevel
	}
	return quote, nil
}
