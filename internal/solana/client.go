package solana

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/sparechange/internal/logger"
	"github.com/wnt/sparechange/internal/metrics"
	"github.com/wnt/sparechange/internal/retrier"
	"github.com/wnt/sparechange/internal/rpc"
	"github.com/wnt/sparechange/internal/utils"
)

const (
	// Helius returns at most 100 transactions per page
	defaultPageSize = 100
	// Bound on pages walked by a single fetch
	defaultMaxPages = 10
	// DefaultLimit is used when a caller passes a non-positive limit
	DefaultLimit = 100

	rateLimitCooldown = time.Minute
)

// ErrMissingAPIKey is returned when the client is built without an API key
var ErrMissingAPIKey = errors.New("helius API key is not set")

// Client reads a wallet's transaction history from the Helius enhanced transactions API
type Client struct {
	pool       *rpc.Pool
	httpClient *utils.HTTPClient
	retrier    *retrier.Retrier
	apiKey     string
	pageSize   int
	maxPages   int
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(httpClient *utils.HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithRetrier overrides the page fetch retry policy
func WithRetrier(r *retrier.Retrier) Option {
	return func(c *Client) { c.retrier = r }
}

// WithPageSize sets the number of transactions requested per page
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= defaultPageSize {
			c.pageSize = n
		}
	}
}

// WithMaxPages bounds how many pages a single fetch walks
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// NewClient creates a Helius client rotating over the endpoints of pool
func NewClient(pool *rpc.Pool, apiKey string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	c := &Client{
		pool: pool,
		// Retries are handled per page by the retrier
		httpClient: utils.NewHTTPClient(utils.WithRetries(0, 0)),
		retrier:    retrier.New(),
		apiKey:     apiKey,
		pageSize:   defaultPageSize,
		maxPages:   defaultMaxPages,
		logger:     logger.With().Str("component", "helius_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchOutgoing returns up to limit outgoing transfers of wallet, newest first.
//
// The walk stops at the transaction whose signature equals sinceID; it and
// everything older are excluded. The marker is compared against every
// transaction, not only transfers. An empty sinceID walks the full history
// up to the page bound.
func (c *Client) FetchOutgoing(ctx context.Context, wallet string, limit int, sinceID string) ([]Transfer, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var transfers []Transfer
	before := ""

	for page := 0; page < c.maxPages; page++ {
		txs, err := c.fetchPage(ctx, wallet, before, c.pageSize)
		if err != nil {
			return nil, err
		}

		if len(txs) == 0 {
			break
		}

		for _, tx := range txs {
			if sinceID != "" && tx.Signature == sinceID {
				return transfers, nil
			}

			transfer, ok := ExtractOutgoing(tx, wallet)
			if !ok {
				continue
			}

			transfers = append(transfers, transfer)
			if len(transfers) >= limit {
				return transfers, nil
			}
		}

		if len(txs) < c.pageSize {
			break
		}

		before = txs[len(txs)-1].Signature
	}

	if sinceID != "" {
		c.logger.Warn().
			Str("wallet", wallet).
			Str("since", sinceID).
			Int("pages", c.maxPages).
			Msg("Baseline transaction not reached within page bound")
	}

	return transfers, nil
}

// Latest returns the signature of the wallet's most recent transaction
func (c *Client) Latest(ctx context.Context, wallet string) (string, bool, error) {
	txs, err := c.fetchPage(ctx, wallet, "", 1)
	if err != nil {
		return "", false, err
	}
	if len(txs) == 0 {
		return "", false, nil
	}
	return txs[0].Signature, true, nil
}

// fetchPage fetches a single page, retrying transient failures on the next endpoint
func (c *Client) fetchPage(ctx context.Context, wallet, before string, limit int) ([]Transaction, error) {
	return retrier.DoWithData(ctx, c.retrier, func(ctx context.Context) ([]Transaction, error) {
		return c.fetchPageOnce(ctx, wallet, before, limit)
	})
}

func (c *Client) fetchPageOnce(ctx context.Context, wallet, before string, limit int) ([]Transaction, error) {
	endpoint, err := c.pool.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}

	query := url.Values{}
	query.Set("api-key", c.apiKey)
	query.Set("limit", strconv.Itoa(limit))
	if before != "" {
		query.Set("before", before)
	}

	path := fmt.Sprintf("%s/v0/addresses/%s/transactions", endpoint, url.PathEscape(wallet))

	startTime := time.Now()
	resp, err := c.httpClient.Get(ctx, path, query)
	duration := time.Since(startTime)

	if err != nil {
		if ctx.Err() != nil {
			metrics.RecordUpstreamRequest("cancelled")
			return nil, err
		}
		return nil, c.handleError(endpoint, err, duration)
	}

	var txs []Transaction
	if err := resp.DecodeJSON(&txs); err != nil {
		metrics.RecordUpstreamRequest("malformed")
		return nil, retrier.Permanent(fmt.Errorf("failed to decode transactions from %s: %w", endpoint, err))
	}

	c.logger.Debug().
		Str("wallet", wallet).
		Str("endpoint", endpoint).
		Str("before", before).
		Int("transactions", len(txs)).
		Dur("duration", duration).
		Msg("Fetched transaction page")

	metrics.RecordUpstreamRequest("success")
	c.pool.MarkHealthy(endpoint)

	return txs, nil
}

// handleError classifies a failed request, updating endpoint state. Client
// errors other than rate limits are not retried.
func (c *Client) handleError(endpoint string, err error, duration time.Duration) error {
	status := utils.StatusCode(err)
	log := logger.WithEndpoint(c.logger, endpoint)

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		log.Warn().Int("status", status).Msg("Rate limited by endpoint")
		c.pool.SetCooldown(endpoint, rateLimitCooldown)
		metrics.RecordUpstreamRequest("rate_limited")
		return fmt.Errorf("rate limited by endpoint %s: status %d", endpoint, status)

	case status >= 400 && status < 500:
		log.Warn().Int("status", status).Msg("Request rejected by endpoint")
		metrics.RecordUpstreamRequest("rejected")
		return retrier.Permanent(fmt.Errorf("request rejected by %s: %w", endpoint, err))

	default:
		log.Error().
			Err(err).
			Dur("duration", duration).
			Msg("Transaction feed request failed")
		c.pool.MarkUnhealthy(endpoint)
		metrics.RecordUpstreamRequest("error")
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
}
