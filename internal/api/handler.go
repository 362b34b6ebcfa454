package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wnt/sparechange/internal/models"
	"github.com/wnt/sparechange/internal/tracker"
	"github.com/wnt/sparechange/internal/utils"
)

const (
	defaultLimit = tracker.DefaultLimit
	maxLimit     = 1000
)

// Service is the accumulation API exposed over HTTP
type Service interface {
	InitializeWallet(ctx context.Context, address string) (*tracker.InitResult, error)
	TrackRoundups(ctx context.Context, address string, limit int, reprocess bool) (*tracker.TrackResult, error)
	GetRoundups(ctx context.Context, address string, limit int) (*tracker.RoundupsResult, error)
	GetTotal(ctx context.Context, address string) (decimal.Decimal, error)
	IsReady(total decimal.Decimal) bool
}

// Handler serves the wallet endpoints
type Handler struct {
	service Service
}

// NewHandler creates a handler over service
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RoundupView is the API representation of a recorded round-up
type RoundupView struct {
	TransferID    string    `json:"transfer_id"`
	TransferAt    time.Time `json:"transfer_at"`
	AssetSymbol   string    `json:"asset_symbol"`
	AssetMint     *string   `json:"asset_mint"`
	Quantity      string    `json:"quantity"`
	USDValue      string    `json:"usd_value"`
	RoundupAmount string    `json:"roundup_amount"`
	PriceSource   string    `json:"price_source"`
	CreatedAt     time.Time `json:"created_at"`
}

// RoundupsView is the API representation of a GetRoundups result
type RoundupsView struct {
	Wallet               string        `json:"wallet"`
	Records              []RoundupView `json:"records"`
	Count                int           `json:"count"`
	TotalCount           int64         `json:"total_count"`
	TotalRoundup         string        `json:"total_roundup"`
	IsReadyForInvestment bool          `json:"is_ready_for_investment"`
}

// NewRoundupsView renders result with money as fixed two-decimal strings
func NewRoundupsView(result *tracker.RoundupsResult) RoundupsView {
	return RoundupsView{
		Wallet:               result.Wallet,
		Records:              utils.Map(result.Records, NewRoundupView),
		Count:                result.Count,
		TotalCount:           result.TotalCount,
		TotalRoundup:         result.TotalRoundup.StringFixed(2),
		IsReadyForInvestment: result.IsReadyForInvestment,
	}
}

// NewRoundupView renders a recorded round-up
func NewRoundupView(e models.RoundupEntry) RoundupView {
	return RoundupView{
		TransferID:    e.TransferID,
		TransferAt:    e.TransferAt.UTC(),
		AssetSymbol:   e.AssetSymbol,
		AssetMint:     e.AssetMint,
		Quantity:      e.Quantity.String(),
		USDValue:      e.USDValue.StringFixed(2),
		RoundupAmount: e.RoundupAmount.StringFixed(2),
		PriceSource:   e.PriceSource,
		CreatedAt:     e.CreatedAt.UTC(),
	}
}

// Initialize handles POST /wallets/:address/initialize
func (h *Handler) Initialize(c *gin.Context) {
	result, err := h.service.InitializeWallet(c.Request.Context(), c.Param("address"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, result)
}

// Track handles POST /wallets/:address/track
func (h *Handler) Track(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	reprocess := false
	if raw := c.Query("reprocess"); raw != "" {
		reprocess, err = strconv.ParseBool(raw)
		if err != nil {
			BadRequest(c, "reprocess must be a boolean")
			return
		}
	}

	result, err := h.service.TrackRoundups(c.Request.Context(), c.Param("address"), limit, reprocess)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, gin.H{
		"wallet":                  result.Wallet,
		"processed":               result.Processed,
		"stored":                  result.Stored,
		"skipped":                 result.Skipped,
		"total_roundup":           result.TotalRoundup.StringFixed(2),
		"new_baseline":            result.NewBaseline,
		"is_ready_for_investment": result.IsReadyForInvestment,
		"truncated":               result.Truncated,
	})
}

// Roundups handles GET /wallets/:address/roundups
func (h *Handler) Roundups(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.service.GetRoundups(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, NewRoundupsView(result))
}

// Total handles GET /wallets/:address/total
func (h *Handler) Total(c *gin.Context) {
	address := c.Param("address")
	total, err := h.service.GetTotal(c.Request.Context(), address)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, gin.H{
		"wallet":                  address,
		"total_roundup":           total.StringFixed(2),
		"is_ready_for_investment": h.service.IsReady(total),
	})
}

// Health handles GET /health
func Health(c *gin.Context) {
	Success(c, gin.H{
		"status":  "UP",
		"service": "sparechange",
	})
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", maxLimit)
	}
	return limit, nil
}
