package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wnt/sparechange/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultThreshold is the total at which a wallet's round-ups are ready to invest
var DefaultThreshold = decimal.NewFromInt(1)

var one = decimal.NewFromInt(1)

// Ledger records round-ups and aggregates them per wallet
type Ledger struct {
	db        *gorm.DB
	threshold decimal.Decimal
}

// New creates a ledger. A non-positive threshold falls back to DefaultThreshold.
func New(db *gorm.DB, threshold decimal.Decimal) *Ledger {
	if !threshold.IsPositive() {
		threshold = DefaultThreshold
	}
	return &Ledger{db: db, threshold: threshold}
}

// Threshold returns the investment readiness threshold
func (l *Ledger) Threshold() decimal.Decimal {
	return l.threshold
}

// CalculateRoundup returns the amount needed to lift usd to the next whole
// dollar, computed on the unrounded value and rounded to cents. Whole amounts
// yield zero, and a round-up that rounds to a full dollar counts as zero.
func CalculateRoundup(usd decimal.Decimal) decimal.Decimal {
	if !usd.IsPositive() {
		return decimal.Zero
	}
	roundup := usd.Ceil().Sub(usd).Round(2)
	if roundup.GreaterThanOrEqual(one) {
		return decimal.Zero
	}
	return roundup
}

// Record stores entry. It returns nil, nil when the transfer was recorded before.
func (l *Ledger) Record(ctx context.Context, entry *models.RoundupEntry) (*models.RoundupEntry, error) {
	entry.USDValue = entry.USDValue.Round(2)
	entry.RoundupAmount = entry.RoundupAmount.Round(2)

	result := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transfer_id"}},
		DoNothing: true,
	}).Create(entry)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to record round-up for %s: %w", entry.TransferID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return entry, nil
}

// TotalFor returns the sum of round-ups of wallet, rounded to cents
func (l *Ledger) TotalFor(ctx context.Context, wallet string) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := l.db.WithContext(ctx).
		Model(&models.RoundupEntry{}).
		Where("wallet_address = ?", wallet).
		Select("COALESCE(SUM(roundup_amount), 0)").
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum round-ups: %w", err)
	}
	return total.Round(2), nil
}

// IsReadyForInvestment reports whether the total of wallet reached the threshold
func (l *Ledger) IsReadyForInvestment(ctx context.Context, wallet string) (bool, error) {
	total, err := l.TotalFor(ctx, wallet)
	if err != nil {
		return false, err
	}
	return l.IsReady(total), nil
}

// IsReady reports whether total reached the threshold
func (l *Ledger) IsReady(total decimal.Decimal) bool {
	return total.GreaterThanOrEqual(l.threshold)
}

// List returns up to limit entries of wallet, newest transfer first
func (l *Ledger) List(ctx context.Context, wallet string, limit int) ([]models.RoundupEntry, error) {
	var entries []models.RoundupEntry
	err := l.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("transfer_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list round-ups: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries of wallet
func (l *Ledger) Count(ctx context.Context, wallet string) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&models.RoundupEntry{}).
		Where("wallet_address = ?", wallet).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count round-ups: %w", err)
	}
	return count, nil
}
