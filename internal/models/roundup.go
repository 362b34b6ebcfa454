package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RoundupEntry is one accounted round-up for a single outgoing transfer
type RoundupEntry struct {
	gorm.Model
	WalletAddress string          `gorm:"size:44;index;not null"`
	TransferID    string          `gorm:"size:88;uniqueIndex;not null"`
	TransferAt    time.Time       `gorm:"index"`
	AssetSymbol   string          `gorm:"size:16"`
	AssetMint     *string         `gorm:"size:44"` // nil for native SOL
	Quantity      decimal.Decimal `gorm:"type:numeric(38,18)"`
	USDValue      decimal.Decimal `gorm:"type:numeric(20,2)"`
	RoundupAmount decimal.Decimal `gorm:"type:numeric(10,2)"`
	PriceSource   string          `gorm:"size:32"`
}
