package models

import (
	"gorm.io/gorm"
)

// WalletBaseline is the per-wallet marker of the newest transfer already
// accounted for. Transfers at or older than the marker are never processed again.
type WalletBaseline struct {
	gorm.Model
	Address        string  `gorm:"size:44;uniqueIndex;not null"`
	LastTransferID *string `gorm:"size:88"`
}

// LastID returns the stored transfer id or "" when unset
func (b *WalletBaseline) LastID() string {
	if b == nil || b.LastTransferID == nil {
		return ""
	}
	return *b.LastTransferID
}
