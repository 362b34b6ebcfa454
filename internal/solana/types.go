package solana

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is an enhanced transaction as returned by the Helius API
type Transaction struct {
	Description      string           `json:"description"`
	Type             string           `json:"type"`
	Source           string           `json:"source"`
	Fee              int64            `json:"fee"`
	FeePayer         string           `json:"feePayer"`
	Signature        string           `json:"signature"`
	Slot             int64            `json:"slot"`
	Timestamp        int64            `json:"timestamp"`
	NativeTransfers  []NativeTransfer `json:"nativeTransfers"`
	TokenTransfers   []TokenTransfer  `json:"tokenTransfers"`
	TransactionError json.RawMessage  `json:"transactionError"`
}

// NativeTransfer moves lamports between two accounts
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// TokenTransfer moves an SPL token. TokenAmount is already scaled by the mint decimals.
type TokenTransfer struct {
	FromUserAccount  string          `json:"fromUserAccount"`
	ToUserAccount    string          `json:"toUserAccount"`
	FromTokenAccount string          `json:"fromTokenAccount"`
	ToTokenAccount   string          `json:"toTokenAccount"`
	TokenAmount      decimal.Decimal `json:"tokenAmount"`
	Mint             string          `json:"mint"`
}

// Failed reports whether the transaction was included with an error
func (t Transaction) Failed() bool {
	raw := bytes.TrimSpace(t.TransactionError)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// Time returns the block time of the transaction
func (t Transaction) Time() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// Transfer is a single outgoing value movement from the tracked wallet
type Transfer struct {
	ID        string
	Timestamp time.Time
	Symbol    string
	// Mint is empty for native SOL
	Mint      string
	Quantity  decimal.Decimal
	Recipient string
}

// Asset returns the identifier used for price lookups
func (t Transfer) Asset() string {
	if t.Mint == "" {
		return NativeAsset
	}
	return t.Mint
}

// IsNative reports whether the transfer moved native SOL
func (t Transfer) IsNative() bool {
	return t.Mint == ""
}
