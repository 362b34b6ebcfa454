package tracker

import "errors"

var (
	// ErrInvalidAddress is returned for input that is not a Solana public key
	ErrInvalidAddress = errors.New("invalid wallet address")
	// ErrNotInitialized is returned when tracking a wallet without a baseline
	ErrNotInitialized = errors.New("wallet not initialized")
	// ErrNoTransactionHistory is returned when initializing a wallet with no transactions
	ErrNoTransactionHistory = errors.New("wallet has no transaction history")
	// ErrUpstreamUnavailable is returned when the transaction source fails
	ErrUpstreamUnavailable = errors.New("transaction source unavailable")
	// ErrPersistence is returned when the database fails
	ErrPersistence = errors.New("persistence failure")
	// ErrTrackingInProgress is returned when another run holds the wallet lock
	ErrTrackingInProgress = errors.New("tracking already in progress")
)

// Error kinds reported by KindOf
const (
	KindInvalidAddress       = "invalid_address"
	KindNotInitialized       = "not_initialized"
	KindNoTransactionHistory = "no_transaction_history"
	KindUpstreamUnavailable  = "upstream_unavailable"
	KindPersistence          = "persistence"
	KindTrackingInProgress   = "tracking_in_progress"
	KindInternal             = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidAddress, KindInvalidAddress},
	{ErrNotInitialized, KindNotInitialized},
	{ErrNoTransactionHistory, KindNoTransactionHistory},
	{ErrUpstreamUnavailable, KindUpstreamUnavailable},
	{ErrPersistence, KindPersistence},
	{ErrTrackingInProgress, KindTrackingInProgress},
}

// KindOf maps err to a stable error code, "" for nil
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
