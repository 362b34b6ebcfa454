package solana

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/wnt/sparechange/internal/utils"
)

// NativeAsset is the asset identifier of native SOL transfers
const NativeAsset = "SOL"

// Well-known mints
const (
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY41NAWxxuLHpw5t"
)

var knownSymbols = map[string]string{
	USDCMint:                  "USDC",
	USDTMint:                  "USDT",
	solanago.SolMint.String(): "wSOL",
}

var lamportsPerSOL = decimal.NewFromInt(int64(solanago.LAMPORTS_PER_SOL))

// ParseAddress validates a base58 wallet address
func ParseAddress(address string) (solanago.PublicKey, error) {
	if address == "" {
		return solanago.PublicKey{}, fmt.Errorf("empty address")
	}
	key, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	return key, nil
}

// SymbolForMint returns a display symbol for a mint
func SymbolForMint(mint string) string {
	if mint == "" {
		return NativeAsset
	}
	if symbol, ok := knownSymbols[mint]; ok {
		return symbol
	}
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}

// LamportsToSOL converts a lamport amount to SOL
func LamportsToSOL(lamports int64) decimal.Decimal {
	return decimal.NewFromInt(lamports).Div(lamportsPerSOL)
}

// ExtractOutgoing returns the outgoing transfer of wallet in tx, if any.
//
// Token movements take precedence over native ones: the first outgoing token
// transfer picks the mint and every outgoing transfer of that mint is summed.
// Otherwise all outgoing lamport transfers are summed. Transfers back to the
// wallet itself are ignored.
func ExtractOutgoing(tx Transaction, wallet string) (Transfer, bool) {
	if tx.Failed() {
		return Transfer{}, false
	}

	tokens := utils.Filter(tx.TokenTransfers, func(t TokenTransfer) bool {
		return t.FromUserAccount == wallet &&
			t.ToUserAccount != wallet &&
			t.TokenAmount.IsPositive()
	})
	if len(tokens) > 0 {
		mint := tokens[0].Mint
		quantity := decimal.Zero
		for _, t := range tokens {
			if t.Mint == mint {
				quantity = quantity.Add(t.TokenAmount)
			}
		}
		return Transfer{
			ID:        tx.Signature,
			Timestamp: tx.Time(),
			Symbol:    SymbolForMint(mint),
			Mint:      mint,
			Quantity:  quantity,
			Recipient: tokens[0].ToUserAccount,
		}, true
	}

	natives := utils.Filter(tx.NativeTransfers, func(t NativeTransfer) bool {
		return t.FromUserAccount == wallet &&
			t.ToUserAccount != wallet &&
			t.Amount > 0
	})
	if len(natives) == 0 {
		return Transfer{}, false
	}

	var lamports int64
	for _, t := range natives {
		lamports += t.Amount
	}
	return Transfer{
		ID:        tx.Signature,
		Timestamp: tx.Time(),
		Symbol:    NativeAsset,
		Quantity:  LamportsToSOL(lamports),
		Recipient: natives[0].ToUserAccount,
	}, true
}
