package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const weiExponent = -18

// Display precisions.
const (
	BalancePlaces = 2
	AmountPlaces  = 7
)

// WeiToEther converts a wei amount into ether.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, weiExponent)
}

// FormatAmount renders |wei| in ether with seven decimals.
func FormatAmount(wei *big.Int) string {
	return WeiToEther(wei).Abs().StringFixed(AmountPlaces)
}

// FormatBalance renders a balance in ether with two decimals.
func FormatBalance(wei *big.Int) string {
	return WeiToEther(wei).StringFixed(BalancePlaces)
}
