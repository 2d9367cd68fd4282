package filter

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"ftfeed/apps/ftfeed/internal/model"
)

// weiPerEth scales traderPriceMax, entered in ETH, to the wei units of displayPrice.
var weiPerEth = decimal.New(1, 18)

// ParseTradeFilter reads options from a query string. Unknown keys are ignored,
// empty values leave an option inactive. Amounts, balances and portfolio values
// are in ETH, and so is traderPriceMax, which is converted to wei here.
func ParseTradeFilter(values url.Values) (TradeFilter, error) {
	var options TradeFilter
	var err error

	options.Category, err = parseCategory(values.Get("category"))
	if err != nil {
		return TradeFilter{}, err
	}

	thresholds := []struct {
		key    string
		target **decimal.Decimal
	}{
		{"ethAmountMin", &options.EthAmountMin},
		{"ethAmountMax", &options.EthAmountMax},
		{"traderEthBalanceMin", &options.TraderEthBalanceMin},
		{"traderPortfolioMin", &options.TraderPortfolioMin},
		{"traderReciprocityMin", &options.TraderReciprocityMin},
		{"traderPriceMax", &options.TraderPriceMax},
		{"subjectEthBalanceMin", &options.SubjectEthBalanceMin},
		{"subjectPortfolioMin", &options.SubjectPortfolioMin},
		{"subjectReciprocityMin", &options.SubjectReciprocityMin},
	}
	for _, threshold := range thresholds {
		if *threshold.target, err = parseDecimal(values, threshold.key); err != nil {
			return TradeFilter{}, err
		}
	}

	if options.TraderPriceMax != nil {
		wei := options.TraderPriceMax.Mul(weiPerEth)
		options.TraderPriceMax = &wei
	}

	if options.SelfTxn, err = parseBool(values, "selfTxn"); err != nil {
		return TradeFilter{}, err
	}
	if options.SupplyOne, err = parseBool(values, "supplyOne"); err != nil {
		return TradeFilter{}, err
	}

	return options, nil
}

func ParseDepositFilter(values url.Values) (DepositFilter, error) {
	var options DepositFilter
	var err error

	thresholds := []struct {
		key    string
		target **decimal.Decimal
	}{
		{"amountMin", &options.AmountMin},
		{"amountMax", &options.AmountMax},
		{"depositorEthBalanceMin", &options.DepositorEthBalanceMin},
		{"depositorPortfolioMin", &options.DepositorPortfolioMin},
		{"depositorReciprocityMin", &options.DepositorReciprocityMin},
	}
	for _, threshold := range thresholds {
		if *threshold.target, err = parseDecimal(values, threshold.key); err != nil {
			return DepositFilter{}, err
		}
	}

	return options, nil
}

func parseCategory(value string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return All, nil
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return "", fmt.Errorf("invalid category %q: must be All, Buy or Sell", value)
}

func parseDecimal(values url.Values, key string) (*decimal.Decimal, error) {
	value := strings.TrimSpace(values.Get(key))
	if value == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return &d, nil
}

func parseBool(values url.Values, key string) (bool, error) {
	value := strings.TrimSpace(values.Get(key))
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

// Sort fields accepted by the API. The empty field keeps admission order.
const (
	SortByAmount    = "ethAmount"
	SortByTimestamp = "timestamp"
)

// SortTrades returns a sorted copy. Timestamp order follows the chain position
// since the display timestamp is a formatted string.
func SortTrades(events []model.TradeEvent, field string, desc bool) ([]model.TradeEvent, error) {
	var less func(a, b model.TradeEvent) bool
	switch field {
	case "":
		return events, nil
	case SortByAmount:
		less = func(a, b model.TradeEvent) bool { return number(a.EthAmount).LessThan(number(b.EthAmount)) }
	case SortByTimestamp:
		less = func(a, b model.TradeEvent) bool {
			if a.BlockNumber != b.BlockNumber {
				return a.BlockNumber < b.BlockNumber
			}
			return a.LogIndex < b.LogIndex
		}
	default:
		return nil, fmt.Errorf("invalid sort field %q", field)
	}
	return sortCopy(events, less, desc), nil
}

func SortDeposits(events []model.DepositEvent, field string, desc bool) ([]model.DepositEvent, error) {
	var less func(a, b model.DepositEvent) bool
	switch field {
	case "":
		return events, nil
	case SortByAmount, "depositAmount":
		less = func(a, b model.DepositEvent) bool { return number(a.DepositAmount).LessThan(number(b.DepositAmount)) }
	case SortByTimestamp:
		less = func(a, b model.DepositEvent) bool { return a.BlockNumber < b.BlockNumber }
	default:
		return nil, fmt.Errorf("invalid sort field %q", field)
	}
	return sortCopy(events, less, desc), nil
}

func sortCopy[E any](events []E, less func(a, b E) bool, desc bool) []E {
	sorted := append([]E(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if desc {
			return less(sorted[j], sorted[i])
		}
		return less(sorted[i], sorted[j])
	})
	return sorted
}
