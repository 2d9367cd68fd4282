// Package filter narrows admitted events to what a session asked to see.
// Every function here is pure: same events, profiles and options give the same result.
package filter

import (
	"github.com/shopspring/decimal"

	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/profile"
)

type Category string

const (
	All  Category = "All"
	Buy  Category = "Buy"
	Sell Category = "Sell"
)

// TradeFilter options. A nil threshold is inactive. Profile thresholds set to
// zero are inactive too; the amount range treats zero as a real bound.
type TradeFilter struct {
	Category              Category         `json:"category"`
	EthAmountMin          *decimal.Decimal `json:"ethAmountMin,omitempty"`
	EthAmountMax          *decimal.Decimal `json:"ethAmountMax,omitempty"`
	TraderEthBalanceMin   *decimal.Decimal `json:"traderEthBalanceMin,omitempty"`
	TraderPortfolioMin    *decimal.Decimal `json:"traderPortfolioMin,omitempty"`
	TraderReciprocityMin  *decimal.Decimal `json:"traderReciprocityMin,omitempty"`
	TraderPriceMax        *decimal.Decimal `json:"traderPriceMax,omitempty"` // wei, like displayPrice
	SubjectEthBalanceMin  *decimal.Decimal `json:"subjectEthBalanceMin,omitempty"`
	SubjectPortfolioMin   *decimal.Decimal `json:"subjectPortfolioMin,omitempty"`
	SubjectReciprocityMin *decimal.Decimal `json:"subjectReciprocityMin,omitempty"`
	SelfTxn               bool             `json:"selfTxn"`
	SupplyOne             bool             `json:"supplyOne"`
}

type DepositFilter struct {
	AmountMin               *decimal.Decimal `json:"amountMin,omitempty"`
	AmountMax               *decimal.Decimal `json:"amountMax,omitempty"`
	DepositorEthBalanceMin  *decimal.Decimal `json:"depositorEthBalanceMin,omitempty"`
	DepositorPortfolioMin   *decimal.Decimal `json:"depositorPortfolioMin,omitempty"`
	DepositorReciprocityMin *decimal.Decimal `json:"depositorReciprocityMin,omitempty"`
}

type predicate[E any] func(E) bool

// FilterTrades keeps the events matching every active option, in input order.
func FilterTrades(events []model.TradeEvent, profiles profile.Lookup, options TradeFilter) []model.TradeEvent {
	var conditions []predicate[model.TradeEvent]

	if options.Category != "" && options.Category != All {
		category := model.TransactionType(options.Category)
		conditions = append(conditions, func(e model.TradeEvent) bool { return e.TransactionType == category })
	}
	if options.EthAmountMin != nil {
		lower := *options.EthAmountMin
		conditions = append(conditions, func(e model.TradeEvent) bool { return number(e.EthAmount).GreaterThanOrEqual(lower) })
	}
	if options.EthAmountMax != nil {
		upper := *options.EthAmountMax
		conditions = append(conditions, func(e model.TradeEvent) bool { return number(e.EthAmount).LessThanOrEqual(upper) })
	}

	trader := func(e model.TradeEvent) model.UserProfile { return lookup(profiles, e.Trader) }
	subject := func(e model.TradeEvent) model.UserProfile { return lookup(profiles, e.Subject) }

	conditions = appendMin(conditions, options.TraderPortfolioMin, trader, portfolioValue)
	conditions = appendMin(conditions, options.TraderEthBalanceMin, trader, ethBalance)
	conditions = appendMin(conditions, options.TraderReciprocityMin, trader, reciprocity)
	if active(options.TraderPriceMax) {
		upper := *options.TraderPriceMax
		conditions = append(conditions, func(e model.TradeEvent) bool { return number(trader(e).DisplayPrice).LessThanOrEqual(upper) })
	}
	conditions = appendMin(conditions, options.SubjectPortfolioMin, subject, portfolioValue)
	conditions = appendMin(conditions, options.SubjectEthBalanceMin, subject, ethBalance)
	conditions = appendMin(conditions, options.SubjectReciprocityMin, subject, reciprocity)

	if options.SelfTxn {
		conditions = append(conditions, func(e model.TradeEvent) bool { return e.Trader == e.Subject })
	}
	if options.SupplyOne {
		one := decimal.NewFromInt(1)
		conditions = append(conditions, func(e model.TradeEvent) bool { return number(subject(e).ShareSupply).Equal(one) })
	}

	return apply(events, conditions)
}

// FilterDeposits applies the deposit options against the destination's profile.
func FilterDeposits(events []model.DepositEvent, profiles profile.Lookup, options DepositFilter) []model.DepositEvent {
	var conditions []predicate[model.DepositEvent]

	if options.AmountMin != nil {
		lower := *options.AmountMin
		conditions = append(conditions, func(e model.DepositEvent) bool { return number(e.DepositAmount).GreaterThanOrEqual(lower) })
	}
	if options.AmountMax != nil {
		upper := *options.AmountMax
		conditions = append(conditions, func(e model.DepositEvent) bool { return number(e.DepositAmount).LessThanOrEqual(upper) })
	}

	depositor := func(e model.DepositEvent) model.UserProfile { return lookup(profiles, e.Address) }
	conditions = appendMin(conditions, options.DepositorEthBalanceMin, depositor, ethBalance)
	conditions = appendMin(conditions, options.DepositorPortfolioMin, depositor, portfolioValue)
	conditions = appendMin(conditions, options.DepositorReciprocityMin, depositor, reciprocity)

	return apply(events, conditions)
}

func appendMin[E any](conditions []predicate[E], threshold *decimal.Decimal, who func(E) model.UserProfile, field func(model.UserProfile) decimal.Decimal) []predicate[E] {
	if !active(threshold) {
		return conditions
	}
	lower := *threshold
	return append(conditions, func(e E) bool { return field(who(e)).GreaterThanOrEqual(lower) })
}

func apply[E any](events []E, conditions []predicate[E]) []E {
	filtered := make([]E, 0, len(events))
	for _, event := range events {
		if matchesAll(event, conditions) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

func matchesAll[E any](event E, conditions []predicate[E]) bool {
	for _, condition := range conditions {
		if !condition(event) {
			return false
		}
	}
	return true
}

func active(threshold *decimal.Decimal) bool {
	return threshold != nil && !threshold.IsZero()
}

func lookup(profiles profile.Lookup, address string) model.UserProfile {
	if profiles == nil {
		return model.UserProfile{}
	}
	p, _ := profiles.Get(address)
	return p
}

// number reads a numeric profile or event field. Missing or unparseable values count as zero.
func number(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func ethBalance(p model.UserProfile) decimal.Decimal {
	return number(p.EthBalance)
}

func portfolioValue(p model.UserProfile) decimal.Decimal {
	if p.Portfolio == nil {
		return decimal.Zero
	}
	return number(p.Portfolio.PortfolioValueETH)
}

func reciprocity(p model.UserProfile) decimal.Decimal {
	if p.Holders == nil {
		return decimal.Zero
	}
	return number(p.Holders.Reciprocity)
}
