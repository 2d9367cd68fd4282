package model

import "strings"

type TransactionType string

const (
	Buy  TransactionType = "Buy"
	Sell TransactionType = "Sell"
)

// TradeEvent is one decoded buy/sell of a subject's shares.
type TradeEvent struct {
	Trader          string          `json:"trader"`
	Subject         string          `json:"subject"`
	TransactionType TransactionType `json:"transactionType"`
	ShareAmount     string          `json:"shareAmount"`
	EthAmount       string          `json:"ethAmount"`
	Timestamp       string          `json:"timestamp"`
	TransactionHash string          `json:"transactionHash"`
	ColorGradient   string          `json:"colorGradient"`
	BlockNumber     uint64          `json:"blockNumber"`
	LogIndex        uint            `json:"logIndex"`
	Supply          string          `json:"supply"`
}

func (e TradeEvent) Hash() string {
	return e.TransactionHash
}

// Addresses returns the participants that must be enriched before the trade is shown.
func (e TradeEvent) Addresses() []string {
	if e.Trader == e.Subject {
		return []string{e.Trader}
	}
	return []string{e.Trader, e.Subject}
}

// DepositEvent is an L1 -> L2 bridge deposit.
type DepositEvent struct {
	Address         string `json:"address"`
	L1Address       string `json:"l1Address"`
	L1Balance       string `json:"l1Balance"`
	DepositAmount   string `json:"depositAmount"`
	Timestamp       string `json:"timestamp"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
}

func (e DepositEvent) Hash() string {
	return e.TransactionHash
}

func (e DepositEvent) Addresses() []string {
	return []string{e.Address}
}

// NormalizeAddress lower-cases an address so it can be used as a store key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
