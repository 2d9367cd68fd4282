package model

import "time"

type UserProfile struct {
	TwitterUsername            string     `json:"twitterUsername"`
	TwitterName                string     `json:"twitterName"`
	TwitterPfpURL              string     `json:"twitterPfpUrl"`
	ID                         string     `json:"id"`
	Address                    string     `json:"address"`
	TwitterUserID              string     `json:"twitterUserId"`
	LastOnline                 string     `json:"lastOnline"`
	LastMessageTime            string     `json:"lastMessageTime"`
	HolderCount                string     `json:"holderCount"`
	HoldingCount               string     `json:"holdingCount"`
	WatchlistCount             string     `json:"watchlistCount"`
	ShareSupply                string     `json:"shareSupply"`
	DisplayPrice               string     `json:"displayPrice"`
	LifetimeFeesCollectedInWei string     `json:"lifetimeFeesCollectedInWei"`
	Portfolio                  *Portfolio `json:"portfolio,omitempty"`
	Holders                    *Holders   `json:"holders,omitempty"`
	EthBalance                 string     `json:"ethBalance,omitempty"`
	Fallback                   bool       `json:"fallback"`
	FetchedAt                  time.Time  `json:"fetchedAt"`
}

type Portfolio struct {
	Holdings          []PortfolioUser `json:"holdings,omitempty"`
	PortfolioValueETH string          `json:"portfolioValueETH"`
}

type PortfolioUser struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type Holders struct {
	Reciprocity string `json:"reciprocity"`
}

// Placeholder identity used when the profile service cannot resolve an address.
const (
	FallbackUsername = "unknown"
	FallbackName     = "Unresolved profile"
)

// FallbackProfile builds the placeholder profile published when the off-chain
// lookup fails, so events referencing the address are not held back forever.
func FallbackProfile(address string, fetchedAt time.Time) UserProfile {
	return UserProfile{
		TwitterUsername:            FallbackUsername,
		TwitterName:                FallbackName,
		Address:                    address,
		HolderCount:                "0",
		HoldingCount:               "0",
		WatchlistCount:             "0",
		ShareSupply:                "0",
		DisplayPrice:               "0",
		LifetimeFeesCollectedInWei: "0",
		Portfolio:                  &Portfolio{PortfolioValueETH: "0"},
		Holders:                    &Holders{Reciprocity: "0"},
		EthBalance:                 "0",
		Fallback:                   true,
		FetchedAt:                  fetchedAt,
	}
}
