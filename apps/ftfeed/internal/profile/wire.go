package profile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"ftfeed/apps/ftfeed/internal/model"
)

// flexString accepts JSON strings, numbers and null. The profile service is
// not consistent about quoting numeric fields.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(str)
	default:
		var number json.Number
		if err := json.Unmarshal(data, &number); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}
		*s = flexString(number.String())
	}
	return nil
}

type userResponse struct {
	UserData *apiUser `json:"userData"`
}

type apiUser struct {
	TwitterUsername            flexString    `json:"twitterUsername"`
	TwitterName                flexString    `json:"twitterName"`
	TwitterPfpURL              flexString    `json:"twitterPfpUrl"`
	ID                         flexString    `json:"id"`
	Address                    flexString    `json:"address"`
	TwitterUserID              flexString    `json:"twitterUserId"`
	LastOnline                 flexString    `json:"lastOnline"`
	LastMessageTime            flexString    `json:"lastMessageTime"`
	HolderCount                flexString    `json:"holderCount"`
	HoldingCount               flexString    `json:"holdingCount"`
	WatchlistCount             flexString    `json:"watchlistCount"`
	ShareSupply                flexString    `json:"shareSupply"`
	DisplayPrice               flexString    `json:"displayPrice"`
	LifetimeFeesCollectedInWei flexString    `json:"lifetimeFeesCollectedInWei"`
	Portfolio                  *apiPortfolio `json:"portfolio"`
	Holders                    *apiHolders   `json:"holders"`
}

type apiPortfolio struct {
	Holdings []struct {
		Address flexString `json:"address"`
		Balance flexString `json:"balance"`
	} `json:"holdings"`
	PortfolioValueETH flexString `json:"portfolioValueETH"`
}

type apiHolders struct {
	Reciprocity flexString `json:"reciprocity"`
}

func (u *apiUser) toModel() model.UserProfile {
	profile := model.UserProfile{
		TwitterUsername:            string(u.TwitterUsername),
		TwitterName:                string(u.TwitterName),
		TwitterPfpURL:              string(u.TwitterPfpURL),
		ID:                         string(u.ID),
		Address:                    model.NormalizeAddress(string(u.Address)),
		TwitterUserID:              string(u.TwitterUserID),
		LastOnline:                 string(u.LastOnline),
		LastMessageTime:            string(u.LastMessageTime),
		HolderCount:                string(u.HolderCount),
		HoldingCount:               string(u.HoldingCount),
		WatchlistCount:             string(u.WatchlistCount),
		ShareSupply:                string(u.ShareSupply),
		DisplayPrice:               string(u.DisplayPrice),
		LifetimeFeesCollectedInWei: string(u.LifetimeFeesCollectedInWei),
	}

	if u.Portfolio != nil {
		portfolio := &model.Portfolio{PortfolioValueETH: string(u.Portfolio.PortfolioValueETH)}
		for _, holding := range u.Portfolio.Holdings {
			portfolio.Holdings = append(portfolio.Holdings, model.PortfolioUser{
				Address: model.NormalizeAddress(string(holding.Address)),
				Balance: string(holding.Balance),
			})
		}
		profile.Portfolio = portfolio
	}
	if u.Holders != nil {
		profile.Holders = &model.Holders{Reciprocity: string(u.Holders.Reciprocity)}
	}

	return profile
}
