package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type GradientBand struct {
	Below decimal.Decimal
	Tag   string
}

// Gradient buckets a trade's ETH amount into a display tag. Bands are checked
// in order; the first band whose bound is above the amount wins.
type Gradient struct {
	Bands   []GradientBand
	Default string
}

func DefaultGradient() Gradient {
	return Gradient{
		Bands: []GradientBand{
			{Below: decimal.RequireFromString("0.1"), Tag: "500"},
			{Below: decimal.RequireFromString("0.3"), Tag: "700"},
		},
		Default: "900",
	}
}

func (g Gradient) Classify(amount decimal.Decimal) string {
	for _, band := range g.Bands {
		if amount.LessThan(band.Below) {
			return band.Tag
		}
	}
	return g.Default
}

// ParseGradient reads "0.1:500,0.3:700,900". The entry without a bound is the default tag.
func ParseGradient(spec string) (Gradient, error) {
	var g Gradient
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bound, tag, found := strings.Cut(part, ":")
		if !found {
			if g.Default != "" {
				return Gradient{}, fmt.Errorf("gradient %q has more than one default tag", spec)
			}
			g.Default = part
			continue
		}
		below, err := decimal.NewFromString(strings.TrimSpace(bound))
		if err != nil {
			return Gradient{}, fmt.Errorf("invalid gradient bound %q: %w", bound, err)
		}
		if n := len(g.Bands); n > 0 && !below.GreaterThan(g.Bands[n-1].Below) {
			return Gradient{}, fmt.Errorf("gradient bounds must be increasing: %q", spec)
		}
		g.Bands = append(g.Bands, GradientBand{Below: below, Tag: strings.TrimSpace(tag)})
	}
	if g.Default == "" {
		return Gradient{}, fmt.Errorf("gradient %q has no default tag", spec)
	}
	return g, nil
}
