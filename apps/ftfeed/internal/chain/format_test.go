package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name string
		wei  *big.Int
		want string
	}{
		{"nil", nil, "0.0000000"},
		{"zero", big.NewInt(0), "0.0000000"},
		{"one ether", new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), "1.0000000"},
		{"dust rounds to zero", big.NewInt(10), "0.0000000"},
		{"rounds half up", big.NewInt(123_456_789_000_000_000), "0.1234568"},
		{"negative is absolute", big.NewInt(-500_000_000_000_000_000), "0.5000000"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, FormatAmount(test.wei))
		})
	}
}

func TestFormatBalance(t *testing.T) {
	wei, _ := new(big.Int).SetString("2345000000000000000", 10)
	assert.Equal(t, "2.35", FormatBalance(wei))
	assert.Equal(t, "0.00", FormatBalance(big.NewInt(1)))
}
