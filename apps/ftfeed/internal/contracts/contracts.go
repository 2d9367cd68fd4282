package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Default deployments: the marketplace lives on Base, the bridge on Ethereum mainnet.
const (
	MarketplaceContractAddress = "0xcf205808ed36593aa40a44f10c7f7c2f67d4a4d4"
	BridgeContractAddress      = "0x3154Cf16ccdb4C6d922629664174b904d80F2C35"
)

const MarketplaceABI = `[
	{
		"type": "event",
		"name": "Trade",
		"anonymous": false,
		"inputs": [
			{"internalType": "address", "name": "trader", "type": "address", "indexed": false},
			{"internalType": "address", "name": "subject", "type": "address", "indexed": false},
			{"internalType": "bool", "name": "isBuy", "type": "bool", "indexed": false},
			{"internalType": "uint256", "name": "shareAmount", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "ethAmount", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "protocolEthAmount", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "subjectEthAmount", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "supply", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "function",
		"name": "sharesBalance",
		"stateMutability": "view",
		"inputs": [
			{"internalType": "address", "name": "", "type": "address"},
			{"internalType": "address", "name": "", "type": "address"}
		],
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"}
		]
	}
]`

const BridgeABI = `[
	{
		"type": "event",
		"name": "ETHDepositInitiated",
		"anonymous": false,
		"inputs": [
			{"internalType": "address", "name": "from", "type": "address", "indexed": true},
			{"internalType": "address", "name": "to", "type": "address", "indexed": true},
			{"internalType": "uint256", "name": "amount", "type": "uint256", "indexed": false},
			{"internalType": "bytes", "name": "extraData", "type": "bytes", "indexed": false}
		]
	}
]`

// Event signatures
var (
	TradeEventSig               = crypto.Keccak256Hash([]byte("Trade(address,address,bool,uint256,uint256,uint256,uint256,uint256)"))
	ETHDepositInitiatedEventSig = crypto.Keccak256Hash([]byte("ETHDepositInitiated(address,address,uint256,bytes)"))
)

// Contract is a deployed contract together with its parsed ABI.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// Registry holds the contracts the feed reads from.
type Registry struct {
	Marketplace Contract
	Bridge      Contract
}

// NewRegistry parses the ABIs and binds them to the given addresses. Empty
// addresses fall back to the default deployments.
func NewRegistry(marketplaceAddress, bridgeAddress string) (*Registry, error) {
	if marketplaceAddress == "" {
		marketplaceAddress = MarketplaceContractAddress
	}
	if bridgeAddress == "" {
		bridgeAddress = BridgeContractAddress
	}
	if !common.IsHexAddress(marketplaceAddress) {
		return nil, fmt.Errorf("invalid marketplace address %q", marketplaceAddress)
	}
	if !common.IsHexAddress(bridgeAddress) {
		return nil, fmt.Errorf("invalid bridge address %q", bridgeAddress)
	}

	parsedMarketplaceABI, err := abi.JSON(strings.NewReader(MarketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace ABI: %w", err)
	}

	parsedBridgeABI, err := abi.JSON(strings.NewReader(BridgeABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bridge ABI: %w", err)
	}

	return &Registry{
		Marketplace: Contract{
			Name:    "marketplace",
			Address: common.HexToAddress(marketplaceAddress),
			ABI:     parsedMarketplaceABI,
		},
		Bridge: Contract{
			Name:    "bridge",
			Address: common.HexToAddress(bridgeAddress),
			ABI:     parsedBridgeABI,
		},
	}, nil
}

// PackSharesBalance encodes a sharesBalance(subject, holder) call.
func (r *Registry) PackSharesBalance(subject, holder common.Address) ([]byte, error) {
	return r.Marketplace.ABI.Pack("sharesBalance", subject, holder)
}
