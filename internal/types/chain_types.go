// Package types contains shared chain definitions used across multiple packages
package types

import "strings"

// ChainID is the EIP-155 identifier of a supported network
type ChainID int64

// Supported networks
const (
	ChainEthereum ChainID = 1
	ChainPolygon  ChainID = 137
	ChainSepolia  ChainID = 11155111
	ChainAmoy     ChainID = 80002
)

// NetworkMode selects which set of chains (and tier thresholds) the service runs against
type NetworkMode string

const (
	NetworkTestnet NetworkMode = "testnet"
	NetworkMainnet NetworkMode = "mainnet"
)

// ParseNetworkMode maps a config string onto a NetworkMode, defaulting to testnet
func ParseNetworkMode(raw string) NetworkMode {
	if strings.EqualFold(strings.TrimSpace(raw), string(NetworkMainnet)) {
		return NetworkMainnet
	}
	return NetworkTestnet
}

// ChainConfig holds configuration for a specific blockchain network
type ChainConfig struct {
	ID      ChainID `json:"chainId"`
	Name    string  `json:"name"`
	Testnet bool    `json:"testnet"`

	// RPCURL is the node provider endpoint without the API key suffix
	RPCURL string `json:"-"`

	NativeSymbol string `json:"nativeSymbol"`

	// NativePriceID is the price-feed identifier of the native coin
	NativePriceID string `json:"-"`

	// TokenPlatform is the price-feed platform for ERC-20 lookups; empty when the
	// network has no priced token market (testnets)
	TokenPlatform string `json:"-"`

	// FallbackNativePrice is used whenever the price feed cannot answer
	FallbackNativePrice float64 `json:"-"`

	Explorer string `json:"explorer"`
	Faucet   string `json:"faucet,omitempty"`
}

// EthLike reports whether the chain's native coin is ETH
func (c ChainConfig) EthLike() bool {
	return c.NativeSymbol == "ETH"
}

var testnetChains = []ChainConfig{
	{
		ID:                  ChainSepolia,
		Name:                "Sepolia",
		Testnet:             true,
		RPCURL:              "https://eth-sepolia.g.alchemy.com/v2/",
		NativeSymbol:        "ETH",
		NativePriceID:       "ethereum",
		FallbackNativePrice: 2500,
		Explorer:            "https://sepolia.etherscan.io",
		Faucet:              "https://sepoliafaucet.com/",
	},
	{
		ID:                  ChainAmoy,
		Name:                "Polygon Amoy",
		Testnet:             true,
		RPCURL:              "https://polygon-amoy.g.alchemy.com/v2/",
		NativeSymbol:        "MATIC",
		NativePriceID:       "matic-network",
		FallbackNativePrice: 0.8,
		Explorer:            "https://amoy.polygonscan.com",
		Faucet:              "https://faucet.polygon.technology/",
	},
}

var mainnetChains = []ChainConfig{
	{
		ID:                  ChainEthereum,
		Name:                "Ethereum",
		RPCURL:              "https://eth-mainnet.g.alchemy.com/v2/",
		NativeSymbol:        "ETH",
		NativePriceID:       "ethereum",
		TokenPlatform:       "ethereum",
		FallbackNativePrice: 2500,
		Explorer:            "https://etherscan.io",
	},
	{
		ID:                  ChainPolygon,
		Name:                "Polygon",
		RPCURL:              "https://polygon-mainnet.g.alchemy.com/v2/",
		NativeSymbol:        "MATIC",
		NativePriceID:       "matic-network",
		TokenPlatform:       "polygon-pos",
		FallbackNativePrice: 0.8,
		Explorer:            "https://polygonscan.com",
	},
}

// Chains returns the supported chains for a network mode, in a stable order.
// The returned slice is a copy and may be modified by the caller.
func Chains(mode NetworkMode) []ChainConfig {
	src := testnetChains
	if mode == NetworkMainnet {
		src = mainnetChains
	}
	out := make([]ChainConfig, len(src))
	copy(out, src)
	return out
}

// LookupChain finds a chain config by ID across all networks
func LookupChain(id ChainID) (ChainConfig, bool) {
	for _, c := range testnetChains {
		if c.ID == id {
			return c, true
		}
	}
	for _, c := range mainnetChains {
		if c.ID == id {
			return c, true
		}
	}
	return ChainConfig{}, false
}
