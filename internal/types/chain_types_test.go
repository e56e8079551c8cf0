package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetworkMode(t *testing.T) {
	assert.Equal(t, NetworkMainnet, ParseNetworkMode("mainnet"))
	assert.Equal(t, NetworkMainnet, ParseNetworkMode(" MAINNET "))
	assert.Equal(t, NetworkTestnet, ParseNetworkMode("testnet"))
	assert.Equal(t, NetworkTestnet, ParseNetworkMode(""))
	assert.Equal(t, NetworkTestnet, ParseNetworkMode("devnet"))
}

func TestChains(t *testing.T) {
	testnet := Chains(NetworkTestnet)
	require.Len(t, testnet, 2)
	assert.Equal(t, ChainSepolia, testnet[0].ID)
	assert.Equal(t, ChainAmoy, testnet[1].ID)
	for _, c := range testnet {
		assert.True(t, c.Testnet)
		assert.Empty(t, c.TokenPlatform, "testnet tokens have no price market")
		assert.NotEmpty(t, c.Faucet)
	}

	mainnet := Chains(NetworkMainnet)
	require.Len(t, mainnet, 2)
	assert.Equal(t, ChainEthereum, mainnet[0].ID)
	assert.Equal(t, ChainPolygon, mainnet[1].ID)
	assert.True(t, mainnet[0].EthLike())
	assert.False(t, mainnet[1].EthLike())

	testnet[0].Name = "mutated"
	assert.Equal(t, "Sepolia", Chains(NetworkTestnet)[0].Name, "callers get a copy")
}

func TestLookupChain(t *testing.T) {
	c, ok := LookupChain(ChainAmoy)
	require.True(t, ok)
	assert.Equal(t, "MATIC", c.NativeSymbol)
	assert.Equal(t, 0.8, c.FallbackNativePrice)

	c, ok = LookupChain(ChainEthereum)
	require.True(t, ok)
	assert.Equal(t, 2500.0, c.FallbackNativePrice)

	_, ok = LookupChain(ChainID(56))
	assert.False(t, ok)
}
