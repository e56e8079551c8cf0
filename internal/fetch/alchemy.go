package fetch

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/omnipass/internal/model"
	"github.com/yourorg/omnipass/internal/types"
)

// AlchemyClient reads balances and transfer history through the node provider's
// JSON-RPC endpoints, one endpoint per chain.
type AlchemyClient struct {
	apiKey     string
	chains     []types.ChainConfig
	httpClient *http.Client

	mu        sync.Mutex
	endpoints map[types.ChainID]string
	clients   map[types.ChainID]*rpc.Client
}

// NewAlchemyClient creates a node provider client for the given chains
func NewAlchemyClient(apiKey string, chains []types.ChainConfig) *AlchemyClient {
	endpoints := make(map[types.ChainID]string, len(chains))
	for _, chain := range chains {
		endpoints[chain.ID] = chain.RPCURL + apiKey
	}
	return &AlchemyClient{
		apiKey:     apiKey,
		chains:     chains,
		httpClient: newRetryClient(3).StandardClient(),
		endpoints:  endpoints,
		clients:    make(map[types.ChainID]*rpc.Client),
	}
}

// WithEndpoint overrides the RPC URL for one chain and returns the client.
// The URL is used as given; the API key is not appended.
func (c *AlchemyClient) WithEndpoint(id types.ChainID, url string) *AlchemyClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[id] = url
	delete(c.clients, id)
	return c
}

// Close releases all dialed RPC clients
func (c *AlchemyClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, rc := range c.clients {
		rc.Close()
		delete(c.clients, id)
	}
}

func (c *AlchemyClient) rpcClient(ctx context.Context, chain types.ChainConfig) (*rpc.Client, error) {
	if c.apiKey == "" {
		return nil, ErrUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, ok := c.clients[chain.ID]; ok {
		return rc, nil
	}
	endpoint, ok := c.endpoints[chain.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chain.ID)
	}

	rc, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(c.httpClient))
	if err != nil {
		return nil, fmt.Errorf("error dialing %s RPC: %w", chain.Name, c.redactLocked(chain, err))
	}
	c.clients[chain.ID] = rc
	return rc, nil
}

// redactedError hides credentials in the text of an error while keeping its chain
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

// redact strips the chain's endpoint URL and the API key from err's text.
// Transport errors quote the full request URL, which carries the key.
func (c *AlchemyClient) redact(chain types.ChainConfig, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redactLocked(chain, err)
}

func (c *AlchemyClient) redactLocked(chain types.ChainConfig, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if endpoint := c.endpoints[chain.ID]; endpoint != "" {
		msg = strings.ReplaceAll(msg, endpoint, chain.Name+" RPC endpoint")
	}
	if c.apiKey != "" {
		msg = strings.ReplaceAll(msg, c.apiKey, "[redacted]")
	}
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

// NativeBalance returns the native coin balance in whole units
func (c *AlchemyClient) NativeBalance(ctx context.Context, addr model.Address, chain types.ChainConfig) (decimal.Decimal, error) {
	rc, err := c.rpcClient(ctx, chain)
	if err != nil {
		return decimal.Zero, err
	}

	wei, err := ethclient.NewClient(rc).BalanceAt(ctx, common.HexToAddress(addr.String()), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error fetching %s balance: %w", chain.Name, c.redact(chain, err))
	}

	return decimal.NewFromBigInt(wei, -18), nil
}

type tokenBalancesResponse struct {
	Address       string `json:"address"`
	TokenBalances []struct {
		ContractAddress string  `json:"contractAddress"`
		TokenBalance    *string `json:"tokenBalance"`
		Error           *string `json:"error"`
	} `json:"tokenBalances"`
}

type tokenMetadataResponse struct {
	Decimals *int   `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// TokenBalances returns nonzero ERC-20 balances enriched with token metadata
func (c *AlchemyClient) TokenBalances(ctx context.Context, addr model.Address, chain types.ChainConfig) ([]model.TokenHolding, error) {
	rc, err := c.rpcClient(ctx, chain)
	if err != nil {
		return nil, err
	}

	var response tokenBalancesResponse
	if err := rc.CallContext(ctx, &response, "alchemy_getTokenBalances", addr.String(), "erc20"); err != nil {
		return nil, fmt.Errorf("error fetching %s token balances: %w", chain.Name, c.redact(chain, err))
	}

	holdings := make([]model.TokenHolding, 0, len(response.TokenBalances))
	for _, tb := range response.TokenBalances {
		if tb.Error != nil || tb.TokenBalance == nil {
			continue
		}
		amount, err := parseHexAmount(*tb.TokenBalance)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"chain_id": chain.ID,
				"contract": tb.ContractAddress,
			}).Debugf("Skipping unparsable token balance: %v", err)
			continue
		}
		if amount.Sign() == 0 {
			continue
		}
		holdings = append(holdings, model.TokenHolding{
			ContractAddress: tb.ContractAddress,
			RawAmount:       amount,
		})
	}

	if len(holdings) == 0 {
		return holdings, nil
	}

	c.attachMetadata(ctx, rc, chain, holdings)
	logrus.Debugf("Received %d token balances from %s", len(holdings), chain.Name)
	return holdings, nil
}

// attachMetadata resolves decimals and symbols in one batch. Tokens whose
// metadata cannot be read keep nil decimals and are valued at 18.
func (c *AlchemyClient) attachMetadata(ctx context.Context, rc *rpc.Client, chain types.ChainConfig, holdings []model.TokenHolding) {
	metas := make([]tokenMetadataResponse, len(holdings))
	batch := make([]rpc.BatchElem, len(holdings))
	for i, h := range holdings {
		batch[i] = rpc.BatchElem{
			Method: "alchemy_getTokenMetadata",
			Args:   []interface{}{h.ContractAddress},
			Result: &metas[i],
		}
	}

	if err := rc.BatchCallContext(ctx, batch); err != nil {
		logrus.WithField("chain_id", chain.ID).Debugf("Token metadata batch failed: %v", c.redact(chain, err))
		return
	}

	for i := range holdings {
		if batch[i].Error != nil {
			continue
		}
		holdings[i].Decimals = metas[i].Decimals
		holdings[i].Symbol = metas[i].Symbol
	}
}

type assetTransfersResponse struct {
	Transfers []struct {
		Metadata struct {
			BlockTimestamp string `json:"blockTimestamp"`
		} `json:"metadata"`
	} `json:"transfers"`
}

// FirstActivity returns the timestamp of the earliest outgoing transfer across all chains
func (c *AlchemyClient) FirstActivity(ctx context.Context, addr model.Address) (time.Time, error) {
	var (
		earliest time.Time
		lastErr  error
	)

	for _, chain := range c.chains {
		rc, err := c.rpcClient(ctx, chain)
		if err != nil {
			return time.Time{}, err
		}

		params := map[string]interface{}{
			"fromBlock":        "0x0",
			"toBlock":          "latest",
			"fromAddress":      addr.String(),
			"category":         []string{"external", "erc20"},
			"order":            "asc",
			"maxCount":         "0x1",
			"withMetadata":     true,
			"excludeZeroValue": false,
		}

		var response assetTransfersResponse
		if err := rc.CallContext(ctx, &response, "alchemy_getAssetTransfers", params); err != nil {
			lastErr = fmt.Errorf("error fetching %s transfers: %w", chain.Name, c.redact(chain, err))
			continue
		}
		if len(response.Transfers) == 0 {
			continue
		}

		ts, err := time.Parse(time.RFC3339, response.Transfers[0].Metadata.BlockTimestamp)
		if err != nil {
			lastErr = fmt.Errorf("error parsing %s transfer timestamp: %w", chain.Name, err)
			continue
		}
		if earliest.IsZero() || ts.Before(earliest) {
			earliest = ts
		}
	}

	if earliest.IsZero() {
		if lastErr != nil {
			return time.Time{}, lastErr
		}
		return time.Time{}, ErrNoActivity
	}
	return earliest, nil
}

// parseHexAmount parses a 0x-prefixed quantity that may carry leading zeros
func parseHexAmount(raw string) (*big.Int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if digits == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative quantity %q", raw)
	}
	return amount, nil
}
