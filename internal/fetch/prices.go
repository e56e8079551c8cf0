package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/omnipass/internal/types"
)

// CoinGeckoClient implements PriceSource against the CoinGecko simple price API
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCoinGeckoClient creates a new price feed client
func NewCoinGeckoClient(baseURL, apiKey string) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: newRetryClient(3).StandardClient(),
	}
}

// NativePrice returns the USD price of the chain's native coin
func (c *CoinGeckoClient) NativePrice(ctx context.Context, chain types.ChainConfig) (float64, error) {
	if chain.NativePriceID == "" {
		return 0, fmt.Errorf("%w: no native price id for %s", ErrUnsupportedChain, chain.Name)
	}

	q := url.Values{}
	q.Set("ids", chain.NativePriceID)
	q.Set("vs_currencies", "usd")

	var response map[string]map[string]float64
	if err := c.get(ctx, "/simple/price?"+q.Encode(), &response); err != nil {
		return 0, err
	}

	price, ok := response[chain.NativePriceID]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrPriceNotFound, chain.NativePriceID)
	}
	return price, nil
}

// TokenPrice returns the USD price of an ERC-20 token on the chain's platform
func (c *CoinGeckoClient) TokenPrice(ctx context.Context, chain types.ChainConfig, contract string) (float64, error) {
	if chain.TokenPlatform == "" {
		return 0, fmt.Errorf("%w: no token market for %s", ErrUnsupportedChain, chain.Name)
	}

	contract = strings.ToLower(contract)
	q := url.Values{}
	q.Set("contract_addresses", contract)
	q.Set("vs_currencies", "usd")

	var response map[string]map[string]float64
	if err := c.get(ctx, "/simple/token_price/"+url.PathEscape(chain.TokenPlatform)+"?"+q.Encode(), &response); err != nil {
		return 0, err
	}

	price, ok := response[contract]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: %s on %s", ErrPriceNotFound, contract, chain.TokenPlatform)
	}
	return price, nil
}

func (c *CoinGeckoClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	logrus.Debugf("Fetching price from CoinGecko: %s", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("CoinGecko API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
