package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// FallbackSource supplies a reference price in major fiat units when no
// oracle feed is configured for a pair.
type FallbackSource interface {
	GetPrice(ctx context.Context, symbol, fiatCurrency string) (decimal.Decimal, error)
}

// FallbackClient reads a secondary HTTP price API authenticated with an API
// key header.
type FallbackClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFallbackClient creates a new fallback price API client
func NewFallbackClient(baseURL, apiKey string) *FallbackClient {
	return &FallbackClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type fallbackResponse struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

func (c *FallbackClient) GetPrice(ctx context.Context, symbol, fiatCurrency string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("currency", fiatCurrency)

	endpoint := fmt.Sprintf("%s/price?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build fallback request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch fallback price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fallback price API returned status %d", resp.StatusCode)
	}

	var payload fallbackResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("malformed fallback price response: %w", err)
	}

	if payload.Price <= 0 {
		return decimal.Zero, fmt.Errorf("fallback price API returned non-positive price %f", payload.Price)
	}

	return decimal.NewFromFloat(payload.Price), nil
}
