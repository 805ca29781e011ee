package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const DefaultAPIURL = "https://mempool.space"

// Quotes holds BTC prices keyed by lower-case currency code.
type Quotes struct {
	Time  time.Time
	Rates map[string]float64
}

// Rate returns the quote for currency, case-insensitively.
func (q Quotes) Rate(currency string) (float64, bool) {
	rate, ok := q.Rates[strings.ToLower(currency)]
	return rate, ok && rate > 0
}

// Client fetches BTC prices from a mempool.space compatible prices endpoint.
type Client struct {
	BaseURL string
	Client  *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ExchangeRates returns the latest BTC prices. The response is a flat object
// of currency codes plus a unix "time" field.
func (c *Client) ExchangeRates(ctx context.Context) (Quotes, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/prices", nil)
	if err != nil {
		return Quotes{}, fmt.Errorf("failed to create request: %v", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return Quotes{}, fmt.Errorf("failed to fetch prices: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quotes{}, fmt.Errorf("failed to fetch prices: status code %d", resp.StatusCode)
	}

	var raw map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Quotes{}, fmt.Errorf("failed to decode prices: %v", err)
	}
	return parseQuotes(raw), nil
}

func parseQuotes(raw map[string]float64) Quotes {
	quotes := Quotes{Rates: make(map[string]float64, len(raw))}
	for key, value := range raw {
		if key == "time" {
			quotes.Time = time.Unix(int64(value), 0).UTC()
			continue
		}
		quotes.Rates[strings.ToLower(key)] = value
	}
	return quotes
}
