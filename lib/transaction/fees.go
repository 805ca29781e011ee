package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

const DefaultMempoolAPIURL = "https://mempool.space"

// Confirmation targets the recommended-fees buckets correspond to.
const (
	TargetFastest  = 1
	TargetHalfHour = 3
	TargetHour     = 6
	TargetEconomy  = 144
	TargetMinimum  = 1008
)

// MempoolFeeClient fetches fee recommendations from a mempool.space compatible
// API.
type MempoolFeeClient struct {
	BaseURL string
	Client  *http.Client
}

func NewMempoolFeeClient(baseURL string) *MempoolFeeClient {
	if baseURL == "" {
		baseURL = DefaultMempoolAPIURL
	}
	return &MempoolFeeClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NetworkPath returns the mempool.space path prefix for params.
func NetworkPath(params *chaincfg.Params) (string, error) {
	switch params.Net {
	case chaincfg.MainNetParams.Net:
		return "", nil
	case chaincfg.TestNet3Params.Net:
		return "/testnet", nil
	case chaincfg.SigNetParams.Net:
		return "/signet", nil
	default:
		return "", fmt.Errorf("no fee source for network %s", params.Name)
	}
}

func (c *MempoolFeeClient) getFeeRecommendation(ctx context.Context, params *chaincfg.Params) (FeeRecommendation, error) {
	prefix, err := NetworkPath(params)
	if err != nil {
		return FeeRecommendation{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+prefix+"/api/v1/fees/recommended", nil)
	if err != nil {
		return FeeRecommendation{}, fmt.Errorf("failed to create request: %v", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return FeeRecommendation{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FeeRecommendation{}, fmt.Errorf("fee recommendation request failed: status code %d", resp.StatusCode)
	}

	var feeRec FeeRecommendation
	err = json.NewDecoder(resp.Body).Decode(&feeRec)
	return feeRec, err
}

// FeeEstimates returns the recommended fees keyed by confirmation target.
func (c *MempoolFeeClient) FeeEstimates(ctx context.Context, params *chaincfg.Params) (FeeEstimates, error) {
	feeRec, err := c.getFeeRecommendation(ctx, params)
	if err != nil {
		return nil, err
	}
	return feeRec.Estimates(), nil
}

// Estimates maps the recommendation buckets onto confirmation targets. Zero
// buckets are omitted.
func (f FeeRecommendation) Estimates() FeeEstimates {
	estimates := make(FeeEstimates)
	for target, rate := range map[int]int{
		TargetFastest:  f.FastestFee,
		TargetHalfHour: f.HalfHourFee,
		TargetHour:     f.HourFee,
		TargetEconomy:  f.EconomyFee,
		TargetMinimum:  f.MinimumFee,
	} {
		if rate > 0 {
			estimates[target] = float64(rate)
		}
	}
	return estimates
}
