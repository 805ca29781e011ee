package transaction

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/checksum0/go-electrum/electrum"
)

// ElectrumTargets are the confirmation targets queried from an Electrum
// server.
var ElectrumTargets = []int{TargetFastest, TargetHalfHour, TargetHour, TargetEconomy}

func CreateElectrumClient(config ElectrumConfig) (*electrum.Client, error) {
	ctx := context.Background()
	if config.UseSSL {
		return electrum.NewClientSSL(ctx, config.ServerAddr, nil)
	}
	return electrum.NewClientTCP(ctx, config.ServerAddr)
}

// ElectrumFeeClient estimates fees with blockchain.estimatefee. The server
// already serves a single network, so params are only used for logging.
type ElectrumFeeClient struct {
	client *electrum.Client
}

func NewElectrumFeeClient(config ElectrumConfig) (*ElectrumFeeClient, error) {
	client, err := CreateElectrumClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Electrum client: %v", err)
	}
	return &ElectrumFeeClient{client: client}, nil
}

func (c *ElectrumFeeClient) FeeEstimates(ctx context.Context, params *chaincfg.Params) (FeeEstimates, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	estimates := make(FeeEstimates)
	for _, target := range ElectrumTargets {
		btcPerKb, err := c.client.GetFee(ctx, uint32(target))
		if err != nil {
			return nil, fmt.Errorf("error estimating fee for %d blocks on %s: %v", target, params.Name, err)
		}
		// The server answers -1 when it has no estimate for the target.
		if btcPerKb <= 0 {
			log.Printf("Electrum has no fee estimate for %d blocks", target)
			continue
		}
		estimates[target] = btcPerKbToSatPerVByte(float64(btcPerKb))
	}
	return estimates, nil
}

func btcPerKbToSatPerVByte(btcPerKb float64) float64 {
	return btcPerKb * btcutil.SatoshiPerBitcoin / 1000
}

func (c *ElectrumFeeClient) Close() {
	c.client.Shutdown()
}
