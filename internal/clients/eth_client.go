package clients

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// EthBalanceSource reads native balances over JSON-RPC
type EthBalanceSource struct {
	client *ethclient.Client
	log    *logrus.Logger
}

// NewEthBalanceSource dials rpcURL and verifies the connection by asking for
// the chain id
func NewEthBalanceSource(ctx context.Context, rpcURL string, log *logrus.Logger) (*EthBalanceSource, error) {
	log.Infof("🔗 Connecting to RPC endpoint: %s", rpcURL)
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("RPC dial failed: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	chainID, err := client.ChainID(checkCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("RPC chain id check failed: %w", err)
	}

	log.Infof("✅ RPC connected, chain id %s", chainID.String())
	return &EthBalanceSource{client: client, log: log}, nil
}

// BalanceAt latest native balance of address
func (s *EthBalanceSource) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := s.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for %s: %w", address.Hex(), err)
	}
	return balance, nil
}

// Close closes the RPC connection
func (s *EthBalanceSource) Close() {
	s.client.Close()
}
