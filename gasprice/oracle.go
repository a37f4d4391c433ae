// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package gasprice

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/cptartur/sequencer/consensus/types"
)

// PriceInfo is one L1 fee observation.
type PriceInfo struct {
	BaseFeePerGas *uint256.Int
	BlobFee       *uint256.Int
}

// L1GasPriceProvider serves L1 fee observations for a given height.
type L1GasPriceProvider interface {
	GetPriceInfo(ctx context.Context, height types.BlockNumber) (PriceInfo, error)
}

// EthToFriOracle serves the ETH->FRI exchange rate at a given unix timestamp.
type EthToFriOracle interface {
	EthToFriRate(ctx context.Context, timestamp uint64) (*uint256.Int, error)
}
