// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package gasprice

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/cptartur/sequencer/consensus/types"
	"github.com/cptartur/sequencer/params"
)

// Assembler derives the gas-price section of a ConsensusBlockInfo from the
// two oracles, clamping every price into its configured bounds and degrading
// gracefully when an oracle is unavailable.
type Assembler struct {
	cfg      *params.ContextConfig
	provider L1GasPriceProvider
	oracle   EthToFriOracle
}

func NewAssembler(cfg *params.ContextConfig, provider L1GasPriceProvider, oracle EthToFriOracle) *Assembler {
	return &Assembler{cfg: cfg, provider: provider, oracle: oracle}
}

// Assemble produces the block info for a new proposal. prev is the most
// recently committed block info, or nil before the first decision.
//
// When either oracle fails, the previous committed values are reused: the
// rate and the L1 gas price verbatim, and the data gas price re-discounted
// and re-clamped from the previous carried value. With no previous block
// info, the configured defaults apply (rate default, prices clamped from
// zero). Assemble itself fails only on context cancellation.
func (a *Assembler) Assemble(
	ctx context.Context,
	height types.BlockNumber,
	timestamp uint64,
	builder common.Address,
	prev *types.ConsensusBlockInfo,
) (types.ConsensusBlockInfo, error) {
	info := types.ConsensusBlockInfo{
		Height:        height,
		Timestamp:     timestamp,
		Builder:       builder,
		L1DAMode:      types.Blob,
		L2GasPriceFri: params.MinL2GasPriceFri(),
	}

	prices, priceErr := a.provider.GetPriceInfo(ctx, height)
	rate, rateErr := a.oracle.EthToFriRate(ctx, timestamp)
	if err := ctx.Err(); err != nil {
		return types.ConsensusBlockInfo{}, err
	}

	switch {
	case priceErr == nil && rateErr == nil:
		info.EthToFriRate = rate.Clone()
		info.L1GasPriceWei = a.clampL1GasPrice(prices.BaseFeePerGas)
		info.L1DataGasPriceWei = a.clampL1DataGasPrice(a.applyDataGasMultiplier(prices.BlobFee))
	case prev != nil:
		log.Warn("gas price oracle unavailable, reusing previous block prices",
			"height", height, "priceErr", priceErr, "rateErr", rateErr)
		info.EthToFriRate = prev.EthToFriRate.Clone()
		info.L1GasPriceWei = prev.L1GasPriceWei.Clone()
		info.L1DataGasPriceWei = a.clampL1DataGasPrice(a.applyDataGasMultiplier(prev.L1DataGasPriceWei))
	default:
		log.Warn("gas price oracle unavailable with no price history, using defaults",
			"height", height, "priceErr", priceErr, "rateErr", rateErr)
		info.EthToFriRate = a.cfg.DefaultEthToFriRate.Clone()
		info.L1GasPriceWei = a.clampL1GasPrice(uint256.NewInt(0))
		info.L1DataGasPriceWei = a.clampL1DataGasPrice(uint256.NewInt(0))
	}
	return info, nil
}

func (a *Assembler) applyDataGasMultiplier(blobFee *uint256.Int) *uint256.Int {
	discounted := new(uint256.Int).Mul(blobFee, uint256.NewInt(a.cfg.L1DataGasPriceMultiplierPPT))
	return discounted.Div(discounted, uint256.NewInt(1000))
}

func (a *Assembler) clampL1GasPrice(price *uint256.Int) *uint256.Int {
	return clamp(price, a.cfg.MinL1GasPriceWei, a.cfg.MaxL1GasPriceWei)
}

func (a *Assembler) clampL1DataGasPrice(price *uint256.Int) *uint256.Int {
	return clamp(price, a.cfg.MinL1DataGasPriceWei, a.cfg.MaxL1DataGasPriceWei)
}

func clamp(v, min, max *uint256.Int) *uint256.Int {
	if v.Lt(min) {
		return min.Clone()
	}
	if v.Gt(max) {
		return max.Clone()
	}
	return v.Clone()
}

// WithinMargin reports whether received deviates from local by at most
// marginPPM parts per million of local.
func WithinMargin(received, local *uint256.Int, marginPPM uint64) bool {
	var diff uint256.Int
	if received.Gt(local) {
		diff.Sub(received, local)
	} else {
		diff.Sub(local, received)
	}
	diff.Mul(&diff, uint256.NewInt(1_000_000))
	allowed := new(uint256.Int).Mul(local, uint256.NewInt(marginPPM))
	return !diff.Gt(allowed)
}
