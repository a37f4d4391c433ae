// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package params

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
)

// ContextConfig groups the tunables of the consensus context. Zero values are
// not usable; start from DefaultContextConfig and override.
type ContextConfig struct {
	// ProposalBufferSize bounds every proposal-part channel (outbound streams
	// and inbound validation feeds). Pipelines block on send when full.
	ProposalBufferSize int

	// NumValidators is informational; it is reported on startup but does not
	// affect the context's behaviour.
	NumValidators uint64

	ChainID string

	// L1 gas price clamp bounds, in wei.
	MinL1GasPriceWei *uint256.Int
	MaxL1GasPriceWei *uint256.Int

	// L1 data gas (blob) price clamp bounds, in wei.
	MinL1DataGasPriceWei *uint256.Int
	MaxL1DataGasPriceWei *uint256.Int

	// L1DataGasPriceMultiplierPPT discounts the oracle blob fee, in parts per
	// thousand, before clamping.
	L1DataGasPriceMultiplierPPT uint64

	// EthToFriRateMarginPPM is the validator-side tolerance, in parts per
	// million, when comparing a proposal's eth->fri rate against the local
	// oracle.
	EthToFriRateMarginPPM uint64

	// DefaultEthToFriRate is used when the oracle fails and no previously
	// committed block info is available.
	DefaultEthToFriRate *uint256.Int

	// BuildProposalMargin and ValidateProposalMargin shorten the deadline
	// handed to the batcher relative to the engine-facing timeout, leaving
	// room to drain and abort cleanly.
	BuildProposalMargin    time.Duration
	ValidateProposalMargin time.Duration

	// ProposalStoreSize bounds the per-height cache of locally accepted
	// proposals kept for repropose.
	ProposalStoreSize int
}

// DefaultContextConfig returns the production defaults.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		ProposalBufferSize:          100,
		NumValidators:               1,
		ChainID:                     "SN_MAIN",
		MinL1GasPriceWei:            uint256.NewInt(1_000_000_000),      // 1 gwei
		MaxL1GasPriceWei:            uint256.NewInt(50_000_000_000_000), // 50k gwei
		MinL1DataGasPriceWei:        uint256.NewInt(100_000),
		MaxL1DataGasPriceWei:        uint256.NewInt(50_000_000_000_000),
		L1DataGasPriceMultiplierPPT: 875,
		EthToFriRateMarginPPM:       50_000, // 5%
		DefaultEthToFriRate:         defaultEthToFriRate(),
		BuildProposalMargin:         time.Second,
		ValidateProposalMargin:      2 * time.Second,
		ProposalStoreSize:           16,
	}
}

func defaultEthToFriRate() *uint256.Int {
	// 1 ETH = 1000 STRK, expressed in fri per wei scaled by 10^18.
	rate := uint256.NewInt(1000)
	return rate.Mul(rate, WeiPerEth())
}

// Validate checks internal consistency of the config.
func (c *ContextConfig) Validate() error {
	switch {
	case c.ProposalBufferSize <= 0:
		return errors.New("proposal buffer size must be positive")
	case c.ProposalStoreSize <= 0:
		return errors.New("proposal store size must be positive")
	case c.MinL1GasPriceWei == nil || c.MaxL1GasPriceWei == nil ||
		c.MinL1DataGasPriceWei == nil || c.MaxL1DataGasPriceWei == nil ||
		c.DefaultEthToFriRate == nil:
		return errors.New("price bounds and default rate must be set")
	case c.MinL1GasPriceWei.Gt(c.MaxL1GasPriceWei):
		return errors.New("min L1 gas price exceeds max")
	case c.MinL1DataGasPriceWei.Gt(c.MaxL1DataGasPriceWei):
		return errors.New("min L1 data gas price exceeds max")
	case c.L1DataGasPriceMultiplierPPT == 0:
		return errors.New("data gas price multiplier must be positive")
	}
	return nil
}
