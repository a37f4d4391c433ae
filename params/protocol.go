// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package params

import "github.com/holiman/uint256"

// Versioned protocol constants. These change only with a protocol upgrade and
// are therefore hardcoded rather than configured.

// MinL2GasPriceFri returns the protocol floor for the L2 gas price. Proposals
// always carry this floor; further fee economics happen downstream of the
// consensus context.
func MinL2GasPriceFri() *uint256.Int {
	return uint256.NewInt(100_000_000_000)
}

// WeiPerEth returns 10^18.
func WeiPerEth() *uint256.Int {
	return uint256.NewInt(1_000_000_000_000_000_000)
}

// Placeholder L1 fees, used by tests as canonical oracle outputs. The
// assembler does not read them; its no-history fallback clamps from zero.
func TempEthGasFeeInWei() *uint256.Int {
	return uint256.NewInt(2_500_000_000)
}

func TempEthBlobGasFeeInWei() *uint256.Int {
	return uint256.NewInt(1_000_000_000)
}
