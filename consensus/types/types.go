// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BlockNumber is a monotonically increasing chain height.
type BlockNumber uint64

// Round is a retry slot within a height. A height may see several rounds
// before the engine reaches a decision.
type Round uint32

// HeightAndRound identifies one consensus slot. Ordering is lexicographic.
type HeightAndRound struct {
	Height BlockNumber
	Round  Round
}

// Cmp returns -1, 0 or 1 comparing hr against other lexicographically.
func (hr HeightAndRound) Cmp(other HeightAndRound) int {
	switch {
	case hr.Height < other.Height:
		return -1
	case hr.Height > other.Height:
		return 1
	case hr.Round < other.Round:
		return -1
	case hr.Round > other.Round:
		return 1
	default:
		return 0
	}
}

func (hr HeightAndRound) String() string {
	return fmt.Sprintf("%d/%d", hr.Height, hr.Round)
}

// ProposalCommitment is the state-diff commitment binding a proposal's
// execution result.
type ProposalCommitment common.Hash

// BlockHash is the commitment widened to a block hash for the Fin payload and
// for engine-facing APIs.
type BlockHash common.Hash

// AsBlockHash widens the commitment for use in a ProposalFin.
func (c ProposalCommitment) AsBlockHash() BlockHash {
	return BlockHash(c)
}

func (c ProposalCommitment) String() string { return common.Hash(c).Hex() }
func (h BlockHash) String() string          { return common.Hash(h).Hex() }

// L1DataAvailabilityMode selects where state diffs are published on L1.
type L1DataAvailabilityMode uint8

const (
	Calldata L1DataAvailabilityMode = iota
	Blob
)

func (m L1DataAvailabilityMode) String() string {
	switch m {
	case Calldata:
		return "Calldata"
	case Blob:
		return "Blob"
	default:
		return fmt.Sprintf("L1DataAvailabilityMode(%d)", uint8(m))
	}
}

// ProposalInit opens a proposal stream. ValidRound is set when the proposer
// re-proposes a value locked in an earlier round.
type ProposalInit struct {
	Height     BlockNumber
	Round      Round
	ValidRound *Round `rlp:"nil"`
	Proposer   common.Address
}

// HeightAndRound returns the slot this init belongs to.
func (p ProposalInit) HeightAndRound() HeightAndRound {
	return HeightAndRound{Height: p.Height, Round: p.Round}
}

// ConsensusBlockInfo is the second part of every proposal stream: the block
// environment the batcher executes against.
type ConsensusBlockInfo struct {
	Height            BlockNumber
	Timestamp         uint64 // unix seconds
	Builder           common.Address
	L1DAMode          L1DataAvailabilityMode
	L2GasPriceFri     *uint256.Int
	L1GasPriceWei     *uint256.Int
	L1DataGasPriceWei *uint256.Int
	EthToFriRate      *uint256.Int
}

// ProposalFin terminates a proposal stream, carrying the proposer's claimed
// commitment widened to a block hash.
type ProposalFin struct {
	ProposalCommitment BlockHash
}

// Vote is a consensus engine vote. The context only consumes the height; the
// other fields are not read.
type Vote struct {
	Height    uint64
	Round     Round
	BlockHash *BlockHash `rlp:"nil"`
	Voter     common.Address
}
