// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package statesync defines the capability interface of the state-sync
// component that learns about newly decided blocks.
package statesync

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cptartur/sequencer/batcher"
	"github.com/cptartur/sequencer/consensus/types"
)

// BlockHeaderWithoutHash carries the header fields known at decision time.
// The timestamp is the one committed in the proposal's block info, not the
// wall clock at decision time.
type BlockHeaderWithoutHash struct {
	Height            types.BlockNumber
	Timestamp         uint64
	Builder           common.Address
	L1DAMode          types.L1DataAvailabilityMode
	L2GasPriceFri     *uint256.Int
	L1GasPriceWei     *uint256.Int
	L1DataGasPriceWei *uint256.Int
	EthToFriRate      *uint256.Int
}

// SyncBlock is a decided block handed to state sync.
type SyncBlock struct {
	Header            BlockHeaderWithoutHash
	BlockHash         types.BlockHash
	StateDiff         batcher.ThinStateDiff
	TransactionHashes []common.Hash
}

// Client is the state-sync capability consumed by the consensus context.
type Client interface {
	AddNewBlock(ctx context.Context, block SyncBlock) error
}
