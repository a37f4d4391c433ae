// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cende defines the capability interface of the external blob
// uploader that persists per-height artifacts.
package cende

import (
	"context"

	"github.com/cptartur/sequencer/batcher"
	"github.com/cptartur/sequencer/consensus/types"
)

// BlobArtifacts is everything the uploader needs to persist a decided block.
type BlobArtifacts struct {
	Height         types.BlockNumber
	BlockInfo      types.ConsensusBlockInfo
	StateDiff      batcher.ThinStateDiff
	L2GasUsed      uint64
	CentralObjects batcher.CentralObjects
}

// Ambassador is the uploader capability consumed by the consensus context.
type Ambassador interface {
	// WritePrevHeightBlob starts the upload of the blob prepared for height
	// and returns a single-result channel: true on success, false on failure.
	// The channel is closed after the result is delivered; implementations
	// must abandon the upload when ctx is cancelled.
	WritePrevHeightBlob(ctx context.Context, height types.BlockNumber) <-chan bool

	// PrepareBlobForNextHeight stages the artifacts of the block just
	// decided so the next height's proposal can await their upload.
	PrepareBlobForNextHeight(ctx context.Context, artifacts BlobArtifacts) error
}
