// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package batcher defines the capability interface the consensus context
// consumes to drive the local block builder. The batcher itself runs as a
// separate component; only its API surface lives here.
package batcher

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/cptartur/sequencer/consensus/types"
)

var (
	// ErrNotReady is returned when the batcher cannot accept a new proposal
	// yet. The context treats it as transient and cancels the proposal.
	ErrNotReady = errors.New("batcher not ready")

	// ErrHeightAlreadyPassed is returned by ProposeBlock for a stale height.
	ErrHeightAlreadyPassed = errors.New("height already passed")

	// ErrHeightInProgress is returned by StartHeight when the height was
	// already started. Callers treat it as success.
	ErrHeightInProgress = errors.New("height already in progress")
)

// ProposalID identifies one proposal towards the batcher. The context issues
// a fresh ID per proposal; IDs stay unique across restarts.
type ProposalID uuid.UUID

func NewProposalID() ProposalID { return ProposalID(uuid.New()) }

func (id ProposalID) String() string { return uuid.UUID(id).String() }

type StartHeightInput struct {
	Height types.BlockNumber
}

type ProposeBlockInput struct {
	ProposalID ProposalID
	Height     types.BlockNumber
	Round      types.Round
	Deadline   time.Time
	BlockInfo  types.ConsensusBlockInfo
	// RetrospectiveBlockHash is the hash of an earlier block made available
	// to contracts, when the chain is deep enough to have one.
	RetrospectiveBlockHash *types.BlockHash
}

type ValidateBlockInput struct {
	ProposalID             ProposalID
	Height                 types.BlockNumber
	Round                  types.Round
	Deadline               time.Time
	BlockInfo              types.ConsensusBlockInfo
	RetrospectiveBlockHash *types.BlockHash
}

type GetProposalContentInput struct {
	ProposalID ProposalID
}

// GetProposalContentResponse carries either a batch of transactions or the
// final commitment; exactly one of the fields is set.
type GetProposalContentResponse struct {
	Txs      []types.InternalConsensusTransaction
	Finished *types.ProposalCommitment
}

// SendProposalContent carries either a batch of transactions or the Finish
// marker; Finish is set iff Txs is nil.
type SendProposalContent struct {
	Txs    []types.InternalConsensusTransaction
	Finish bool
}

type SendProposalContentInput struct {
	ProposalID ProposalID
	Content    SendProposalContent
}

// ProposalStatus is the batcher's verdict on streamed validation content.
type ProposalStatus uint8

const (
	StatusProcessing ProposalStatus = iota
	StatusFinished
	StatusInvalidProposal
	StatusAborted
)

func (s ProposalStatus) String() string {
	switch s {
	case StatusProcessing:
		return "Processing"
	case StatusFinished:
		return "Finished"
	case StatusInvalidProposal:
		return "InvalidProposal"
	case StatusAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// SendProposalContentResponse reports the batcher's status; Commitment is set
// iff Status is StatusFinished.
type SendProposalContentResponse struct {
	Status     ProposalStatus
	Commitment *types.ProposalCommitment
}

type DecisionReachedInput struct {
	ProposalID ProposalID
}

// ThinStateDiff is the condensed state diff of a decided block.
type ThinStateDiff struct {
	StorageDiffs    map[common.Address][]StorageEntry
	Nonces          map[common.Address]uint64
	DeclaredClasses []common.Hash
}

type StorageEntry struct {
	Key   common.Hash
	Value common.Hash
}

// CentralObjects is the opaque execution payload forwarded to the blob
// uploader alongside the state diff.
type CentralObjects struct {
	ExecutionData []byte
}

type DecisionReachedResponse struct {
	StateDiff      ThinStateDiff
	L2GasUsed      uint64
	CentralObjects CentralObjects
}

// Client is the batcher capability consumed by the consensus context. The
// batcher serialises operations per proposal ID; the context guarantees a
// fresh ID per proposal.
type Client interface {
	// StartHeight is idempotent per height; ErrHeightInProgress means the
	// height was already started.
	StartHeight(ctx context.Context, input StartHeightInput) error
	ProposeBlock(ctx context.Context, input ProposeBlockInput) error
	ValidateBlock(ctx context.Context, input ValidateBlockInput) error
	GetProposalContent(ctx context.Context, input GetProposalContentInput) (GetProposalContentResponse, error)
	SendProposalContent(ctx context.Context, input SendProposalContentInput) (SendProposalContentResponse, error)
	DecisionReached(ctx context.Context, input DecisionReachedInput) (DecisionReachedResponse, error)
}
