// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// ConsensusTransaction is the wire form of a transaction as carried inside
// proposal parts. Execution semantics live in the batcher; the consensus
// context only moves these around and converts them to the internal form.
type ConsensusTransaction struct {
	Sender           common.Address
	Nonce            uint64
	MaxL2GasPriceFri *uint256.Int
	Calldata         []byte
}

// Hash returns the chain-scoped transaction hash.
func (tx *ConsensusTransaction) Hash(chainID string) (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash([]byte(chainID), enc), nil
}

// InternalConsensusTransaction is the batcher-facing form: the wire
// transaction annotated with its computed hash.
type InternalConsensusTransaction struct {
	Tx     ConsensusTransaction
	TxHash common.Hash
}

// TransactionBatch is an ordered chunk of transactions inside a proposal
// stream.
type TransactionBatch struct {
	Transactions []ConsensusTransaction
}

// TransactionConverter translates between the wire and internal transaction
// forms. Class resolution makes the internal direction fallible and
// potentially blocking, hence the context.
type TransactionConverter interface {
	ConsensusToInternal(ctx context.Context, txs []ConsensusTransaction) ([]InternalConsensusTransaction, error)
	InternalToConsensus(ctx context.Context, txs []InternalConsensusTransaction) ([]ConsensusTransaction, error)
}

// HashingConverter is a TransactionConverter that derives internal
// transactions by hashing alone, for chains where no class manager is wired.
type HashingConverter struct {
	chainID string
}

func NewHashingConverter(chainID string) *HashingConverter {
	return &HashingConverter{chainID: chainID}
}

func (c *HashingConverter) ConsensusToInternal(ctx context.Context, txs []ConsensusTransaction) ([]InternalConsensusTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	internal := make([]InternalConsensusTransaction, len(txs))
	for i, tx := range txs {
		hash, err := tx.Hash(c.chainID)
		if err != nil {
			return nil, err
		}
		internal[i] = InternalConsensusTransaction{Tx: tx, TxHash: hash}
	}
	return internal, nil
}

func (c *HashingConverter) InternalToConsensus(ctx context.Context, txs []InternalConsensusTransaction) ([]ConsensusTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wire := make([]ConsensusTransaction, len(txs))
	for i, tx := range txs {
		wire[i] = tx.Tx
	}
	return wire, nil
}
