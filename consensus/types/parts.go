// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// A proposal travels over the network as an ordered stream of parts:
// exactly one Init, then exactly one BlockInfo, then zero or more
// Transactions batches, then exactly one Fin, after which the stream ends.
// Any other ordering invalidates the proposal.

// PartKind tags the members of the ProposalPart sum on the wire.
type PartKind uint8

const (
	PartInit PartKind = iota
	PartBlockInfo
	PartTransactions
	PartFin
)

func (k PartKind) String() string {
	switch k {
	case PartInit:
		return "Init"
	case PartBlockInfo:
		return "BlockInfo"
	case PartTransactions:
		return "Transactions"
	case PartFin:
		return "Fin"
	default:
		return fmt.Sprintf("PartKind(%d)", uint8(k))
	}
}

// ProposalPart is one element of a proposal stream. The concrete types are
// ProposalInit, ConsensusBlockInfo, TransactionBatch and ProposalFin.
type ProposalPart interface {
	PartKind() PartKind
}

func (ProposalInit) PartKind() PartKind       { return PartInit }
func (ConsensusBlockInfo) PartKind() PartKind { return PartBlockInfo }
func (TransactionBatch) PartKind() PartKind   { return PartTransactions }
func (ProposalFin) PartKind() PartKind        { return PartFin }

var (
	ErrUnknownPartKind = errors.New("unknown proposal part kind")
	ErrPartOrder       = errors.New("proposal part out of order")
	ErrStreamEnded     = errors.New("proposal stream already ended")
)

// partEnvelope frames a part on the wire: a kind tag followed by the
// RLP-encoded payload.
type partEnvelope struct {
	Kind    uint8
	Payload rlp.RawValue
}

// EncodeProposalPart serialises a single part for network transport.
func EncodeProposalPart(part ProposalPart) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(part)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&partEnvelope{Kind: uint8(part.PartKind()), Payload: payload})
}

// DecodeProposalPart parses a single part produced by EncodeProposalPart.
func DecodeProposalPart(b []byte) (ProposalPart, error) {
	var env partEnvelope
	if err := rlp.DecodeBytes(b, &env); err != nil {
		return nil, err
	}
	switch PartKind(env.Kind) {
	case PartInit:
		var p ProposalInit
		if err := rlp.DecodeBytes(env.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartBlockInfo:
		var p ConsensusBlockInfo
		if err := rlp.DecodeBytes(env.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTransactions:
		var p TransactionBatch
		if err := rlp.DecodeBytes(env.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartFin:
		var p ProposalFin
		if err := rlp.DecodeBytes(env.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPartKind, env.Kind)
	}
}

// PartOrder tracks a proposal stream and rejects parts that violate the wire
// ordering contract. The zero value expects a full stream starting at Init;
// use SkipInit for engine-side streams where Init was already consumed.
type PartOrder struct {
	next  PartKind
	ended bool
}

// SkipInit positions the tracker after the Init part.
func (o *PartOrder) SkipInit() { o.next = PartBlockInfo }

// Observe advances the tracker with the next part of the stream.
func (o *PartOrder) Observe(part ProposalPart) error {
	if o.ended {
		return ErrStreamEnded
	}
	kind := part.PartKind()
	switch o.next {
	case PartInit, PartBlockInfo:
		if kind != o.next {
			return fmt.Errorf("%w: got %s, want %s", ErrPartOrder, kind, o.next)
		}
		o.next++
	case PartTransactions:
		switch kind {
		case PartTransactions:
		case PartFin:
			o.ended = true
		default:
			return fmt.Errorf("%w: got %s, want %s or %s", ErrPartOrder, kind, PartTransactions, PartFin)
		}
	}
	return nil
}

// Finished reports whether a Fin has been observed.
func (o *PartOrder) Finished() bool { return o.ended }

// ValidateStreamOrder checks a complete stream against the ordering contract.
func ValidateStreamOrder(parts []ProposalPart) error {
	var order PartOrder
	for _, part := range parts {
		if err := order.Observe(part); err != nil {
			return err
		}
	}
	if !order.Finished() {
		return fmt.Errorf("%w: stream ended before Fin", ErrPartOrder)
	}
	return nil
}
