// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/cptartur/sequencer/batcher"
	"github.com/cptartur/sequencer/consensus/types"
	"github.com/cptartur/sequencer/gasprice"
)

var (
	errBlockInfoMismatch  = errors.New("block info disagrees with local oracles")
	errCommitmentMismatch = errors.New("batcher commitment disagrees with proposal fin")
)

// runValidate consumes an inbound proposal stream, feeding content to the
// batcher in wire order. The stream must open with BlockInfo (the engine
// consumed Init); the block info is cross-checked against the local oracles
// before any transaction reaches the batcher, and the batcher's final
// commitment must match the sender's Fin.
func (c *SequencerConsensusContext) runValidate(ctx context.Context, ap *activeProposal, init types.ProposalInit, timeout time.Duration, content <-chan types.ProposalPart, prev *types.ConsensusBlockInfo) {
	hr := init.HeightAndRound()
	abort := func(reason string, kv ...interface{}) {
		log.Debug("validate proposal aborted", append([]interface{}{"heightAndRound", hr, "reason", reason}, kv...)...)
		ap.promise.cancel()
		c.clearActive(ap)
	}

	err := c.deps.Batcher.StartHeight(ctx, batcher.StartHeightInput{Height: init.Height})
	if err != nil && !errors.Is(err, batcher.ErrHeightInProgress) {
		abort("batcher start height failed", "err", err)
		return
	}

	part, ok := recvPart(ctx, content)
	if !ok {
		abort("stream ended before block info")
		return
	}
	received, ok := part.(types.ConsensusBlockInfo)
	if !ok {
		abort("first part is not block info", "kind", part.PartKind())
		return
	}
	local, err := c.assembler.Assemble(ctx, init.Height, c.deps.Clock.NowAsTimestamp(), init.Proposer, prev)
	if err != nil {
		abort("block info assembly cancelled", "err", err)
		return
	}
	if err := c.checkBlockInfo(received, local, init); err != nil {
		abort("block info rejected", "err", err)
		return
	}

	id := batcher.NewProposalID()
	err = c.deps.Batcher.ValidateBlock(ctx, batcher.ValidateBlockInput{
		ProposalID: id,
		Height:     init.Height,
		Round:      init.Round,
		Deadline:   c.batcherDeadline(timeout, c.cfg.ValidateProposalMargin),
		BlockInfo:  received,
	})
	if err != nil {
		abort("batcher refused validation", "err", err)
		return
	}
	log.Debug("validating proposal", "heightAndRound", hr, "proposalID", id)

	var batches []types.TransactionBatch
	for {
		part, ok := recvPart(ctx, content)
		if !ok {
			abort("stream ended before fin", "err", ctx.Err())
			return
		}
		switch p := part.(type) {
		case types.TransactionBatch:
			internal, err := c.deps.Converter.ConsensusToInternal(ctx, p.Transactions)
			if err != nil {
				abort("transaction conversion failed", "err", err)
				return
			}
			resp, err := c.deps.Batcher.SendProposalContent(ctx, batcher.SendProposalContentInput{
				ProposalID: id,
				Content:    batcher.SendProposalContent{Txs: internal},
			})
			if err != nil {
				abort("sending proposal content failed", "err", err)
				return
			}
			// A terminal status before Fin is the batcher's decision to stop.
			if resp.Status != batcher.StatusProcessing {
				abort("batcher ended validation early", "status", resp.Status)
				return
			}
			batches = append(batches, p)
		case types.ProposalFin:
			resp, err := c.deps.Batcher.SendProposalContent(ctx, batcher.SendProposalContentInput{
				ProposalID: id,
				Content:    batcher.SendProposalContent{Finish: true},
			})
			if err != nil {
				abort("finishing validation failed", "err", err)
				return
			}
			if resp.Status != batcher.StatusFinished || resp.Commitment == nil {
				abort("batcher did not finish validation", "status", resp.Status)
				return
			}
			built := resp.Commitment.AsBlockHash()
			if built != p.ProposalCommitment {
				abort("commitment mismatch", "err",
					fmt.Errorf("%w: built %s, fin %s", errCommitmentMismatch, built, p.ProposalCommitment))
				return
			}
			cached := &cachedProposal{id: id, blockInfo: received, batches: batches, fin: p}
			c.commitLocalProposal(ap, built, cached)
			ap.promise.resolve(built)
			log.Info("validated proposal", "heightAndRound", hr, "blockHash", built)
			return
		default:
			abort("unexpected proposal part", "kind", part.PartKind())
			return
		}
	}
}

// checkBlockInfo cross-checks a received block info against a locally
// assembled one. Gas prices must match the locally clamped values exactly;
// the eth->fri rate may deviate within the configured margin.
func (c *SequencerConsensusContext) checkBlockInfo(received, local types.ConsensusBlockInfo, init types.ProposalInit) error {
	switch {
	case received.L2GasPriceFri == nil || received.L1GasPriceWei == nil ||
		received.L1DataGasPriceWei == nil || received.EthToFriRate == nil:
		return fmt.Errorf("%w: missing price fields", errBlockInfoMismatch)
	case received.Height != init.Height:
		return fmt.Errorf("%w: height %d, proposal for %d", errBlockInfoMismatch, received.Height, init.Height)
	case !received.L2GasPriceFri.Eq(local.L2GasPriceFri):
		return fmt.Errorf("%w: l2 gas price %s, local %s", errBlockInfoMismatch, received.L2GasPriceFri, local.L2GasPriceFri)
	case !received.L1GasPriceWei.Eq(local.L1GasPriceWei):
		return fmt.Errorf("%w: l1 gas price %s, local %s", errBlockInfoMismatch, received.L1GasPriceWei, local.L1GasPriceWei)
	case !received.L1DataGasPriceWei.Eq(local.L1DataGasPriceWei):
		return fmt.Errorf("%w: l1 data gas price %s, local %s", errBlockInfoMismatch, received.L1DataGasPriceWei, local.L1DataGasPriceWei)
	case !gasprice.WithinMargin(received.EthToFriRate, local.EthToFriRate, c.cfg.EthToFriRateMarginPPM):
		return fmt.Errorf("%w: eth to fri rate %s outside margin of local %s", errBlockInfoMismatch, received.EthToFriRate, local.EthToFriRate)
	}
	return nil
}
