// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/cptartur/sequencer/batcher"
	"github.com/cptartur/sequencer/consensus/types"
)

// buildEnv accumulates the state of one outbound proposal while the batcher
// produces content.
type buildEnv struct {
	id      batcher.ProposalID
	info    types.ConsensusBlockInfo
	batches []types.TransactionBatch
	txCount int
	start   time.Time
}

// runBuild drives the batcher through start_height, propose_block and the
// get_proposal_content loop, fanning parts out to the network. The Fin part
// is emitted only after the previous height's blob write reports success; any
// failure closes the stream without a Fin and cancels the promise.
func (c *SequencerConsensusContext) runBuild(ctx context.Context, ap *activeProposal, init types.ProposalInit, timeout time.Duration, prev *types.ConsensusBlockInfo) {
	hr := init.HeightAndRound()
	abort := func(reason string, kv ...interface{}) {
		log.Debug("build proposal aborted", append([]interface{}{"heightAndRound", hr, "reason", reason}, kv...)...)
		ap.promise.cancel()
		c.clearActive(ap)
	}

	parts := make(chan types.ProposalPart, c.cfg.ProposalBufferSize)
	if !c.registerStream(ctx, hr, parts) {
		abort("cancelled before stream registration")
		return
	}
	// Closing the stream without a Fin is how the network observes an abort.
	defer close(parts)

	err := c.deps.Batcher.StartHeight(ctx, batcher.StartHeightInput{Height: init.Height})
	if err != nil && !errors.Is(err, batcher.ErrHeightInProgress) {
		abort("batcher start height failed", "err", err)
		return
	}

	info, err := c.assembler.Assemble(ctx, init.Height, c.deps.Clock.NowAsTimestamp(), init.Proposer, prev)
	if err != nil {
		abort("block info assembly cancelled", "err", err)
		return
	}

	// The write of the previous height's blob runs concurrently with the
	// batcher loop; only the Fin emission waits for it.
	var blobWritten <-chan bool
	if init.Height > 0 {
		blobWritten = c.deps.Cende.WritePrevHeightBlob(ctx, init.Height-1)
	}

	if !sendPart(ctx, parts, init) {
		abort("cancelled while sending init")
		return
	}
	if !sendPart(ctx, parts, info) {
		abort("cancelled while sending block info")
		return
	}

	env := &buildEnv{id: batcher.NewProposalID(), info: info, start: c.deps.Clock.Now()}
	err = c.deps.Batcher.ProposeBlock(ctx, batcher.ProposeBlockInput{
		ProposalID: env.id,
		Height:     init.Height,
		Round:      init.Round,
		Deadline:   c.batcherDeadline(timeout, c.cfg.BuildProposalMargin),
		BlockInfo:  info,
	})
	if err != nil {
		abort("batcher refused proposal", "err", err)
		return
	}
	log.Debug("building proposal", "heightAndRound", hr, "proposalID", env.id)

	for {
		if ctx.Err() != nil {
			abort("cancelled", "err", ctx.Err())
			return
		}
		resp, err := c.deps.Batcher.GetProposalContent(ctx, batcher.GetProposalContentInput{ProposalID: env.id})
		if err != nil {
			abort("fetching proposal content failed", "err", err)
			return
		}
		switch {
		case resp.Finished != nil:
			c.finishBuild(ctx, ap, env, parts, *resp.Finished, blobWritten, abort)
			return
		case resp.Txs != nil:
			wire, err := c.deps.Converter.InternalToConsensus(ctx, resp.Txs)
			if err != nil {
				abort("transaction conversion failed", "err", err)
				return
			}
			batch := types.TransactionBatch{Transactions: wire}
			if !sendPart(ctx, parts, batch) {
				abort("cancelled while sending transactions")
				return
			}
			env.batches = append(env.batches, batch)
			env.txCount += len(wire)
		default:
			abort("empty proposal content response")
			return
		}
	}
}

func (c *SequencerConsensusContext) finishBuild(ctx context.Context, ap *activeProposal, env *buildEnv, parts chan<- types.ProposalPart, commitment types.ProposalCommitment, blobWritten <-chan bool, abort func(string, ...interface{})) {
	// Rendezvous with the previous-height blob write; Fin must not reach the
	// network unless the blob is durable.
	if blobWritten != nil {
		select {
		case <-ctx.Done():
			abort("cancelled while awaiting previous height blob", "err", ctx.Err())
			return
		case ok := <-blobWritten:
			if !ok {
				abort("previous height blob write failed")
				return
			}
		}
	}

	fin := types.ProposalFin{ProposalCommitment: commitment.AsBlockHash()}
	if !sendPart(ctx, parts, fin) {
		abort("cancelled while sending fin")
		return
	}
	cached := &cachedProposal{id: env.id, blockInfo: env.info, batches: env.batches, fin: fin}
	c.commitLocalProposal(ap, fin.ProposalCommitment, cached)
	ap.promise.resolve(fin.ProposalCommitment)
	log.Info("built proposal", "heightAndRound", ap.heightAndRound, "blockHash", fin.ProposalCommitment,
		"txs", env.txCount, "elapsed", c.deps.Clock.Now().Sub(env.start))
}
