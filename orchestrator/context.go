// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package orchestrator implements the sequencer consensus context: the
// adapter between a height/round driven consensus engine and the local
// batcher, the proposal fan-out, the gas oracles, the cende blob uploader and
// state sync. At most one proposal pipeline is active per height/round; round
// transitions cancel the previous pipeline before installing a new one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/cptartur/sequencer/batcher"
	"github.com/cptartur/sequencer/cende"
	"github.com/cptartur/sequencer/consensus/types"
	"github.com/cptartur/sequencer/gasprice"
	"github.com/cptartur/sequencer/params"
	"github.com/cptartur/sequencer/statesync"
)

var (
	ErrClosed              = errors.New("consensus context closed")
	ErrPastHeightAndRound  = errors.New("height and round moved backwards")
	ErrWrongHeightAndRound = errors.New("proposal init does not match current height and round")
	ErrFutureHeight        = errors.New("proposal for a future height")
	ErrUnknownProposal     = errors.New("no cached proposal for block hash")
)

type proposalRole uint8

const (
	roleBuilder proposalRole = iota
	roleValidator
)

func (r proposalRole) String() string {
	if r == roleBuilder {
		return "builder"
	}
	return "validator"
}

// activeProposal is the controller-owned handle on the single running
// pipeline. Cancelling it signals the pipeline's context and completes the
// promise; both are idempotent.
type activeProposal struct {
	heightAndRound types.HeightAndRound
	role           proposalRole
	cancel         context.CancelFunc
	promise        *CommitmentPromise
}

// queuedValidation is a validation received for a future round of the
// current height, parked until the controller reaches that round.
type queuedValidation struct {
	init    types.ProposalInit
	timeout time.Duration
	content <-chan types.ProposalPart
	promise *CommitmentPromise
}

// SequencerConsensusContext is the context implementation handed to the
// consensus engine. All exported methods are safe for concurrent use, though
// the engine is expected to call them serially.
type SequencerConsensusContext struct {
	cfg       params.ContextConfig
	deps      Deps
	assembler *gasprice.Assembler

	// baseCtx parents every pipeline, repropose replay and cende await, so
	// Shutdown tears all of them down together.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	current       types.HeightAndRound
	active        *activeProposal
	queued        map[types.Round]*queuedValidation
	store         *proposalStore
	lastBlockInfo *types.ConsensusBlockInfo
}

func New(cfg params.ContextConfig, deps Deps) (*SequencerConsensusContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid context config: %w", err)
	}
	deps.withDefaults()
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid context dependencies: %w", err)
	}
	store, err := newProposalStore(cfg.ProposalStoreSize)
	if err != nil {
		return nil, err
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	c := &SequencerConsensusContext{
		cfg:        cfg,
		deps:       deps,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		queued:     make(map[types.Round]*queuedValidation),
		store:      store,
	}
	c.assembler = gasprice.NewAssembler(&c.cfg, deps.L1GasPriceProvider, deps.EthToFriOracle)
	log.Info("consensus context created", "chain", cfg.ChainID, "validators", cfg.NumValidators)
	return c, nil
}

// SetHeightAndRound transitions the controller. Moving forward cancels the
// active pipeline; advancing the height additionally clears the proposal
// store and every queued validation. Reaching a round with a queued
// validation starts it. Moving backwards is an engine logic error.
func (c *SequencerConsensusContext) SetHeightAndRound(height types.BlockNumber, round types.Round) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	target := types.HeightAndRound{Height: height, Round: round}
	switch target.Cmp(c.current) {
	case -1:
		return fmt.Errorf("%w: at %s, asked for %s", ErrPastHeightAndRound, c.current, target)
	case 0:
		return nil
	}

	log.Debug("advancing height and round", "from", c.current, "to", target)
	c.cancelActiveLocked()
	if height > c.current.Height {
		c.store.purge()
		c.cancelQueuedBelowLocked(types.Round(^uint32(0)))
	} else {
		c.cancelQueuedBelowLocked(round)
	}
	c.current = target

	if q, ok := c.queued[round]; ok {
		delete(c.queued, round)
		log.Debug("starting queued validation", "heightAndRound", target)
		c.startValidationLocked(q.init, q.timeout, q.content, q.promise)
	}
	return nil
}

// BuildProposal starts the outbound build pipeline for the current height and
// round and returns its promise. The pipeline streams Init, BlockInfo,
// Transactions* and, once the previous height's blob write has completed,
// Fin.
func (c *SequencerConsensusContext) BuildProposal(init types.ProposalInit, timeout time.Duration) (*CommitmentPromise, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if init.HeightAndRound() != c.current {
		return nil, fmt.Errorf("%w: at %s, init %s", ErrWrongHeightAndRound, c.current, init.HeightAndRound())
	}

	c.cancelActiveLocked()
	pctx, cancel := context.WithTimeout(c.baseCtx, timeout)
	ap := &activeProposal{
		heightAndRound: init.HeightAndRound(),
		role:           roleBuilder,
		cancel:         cancel,
		promise:        newCommitmentPromise(),
	}
	c.active = ap
	prev := c.lastBlockInfo
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.runBuild(pctx, ap, init, timeout, prev)
	}()
	return ap.promise, nil
}

// ValidateProposal feeds an inbound proposal stream through the batcher and
// returns a promise for the reconciled commitment.
//
// The stream must begin at BlockInfo; the engine consumes Init. A proposal
// for a past round (or height) resolves cancelled immediately. A proposal
// for a future round of the current height is queued and its promise stays
// pending until SetHeightAndRound reaches exactly that round; a later
// proposal for the same future round replaces the queued one.
func (c *SequencerConsensusContext) ValidateProposal(init types.ProposalInit, timeout time.Duration, content <-chan types.ProposalPart) (*CommitmentPromise, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if init.Height > c.current.Height {
		return nil, fmt.Errorf("%w: at %s, init %s", ErrFutureHeight, c.current, init.HeightAndRound())
	}

	promise := newCommitmentPromise()
	switch {
	case init.Height < c.current.Height || init.Round < c.current.Round:
		log.Debug("dropping proposal from past round", "current", c.current, "init", init.HeightAndRound())
		promise.cancel()
	case init.Round > c.current.Round:
		if old, ok := c.queued[init.Round]; ok {
			old.promise.cancel()
		}
		log.Debug("queueing proposal for future round", "current", c.current, "init", init.HeightAndRound())
		c.queued[init.Round] = &queuedValidation{init: init, timeout: timeout, content: content, promise: promise}
	default:
		c.cancelActiveLocked()
		c.startValidationLocked(init, timeout, content, promise)
	}
	return promise, nil
}

// startValidationLocked installs and launches a validation pipeline. The
// caller holds c.mu and has already cleared the active slot.
func (c *SequencerConsensusContext) startValidationLocked(init types.ProposalInit, timeout time.Duration, content <-chan types.ProposalPart, promise *CommitmentPromise) {
	pctx, cancel := context.WithTimeout(c.baseCtx, timeout)
	ap := &activeProposal{
		heightAndRound: init.HeightAndRound(),
		role:           roleValidator,
		cancel:         cancel,
		promise:        promise,
	}
	c.active = ap
	prev := c.lastBlockInfo
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.runValidate(pctx, ap, init, timeout, content, prev)
	}()
}

// Repropose rebroadcasts a previously accepted proposal of the current height
// under a new round. The replay touches neither the batcher nor the oracles.
// The engine only calls this with a hash it saw a promise resolve with;
// anything else is a logic error.
func (c *SequencerConsensusContext) Repropose(blockHash types.BlockHash, init types.ProposalInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	cached, ok := c.store.get(blockHash)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, blockHash)
	}
	log.Info("reproposing", "blockHash", blockHash, "heightAndRound", init.HeightAndRound())
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runRepropose(init, cached)
	}()
	return nil
}

// DecisionReached finalises the winning proposal: executes the batcher's
// decision, hands the block to state sync with the committed timestamp,
// stages the cende blob for the next height, reports metrics and advances to
// (height+1, 0). Collaborator failures here are fatal to the engine.
func (c *SequencerConsensusContext) DecisionReached(blockHash types.BlockHash, votes []types.Vote) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	cached, ok := c.store.get(blockHash)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: decision for %s", ErrUnknownProposal, blockHash)
	}
	height := c.current.Height
	c.cancelActiveLocked()
	c.cancelQueuedBelowLocked(types.Round(^uint32(0)))
	c.mu.Unlock()

	if len(votes) > 0 && votes[0].Height != uint64(height) {
		log.Warn("decision votes disagree with current height", "voteHeight", votes[0].Height, "height", height)
	}

	resp, err := c.deps.Batcher.DecisionReached(c.baseCtx, batcher.DecisionReachedInput{ProposalID: cached.id})
	if err != nil {
		return fmt.Errorf("batcher decision reached failed: %w", err)
	}
	syncBlock, err := c.buildSyncBlock(blockHash, cached, resp)
	if err != nil {
		return fmt.Errorf("assembling sync block failed: %w", err)
	}
	if err := c.deps.StateSync.AddNewBlock(c.baseCtx, syncBlock); err != nil {
		return fmt.Errorf("state sync rejected decided block: %w", err)
	}
	artifacts := cende.BlobArtifacts{
		Height:         cached.blockInfo.Height,
		BlockInfo:      cached.blockInfo,
		StateDiff:      resp.StateDiff,
		L2GasUsed:      resp.L2GasUsed,
		CentralObjects: resp.CentralObjects,
	}
	if err := c.deps.Cende.PrepareBlobForNextHeight(c.baseCtx, artifacts); err != nil {
		return fmt.Errorf("preparing blob for next height failed: %w", err)
	}
	c.deps.Metrics.setL2GasPrice(cached.blockInfo.L2GasPriceFri)

	c.mu.Lock()
	info := cached.blockInfo
	c.lastBlockInfo = &info
	c.current = types.HeightAndRound{Height: height + 1, Round: 0}
	c.store.purge()
	c.mu.Unlock()

	log.Info("decision reached", "height", height, "blockHash", blockHash, "l2GasUsed", resp.L2GasUsed)
	return nil
}

func (c *SequencerConsensusContext) buildSyncBlock(blockHash types.BlockHash, cached *cachedProposal, resp batcher.DecisionReachedResponse) (statesync.SyncBlock, error) {
	var txs []types.ConsensusTransaction
	for _, batch := range cached.batches {
		txs = append(txs, batch.Transactions...)
	}
	internal, err := c.deps.Converter.ConsensusToInternal(c.baseCtx, txs)
	if err != nil {
		return statesync.SyncBlock{}, err
	}
	hashes := make([]common.Hash, len(internal))
	for i, tx := range internal {
		hashes[i] = tx.TxHash
	}
	info := cached.blockInfo
	return statesync.SyncBlock{
		Header: statesync.BlockHeaderWithoutHash{
			Height:            info.Height,
			Timestamp:         info.Timestamp,
			Builder:           info.Builder,
			L1DAMode:          info.L1DAMode,
			L2GasPriceFri:     info.L2GasPriceFri,
			L1GasPriceWei:     info.L1GasPriceWei,
			L1DataGasPriceWei: info.L1DataGasPriceWei,
			EthToFriRate:      info.EthToFriRate,
		},
		BlockHash:         blockHash,
		StateDiff:         resp.StateDiff,
		TransactionHashes: hashes,
	}, nil
}

// Shutdown cancels the active pipeline, every queued validation and any
// in-flight cende await, then waits for all background work to drain. The
// context is unusable afterwards.
func (c *SequencerConsensusContext) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelActiveLocked()
	c.cancelQueuedBelowLocked(types.Round(^uint32(0)))
	c.mu.Unlock()

	c.baseCancel()
	c.wg.Wait()
	log.Info("consensus context stopped")
}

// cancelActiveLocked tears down the running pipeline, if any. The promise is
// completed here, not merely signalled, so callers observe a settled promise
// as soon as the controller method returns.
func (c *SequencerConsensusContext) cancelActiveLocked() {
	if c.active == nil {
		return
	}
	log.Debug("cancelling active proposal", "heightAndRound", c.active.heightAndRound, "role", c.active.role)
	c.active.cancel()
	c.active.promise.cancel()
	c.active = nil
}

// cancelQueuedBelowLocked cancels queued validations for rounds < limit, in
// round order.
func (c *SequencerConsensusContext) cancelQueuedBelowLocked(limit types.Round) {
	rounds := maps.Keys(c.queued)
	slices.Sort(rounds)
	for _, round := range rounds {
		if round >= limit {
			continue
		}
		c.queued[round].promise.cancel()
		delete(c.queued, round)
	}
}

// clearActive removes ap from the active slot if it is still installed.
func (c *SequencerConsensusContext) clearActive(ap *activeProposal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == ap {
		c.active = nil
	}
}

// commitLocalProposal records a locally accepted proposal for repropose and
// decision-reached, and releases the active slot.
func (c *SequencerConsensusContext) commitLocalProposal(ap *activeProposal, blockHash types.BlockHash, cached *cachedProposal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.put(blockHash, cached)
	if c.active == ap {
		c.active = nil
	}
}

// registerStream hands a fresh parts channel to the network fan-out.
func (c *SequencerConsensusContext) registerStream(ctx context.Context, hr types.HeightAndRound, parts <-chan types.ProposalPart) bool {
	select {
	case <-ctx.Done():
		return false
	case c.deps.OutboundProposals <- ProposalStream{HeightAndRound: hr, Parts: parts}:
		return true
	}
}

// sendPart emits one part on an outbound stream, giving up on cancellation.
func sendPart(ctx context.Context, parts chan<- types.ProposalPart, part types.ProposalPart) bool {
	select {
	case <-ctx.Done():
		return false
	case parts <- part:
		return true
	}
}

// recvPart reads one part from an inbound stream; ok is false on stream end
// or cancellation.
func recvPart(ctx context.Context, content <-chan types.ProposalPart) (types.ProposalPart, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case part, ok := <-content:
		return part, ok
	}
}

// batcherDeadline shortens the engine timeout by margin so the batcher stops
// early enough for the pipeline to drain before the engine gives up.
func (c *SequencerConsensusContext) batcherDeadline(timeout, margin time.Duration) time.Time {
	if timeout > margin {
		timeout -= margin
	}
	return c.deps.Clock.Now().Add(timeout)
}

func (c *SequencerConsensusContext) runRepropose(init types.ProposalInit, cached *cachedProposal) {
	parts := make(chan types.ProposalPart, c.cfg.ProposalBufferSize)
	if !c.registerStream(c.baseCtx, init.HeightAndRound(), parts) {
		return
	}
	defer close(parts)
	if !sendPart(c.baseCtx, parts, init) {
		return
	}
	if !sendPart(c.baseCtx, parts, cached.blockInfo) {
		return
	}
	for _, batch := range cached.batches {
		if !sendPart(c.baseCtx, parts, batch) {
			return
		}
	}
	sendPart(c.baseCtx, parts, cached.fin)
}
