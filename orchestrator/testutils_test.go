// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cptartur/sequencer/batcher"
	"github.com/cptartur/sequencer/cende"
	"github.com/cptartur/sequencer/consensus/types"
	"github.com/cptartur/sequencer/gasprice"
	"github.com/cptartur/sequencer/params"
	"github.com/cptartur/sequencer/statesync"
	"github.com/cptartur/sequencer/utils"
)

const (
	testTimeout = 1200 * time.Millisecond
	waitTimeout = 2 * time.Second
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBatcher is a scripted batcher double. Methods other than
// GetProposalContent record their inputs; all delegate to the corresponding
// function field, and a call without a script is an error, which the
// pipelines treat as an abort.
type fakeBatcher struct {
	mu             sync.Mutex
	startHeights   []batcher.StartHeightInput
	proposeInputs  []batcher.ProposeBlockInput
	validateInputs []batcher.ValidateBlockInput
	sendInputs     []batcher.SendProposalContentInput
	decisionInputs []batcher.DecisionReachedInput

	StartHeightF         func(batcher.StartHeightInput) error
	ProposeBlockF        func(batcher.ProposeBlockInput) error
	ValidateBlockF       func(batcher.ValidateBlockInput) error
	GetProposalContentF  func(ctx context.Context, input batcher.GetProposalContentInput) (batcher.GetProposalContentResponse, error)
	SendProposalContentF func(batcher.SendProposalContentInput) (batcher.SendProposalContentResponse, error)
	DecisionReachedF     func(batcher.DecisionReachedInput) (batcher.DecisionReachedResponse, error)
}

func (f *fakeBatcher) StartHeight(_ context.Context, input batcher.StartHeightInput) error {
	f.mu.Lock()
	f.startHeights = append(f.startHeights, input)
	fn := f.StartHeightF
	f.mu.Unlock()
	if fn == nil {
		return errors.New("unexpected StartHeight call")
	}
	return fn(input)
}

func (f *fakeBatcher) ProposeBlock(_ context.Context, input batcher.ProposeBlockInput) error {
	f.mu.Lock()
	f.proposeInputs = append(f.proposeInputs, input)
	fn := f.ProposeBlockF
	f.mu.Unlock()
	if fn == nil {
		return errors.New("unexpected ProposeBlock call")
	}
	return fn(input)
}

func (f *fakeBatcher) ValidateBlock(_ context.Context, input batcher.ValidateBlockInput) error {
	f.mu.Lock()
	f.validateInputs = append(f.validateInputs, input)
	fn := f.ValidateBlockF
	f.mu.Unlock()
	if fn == nil {
		return errors.New("unexpected ValidateBlock call")
	}
	return fn(input)
}

func (f *fakeBatcher) GetProposalContent(ctx context.Context, input batcher.GetProposalContentInput) (batcher.GetProposalContentResponse, error) {
	f.mu.Lock()
	fn := f.GetProposalContentF
	f.mu.Unlock()
	if fn == nil {
		return batcher.GetProposalContentResponse{}, errors.New("unexpected GetProposalContent call")
	}
	return fn(ctx, input)
}

func (f *fakeBatcher) SendProposalContent(_ context.Context, input batcher.SendProposalContentInput) (batcher.SendProposalContentResponse, error) {
	f.mu.Lock()
	f.sendInputs = append(f.sendInputs, input)
	fn := f.SendProposalContentF
	f.mu.Unlock()
	if fn == nil {
		return batcher.SendProposalContentResponse{}, errors.New("unexpected SendProposalContent call")
	}
	return fn(input)
}

func (f *fakeBatcher) DecisionReached(_ context.Context, input batcher.DecisionReachedInput) (batcher.DecisionReachedResponse, error) {
	f.mu.Lock()
	f.decisionInputs = append(f.decisionInputs, input)
	fn := f.DecisionReachedF
	f.mu.Unlock()
	if fn == nil {
		return batcher.DecisionReachedResponse{}, errors.New("unexpected DecisionReached call")
	}
	return fn(input)
}

func (f *fakeBatcher) sendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sendInputs)
}

func (f *fakeBatcher) validateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.validateInputs)
}

func (f *fakeBatcher) lastProposeID() batcher.ProposalID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.proposeInputs) == 0 {
		return batcher.ProposalID{}
	}
	return f.proposeInputs[len(f.proposeInputs)-1].ProposalID
}

// scriptBuild makes the batcher serve one Txs batch and then the commitment,
// for the build flow.
func (f *fakeBatcher) scriptBuild(internal []types.InternalConsensusTransaction, commitment types.ProposalCommitment) {
	var (
		mu    sync.Mutex
		id    *batcher.ProposalID
		calls int
	)
	f.StartHeightF = func(batcher.StartHeightInput) error { return nil }
	f.ProposeBlockF = func(input batcher.ProposeBlockInput) error {
		mu.Lock()
		defer mu.Unlock()
		captured := input.ProposalID
		id = &captured
		calls = 0
		return nil
	}
	f.GetProposalContentF = func(_ context.Context, input batcher.GetProposalContentInput) (batcher.GetProposalContentResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if id == nil || input.ProposalID != *id {
			return batcher.GetProposalContentResponse{}, fmt.Errorf("unknown proposal %s", input.ProposalID)
		}
		calls++
		if calls == 1 {
			return batcher.GetProposalContentResponse{Txs: internal}, nil
		}
		c := commitment
		return batcher.GetProposalContentResponse{Finished: &c}, nil
	}
}

// scriptValidate makes the batcher accept streamed batches equal to internal
// and finish with the commitment.
func (f *fakeBatcher) scriptValidate(internal []types.InternalConsensusTransaction, commitment types.ProposalCommitment) {
	f.StartHeightF = func(batcher.StartHeightInput) error { return nil }
	f.ValidateBlockF = func(batcher.ValidateBlockInput) error { return nil }
	f.SendProposalContentF = func(input batcher.SendProposalContentInput) (batcher.SendProposalContentResponse, error) {
		if input.Content.Finish {
			c := commitment
			return batcher.SendProposalContentResponse{Status: batcher.StatusFinished, Commitment: &c}, nil
		}
		if !reflect.DeepEqual(input.Content.Txs, internal) {
			return batcher.SendProposalContentResponse{}, fmt.Errorf("unexpected transactions: %v", input.Content.Txs)
		}
		return batcher.SendProposalContentResponse{Status: batcher.StatusProcessing}, nil
	}
}

// fakeCende serves a pre-made result channel for blob writes and records
// prepared artifacts.
type fakeCende struct {
	mu         sync.Mutex
	writeCalls int
	written    <-chan bool
	prepared   []cende.BlobArtifacts
	prepareErr error
}

func successCende() *fakeCende {
	written := make(chan bool, 1)
	written <- true
	return &fakeCende{written: written}
}

func failingCende() *fakeCende {
	written := make(chan bool, 1)
	written <- false
	return &fakeCende{written: written}
}

func pendingCende() *fakeCende {
	return &fakeCende{written: make(chan bool)}
}

func (f *fakeCende) WritePrevHeightBlob(context.Context, types.BlockNumber) <-chan bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	return f.written
}

func (f *fakeCende) PrepareBlobForNextHeight(_ context.Context, artifacts cende.BlobArtifacts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, artifacts)
	return f.prepareErr
}

func (f *fakeCende) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCalls
}

func (f *fakeCende) preparedArtifacts() []cende.BlobArtifacts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cende.BlobArtifacts(nil), f.prepared...)
}

// fakeStateSync records decided blocks.
type fakeStateSync struct {
	mu     sync.Mutex
	blocks []statesync.SyncBlock
	addErr error
}

func (f *fakeStateSync) AddNewBlock(_ context.Context, block statesync.SyncBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, block)
	return f.addErr
}

func (f *fakeStateSync) added() []statesync.SyncBlock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statesync.SyncBlock(nil), f.blocks...)
}

type providerFunc func(height types.BlockNumber) (gasprice.PriceInfo, error)

func (f providerFunc) GetPriceInfo(_ context.Context, height types.BlockNumber) (gasprice.PriceInfo, error) {
	return f(height)
}

type oracleFunc func(timestamp uint64) (*uint256.Int, error)

func (f oracleFunc) EthToFriRate(_ context.Context, timestamp uint64) (*uint256.Int, error) {
	return f(timestamp)
}

func tempPriceProvider() providerFunc {
	return func(types.BlockNumber) (gasprice.PriceInfo, error) {
		return gasprice.PriceInfo{
			BaseFeePerGas: params.TempEthGasFeeInWei(),
			BlobFee:       params.TempEthBlobGasFeeInWei(),
		}, nil
	}
}

func testEthToFriRate() *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))
}

func fixedRateOracle() oracleFunc {
	return func(uint64) (*uint256.Int, error) { return testEthToFriRate(), nil }
}

// testHarness bundles the context under test with its doubles. Mods run
// before construction and may swap any double.
type testHarness struct {
	ctx      *SequencerConsensusContext
	cfg      params.ContextConfig
	batcher  *fakeBatcher
	cende    *fakeCende
	sync     *fakeStateSync
	provider gasprice.L1GasPriceProvider
	oracle   gasprice.EthToFriOracle
	outbound chan ProposalStream
	metrics  *Metrics
	clock    utils.Clock
}

func newHarness(t *testing.T, mods ...func(*testHarness)) *testHarness {
	t.Helper()
	h := &testHarness{
		cfg:      params.DefaultContextConfig(),
		batcher:  &fakeBatcher{},
		cende:    successCende(),
		sync:     &fakeStateSync{},
		provider: tempPriceProvider(),
		oracle:   fixedRateOracle(),
		outbound: make(chan ProposalStream, 16),
		metrics:  NewMetrics(prometheus.NewRegistry()),
		clock:    utils.WallClock{},
	}
	for _, mod := range mods {
		mod(h)
	}
	ctx, err := New(h.cfg, Deps{
		Batcher:            h.batcher,
		Converter:          types.NewHashingConverter(h.cfg.ChainID),
		StateSync:          h.sync,
		Cende:              h.cende,
		L1GasPriceProvider: h.provider,
		EthToFriOracle:     h.oracle,
		OutboundProposals:  h.outbound,
		Clock:              h.clock,
		Metrics:            h.metrics,
	})
	require.NoError(t, err)
	h.ctx = ctx
	t.Cleanup(ctx.Shutdown)
	return h
}

func wireTxBatch() []types.ConsensusTransaction {
	txs := make([]types.ConsensusTransaction, 3)
	for i := range txs {
		txs[i] = types.ConsensusTransaction{
			Sender:           common.HexToAddress("0x0b0b"),
			Nonce:            uint64(i),
			MaxL2GasPriceFri: uint256.NewInt(1_000_000),
			Calldata:         []byte{0x01, byte(i)},
		}
	}
	return txs
}

func internalTxBatch(t *testing.T, chainID string, txs []types.ConsensusTransaction) []types.InternalConsensusTransaction {
	t.Helper()
	internal, err := types.NewHashingConverter(chainID).ConsensusToInternal(context.Background(), txs)
	require.NoError(t, err)
	return internal
}

// validBlockInfo mirrors what the local assembler derives from the default
// test oracles, so validations accept it.
func validBlockInfo(cfg params.ContextConfig, height types.BlockNumber) types.ConsensusBlockInfo {
	data := new(uint256.Int).Mul(params.TempEthBlobGasFeeInWei(), uint256.NewInt(cfg.L1DataGasPriceMultiplierPPT))
	data.Div(data, uint256.NewInt(1000))
	return types.ConsensusBlockInfo{
		Height:            height,
		Timestamp:         uint64(time.Now().Unix()),
		L1DAMode:          types.Blob,
		L2GasPriceFri:     params.MinL2GasPriceFri(),
		L1GasPriceWei:     params.TempEthGasFeeInWei(),
		L1DataGasPriceWei: data,
		EthToFriRate:      testEthToFriRate(),
	}
}

func nextStream(t *testing.T, outbound <-chan ProposalStream) ProposalStream {
	t.Helper()
	select {
	case stream := <-outbound:
		return stream
	case <-time.After(waitTimeout):
		t.Fatal("no outbound proposal stream registered")
		return ProposalStream{}
	}
}

// collectParts drains a stream until the sender closes it.
func collectParts(t *testing.T, stream ProposalStream) []types.ProposalPart {
	t.Helper()
	var parts []types.ProposalPart
	deadline := time.After(waitTimeout)
	for {
		select {
		case part, ok := <-stream.Parts:
			if !ok {
				return parts
			}
			parts = append(parts, part)
		case <-deadline:
			t.Fatal("proposal stream never closed")
			return nil
		}
	}
}

func awaitResolved(t *testing.T, promise *CommitmentPromise) types.BlockHash {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	hash, err := promise.Await(ctx)
	require.NoError(t, err)
	return hash
}

func awaitCancelled(t *testing.T, promise *CommitmentPromise) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err := promise.Await(ctx)
	require.ErrorIs(t, err, ErrProposalCancelled)
}

func requirePending(t *testing.T, promise *CommitmentPromise) {
	t.Helper()
	select {
	case <-promise.Done():
		t.Fatal("promise completed unexpectedly")
	case <-time.After(50 * time.Millisecond):
	}
}

func fullValidStream(cfg params.ContextConfig, height types.BlockNumber, txs []types.ConsensusTransaction, commitment types.ProposalCommitment) chan types.ProposalPart {
	content := make(chan types.ProposalPart, cfg.ProposalBufferSize)
	content <- validBlockInfo(cfg, height)
	content <- types.TransactionBatch{Transactions: txs}
	content <- types.ProposalFin{ProposalCommitment: commitment.AsBlockHash()}
	return content
}
