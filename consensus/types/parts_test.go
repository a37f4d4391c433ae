// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func testBlockInfo() ConsensusBlockInfo {
	return ConsensusBlockInfo{
		Height:            7,
		Timestamp:         1700000000,
		Builder:           common.HexToAddress("0x0101"),
		L1DAMode:          Blob,
		L2GasPriceFri:     uint256.NewInt(100_000_000_000),
		L1GasPriceWei:     uint256.NewInt(2_500_000_000),
		L1DataGasPriceWei: uint256.NewInt(875_000_000),
		EthToFriRate:      uint256.NewInt(1_000_000_000_000_000_000),
	}
}

func testBatch() TransactionBatch {
	return TransactionBatch{
		Transactions: []ConsensusTransaction{
			{
				Sender:           common.HexToAddress("0x0202"),
				Nonce:            3,
				MaxL2GasPriceFri: uint256.NewInt(1_000_000),
				Calldata:         []byte{0xde, 0xad, 0xbe, 0xef},
			},
		},
	}
}

func TestProposalPartRoundTrip(t *testing.T) {
	validRound := Round(2)
	parts := []ProposalPart{
		ProposalInit{Height: 7, Round: 3, ValidRound: &validRound, Proposer: common.HexToAddress("0x0303")},
		testBlockInfo(),
		testBatch(),
		ProposalFin{ProposalCommitment: BlockHash(common.HexToHash("0x04"))},
	}
	for _, part := range parts {
		enc, err := EncodeProposalPart(part)
		require.NoError(t, err)
		dec, err := DecodeProposalPart(enc)
		require.NoError(t, err)
		require.Equal(t, part, dec)
	}
}

func TestProposalInitNilValidRound(t *testing.T) {
	init := ProposalInit{Height: 1, Round: 0, Proposer: common.HexToAddress("0x0505")}
	enc, err := EncodeProposalPart(init)
	require.NoError(t, err)
	dec, err := DecodeProposalPart(enc)
	require.NoError(t, err)
	require.Nil(t, dec.(ProposalInit).ValidRound)
}

func TestDecodeUnknownPartKind(t *testing.T) {
	enc, err := rlp.EncodeToBytes(&partEnvelope{Kind: 9, Payload: []byte{0xc0}})
	require.NoError(t, err)
	_, err = DecodeProposalPart(enc)
	require.ErrorIs(t, err, ErrUnknownPartKind)
}

func TestValidateStreamOrder(t *testing.T) {
	init := ProposalInit{Height: 7}
	info := testBlockInfo()
	batch := testBatch()
	fin := ProposalFin{}

	require.NoError(t, ValidateStreamOrder([]ProposalPart{init, info, fin}))
	require.NoError(t, ValidateStreamOrder([]ProposalPart{init, info, batch, batch, fin}))

	require.ErrorIs(t, ValidateStreamOrder([]ProposalPart{info, batch, fin}), ErrPartOrder)
	require.ErrorIs(t, ValidateStreamOrder([]ProposalPart{init, batch, fin}), ErrPartOrder)
	require.ErrorIs(t, ValidateStreamOrder([]ProposalPart{init, info, batch}), ErrPartOrder)
	require.ErrorIs(t, ValidateStreamOrder([]ProposalPart{init, info, fin, batch}), ErrStreamEnded)
	require.ErrorIs(t, ValidateStreamOrder([]ProposalPart{init, init, fin}), ErrPartOrder)
}

func TestPartOrderSkipInit(t *testing.T) {
	var order PartOrder
	order.SkipInit()
	require.NoError(t, order.Observe(testBlockInfo()))
	require.NoError(t, order.Observe(testBatch()))
	require.NoError(t, order.Observe(ProposalFin{}))
	require.True(t, order.Finished())
}

func TestCommitmentWidening(t *testing.T) {
	commitment := ProposalCommitment(common.HexToHash("0x42"))
	require.Equal(t, BlockHash(common.HexToHash("0x42")), commitment.AsBlockHash())
}
