// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator

import (
	"errors"

	"github.com/cptartur/sequencer/batcher"
	"github.com/cptartur/sequencer/cende"
	"github.com/cptartur/sequencer/consensus/types"
	"github.com/cptartur/sequencer/gasprice"
	"github.com/cptartur/sequencer/statesync"
	"github.com/cptartur/sequencer/utils"
)

// ProposalStream registers a fresh outbound proposal under its height/round
// with the network fan-out. The parts channel delivers the ordered stream
// Init, BlockInfo, Transactions*, Fin; it is closed after Fin on success, or
// without a Fin when the proposal aborted.
type ProposalStream struct {
	HeightAndRound types.HeightAndRound
	Parts          <-chan types.ProposalPart
}

// Deps are the capabilities the consensus context consumes, passed at
// construction. Clock and Metrics are optional; everything else is required.
type Deps struct {
	Batcher            batcher.Client
	Converter          types.TransactionConverter
	StateSync          statesync.Client
	Cende              cende.Ambassador
	L1GasPriceProvider gasprice.L1GasPriceProvider
	EthToFriOracle     gasprice.EthToFriOracle
	OutboundProposals  chan<- ProposalStream
	Clock              utils.Clock
	Metrics            *Metrics
}

func (d *Deps) withDefaults() {
	if d.Clock == nil {
		d.Clock = utils.WallClock{}
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
}

func (d *Deps) validate() error {
	switch {
	case d.Batcher == nil:
		return errors.New("missing batcher client")
	case d.Converter == nil:
		return errors.New("missing transaction converter")
	case d.StateSync == nil:
		return errors.New("missing state sync client")
	case d.Cende == nil:
		return errors.New("missing cende ambassador")
	case d.L1GasPriceProvider == nil:
		return errors.New("missing L1 gas price provider")
	case d.EthToFriOracle == nil:
		return errors.New("missing eth to fri oracle")
	case d.OutboundProposals == nil:
		return errors.New("missing outbound proposal sender")
	}
	return nil
}
