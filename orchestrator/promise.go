// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/cptartur/sequencer/consensus/types"
)

// ErrProposalCancelled is the terminal error of a proposal that was aborted:
// preempted by a newer round, timed out, rejected by a collaborator, or
// malformed on the wire. The engine retries or advances round per its own
// rules.
var ErrProposalCancelled = errors.New("proposal cancelled")

// CommitmentPromise is a single-shot handle on the outcome of a proposal
// pipeline. It resolves with the block hash of the accepted proposal or fails
// with ErrProposalCancelled. A promise handed out for a future-round
// validation stays pending until the controller reaches that round.
type CommitmentPromise struct {
	once sync.Once
	done chan struct{}
	hash types.BlockHash
	err  error
}

func newCommitmentPromise() *CommitmentPromise {
	return &CommitmentPromise{done: make(chan struct{})}
}

func (p *CommitmentPromise) resolve(hash types.BlockHash) {
	p.once.Do(func() {
		p.hash = hash
		close(p.done)
	})
}

func (p *CommitmentPromise) cancel() {
	p.once.Do(func() {
		p.err = ErrProposalCancelled
		close(p.done)
	})
}

// Done is closed once the promise has completed either way.
func (p *CommitmentPromise) Done() <-chan struct{} { return p.done }

// Await blocks until the promise completes or ctx is cancelled.
func (p *CommitmentPromise) Await(ctx context.Context) (types.BlockHash, error) {
	select {
	case <-ctx.Done():
		return types.BlockHash{}, ctx.Err()
	case <-p.done:
		return p.hash, p.err
	}
}
