// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum/go-ethereum/log"

	"github.com/cptartur/sequencer/batcher"
	"github.com/cptartur/sequencer/consensus/types"
)

// cachedProposal is a locally accepted proposal kept for repropose and for
// the decision-reached flow. The batches are the wire batches in their
// original order so a replay is part-for-part identical.
type cachedProposal struct {
	id        batcher.ProposalID
	blockInfo types.ConsensusBlockInfo
	batches   []types.TransactionBatch
	fin       types.ProposalFin
}

// proposalStore caches proposals of the current height keyed by their block
// hash. At most one entry exists per commitment; the store is purged when the
// height advances. The LRU bound protects against an adversarial engine
// accepting unboundedly many values in one height.
type proposalStore struct {
	cache *lru.Cache
}

func newProposalStore(size int) (*proposalStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &proposalStore{cache: cache}, nil
}

func (s *proposalStore) put(hash types.BlockHash, proposal *cachedProposal) {
	if evicted := s.cache.Add(hash, proposal); evicted {
		log.Warn("proposal store full, evicted oldest cached proposal", "height", proposal.blockInfo.Height)
	}
}

func (s *proposalStore) get(hash types.BlockHash) (*cachedProposal, bool) {
	v, ok := s.cache.Get(hash)
	if !ok {
		return nil, false
	}
	return v.(*cachedProposal), true
}

func (s *proposalStore) purge() {
	s.cache.Purge()
}
