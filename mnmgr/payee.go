// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

const (
	// payeeFinalityLag is how many blocks behind the payout height the
	// scoring hash is anchored, as a finality buffer.
	payeeFinalityLag = 101

	// payeeCycleSeconds is the nominal seconds per payment cycle slot
	// used by the freshness filter: a masternode younger than
	// count*payeeCycleSeconds waits a full cycle before it can win.
	payeeCycleSeconds = 2.6 * 60
)

// RankedMasternode pairs a registry record snapshot with its rank.  Rank 1
// is the highest score.
type RankedMasternode struct {
	Rank       int
	Masternode Masternode
}

// scoredMasternode pairs a record snapshot with its score for sorting.
type scoredMasternode struct {
	score chainhash.Hash
	mn    Masternode
}

// masternodeScoresLocked computes the score of every record meeting the
// minimum protocol version against the passed block hash and returns them
// sorted by descending score, ties broken by ascending outpoint.
//
// This function MUST be called with the registry lock held.
func (m *Manager) masternodeScoresLocked(blockHash *chainhash.Hash, minProtocol uint32) []scoredMasternode {
	scored := make([]scoredMasternode, 0, len(m.masternodes))
	for _, mn := range m.masternodes {
		if mn.ProtocolVersion < minProtocol {
			continue
		}
		scored = append(scored, scoredMasternode{
			score: mn.CalculateScore(blockHash),
			mn:    *mn,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if c := compareScores(&scored[i].score, &scored[j].score); c != 0 {
			return c > 0
		}
		return scored[i].mn.Outpoint.Compare(&scored[j].mn.Outpoint) < 0
	})
	return scored
}

// GetMasternodeRanks returns the rank list at the passed block height:
// every record meeting the minimum protocol version ordered by descending
// score against that height's block hash.  A zero minProtocol means the
// payments minimum.  The output is deterministic for equal registry
// contents and block hash.
func (m *Manager) GetMasternodeRanks(blockHeight int32, minProtocol uint32) ([]RankedMasternode, error) {
	if !m.cfg.Sync.IsMasternodeListSynced() {
		return nil, ruleError(ErrNotSynced, 0, "masternode list not synced")
	}
	if minProtocol == 0 {
		minProtocol = m.cfg.Payments.MinProtoVersion()
	}

	// Make sure we know about this block.  The hash is fetched before the
	// registry lock per the chain-first lock order.
	blockHash, err := m.cfg.Chain.BlockHash(blockHeight)
	if err != nil {
		log.Infof("GetMasternodeRanks -- ERROR: BlockHash failed at "+
			"height %d", blockHeight)
		return nil, ruleError(ErrUnknownBlock, 0, "unknown block height")
	}

	m.mtx.Lock()
	scored := m.masternodeScoresLocked(blockHash, minProtocol)
	m.mtx.Unlock()

	if len(scored) == 0 {
		return nil, ruleError(ErrNotSynced, 0, "no masternodes to rank")
	}

	ranks := make([]RankedMasternode, 0, len(scored))
	for i, s := range scored {
		ranks = append(ranks, RankedMasternode{Rank: i + 1, Masternode: s.mn})
	}
	return ranks, nil
}

// GetMasternodeRank returns the rank of the record for the outpoint at the
// passed block height, using the same ordering as GetMasternodeRanks.
func (m *Manager) GetMasternodeRank(outpoint wire.OutPoint, blockHeight int32, minProtocol uint32) (int, error) {
	ranks, err := m.GetMasternodeRanks(blockHeight, minProtocol)
	if err != nil {
		return -1, err
	}
	for _, entry := range ranks {
		if entry.Masternode.Outpoint == outpoint {
			return entry.Rank, nil
		}
	}
	return -1, ruleError(ErrNotSynced, 0, "outpoint not in rank list")
}

// GetNextMasternodeInQueueForPayment deterministically selects the
// masternode the network should pay at the passed block height.
//
// Candidates are the payment-valid records meeting the payments protocol
// minimum that are not already scheduled within the propagation window and
// whose collateral has at least as many confirmations as there are
// masternodes.  With filterSigTime set, records too young to have completed
// a full payment cycle are skipped too; if that filter eliminates more than
// two thirds of the candidates the selection retries once without it.  The
// candidates are ordered by how long ago they were last paid and the winner
// is the highest-scoring record of the oldest tenth, scored against the
// block hash payeeFinalityLag blocks before the payout height.
//
// The returned count is the number of eligible candidates.
func (m *Manager) GetNextMasternodeInQueueForPayment(blockHeight int32, filterSigTime bool) (*Info, int, error) {
	if !m.cfg.Sync.IsWinnersListSynced() {
		// Without the winners list we can't reliably find the next
		// winner anyway.
		return nil, 0, ruleError(ErrNotSynced, 0, "winners list not synced")
	}

	// Chain state is gathered before the registry lock: the scoring hash
	// and, below, per-candidate collateral confirmations.
	blockHash, err := m.cfg.Chain.BlockHash(blockHeight - payeeFinalityLag)
	if err != nil {
		log.Infof("GetNextMasternodeInQueueForPayment -- ERROR: BlockHash "+
			"failed at height %d", blockHeight-payeeFinalityLag)
		return nil, 0, ruleError(ErrUnknownBlock, 0, "unknown block height")
	}

	minProtocol := m.cfg.Payments.MinProtoVersion()

	m.mtx.Lock()
	snapshot := make([]Masternode, 0, len(m.masternodes))
	mnCount := 0
	for _, mn := range m.masternodes {
		if mn.ProtocolVersion >= minProtocol {
			mnCount++
		}
		snapshot = append(snapshot, *mn)
	}
	m.mtx.Unlock()

	adjustedNow := m.cfg.TimeSource.AdjustedTime().Unix()

	var candidates []Masternode
	for i := range snapshot {
		mn := &snapshot[i]
		if !mn.IsValidForPayment() {
			continue
		}
		if mn.ProtocolVersion < minProtocol {
			continue
		}
		// It's in the schedule up to 8 blocks ahead of the current
		// block to allow propagation, so skip it.
		if m.cfg.Payments.IsScheduled(mn.Info(), blockHeight) {
			continue
		}
		// It's too new; wait for a full cycle.
		if filterSigTime &&
			mn.SigTime+int64(float64(mnCount)*payeeCycleSeconds) > adjustedNow {
			continue
		}
		// Make sure it has at least as many confirmations as there are
		// masternodes.
		confs, ok := m.cfg.Chain.UTXOConfirmations(&mn.Outpoint)
		if !ok || confs < int32(mnCount) {
			continue
		}
		candidates = append(candidates, *mn)
	}

	// When the network is in the process of upgrading, don't penalize
	// nodes that recently restarted.
	if filterSigTime && len(candidates) < mnCount/3 {
		return m.GetNextMasternodeInQueueForPayment(blockHeight, false)
	}

	// Sort by last paid block, low to high, ties by outpoint.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastPaidBlock != candidates[j].LastPaidBlock {
			return candidates[i].LastPaidBlock < candidates[j].LastPaidBlock
		}
		return candidates[i].Outpoint.Compare(&candidates[j].Outpoint) < 0
	})

	// Look at 1/10 of the oldest nodes by last payment, calculate their
	// scores and pay the best one.  This doesn't look at who is being
	// paid in the next few blocks, so a double payment stays possible on
	// rare occasions; that is the accepted cost of the propagation
	// window.
	tenth := mnCount / 10
	var best *Masternode
	var bestScore chainhash.Hash
	for i := range candidates {
		if tenth > 0 && i >= tenth {
			break
		}
		score := candidates[i].CalculateScore(blockHash)
		if best == nil || compareScores(&score, &bestScore) > 0 {
			best = &candidates[i]
			bestScore = score
		}
	}

	if best == nil {
		return nil, len(candidates), ruleError(ErrNotSynced, 0,
			"no eligible masternode")
	}
	return best.Info(), len(candidates), nil
}

// FindRandomNotInVec returns a uniformly random enabled record meeting the
// minimum protocol version whose outpoint is not in the exclude set.  A zero
// minProtocol means the payments minimum.
func (m *Manager) FindRandomNotInVec(exclude []wire.OutPoint, minProtocol uint32) (*Info, bool) {
	if minProtocol == 0 {
		minProtocol = m.cfg.Payments.MinProtoVersion()
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	enabled := m.countEnabledLocked(minProtocol)
	notExcluded := enabled - len(exclude)
	log.Infof("FindRandomNotInVec -- %d enabled masternodes, %d "+
		"masternodes to choose from", enabled, notExcluded)
	if notExcluded < 1 {
		return nil, false
	}

	shuffled := make([]*Masternode, 0, len(m.masternodes))
	for _, mn := range m.masternodes {
		shuffled = append(shuffled, mn)
	}
	// Fisher-Yates with the same entropy source the nonces use.
	for i := len(shuffled) - 1; i > 0; i-- {
		rv, err := wire.RandomUint64()
		if err != nil {
			break
		}
		j := int(rv % uint64(i+1))
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	excluded := make(map[wire.OutPoint]struct{}, len(exclude))
	for _, outpoint := range exclude {
		excluded[outpoint] = struct{}{}
	}

	for _, mn := range shuffled {
		if mn.ProtocolVersion < minProtocol || !mn.IsEnabled() {
			continue
		}
		if _, skip := excluded[mn.Outpoint]; skip {
			continue
		}
		log.Debugf("FindRandomNotInVec -- found, masternode=%s",
			mn.Outpoint.StringShort())
		return mn.Info(), true
	}

	log.Debugf("FindRandomNotInVec -- failed")
	return nil, false
}
