// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"bytes"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

const (
	// maintenanceInterval is how often the slow housekeeping pass runs.
	maintenanceInterval = time.Minute

	// pendingInterval is how often scheduled outbound requests are
	// serviced.
	pendingInterval = time.Second
)

// Check recomputes the state of every record.  Chain state is gathered
// before the registry lock is taken so no chain call ever happens under it;
// per-record work is rate-limited internally.
func (m *Manager) Check() {
	m.checkRecords(false)
}

// CheckMasternodePubKey force-checks the record with the passed masternode
// key, bypassing the per-record rate limit.  The local active-masternode
// machinery uses it after a state transition.
func (m *Manager) CheckMasternodePubKey(pubKeyMasternode []byte) {
	m.mtx.Lock()
	var outpoint wire.OutPoint
	found := false
	for _, mn := range m.masternodes {
		if bytes.Equal(mn.PubKeyMasternode, pubKeyMasternode) {
			outpoint = mn.Outpoint
			found = true
			break
		}
	}
	m.mtx.Unlock()
	if !found {
		return
	}

	_, utxoOK := m.cfg.Chain.UTXOConfirmations(&outpoint)

	m.mtx.Lock()
	defer m.mtx.Unlock()
	mn, ok := m.masternodes[outpoint]
	if !ok {
		return
	}
	mn.check(&checkContext{
		now:            m.now(),
		adjustedTime:   m.cfg.TimeSource.AdjustedTime(),
		minProtocol:    m.cfg.Payments.MinProtoVersion(),
		sentinelActive: m.isSentinelPingActiveLocked(),
		ourOutpoint:    m.activeOutpoint(),
		collateralGone: func(*wire.OutPoint) bool { return !utxoOK },
		force:          true,
	})
}

// checkRecords implements Check.  The force flag bypasses the per-record
// rate limit.
func (m *Manager) checkRecords(force bool) {
	// Pass 1: snapshot the outpoints under the lock.
	m.mtx.Lock()
	outpoints := make([]wire.OutPoint, 0, len(m.masternodes))
	for outpoint := range m.masternodes {
		outpoints = append(outpoints, outpoint)
	}
	m.mtx.Unlock()

	// Pass 2: consult the chain with no lock held.
	gone := make(map[wire.OutPoint]bool, len(outpoints))
	for i := range outpoints {
		if _, ok := m.cfg.Chain.UTXOConfirmations(&outpoints[i]); !ok {
			gone[outpoints[i]] = true
		}
	}

	// Pass 3: apply under the lock.
	m.mtx.Lock()
	defer m.mtx.Unlock()

	log.Debugf("Check -- lastSentinelPingTime=%v, sentinelPingActive=%v",
		m.lastSentinelPingTime, m.isSentinelPingActiveLocked())

	ctx := &checkContext{
		now:            m.now(),
		adjustedTime:   m.cfg.TimeSource.AdjustedTime(),
		minProtocol:    m.cfg.Payments.MinProtoVersion(),
		sentinelActive: m.isSentinelPingActiveLocked(),
		ourOutpoint:    m.activeOutpoint(),
		collateralGone: func(outpoint *wire.OutPoint) bool {
			return gone[*outpoint]
		},
		force: force,
	}
	for _, mn := range m.masternodes {
		mn.check(ctx)
	}
}

// CheckAndRemove runs the housekeeping sweep: record states are refreshed,
// terminal records removed, recoveries scheduled and tallied, and every
// pacing table purged of expired entries.  Seen broadcasts are deliberately
// not expired here; they are cleaned when an update replaces them.
func (m *Manager) CheckAndRemove() {
	if !m.cfg.Sync.IsMasternodeListSynced() {
		return
	}

	log.Debugf("CheckAndRemove")
	m.Check()

	// Remove terminal records and collect recovery candidates.
	type candidate struct {
		outpoint wire.OutPoint
		hash     chainhash.Hash
	}
	var candidates []candidate

	m.mtx.Lock()
	synced := m.cfg.Sync.IsSynced()
	for outpoint, mn := range m.masternodes {
		hash := announceHashForRecord(mn)
		if mn.IsTerminal() {
			log.Debugf("CheckAndRemove -- removing masternode: %s addr=%s "+
				"%d now", mn.State, mn.Addr.Key(), len(m.masternodes)-1)

			// Erase the broadcast we served for this record and any
			// outstanding entry requests, flag attached governance
			// items dirty, and drop the record.
			delete(m.seenBroadcast, hash)
			delete(m.weAskedForEntry, outpoint)
			for voteHash := range mn.GovernanceVotes {
				m.dirtyGovernanceVotes = append(m.dirtyGovernanceVotes, voteHash)
			}
			delete(m.masternodes, outpoint)
			m.masternodesRemoved = true
			continue
		}

		ask := !m.cfg.DisableRecovery && synced &&
			mn.IsNewStartRequired() && !m.isMnbRecoveryRequestedLocked(hash)
		if ask {
			candidates = append(candidates, candidate{outpoint, hash})
		}
	}
	m.mtx.Unlock()

	// Schedule recovery for up to mnbRecoveryMaxAskEntries candidates.
	// Ranking needs the chain, so the rank list is built with no lock and
	// applied afterwards.
	if len(candidates) > 0 {
		var ranks []RankedMasternode
		if height := m.CachedBlockHeight(); height > 0 {
			nonce, _ := wire.RandomUint64()
			randomHeight := int32(nonce % uint64(height))
			ranks, _ = m.GetMasternodeRanks(randomHeight, 0)
		}

		if len(ranks) > 0 {
			m.mtx.Lock()
			budget := mnbRecoveryMaxAskEntries
			for _, cand := range candidates {
				if budget <= 0 {
					break
				}
				mn, ok := m.masternodes[cand.outpoint]
				if !ok || !mn.IsNewStartRequired() ||
					m.isMnbRecoveryRequestedLocked(cand.hash) {
					continue
				}

				// Ask the first quorum of ranked masternodes we have
				// not asked recently.
				asked := make(map[string]struct{})
				for i := 0; len(asked) < mnbRecoveryQuorumTotal && i < len(ranks); i++ {
					addr := ranks[i].Masternode.Addr
					if entries, ok := m.weAskedForEntry[cand.outpoint]; ok {
						if _, recently := entries[m.squashedKey(&addr)]; recently {
							continue
						}
					}
					asked[addr.Key()] = struct{}{}
					m.scheduledMnbRequests = append(m.scheduledMnbRequests,
						scheduledRequest{addr: addr, hash: cand.hash})
				}
				if len(asked) > 0 {
					log.Debugf("CheckAndRemove -- recovery initiated, "+
						"masternode=%s", cand.outpoint.StringShort())
					budget--
					m.mnbRecoveryRequests[cand.hash] = &recoveryRequest{
						deadline: m.now().Add(mnbRecoveryWait),
						asked:    asked,
					}
				}
			}
			m.mtx.Unlock()
		}
	}

	// Tally recovery replies whose collection window has closed.  The
	// winning announce is re-ingested outside the lock since ingestion
	// consults the chain.
	var reprocess []*wire.MsgMNAnnounce
	m.mtx.Lock()
	log.Debugf("CheckAndRemove -- mnbRecoveryGoodReplies size=%d",
		len(m.mnbRecoveryGoodReplies))
	for hash, replies := range m.mnbRecoveryGoodReplies {
		req, ok := m.mnbRecoveryRequests[hash]
		if ok && m.now().Before(req.deadline) {
			continue
		}
		// All the nodes we asked should have replied by now.  A
		// quorum agreeing that this masternode needs no new announce
		// revives it from the first good reply.
		if len(replies) >= mnbRecoveryQuorumRequired {
			log.Debugf("CheckAndRemove -- reprocessing mnb, masternode=%s",
				replies[0].Outpoint.StringShort())
			reprocess = append(reprocess, replies[0])
		}
		delete(m.mnbRecoveryGoodReplies, hash)
	}
	m.mtx.Unlock()

	for _, mnb := range reprocess {
		if err := m.CheckMnbAndUpdateMasternodeList(nil, mnb, true); err != nil {
			log.Debugf("CheckAndRemove -- recovery reprocess failed, "+
				"masternode=%s: %v", mnb.Outpoint.StringShort(), err)
		}
	}

	m.expirePacingTables()

	m.mtx.Lock()
	removed := m.masternodesRemoved
	log.Infof("CheckAndRemove -- %s", m.stringLocked())
	m.mtx.Unlock()

	if removed {
		m.NotifyMasternodeUpdates()
	}
}

// expirePacingTables purges every pacing table of entries whose window has
// passed.  Seen broadcasts are exempt: they are cleaned only when an update
// replaces them.
func (m *Manager) expirePacingTables() {
	height := m.CachedBlockHeight()

	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now()

	// Allow an announce to be re-verified again after the retry window if
	// the masternode is still in NEW_START_REQUIRED state.
	for hash, req := range m.mnbRecoveryRequests {
		if now.Sub(req.deadline) > mnbRecoveryRetry {
			delete(m.mnbRecoveryRequests, hash)
		}
	}

	for key, deadline := range m.askedUsForList {
		if deadline.Before(now) {
			delete(m.askedUsForList, key)
		}
	}
	for key, deadline := range m.weAskedForList {
		if deadline.Before(now) {
			delete(m.weAskedForList, key)
		}
	}
	for outpoint, entries := range m.weAskedForEntry {
		for key, deadline := range entries {
			if deadline.Before(now) {
				delete(entries, key)
			}
		}
		if len(entries) == 0 {
			delete(m.weAskedForEntry, outpoint)
		}
	}
	for key, mnv := range m.weAskedForVerification {
		if mnv.BlockHeight < height-maxPoSeBlocks {
			delete(m.weAskedForVerification, key)
		}
	}

	// NOTE: seen broadcasts are not expired here; they are cleaned on
	// announce updates.

	for hash, mnp := range m.seenPing {
		if now.Unix()-mnp.SigTime > int64(newStartRequiredAge/time.Second) {
			log.Debugf("CheckAndRemove -- removing expired masternode "+
				"ping: hash=%s", hash)
			delete(m.seenPing, hash)
		}
	}
	for hash, mnv := range m.seenVerification {
		if mnv.BlockHeight < height-maxPoSeBlocks {
			log.Debugf("CheckAndRemove -- removing expired masternode "+
				"verification: hash=%s", hash)
			delete(m.seenVerification, hash)
		}
	}

	for addrKey, reqs := range m.fulfilled {
		for name, expiry := range reqs {
			if expiry.Before(now) {
				delete(reqs, name)
			}
		}
		if len(reqs) == 0 {
			delete(m.fulfilled, addrKey)
		}
	}
}

// isMnbRecoveryRequestedLocked returns whether a recovery round for the
// announce hash is outstanding or still within its retry window.
//
// This function MUST be called with the registry lock held.
func (m *Manager) isMnbRecoveryRequestedLocked(hash chainhash.Hash) bool {
	_, ok := m.mnbRecoveryRequests[hash]
	return ok
}

// stringLocked implements String.
//
// This function MUST be called with the registry lock held.
func (m *Manager) stringLocked() string {
	return fmt.Sprintf("Masternodes: %d, peers who asked us for masternode "+
		"list: %d, peers we asked for masternode list: %d, entries in "+
		"masternode list we asked for: %d, dsqCount: %d",
		len(m.masternodes), len(m.askedUsForList), len(m.weAskedForList),
		len(m.weAskedForEntry), m.dsqCount)
}

// PopScheduledMnbRequestConnection pops the next scheduled announce fetch,
// coalescing every queued hash for the same address into one request.
func (m *Manager) PopScheduledMnbRequestConnection() (wire.NetAddress, map[chainhash.Hash]struct{}, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if len(m.scheduledMnbRequests) == 0 {
		return wire.NetAddress{}, nil, false
	}

	sort.SliceStable(m.scheduledMnbRequests, func(i, j int) bool {
		a, b := &m.scheduledMnbRequests[i], &m.scheduledMnbRequests[j]
		if ak, bk := a.addr.Key(), b.addr.Key(); ak != bk {
			return ak < bk
		}
		return bytes.Compare(a.hash[:], b.hash[:]) < 0
	})

	front := m.scheduledMnbRequests[0].addr
	frontKey := front.Key()
	hashes := make(map[chainhash.Hash]struct{})

	// The list is sorted, so every request for the front address sits in
	// a prefix.
	i := 0
	for ; i < len(m.scheduledMnbRequests); i++ {
		if m.scheduledMnbRequests[i].addr.Key() != frontKey {
			break
		}
		hashes[m.scheduledMnbRequests[i].hash] = struct{}{}
	}
	m.scheduledMnbRequests = m.scheduledMnbRequests[i:]

	return front, hashes, true
}

// ProcessPendingMnbRequests schedules the next queued announce fetch as an
// outbound masternode connection and pushes getdata to every pending fetch
// whose connection came up.  Fetches unserved for longer than the pending
// timeout are dropped.
func (m *Manager) ProcessPendingMnbRequests() {
	addr, hashes, ok := m.PopScheduledMnbRequestConnection()
	if ok && len(hashes) > 0 {
		if !m.cfg.ConnMgr.IsMasternodeOrDisconnectRequested(&addr) {
			m.mtx.Lock()
			m.pendingMnb[addr.Key()] = &pendingFetch{
				added:  m.now(),
				addr:   addr,
				hashes: hashes,
			}
			m.mtx.Unlock()
			m.cfg.ConnMgr.AddPendingMasternode(&addr)
		}
	}

	// Snapshot the pending fetches so the connection manager is driven
	// with no lock held.
	m.mtx.Lock()
	pending := make([]*pendingFetch, 0, len(m.pendingMnb))
	for _, pf := range m.pendingMnb {
		pending = append(pending, pf)
	}
	m.mtx.Unlock()

	for _, pf := range pending {
		pf := pf
		done := m.cfg.ConnMgr.ForNode(&pf.addr, func(p Peer) bool {
			gd := wire.NewMsgGetData()
			for hash := range pf.hashes {
				hash := hash
				log.Debugf("-- asking for mnb %s from addr=%s", hash,
					pf.addr.Key())
				_ = gd.AddInvVect(wire.NewInvVect(
					wire.InvTypeMasternodeAnnounce, &hash))
			}
			p.PushMessage(gd)
			return true
		})

		if done || m.now().Sub(pf.added) > pendingRequestTimeout {
			if !done {
				log.Infof("ProcessPendingMnbRequests -- failed to connect "+
					"to %s", pf.addr.Key())
			}
			m.mtx.Lock()
			delete(m.pendingMnb, pf.addr.Key())
			m.mtx.Unlock()
		}
	}
}

// Start launches the housekeeping goroutine: the slow pass runs the state
// sweep and the verification step once per maintenance interval, and the
// fast pass services scheduled outbound requests every second.
func (m *Manager) Start() {
	// Already started?
	if atomic.AddInt32(&m.started, 1) != 1 {
		return
	}

	log.Trace("Starting masternode manager")
	m.wg.Add(1)
	go m.maintenanceHandler()
}

// Stop gracefully shuts down the manager by stopping the housekeeping
// goroutine and waiting for it to finish.
func (m *Manager) Stop() {
	if atomic.AddInt32(&m.shutdown, 1) != 1 {
		log.Warnf("Masternode manager is already in the process of " +
			"shutting down")
		return
	}

	log.Infof("Masternode manager shutting down")
	close(m.quit)
	m.wg.Wait()
}

// maintenanceHandler is the housekeeping goroutine.  It must be run as a
// goroutine.
func (m *Manager) maintenanceHandler() {
	defer m.wg.Done()

	slowTicker := time.NewTicker(maintenanceInterval)
	defer slowTicker.Stop()
	fastTicker := time.NewTicker(pendingInterval)
	defer fastTicker.Stop()

	for {
		select {
		case <-slowTicker.C:
			m.CheckAndRemove()
			m.DoFullVerificationStep()
			m.CheckMissingMasternodes()
			m.WarnMasternodeDaemonUpdates()

		case <-fastTicker.C:
			m.ProcessPendingMnbRequests()
			m.ProcessPendingMnvRequests()

		case <-m.quit:
			return
		}
	}
}
