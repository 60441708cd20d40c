// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

// DsegUpdate sends a full-list request to the passed peer, unless the same
// host was asked within the pacing window.  On mainnet only local and
// private peers are exempt from the pacing, since those are typically our
// own infrastructure.
func (m *Manager) DsegUpdate(p Peer) {
	addrKey := m.squashedKey(p.NA())

	m.mtx.Lock()
	if m.cfg.ChainParams.IsMainNet() &&
		!(p.NA().IsRFC1918() || p.NA().IsLocal()) {

		if deadline, ok := m.weAskedForList[addrKey]; ok && m.now().Before(deadline) {
			m.mtx.Unlock()
			log.Debugf("DsegUpdate -- we already asked %s for the list; "+
				"skipping...", addrKey)
			return
		}
	}
	m.weAskedForList[addrKey] = m.now().Add(m.cfg.ChainParams.DSegUpdateInterval)
	m.mtx.Unlock()

	p.PushMessage(wire.NewMsgDSeg(wire.OutPoint{}))
	log.Debugf("DsegUpdate -- asked %s for the masternode list", p.NA().Key())
}

// AskForMN requests a single masternode entry from the passed peer, unless
// the same peer was asked for the same entry within the pacing window.
func (m *Manager) AskForMN(p Peer, outpoint wire.OutPoint) {
	if p == nil {
		return
	}

	addrKey := m.squashedKey(p.NA())

	m.mtx.Lock()
	asked := m.weAskedForEntry[outpoint]
	if deadline, ok := asked[addrKey]; ok && m.now().Before(deadline) {
		// We asked recently; repeating too often could get us banned.
		m.mtx.Unlock()
		return
	}
	if asked == nil {
		asked = make(map[string]time.Time)
		m.weAskedForEntry[outpoint] = asked
	}
	asked[addrKey] = m.now().Add(m.cfg.ChainParams.DSegUpdateInterval)
	m.mtx.Unlock()

	log.Infof("AskForMN -- asking peer %s for missing masternode entry %s",
		addrKey, outpoint.StringShort())
	p.PushMessage(wire.NewMsgDSeg(outpoint))
}

// OnDSeg handles an inbound dseg request: a null outpoint asks for the full
// list, anything else for a single entry.  Nothing is served until this node
// is fully synced; answering from a half-built registry would poison the
// requesting peer.
func (m *Manager) OnDSeg(p Peer, msg *wire.MsgDSeg) {
	if !m.cfg.Sync.IsSynced() {
		return
	}

	if msg.Outpoint.IsNull() {
		m.syncAll(p)
	} else {
		m.syncSingle(p, msg.Outpoint)
	}
}

// syncSingle answers a single-entry dseg request.
func (m *Manager) syncSingle(p Peer, outpoint wire.OutPoint) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return
	}
	// Do not hand out local-network masternodes.
	if mn.Addr.IsRFC1918() || mn.Addr.IsLocal() {
		return
	}

	// Send the masternode regardless of its current state; the other node
	// will need it to verify old votes.
	m.pushDsegInvsLocked(p, mn)
	log.Infof("syncSingle -- sent 1 masternode inv to peer=%d", p.ID())
}

// syncAll answers a full-list dseg request.  On mainnet a routable peer may
// only ask once per pacing window; asking again earns the fixed misbehavior
// penalty and no data.
func (m *Manager) syncAll(p Peer) {
	isLocal := p.NA().IsRFC1918() || p.NA().IsLocal()
	addrKey := m.squashedKey(p.NA())

	m.mtx.Lock()

	if !isLocal && m.cfg.ChainParams.EnforceDSegPacing {
		if deadline, ok := m.askedUsForList[addrKey]; ok && m.now().Before(deadline) {
			m.mtx.Unlock()
			log.Infof("syncAll -- peer already asked me for the list, "+
				"peer=%d", p.ID())
			m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorDSegAbuse)
			return
		}
		m.askedUsForList[addrKey] = m.now().Add(m.cfg.ChainParams.DSegUpdateInterval)
	}

	count := int32(0)
	for _, mn := range m.masternodes {
		if mn.Addr.IsRFC1918() || mn.Addr.IsLocal() {
			continue
		}
		// Send the masternode regardless of its current state; the
		// other node will need it to verify old votes.
		m.pushDsegInvsLocked(p, mn)
		count++
	}
	m.mtx.Unlock()

	p.PushMessage(wire.NewMsgSyncStatusCount(wire.SyncItemList, count))
	log.Infof("syncAll -- sent %d masternode invs to peer=%d", count, p.ID())
}

// pushDsegInvsLocked pushes the announce and ping inventory for the record
// to the peer and registers both in the seen tables so the follow-up getdata
// can be served.
//
// This function MUST be called with the registry lock held.
func (m *Manager) pushDsegInvsLocked(p Peer, mn *Masternode) {
	mnb := announceFromRecord(mn)
	mnp := mnb.LastPing
	hashMNB := mnb.Hash()
	hashMNP := mnp.Hash()

	p.PushInventory(wire.NewInvVect(wire.InvTypeMasternodeAnnounce, &hashMNB))
	p.PushInventory(wire.NewInvVect(wire.InvTypeMasternodePing, &hashMNP))

	if _, ok := m.seenBroadcast[hashMNB]; !ok {
		m.seenBroadcast[hashMNB] = &seenAnnounce{firstSeen: m.now(), announce: mnb}
	}
	if _, ok := m.seenPing[hashMNP]; !ok {
		m.seenPing[hashMNP] = &mnp
	}
}

// OnMNAnnounce handles an inbound masternode announce.
func (m *Manager) OnMNAnnounce(p Peer, mnb *wire.MsgMNAnnounce) {
	if !m.cfg.Sync.IsBlockchainSynced() {
		return
	}

	log.Debugf("MNANNOUNCE -- masternode announce, masternode=%s",
		mnb.Outpoint.StringShort())

	err := m.CheckMnbAndUpdateMasternodeList(p, mnb, false)
	if err == nil {
		// Use the announced masternode as a peer.
		m.cfg.ConnMgr.AddNewAddress(&mnb.Service, p.NA())
	} else if score := extractBanScore(err); score > 0 {
		m.cfg.PeerSink.Misbehaving(p.ID(), score)
	}

	m.mtx.Lock()
	added := m.masternodesAdded
	m.mtx.Unlock()
	if added {
		m.NotifyMasternodeUpdates()
	}
}

// OnMNPing handles an inbound masternode ping.
func (m *Manager) OnMNPing(p Peer, mnp *wire.MsgMNPing) {
	if !m.cfg.Sync.IsBlockchainSynced() {
		return
	}

	hash := mnp.Hash()
	log.Debugf("MNPING -- masternode ping, masternode=%s",
		mnp.Outpoint.StringShort())

	m.mtx.Lock()
	if _, ok := m.seenPing[hash]; ok {
		m.mtx.Unlock()
		return
	}
	m.seenPing[hash] = mnp

	mn, known := m.masternodes[mnp.Outpoint]
	if known && mnp.SentinelIsCurrent {
		m.lastSentinelPingTime = m.now()
	}

	// Too late; a new announce is required.
	if known && mn.IsNewStartRequired() {
		m.mtx.Unlock()
		return
	}

	var err error
	if known {
		err = m.checkAndUpdatePingLocked(mn, mnp)
	}
	m.mtx.Unlock()

	if known && err == nil {
		m.relayInv(wire.InvTypeMasternodePing, &hash)
		return
	}

	if score := extractBanScore(err); score > 0 {
		// Something significant failed; mark that peer.
		m.cfg.PeerSink.Misbehaving(p.ID(), score)
	} else if known {
		// Nothing significant failed and the masternode is a known
		// one; a stale ping is not worth a list request.
		return
	}

	// Something significant is broken or the masternode is unknown; we
	// might have to ask for the entry once.
	m.AskForMN(p, mnp.Outpoint)
}

// CheckMnbAndUpdateMasternodeList validates an inbound announce and merges
// it into the registry, adding a new record or updating the existing one.
// Re-deliveries dedup against the seen table, except replies to an
// outstanding recovery request which are collected for the quorum tally.
//
// The passed peer may be nil for locally resubmitted announces.  A non-nil
// error carries the misbehavior score for the relaying peer.
func (m *Manager) CheckMnbAndUpdateMasternodeList(from Peer, mnb *wire.MsgMNAnnounce, recovered bool) error {
	hash := mnb.Hash()

	m.mtx.Lock()
	log.Debugf("CheckMnbAndUpdateMasternodeList -- masternode=%s",
		mnb.Outpoint.StringShort())

	if seen, ok := m.seenBroadcast[hash]; ok && !recovered {
		m.handleSeenAnnounceLocked(from, mnb, hash, seen)
		m.mtx.Unlock()
		return nil
	}
	m.seenBroadcast[hash] = &seenAnnounce{firstSeen: m.now(), announce: mnb}

	log.Infof("CheckMnbAndUpdateMasternodeList -- masternode=%s new",
		mnb.Outpoint.StringShort())

	if err := m.simpleCheckAnnounce(mnb); err != nil {
		m.mtx.Unlock()
		log.Infof("CheckMnbAndUpdateMasternodeList -- SimpleCheck failed, "+
			"masternode=%s: %v", mnb.Outpoint.StringShort(), err)
		return err
	}

	// Already in the registry: merge as an update.
	if mn, ok := m.masternodes[mnb.Outpoint]; ok {
		oldHash := announceHashForRecord(mn)
		err := m.updateFromAnnounceLocked(mn, mnb)
		if err != nil {
			m.mtx.Unlock()
			log.Infof("CheckMnbAndUpdateMasternodeList -- Update failed, "+
				"masternode=%s: %v", mnb.Outpoint.StringShort(), err)
			return err
		}
		if oldHash != hash {
			delete(m.seenBroadcast, oldHash)
		}
		m.mtx.Unlock()
		return nil
	}
	m.mtx.Unlock()

	// New masternode: the collateral check consults the chain, so it runs
	// outside the registry lock.
	if err := m.checkAnnounceOutpoint(mnb); err != nil {
		log.Infof("CheckMnbAndUpdateMasternodeList -- rejected masternode "+
			"entry %s: %v", mnb.Outpoint.StringShort(), err)
		return err
	}
	if err := m.checkAnnounceAddr(mnb); err != nil {
		log.Infof("CheckMnbAndUpdateMasternodeList -- rejected masternode "+
			"entry %s: %v", mnb.Outpoint.StringShort(), err)
		return err
	}

	mn := newMasternodeFromAnnounce(mnb)

	// If the announce matches our masternode key, pin the score at the
	// verified floor.  A protocol mismatch means our masternode needs to
	// be re-activated rather than admitted from a stale announce.
	active := m.cfg.ActiveMasternode
	ours := active != nil && bytes.Equal(mnb.PubKeyMasternode, active.PubKey())
	if ours {
		mn.PoSeBanScore = -PoSeBanMaxScore
		if mnb.ProtocolVersion != wire.ProtocolVersion {
			log.Warnf("CheckMnbAndUpdateMasternodeList -- wrong protocol "+
				"version, re-activate your masternode: message "+
				"protocol=%d ours=%d", mnb.ProtocolVersion,
				wire.ProtocolVersion)
			return ruleError(ErrBadProtocolVersion, 0,
				"own announce with stale protocol version")
		}
	}

	m.mtx.Lock()
	if !m.addLocked(mn) {
		m.mtx.Unlock()
		log.Infof("CheckMnbAndUpdateMasternodeList -- rejected duplicate "+
			"masternode entry %s addr=%s", mnb.Outpoint.StringShort(),
			mnb.Service.Key())
		return ruleError(ErrOutdated, 0, "duplicate outpoint or address")
	}
	m.mtx.Unlock()

	m.cfg.Sync.BumpAssetLastTime("CheckMnbAndUpdateMasternodeList - new")
	if ours {
		// Remotely activated.
		log.Infof("CheckMnbAndUpdateMasternodeList -- got NEW masternode "+
			"entry for ourselves: masternode=%s sigTime=%d addr=%s",
			mnb.Outpoint.StringShort(), mnb.SigTime, mnb.Service.Key())
		active.ManageState()
	}

	m.relayInv(wire.InvTypeMasternodeAnnounce, &hash)
	return nil
}

// handleSeenAnnounceLocked processes a re-delivered announce: it refreshes
// the seen watermark when the record is about to fall out of the
// recoverable window, and collects the announce as a recovery reply when it
// answers an outstanding request from that peer.
//
// This function MUST be called with the registry lock held.
func (m *Manager) handleSeenAnnounceLocked(from Peer, mnb *wire.MsgMNAnnounce,
	hash chainhash.Hash, seen *seenAnnounce) {

	log.Debugf("CheckMnbAndUpdateMasternodeList -- masternode=%s seen",
		mnb.Outpoint.StringShort())

	// Less than two pings left before this masternode goes into a
	// non-recoverable state; bump the sync timeout.
	if m.now().Sub(seen.firstSeen) > newStartRequiredAge-2*minPingInterval {
		seen.firstSeen = m.now()
		m.cfg.Sync.BumpAssetLastTime("CheckMnbAndUpdateMasternodeList - seen")
	}

	if from == nil {
		return
	}
	req, ok := m.mnbRecoveryRequests[hash]
	if !ok || !m.now().Before(req.deadline) {
		return
	}
	fromKey := from.NA().Key()
	if _, asked := req.asked[fromKey]; !asked {
		return
	}
	// Do not allow a node to send the same announce multiple times in
	// recovery mode.
	delete(req.asked, fromKey)

	// Only count the reply when it projects the masternode into a state
	// it can restart from on its own.
	if mnb.LastPing.SigTime <= seen.announce.LastPing.SigTime {
		return
	}
	projected := newMasternodeFromAnnounce(mnb)
	projected.check(&checkContext{
		now:            m.now(),
		adjustedTime:   m.cfg.TimeSource.AdjustedTime(),
		minProtocol:    m.cfg.Payments.MinProtoVersion(),
		sentinelActive: m.isSentinelPingActiveLocked(),
		ourOutpoint:    m.activeOutpoint(),
		force:          true,
	})
	if !IsValidStateForAutoStart(projected.State) {
		return
	}

	log.Debugf("CheckMnbAndUpdateMasternodeList -- masternode=%s seen good",
		mnb.Outpoint.StringShort())
	m.mnbRecoveryGoodReplies[hash] = append(m.mnbRecoveryGoodReplies[hash], mnb)
}
