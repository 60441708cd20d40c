// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"github.com/zocsuite/zocd/wire"
)

const (
	// maxPoSeRank is the highest self-rank at which a masternode still
	// initiates verification challenges, and the highest witness rank a
	// verification broadcast is accepted from.
	maxPoSeRank = 10

	// maxPoSeConnections is how many peers one verification round
	// challenges.
	maxPoSeConnections = 10

	// maxPoSeBlocks is how many blocks old a verification may be before
	// it is ignored.
	maxPoSeBlocks = 10

	// maxVerifyNonce bounds the random challenge nonce.
	maxVerifyNonce = 999999
)

// randomNonce returns a fresh random challenge nonce.
func randomNonce() uint64 {
	rv, err := wire.RandomUint64()
	if err != nil {
		// Entropy pool read failed; the nonce only binds a single live
		// challenge, so do not abort the round.
		return 1
	}
	return rv%maxVerifyNonce + 1
}

// OnMNVerify dispatches an inbound verification message to the phase handler
// selected by which signatures are present.
func (m *Manager) OnMNVerify(p Peer, mnv *wire.MsgMNVerify) {
	if !m.cfg.Sync.IsMasternodeListSynced() {
		return
	}

	switch {
	case len(mnv.Sig1) == 0:
		// Someone asked us to prove we own the address we are using.
		m.SendVerifyReply(p, mnv)
	case len(mnv.Sig2) == 0:
		// Probably a verification we requested from some masternode.
		m.ProcessVerifyReply(p, mnv)
	default:
		// Probably a verification broadcast signed by some masternode
		// that verified another one.
		m.ProcessVerifyBroadcast(p, mnv)
	}
}

// SendVerifyReply answers an inbound challenge by signing it with the local
// masternode key.  Only active masternodes reply; a peer challenging the
// same node again within the reply window earns a small penalty.
func (m *Manager) SendVerifyReply(p Peer, mnv *wire.MsgMNVerify) {
	active := m.cfg.ActiveMasternode
	if active == nil || active.Outpoint().IsNull() {
		// Do not ban: a malicious node might be using my IP and trying
		// to confuse the node that tries to verify it.
		return
	}

	peerKey := p.NA().Key()
	m.mtx.Lock()
	if m.hasFulfilledLocked(peerKey, fulfilledVerifyReply) {
		m.mtx.Unlock()
		log.Infof("SendVerifyReply -- ERROR: peer already asked me "+
			"recently, peer=%d", p.ID())
		m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorReplySpam)
		return
	}
	m.mtx.Unlock()

	blockHash, err := m.cfg.Chain.BlockHash(mnv.BlockHeight)
	if err != nil {
		log.Infof("SendVerifyReply -- can't get block hash for unknown "+
			"block height %d, peer=%d", mnv.BlockHeight, p.ID())
		return
	}

	mnv.Sig1, err = m.signWithScheme(mnv.SignatureHash1(*blockHash),
		mnv.SignatureMessage1(*blockHash), active.PrivKey())
	if err != nil {
		log.Errorf("SendVerifyReply -- signing failed: %v", err)
		return
	}

	// Self-check the reply before it goes out.
	err = m.verifyWithScheme(mnv.SignatureHash1(*blockHash),
		mnv.SignatureMessage1(*blockHash), active.PubKey(), mnv.Sig1)
	if err != nil {
		log.Errorf("SendVerifyReply -- self verification failed: %v", err)
		return
	}

	p.PushMessage(mnv)

	m.mtx.Lock()
	m.addFulfilledLocked(peerKey, fulfilledVerifyReply)
	m.mtx.Unlock()
}

// ProcessVerifyReply validates the direct reply to a challenge this node
// issued.  The nonce and block height must match the outstanding challenge
// for the replying address; the signature then decides which record sharing
// the address is the real masternode.  The real one is rewarded, every
// pretender is penalized, and when this node is itself an active masternode
// the result is countersigned and broadcast for the rest of the network.
func (m *Manager) ProcessVerifyReply(p Peer, mnv *wire.MsgMNVerify) {
	peerAddr := p.NA()
	peerKey := peerAddr.Key()

	// Did we even ask for it?
	m.mtx.Lock()
	if !m.hasFulfilledLocked(peerKey, fulfilledVerifyRequest) {
		m.mtx.Unlock()
		log.Infof("ProcessVerifyReply -- ERROR: we didn't ask for "+
			"verification of %s, peer=%d", peerKey, p.ID())
		m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorReplySpam)
		return
	}

	// The reply must answer the exact challenge we sent.
	asked, ok := m.weAskedForVerification[peerKey]
	if !ok || asked.Nonce != mnv.Nonce {
		var wanted uint64
		if ok {
			wanted = asked.Nonce
		}
		m.mtx.Unlock()
		log.Infof("ProcessVerifyReply -- ERROR: wrong nonce: requested=%d, "+
			"received=%d, peer=%d", wanted, mnv.Nonce, p.ID())
		m.IncreasePoSeBanScoreByAddr(peerAddr)
		m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorNonceMismatch)
		return
	}
	if asked.BlockHeight != mnv.BlockHeight {
		m.mtx.Unlock()
		log.Infof("ProcessVerifyReply -- ERROR: wrong blockHeight: "+
			"requested=%d, received=%d, peer=%d", asked.BlockHeight,
			mnv.BlockHeight, p.ID())
		m.IncreasePoSeBanScoreByAddr(peerAddr)
		m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorNonceMismatch)
		return
	}

	alreadyDone := m.hasFulfilledLocked(peerKey, fulfilledVerifyDone)
	m.mtx.Unlock()

	blockHash, err := m.cfg.Chain.BlockHash(mnv.BlockHeight)
	if err != nil {
		// This shouldn't happen...
		log.Infof("ProcessVerifyReply -- can't get block hash for unknown "+
			"block height %d, peer=%d", mnv.BlockHeight, p.ID())
		return
	}

	if alreadyDone {
		// We already verified this address; why is the node spamming?
		// Process the reply anyway.
		log.Infof("ProcessVerifyReply -- WARN: already verified %s "+
			"recently", peerKey)
		m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorReplySpam)
	}

	active := m.cfg.ActiveMasternode

	var relayMnv *wire.MsgMNVerify
	m.mtx.Lock()

	var realMasternode *Masternode
	var pretenders []*Masternode

	hash1 := mnv.SignatureHash1(*blockHash)
	msg1 := mnv.SignatureMessage1(*blockHash)

	for _, mn := range m.masternodes {
		if !mn.Addr.Equal(peerAddr) {
			continue
		}
		sigErr := m.verifyWithScheme(hash1, msg1, mn.PubKeyMasternode,
			mnv.Sig1)
		if sigErr != nil {
			pretenders = append(pretenders, mn)
			continue
		}

		// Found it.
		realMasternode = mn
		if !mn.IsPoSeVerified() {
			mn.DecreasePoSeBanScore()
		}
		m.addFulfilledLocked(peerKey, fulfilledVerifyDone)

		// We can only countersign and broadcast the result if we are
		// an activated masternode ourselves.
		if active == nil || active.Outpoint().IsNull() {
			continue
		}
		signed := *mnv
		signed.Addr = mn.Addr
		signed.Outpoint1 = mn.Outpoint
		signed.Outpoint2 = active.Outpoint()
		signed.Sig2, err = m.signWithScheme(signed.SignatureHash2(*blockHash),
			signed.SignatureMessage2(*blockHash), active.PrivKey())
		if err != nil {
			log.Errorf("ProcessVerifyReply -- signing failed: %v", err)
			continue
		}
		err = m.verifyWithScheme(signed.SignatureHash2(*blockHash),
			signed.SignatureMessage2(*blockHash), active.PubKey(),
			signed.Sig2)
		if err != nil {
			log.Errorf("ProcessVerifyReply -- self verification "+
				"failed: %v", err)
			continue
		}

		m.weAskedForVerification[peerKey] = &signed
		m.seenVerification[signed.Hash()] = &signed
		relayMnv = &signed
	}

	if realMasternode != nil {
		log.Infof("ProcessVerifyReply -- verified real masternode %s for "+
			"addr %s", realMasternode.Outpoint.StringShort(), peerKey)
	}
	// Increase ban score for everyone else found to be fake.
	for _, mn := range pretenders {
		mn.IncreasePoSeBanScore()
		log.Infof("ProcessVerifyReply -- increased PoSe ban score for %s "+
			"addr %s, new score %d", mn.Outpoint.StringShort(),
			mn.Addr.Key(), mn.PoSeBanScore)
	}
	if len(pretenders) > 0 {
		log.Infof("ProcessVerifyReply -- PoSe score increased for %d fake "+
			"masternodes, addr %s", len(pretenders), peerKey)
	}
	m.mtx.Unlock()

	if realMasternode == nil {
		// No real masternode found?  This should never be the case
		// normally, only when someone is trying to game the system.
		log.Infof("ProcessVerifyReply -- ERROR: no real masternode found "+
			"for addr %s", peerKey)
		m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorFakeSig)
		return
	}

	if relayMnv != nil {
		hash := relayMnv.Hash()
		m.relayInv(wire.InvTypeMasternodeVerify, &hash)
	}
}

// ProcessVerifyBroadcast validates a witnessed verification from another
// node: a masternode within the PoSe rank window vouching that it verified
// the masternode at the named address.  Both signatures must check out
// against the two named records.  The verified record is rewarded and every
// other record sharing its address is penalized.
func (m *Manager) ProcessVerifyBroadcast(p Peer, mnv *wire.MsgMNVerify) {
	hash := mnv.Hash()

	m.mtx.Lock()
	if _, ok := m.seenVerification[hash]; ok {
		// We already have one.
		m.mtx.Unlock()
		return
	}
	m.seenVerification[hash] = mnv
	m.mtx.Unlock()

	// We don't care about history.
	height := m.CachedBlockHeight()
	if mnv.BlockHeight < height-maxPoSeBlocks {
		log.Infof("ProcessVerifyBroadcast -- outdated: current block %d, "+
			"verification block %d, peer=%d", height, mnv.BlockHeight,
			p.ID())
		return
	}

	if mnv.Outpoint1 == mnv.Outpoint2 {
		log.Infof("ProcessVerifyBroadcast -- ERROR: same outpoints %s, "+
			"peer=%d", mnv.Outpoint1.StringShort(), p.ID())
		// That was NOT a good idea to cheat and verify itself.  Ban
		// the node we received such a message from.
		m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorSelfVerify)
		return
	}

	blockHash, err := m.cfg.Chain.BlockHash(mnv.BlockHeight)
	if err != nil {
		// This shouldn't happen...
		log.Infof("ProcessVerifyBroadcast -- can't get block hash for "+
			"unknown block height %d, peer=%d", mnv.BlockHeight, p.ID())
		return
	}

	// Only broadcasts witnessed by a top-ranked masternode are accepted.
	rank, err := m.GetMasternodeRank(mnv.Outpoint2, mnv.BlockHeight,
		wire.MinPoSeProtoVersion)
	if err != nil {
		log.Debugf("ProcessVerifyBroadcast -- can't calculate rank for "+
			"masternode %s: %v", mnv.Outpoint2.StringShort(), err)
		return
	}
	if rank > maxPoSeRank {
		log.Debugf("ProcessVerifyBroadcast -- masternode %s is not in top "+
			"%d, current rank %d, peer=%d", mnv.Outpoint2.StringShort(),
			maxPoSeRank, rank, p.ID())
		return
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn1, ok := m.masternodes[mnv.Outpoint1]
	if !ok {
		log.Infof("ProcessVerifyBroadcast -- can't find masternode1 %s",
			mnv.Outpoint1.StringShort())
		return
	}
	mn2, ok := m.masternodes[mnv.Outpoint2]
	if !ok {
		log.Infof("ProcessVerifyBroadcast -- can't find masternode2 %s",
			mnv.Outpoint2.StringShort())
		return
	}

	if !mn1.Addr.Equal(&mnv.Addr) {
		log.Infof("ProcessVerifyBroadcast -- mnv addr %s does not match "+
			"our %s for mn1 %s", mnv.Addr.Key(), mn1.Addr.Key(),
			mnv.Outpoint1.StringShort())
		// The peer is helping spread wrong information, though it may
		// itself be the victim of a third party.
		m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorNonceMismatch)
		return
	}

	err = m.verifyWithScheme(mnv.SignatureHash1(*blockHash),
		mnv.SignatureMessage1(*blockHash), mn1.PubKeyMasternode, mnv.Sig1)
	if err != nil {
		log.Infof("ProcessVerifyBroadcast -- signature 1 failed for "+
			"masternode1 %s: %v", mnv.Outpoint1.StringShort(), err)
		return
	}
	err = m.verifyWithScheme(mnv.SignatureHash2(*blockHash),
		mnv.SignatureMessage2(*blockHash), mn2.PubKeyMasternode, mnv.Sig2)
	if err != nil {
		log.Infof("ProcessVerifyBroadcast -- signature 2 failed for "+
			"masternode2 %s: %v", mnv.Outpoint2.StringShort(), err)
		return
	}

	if !mn1.IsPoSeVerified() {
		mn1.DecreasePoSeBanScore()
	}
	m.relayInv(wire.InvTypeMasternodeVerify, &hash)

	log.Infof("ProcessVerifyBroadcast -- verified masternode %s for addr "+
		"%s", mn1.Outpoint.StringShort(), mn1.Addr.Key())

	// Increase ban score for everyone else with the same addr.
	count := 0
	for outpoint, mn := range m.masternodes {
		if !mn.Addr.Equal(&mnv.Addr) || outpoint == mnv.Outpoint1 {
			continue
		}
		mn.IncreasePoSeBanScore()
		count++
		log.Infof("ProcessVerifyBroadcast -- increased PoSe ban score for "+
			"%s addr %s, new score %d", outpoint.StringShort(),
			mn.Addr.Key(), mn.PoSeBanScore)
	}
	if count > 0 {
		log.Infof("ProcessVerifyBroadcast -- PoSe score increased for %d "+
			"fake masternodes, addr %s", count, mn1.Addr.Key())
	}
}

// VerifyRequest reports whether a verification challenge may be sent to the
// address.  A previously fulfilled request is only logged: real nodes do
// send repeat requests, so the effective gate is solely whether the address
// is already a masternode connection or has a disconnect pending.
func (m *Manager) VerifyRequest(addr *wire.NetAddress) bool {
	m.mtx.Lock()
	fulfilled := m.hasFulfilledLocked(addr.Key(), fulfilledVerifyRequest)
	m.mtx.Unlock()
	if fulfilled {
		// We already asked for verification; not a good idea to do
		// this too often, but we cannot skip it.
		log.Infof("VerifyRequest -- do we repeat request, just asking... "+
			"addr=%s", addr.Key())
	}

	return !m.cfg.ConnMgr.IsMasternodeOrDisconnectRequested(addr)
}

// AskForMnv queues a direct verification challenge for the passed
// masternode, outside the regular rank-walk round.  The duplicate-IP sweep
// uses it to re-verify collision survivors.
func (m *Manager) AskForMnv(addr *wire.NetAddress, outpoint wire.OutPoint) {
	if m.activeOutpoint().IsNull() || !m.cfg.Sync.IsSynced() {
		return
	}

	m.cfg.ConnMgr.AddPendingMasternode(addr)

	// Use a random nonce, store it and require the node to reply with the
	// correct one later.
	mnv := wire.NewMsgMNVerify(*addr, randomNonce(), m.CachedBlockHeight()-1)
	m.pendingMnvMtx.Lock()
	m.pendingMnv[addr.Key()] = &pendingVerification{
		added: m.now(),
		addr:  *addr,
		mnv:   mnv,
	}
	m.pendingMnvMtx.Unlock()

	log.Infof("AskForMnv -- verifying node using nonce %d addr=%s",
		mnv.Nonce, addr.Key())
}

// DoFullVerificationStep runs one verification round.  Only nodes ranked
// within the PoSe window initiate challenges; each round walks the rank list
// from an offset derived from our own rank and challenges up to
// maxPoSeConnections masternodes that are neither verified nor banned.
// Addresses are collected under the registry lock and contacted afterwards.
func (m *Manager) DoFullVerificationStep() {
	if m.activeOutpoint().IsNull() || !m.cfg.Sync.IsSynced() {
		return
	}

	ranks, err := m.GetMasternodeRanks(m.CachedBlockHeight()-1,
		wire.MinPoSeProtoVersion)
	if err != nil {
		log.Debugf("DoFullVerificationStep -- no rank list: %v", err)
		return
	}

	var addrs []wire.NetAddress

	m.mtx.Lock()

	myRank := -1
	for _, entry := range ranks {
		if entry.Masternode.Outpoint == m.activeOutpoint() {
			myRank = entry.Rank
			log.Infof("DoFullVerificationStep -- found self at rank %d/%d, "+
				"verifying up to %d masternodes", myRank, len(ranks),
				maxPoSeConnections)
			break
		}
	}

	// Edge case: the list is too short or this masternode is not enabled.
	if myRank == -1 {
		m.mtx.Unlock()
		log.Infof("DoFullVerificationStep -- list is too short or this " +
			"masternode is not enabled")
		return
	}
	// Send verify requests only if we are in the top of the rank list.
	if myRank > maxPoSeRank {
		m.mtx.Unlock()
		log.Infof("DoFullVerificationStep -- must be in top %d to send "+
			"verify request", maxPoSeRank)
		return
	}

	// Send verify requests to up to maxPoSeConnections masternodes,
	// starting from maxPoSeRank + myRank - 1 and stepping by
	// maxPoSeConnections.
	offset := maxPoSeRank + myRank - 1
	for count := 0; offset < len(ranks); offset += maxPoSeConnections {
		mn := ranks[offset].Masternode
		if mn.IsPoSeVerified() || mn.IsPoSeBanned() {
			log.Debugf("DoFullVerificationStep -- already verified or "+
				"banned masternode %s address %s, skipping...",
				mn.Outpoint.StringShort(), mn.Addr.Key())
			continue
		}

		if !m.verifyRequestLocked(&mn.Addr) {
			continue
		}
		addrs = append(addrs, mn.Addr)

		// Avoid a double AskForMnv for sweep survivors that this round
		// covers anyway.
		delete(m.shouldAskForVerification, mn.Outpoint)

		log.Infof("DoFullVerificationStep -- verifying masternode %s "+
			"rank %d/%d address %s", mn.Outpoint.StringShort(),
			ranks[offset].Rank, len(ranks), mn.Addr.Key())
		count++
		if count >= maxPoSeConnections {
			break
		}
	}

	// Include the sweep survivors owed a direct re-verification.
	for outpoint, since := range m.shouldAskForVerification {
		if mn, ok := m.masternodes[outpoint]; ok {
			addrs = append(addrs, mn.Addr)
			log.Infof("DoFullVerificationStep -- verifying masternode %s "+
				"after %v, address %s", outpoint.StringShort(),
				m.now().Sub(since), mn.Addr.Key())
		}
		delete(m.shouldAskForVerification, outpoint)
	}

	m.mtx.Unlock()

	height := m.CachedBlockHeight()
	for i := range addrs {
		addr := addrs[i]
		m.cfg.ConnMgr.AddPendingMasternode(&addr)
		// Use a random nonce, store it and require the node to reply
		// with the correct one later.
		mnv := wire.NewMsgMNVerify(addr, randomNonce(), height-1)
		m.pendingMnvMtx.Lock()
		m.pendingMnv[addr.Key()] = &pendingVerification{
			added: m.now(),
			addr:  addr,
			mnv:   mnv,
		}
		m.pendingMnvMtx.Unlock()
		log.Infof("DoFullVerificationStep -- verifying node using nonce "+
			"%d addr=%s", mnv.Nonce, addr.Key())
	}

	log.Infof("DoFullVerificationStep -- sent verification requests to %d "+
		"masternodes", len(addrs))
}

// verifyRequestLocked is VerifyRequest for callers already holding the
// registry lock.
//
// This function MUST be called with the registry lock held.
func (m *Manager) verifyRequestLocked(addr *wire.NetAddress) bool {
	if m.hasFulfilledLocked(addr.Key(), fulfilledVerifyRequest) {
		log.Infof("VerifyRequest -- do we repeat request, just asking... "+
			"addr=%s", addr.Key())
	}
	return !m.cfg.ConnMgr.IsMasternodeOrDisconnectRequested(addr)
}

// ProcessPendingMnvRequests pushes queued verification challenges to their
// targets once the connection manager brings the connection up.  A
// challenge unserved or unanswered for longer than the pending timeout is
// dropped, the target's records accrue ban score and the peer is punished.
func (m *Manager) ProcessPendingMnvRequests() {
	// Snapshot under the fine-grained lock so the hot challenge path does
	// not block read-only registry queries.
	m.pendingMnvMtx.Lock()
	pending := make([]*pendingVerification, 0, len(m.pendingMnv))
	for _, pv := range m.pendingMnv {
		pending = append(pending, pv)
	}
	m.pendingMnvMtx.Unlock()

	for _, pv := range pending {
		pv := pv
		addrKey := pv.addr.Key()

		sent := m.cfg.ConnMgr.ForNode(&pv.addr, func(p Peer) bool {
			p.PushMessage(pv.mnv)
			log.Infof("ProcessPendingMnvRequests -- verifying node using "+
				"nonce %d addr=%s", pv.mnv.Nonce, addrKey)
			return true
		})

		elapsed := m.now().Sub(pv.added)
		timedOut := elapsed > pendingRequestTimeout

		if sent {
			m.mtx.Lock()
			m.addFulfilledLocked(addrKey, fulfilledVerifyRequest)
			m.weAskedForVerification[addrKey] = pv.mnv
			requestDone := m.hasFulfilledLocked(addrKey, fulfilledVerifyDone)
			m.mtx.Unlock()

			if requestDone {
				log.Infof("ProcessPendingMnvRequests -- done verify from "+
					"%s in %v", addrKey, elapsed)
				m.removePendingMnv(addrKey)
			} else if timedOut {
				// The challenge went out but no valid reply came
				// back in time.
				log.Infof("ProcessPendingMnvRequests -- still pending "+
					"from %s, %v", addrKey, elapsed)
				m.IncreasePoSeBanScoreByAddr(&pv.addr)
				m.punishNode(&pv.addr)
				m.removePendingMnv(addrKey)
			}
			continue
		}

		if timedOut {
			log.Infof("ProcessPendingMnvRequests -- failed to connect to "+
				"%s, %v", addrKey, elapsed)
			// Punish the unreachable masternode and its peer.
			m.IncreasePoSeBanScoreByAddr(&pv.addr)
			m.punishNode(&pv.addr)
			m.removePendingMnv(addrKey)
		}
	}

	m.pendingMnvMtx.Lock()
	size := len(m.pendingMnv)
	m.pendingMnvMtx.Unlock()
	log.Debugf("ProcessPendingMnvRequests -- pendingMnv size: %d", size)
}

// removePendingMnv drops the queued challenge for the address.
func (m *Manager) removePendingMnv(addrKey string) {
	m.pendingMnvMtx.Lock()
	delete(m.pendingMnv, addrKey)
	m.pendingMnvMtx.Unlock()
}

// CheckSameAddr finds groups of masternodes sharing an address, keeps the
// single record with the lowest ban score in each group and bans the rest.
// A record squatting on the local masternode's address is banned outright.
// Each group's survivor is scheduled for re-verification when its socket is
// reachable; unreachable survivors accrue ban score instead.
func (m *Manager) CheckSameAddr() {
	if !m.cfg.Sync.IsSynced() {
		return
	}

	type sweepResult struct {
		outpoint wire.OutPoint
		addr     wire.NetAddress
	}
	var recheck []sweepResult
	banned := 0
	total := 0

	m.mtx.Lock()

	if len(m.masternodes) == 0 {
		m.mtx.Unlock()
		return
	}

	// Group the candidates by base address, ignoring the port.
	groups := make(map[string][]*Masternode)
	active := m.activeOutpoint()
	activeService := m.activeService()
	for _, mn := range m.masternodes {
		// Do not auto-ban ourselves.
		if mn.Outpoint == active {
			continue
		}
		// Someone else is using my address.
		if activeService != nil && mn.Addr.Equal(activeService) {
			log.Infof("CheckSameAddr -- ban masternode %s, at my addr %s",
				mn.Outpoint.StringShort(), mn.Addr.Key())
			mn.PoSeBan()
			continue
		}
		if mn.IsTerminal() {
			continue
		}
		total++
		key := mn.Addr.BaseKey()
		groups[key] = append(groups[key], mn)
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}

		// Keep the single record with the lowest ban score; ties go to
		// the smaller outpoint so every node picks the same survivor.
		keeper := group[0]
		for _, mn := range group[1:] {
			if mn.PoSeBanScore < keeper.PoSeBanScore ||
				(mn.PoSeBanScore == keeper.PoSeBanScore &&
					mn.Outpoint.Compare(&keeper.Outpoint) < 0) {
				keeper = mn
			}
		}
		for _, mn := range group {
			if mn == keeper {
				continue
			}
			log.Infof("CheckSameAddr -- PoSe ban for masternode %s",
				mn.Outpoint.StringShort())
			mn.PoSeBan()
			banned++
		}
		recheck = append(recheck, sweepResult{keeper.Outpoint, keeper.Addr})
	}
	m.mtx.Unlock()

	log.Infof("CheckSameAddr -- PoSe ban list num: %d from %d valid "+
		"masternodes", banned, total)

	// Ask the collision survivors to verify themselves when possible.
	// The reachability probe dials out, so it runs with no lock held.
	for _, res := range recheck {
		if m.cfg.ConnMgr.CheckReachable(&res.addr) {
			log.Infof("CheckSameAddr -- should be asked mnv masternode "+
				"%s, addr %s", res.outpoint.StringShort(), res.addr.Key())
			m.mtx.Lock()
			m.shouldAskForVerification[res.outpoint] = m.now()
			m.mtx.Unlock()
		} else {
			log.Infof("CheckSameAddr -- inc.PoSeBanScore, could not mnv "+
				"masternode %s, addr %s", res.outpoint.StringShort(),
				res.addr.Key())
			// Could not check whether it is a true masternode.
			m.IncreasePoSeBanScore(res.outpoint)
		}
	}
}

// unreachableClasses is the set of reachability classes the health monitor
// reports for addresses it could not reach.  The values themselves are
// opaque codes owned by the monitor.
var unreachableClasses = map[ReachabilityClass]struct{}{
	111: {},
	13:  {},
	113: {},
}

// CheckMissingMasternodes raises the ban score of valid masternodes whose
// address the external health monitor reports as unreachable.
func (m *Manager) CheckMissingMasternodes() {
	if m.cfg.Health == nil || !m.cfg.Sync.IsSynced() {
		return
	}

	missing := m.cfg.Health.MissingMasternodes()
	if len(missing) == 0 {
		return
	}

	var forget []string
	banned := 0
	total := 0

	m.mtx.Lock()
	active := m.activeOutpoint()
	activeService := m.activeService()
	for _, mn := range m.masternodes {
		// Do not auto-ban ourselves.
		if mn.Outpoint == active {
			continue
		}
		if activeService != nil && mn.Addr.Equal(activeService) {
			log.Infof("CheckMissingMasternodes -- ban masternode %s, at "+
				"my addr %s", mn.Outpoint.StringShort(), mn.Addr.Key())
			mn.PoSeBan()
			continue
		}
		if mn.IsTerminal() {
			continue
		}
		total++

		class, ok := missing[mn.Addr.Key()]
		if !ok {
			continue
		}
		if _, unreachable := unreachableClasses[class]; !unreachable {
			continue
		}
		if mn.Addr.IsLocal() || !mn.Addr.IsRoutable() {
			continue
		}
		log.Infof("CheckMissingMasternodes -- increase PoSe ban score for "+
			"masternode %s", mn.Outpoint.StringShort())
		mn.IncreasePoSeBanScore()
		banned++
		forget = append(forget, mn.Addr.Key())
	}
	m.mtx.Unlock()

	log.Infof("CheckMissingMasternodes -- increase PoSe ban score list "+
		"num: %d from %d valid masternodes", banned, total)

	for _, key := range forget {
		m.cfg.Health.Forget(key)
	}
}
