// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"fmt"
	"testing"

	"github.com/zocsuite/zocd/wire"
)

// verifyHarness builds a harness whose local node is an active masternode
// with a fresh key pair, ready to take part in verification.
func verifyHarness(t *testing.T) (*testHarness, *testActive) {
	t.Helper()

	priv, pub := testKeyPair()
	active := &testActive{
		outpoint: outpointN(200),
		service:  *naFromString("203.0.113.200:19155"),
		privKey:  priv,
		pubKey:   pub,
	}
	h := newTestHarness(withActive(active))
	h.addMasternode(active.outpoint, "203.0.113.200:19155", pub)
	return h, active
}

// TestProcessVerifyReplyHappyPath walks the challenger side of a successful
// verification: the reply matches the outstanding nonce and height, the
// signature identifies the real masternode, its ban score drops, and the
// countersigned broadcast is produced for relay.
func TestProcessVerifyReplyHappyPath(t *testing.T) {
	h, _ := verifyHarness(t)
	blockHash := h.chain.setHash(999, 3)

	mn1Priv, mn1Pub := testKeyPair()
	mn1 := h.addMasternode(outpointN(1), "198.51.100.1:19155", mn1Pub)
	mn1.PoSeBanScore = 2

	peer := newMockPeer(1, "198.51.100.1:19155")
	peerKey := peer.NA().Key()

	// The challenge we sent earlier.
	challenge := wire.NewMsgMNVerify(*peer.NA(), 42, 999)
	h.mgr.mtx.Lock()
	h.mgr.weAskedForVerification[peerKey] = challenge
	h.mgr.addFulfilledLocked(peerKey, fulfilledVerifyRequest)
	h.mgr.mtx.Unlock()

	// The reply, signed with the real masternode key.
	reply := *challenge
	sig, err := h.mgr.cfg.Signer.SignHash(reply.SignatureHash1(blockHash), mn1Priv)
	if err != nil {
		t.Fatalf("signing reply: %v", err)
	}
	reply.Sig1 = sig

	h.mgr.ProcessVerifyReply(peer, &reply)

	got, _ := h.mgr.Get(outpointN(1))
	if got.PoSeBanScore != 1 {
		t.Errorf("real masternode score: got %d, want 1", got.PoSeBanScore)
	}
	if penalties := h.sink.recorded(); len(penalties) != 0 {
		t.Errorf("happy path produced %d penalties", len(penalties))
	}

	// As an active masternode we countersigned and queued the broadcast.
	h.mgr.mtx.Lock()
	var broadcast *wire.MsgMNVerify
	for _, mnv := range h.mgr.seenVerification {
		broadcast = mnv
	}
	h.mgr.mtx.Unlock()
	if broadcast == nil {
		t.Fatal("countersigned broadcast not recorded")
	}
	if broadcast.Outpoint1 != outpointN(1) {
		t.Errorf("broadcast outpoint1: got %s, want %s",
			broadcast.Outpoint1, outpointN(1))
	}
	if broadcast.Outpoint2 != outpointN(200) {
		t.Errorf("broadcast outpoint2: got %s, want %s",
			broadcast.Outpoint2, outpointN(200))
	}
	if len(broadcast.Sig2) == 0 {
		t.Error("broadcast missing countersignature")
	}
}

// TestProcessVerifyReplyForged covers the forged-signature outcome: no
// record's key explains the reply, the peer earns the fake-signature
// penalty, and every record sharing the address accrues ban score.
func TestProcessVerifyReplyForged(t *testing.T) {
	h, _ := verifyHarness(t)
	blockHash := h.chain.setHash(999, 3)

	_, mn1Pub := testKeyPair()
	_, mn2Pub := testKeyPair()
	// Two records claim the same address; neither key signs the reply.
	h.addMasternode(outpointN(1), "198.51.100.1:19155", mn1Pub)
	mnDup := &Masternode{
		Outpoint:         outpointN(2),
		Addr:             *naFromString("198.51.100.1:19155"),
		PubKeyMasternode: mn2Pub,
		ProtocolVersion:  wire.ProtocolVersion,
		State:            StateEnabled,
	}
	h.mgr.mtx.Lock()
	h.mgr.masternodes[mnDup.Outpoint] = mnDup
	h.mgr.mtx.Unlock()

	peer := newMockPeer(1, "198.51.100.1:19155")
	peerKey := peer.NA().Key()

	challenge := wire.NewMsgMNVerify(*peer.NA(), 42, 999)
	h.mgr.mtx.Lock()
	h.mgr.weAskedForVerification[peerKey] = challenge
	h.mgr.addFulfilledLocked(peerKey, fulfilledVerifyRequest)
	h.mgr.mtx.Unlock()

	// Sign with a key no record advertises.
	foreignPriv, _ := testKeyPair()
	reply := *challenge
	sig, err := h.mgr.cfg.Signer.SignHash(reply.SignatureHash1(blockHash), foreignPriv)
	if err != nil {
		t.Fatalf("signing reply: %v", err)
	}
	reply.Sig1 = sig

	h.mgr.ProcessVerifyReply(peer, &reply)

	penalties := h.sink.recorded()
	if len(penalties) != 1 || penalties[0].score != misbehaviorFakeSig {
		t.Fatalf("penalties: got %v, want one score-%d strike", penalties,
			misbehaviorFakeSig)
	}
	for _, outpoint := range []wire.OutPoint{outpointN(1), outpointN(2)} {
		if got, _ := h.mgr.Get(outpoint); got.PoSeBanScore != 1 {
			t.Errorf("record %s score: got %d, want 1", outpoint.StringShort(),
				got.PoSeBanScore)
		}
	}
}

// TestProcessVerifyReplyNonceMismatch verifies that a reply carrying the
// wrong nonce costs the peer the mismatch penalty and the record at that
// address ban score.
func TestProcessVerifyReplyNonceMismatch(t *testing.T) {
	h, _ := verifyHarness(t)
	h.chain.setHash(999, 3)

	_, mn1Pub := testKeyPair()
	h.addMasternode(outpointN(1), "198.51.100.1:19155", mn1Pub)

	peer := newMockPeer(1, "198.51.100.1:19155")
	peerKey := peer.NA().Key()

	challenge := wire.NewMsgMNVerify(*peer.NA(), 42, 999)
	h.mgr.mtx.Lock()
	h.mgr.weAskedForVerification[peerKey] = challenge
	h.mgr.addFulfilledLocked(peerKey, fulfilledVerifyRequest)
	h.mgr.mtx.Unlock()

	reply := *challenge
	reply.Nonce = 43
	reply.Sig1 = []byte{0x01}

	h.mgr.ProcessVerifyReply(peer, &reply)

	penalties := h.sink.recorded()
	if len(penalties) != 1 || penalties[0].score != misbehaviorNonceMismatch {
		t.Fatalf("penalties: got %v, want one score-%d strike", penalties,
			misbehaviorNonceMismatch)
	}
	if got, _ := h.mgr.Get(outpointN(1)); got.PoSeBanScore != 1 {
		t.Errorf("record score: got %d, want 1", got.PoSeBanScore)
	}
}

// TestProcessVerifyBroadcast covers the listener side of a witnessed
// verification: valid signatures reward the verified record, penalize its
// address squatters, and the broadcast dedups on re-delivery.
func TestProcessVerifyBroadcast(t *testing.T) {
	h := newTestHarness()
	blockHash := h.chain.setHash(999, 3)

	mn1Priv, mn1Pub := testKeyPair()
	mn2Priv, mn2Pub := testKeyPair()
	_, squatterPub := testKeyPair()

	mn1 := h.addMasternode(outpointN(1), "198.51.100.1:19155", mn1Pub)
	mn1.PoSeBanScore = 1
	h.addMasternode(outpointN(2), "198.51.100.2:19155", mn2Pub)
	squatter := &Masternode{
		Outpoint:         outpointN(3),
		Addr:             *naFromString("198.51.100.1:19155"),
		PubKeyMasternode: squatterPub,
		ProtocolVersion:  wire.ProtocolVersion,
		State:            StateEnabled,
	}
	h.mgr.mtx.Lock()
	h.mgr.masternodes[squatter.Outpoint] = squatter
	h.mgr.mtx.Unlock()

	mnv := wire.NewMsgMNVerify(*naFromString("198.51.100.1:19155"), 42, 999)
	mnv.Outpoint1 = outpointN(1)
	mnv.Outpoint2 = outpointN(2)
	var err error
	mnv.Sig1, err = h.mgr.cfg.Signer.SignHash(mnv.SignatureHash1(blockHash), mn1Priv)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	mnv.Sig2, err = h.mgr.cfg.Signer.SignHash(mnv.SignatureHash2(blockHash), mn2Priv)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	peer := newMockPeer(9, "203.0.113.9:19155")
	h.mgr.ProcessVerifyBroadcast(peer, mnv)

	if got, _ := h.mgr.Get(outpointN(1)); got.PoSeBanScore != 0 {
		t.Errorf("verified record score: got %d, want 0", got.PoSeBanScore)
	}
	if got, _ := h.mgr.Get(outpointN(3)); got.PoSeBanScore != 1 {
		t.Errorf("squatter score: got %d, want 1", got.PoSeBanScore)
	}
	if penalties := h.sink.recorded(); len(penalties) != 0 {
		t.Errorf("valid broadcast produced %d penalties", len(penalties))
	}

	// Re-delivery dedups without touching scores again.
	h.mgr.ProcessVerifyBroadcast(peer, mnv)
	if got, _ := h.mgr.Get(outpointN(3)); got.PoSeBanScore != 1 {
		t.Errorf("dedup mutated squatter score: got %d", got.PoSeBanScore)
	}
}

// TestProcessVerifyBroadcastSelfVerify verifies that a broadcast in which a
// masternode vouches for itself costs the relaying peer the full penalty.
func TestProcessVerifyBroadcastSelfVerify(t *testing.T) {
	h := newTestHarness()
	h.chain.setHash(999, 3)

	mnv := wire.NewMsgMNVerify(*naFromString("198.51.100.1:19155"), 42, 999)
	mnv.Outpoint1 = outpointN(1)
	mnv.Outpoint2 = outpointN(1)
	mnv.Sig1 = []byte{0x01}
	mnv.Sig2 = []byte{0x02}

	peer := newMockPeer(9, "203.0.113.9:19155")
	h.mgr.ProcessVerifyBroadcast(peer, mnv)

	penalties := h.sink.recorded()
	if len(penalties) != 1 || penalties[0].score != misbehaviorSelfVerify {
		t.Fatalf("penalties: got %v, want one score-%d strike", penalties,
			misbehaviorSelfVerify)
	}
}

// TestCheckSameAddrSweep exercises the duplicate-IP sweep: of the records
// sharing one host the record with the lowest ban score survives, the rest
// are banned, and the survivor is scheduled for re-verification when its
// socket is reachable.
func TestCheckSameAddrSweep(t *testing.T) {
	h, active := verifyHarness(t)

	// Three records share 203.0.113.5 on different ports with distinct
	// scores, a fourth squats on the local masternode's address.
	scores := []int32{4, 2, 3}
	for i, score := range scores {
		_, pub := testKeyPair()
		mn := &Masternode{
			Outpoint:         outpointN(byte(10 + i)),
			Addr:             *naFromString(fmt.Sprintf("203.0.113.5:%d", 19155+i)),
			PubKeyMasternode: pub,
			ProtocolVersion:  wire.ProtocolVersion,
			State:            StateEnabled,
			PoSeBanScore:     score,
		}
		h.mgr.mtx.Lock()
		h.mgr.masternodes[mn.Outpoint] = mn
		h.mgr.mtx.Unlock()
	}
	_, squatterPub := testKeyPair()
	h.mgr.mtx.Lock()
	h.mgr.masternodes[outpointN(20)] = &Masternode{
		Outpoint:         outpointN(20),
		Addr:             active.service,
		PubKeyMasternode: squatterPub,
		ProtocolVersion:  wire.ProtocolVersion,
		State:            StateEnabled,
	}
	h.mgr.mtx.Unlock()

	h.connMgr.mtx.Lock()
	h.connMgr.reachable["203.0.113.5:19156"] = true
	h.connMgr.mtx.Unlock()

	h.mgr.CheckSameAddr()

	// The survivor is the score-2 record; the other two are banned.
	survivor, _ := h.mgr.Get(outpointN(11))
	if survivor.IsPoSeBanned() {
		t.Error("lowest-score record banned by sweep")
	}
	for _, n := range []byte{10, 12} {
		if got, _ := h.mgr.Get(outpointN(byte(n))); !got.IsPoSeBanned() {
			t.Errorf("record %d not banned by sweep", n)
		}
	}

	// The address squatter is banned outright.
	if got, _ := h.mgr.Get(outpointN(20)); !got.IsPoSeBanned() {
		t.Error("record at local masternode address not banned")
	}

	// The reachable survivor is owed a re-verification.
	h.mgr.mtx.Lock()
	_, scheduled := h.mgr.shouldAskForVerification[outpointN(11)]
	h.mgr.mtx.Unlock()
	if !scheduled {
		t.Error("reachable survivor not scheduled for re-verification")
	}
}

// TestCheckSameAddrUnreachableSurvivor verifies an unreachable collision
// survivor accrues ban score instead of a re-verification slot.
func TestCheckSameAddrUnreachableSurvivor(t *testing.T) {
	h, _ := verifyHarness(t)

	for i, score := range []int32{1, 3} {
		_, pub := testKeyPair()
		mn := &Masternode{
			Outpoint:         outpointN(byte(10 + i)),
			Addr:             *naFromString(fmt.Sprintf("203.0.113.5:%d", 19155+i)),
			PubKeyMasternode: pub,
			ProtocolVersion:  wire.ProtocolVersion,
			State:            StateEnabled,
			PoSeBanScore:     score,
		}
		h.mgr.mtx.Lock()
		h.mgr.masternodes[mn.Outpoint] = mn
		h.mgr.mtx.Unlock()
	}

	h.mgr.CheckSameAddr()

	survivor, _ := h.mgr.Get(outpointN(10))
	if survivor.IsPoSeBanned() {
		t.Fatal("survivor banned by sweep")
	}
	if survivor.PoSeBanScore != 2 {
		t.Errorf("unreachable survivor score: got %d, want 2",
			survivor.PoSeBanScore)
	}
	h.mgr.mtx.Lock()
	scheduled := len(h.mgr.shouldAskForVerification)
	h.mgr.mtx.Unlock()
	if scheduled != 0 {
		t.Errorf("unreachable survivor scheduled for re-verification")
	}
}

// TestDoFullVerificationStepGating verifies the rank gating: a node outside
// the PoSe rank window initiates no challenges, one inside challenges the
// rank-walk targets.
func TestDoFullVerificationStepGating(t *testing.T) {
	h, active := verifyHarness(t)
	h.chain.setHash(999, 5)

	// Enough records that the walk offset lands inside the list.
	for i := byte(1); i <= 25; i++ {
		_, pub := testKeyPair()
		h.addMasternode(outpointN(i), fmt.Sprintf("198.51.100.%d:19155", i), pub)
	}

	h.mgr.DoFullVerificationStep()

	rank, err := h.mgr.GetMasternodeRank(active.outpoint, 999,
		wire.MinPoSeProtoVersion)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}

	h.mgr.pendingMnvMtx.Lock()
	pending := len(h.mgr.pendingMnv)
	h.mgr.pendingMnvMtx.Unlock()

	if rank > maxPoSeRank {
		if pending != 0 {
			t.Errorf("low-ranked node queued %d challenges", pending)
		}
		return
	}

	// From offset maxPoSeRank+rank-1 stepping by maxPoSeConnections
	// through 26 records, at least one target must have been selected.
	if pending == 0 {
		t.Error("top-ranked node queued no challenges")
	}
	if pending > maxPoSeConnections {
		t.Errorf("queued %d challenges, cap is %d", pending,
			maxPoSeConnections)
	}
}
