// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

// TestAddUniqueness verifies that the registry refuses records that reuse an
// outpoint or a service address of a live record.
func TestAddUniqueness(t *testing.T) {
	h := newTestHarness()
	_, pub := testKeyPair()

	mn1 := &Masternode{
		Outpoint:         outpointN(1),
		Addr:             *naFromString("198.51.100.1:19155"),
		PubKeyMasternode: pub,
		State:            StateEnabled,
	}
	if !h.mgr.Add(mn1) {
		t.Fatal("Add: first record rejected")
	}

	// Same outpoint, different address.
	dupOutpoint := &Masternode{
		Outpoint: outpointN(1),
		Addr:     *naFromString("198.51.100.2:19155"),
	}
	if h.mgr.Add(dupOutpoint) {
		t.Error("Add: duplicate outpoint accepted")
	}

	// Different outpoint, same address.
	dupAddr := &Masternode{
		Outpoint: outpointN(2),
		Addr:     *naFromString("198.51.100.1:19155"),
	}
	if h.mgr.Add(dupAddr) {
		t.Error("Add: duplicate address accepted")
	}

	// Banning the holder frees the address for a new record.
	h.mgr.PoSeBan(outpointN(1))
	if !h.mgr.Add(dupAddr) {
		t.Error("Add: address of banned record still blocked")
	}
}

// TestPoSeBanScoreClamp verifies the ban score is clamped to the allowed
// range and that reaching the maximum flips the record into the banned
// state.
func TestPoSeBanScoreClamp(t *testing.T) {
	h := newTestHarness()
	_, pub := testKeyPair()
	h.addMasternode(outpointN(1), "198.51.100.1:19155", pub)

	for i := 0; i < 3*PoSeBanMaxScore; i++ {
		h.mgr.IncreasePoSeBanScore(outpointN(1))
	}
	if got, _ := h.mgr.Get(outpointN(1)); got.PoSeBanScore != PoSeBanMaxScore {
		t.Errorf("score not clamped high: got %d, want %d",
			got.PoSeBanScore, PoSeBanMaxScore)
	}
	if got, _ := h.mgr.Get(outpointN(1)); !got.IsPoSeBanned() {
		t.Error("record not banned at max score")
	}

	h.addMasternode(outpointN(2), "198.51.100.2:19155", pub)
	for i := 0; i < 3*PoSeBanMaxScore; i++ {
		h.mgr.DecreasePoSeBanScore(outpointN(2))
	}
	if got, _ := h.mgr.Get(outpointN(2)); got.PoSeBanScore != -PoSeBanMaxScore {
		t.Errorf("score not clamped low: got %d, want %d",
			got.PoSeBanScore, -PoSeBanMaxScore)
	}
}

// TestSelfNeverBanned verifies the local masternode is immune to the ban
// entry points.
func TestSelfNeverBanned(t *testing.T) {
	priv, pub := testKeyPair()
	active := &testActive{
		outpoint: outpointN(1),
		service:  *naFromString("198.51.100.1:19155"),
		privKey:  priv,
		pubKey:   pub,
	}
	h := newTestHarness(withActive(active))
	h.addMasternode(outpointN(1), "198.51.100.1:19155", pub)

	if h.mgr.IncreasePoSeBanScore(outpointN(1)) {
		t.Error("IncreasePoSeBanScore mutated self")
	}
	if h.mgr.PoSeBan(outpointN(1)) {
		t.Error("PoSeBan mutated self")
	}
	if h.mgr.IncreasePoSeBanScoreByAddr(naFromString("198.51.100.1:19155")) {
		t.Error("IncreasePoSeBanScoreByAddr mutated self")
	}

	if got, _ := h.mgr.Get(outpointN(1)); got.PoSeBanScore != 0 || got.IsPoSeBanned() {
		t.Errorf("self record mutated: score=%d state=%v", got.PoSeBanScore,
			got.State)
	}
}

// TestAllowMixingOrder verifies that mixing announcements are stamped with a
// strictly increasing sequence number.
func TestAllowMixingOrder(t *testing.T) {
	h := newTestHarness()
	_, pub := testKeyPair()
	h.addMasternode(outpointN(1), "198.51.100.1:19155", pub)
	h.addMasternode(outpointN(2), "198.51.100.2:19155", pub)

	if !h.mgr.AllowMixing(outpointN(1)) {
		t.Fatal("AllowMixing failed for known record")
	}
	if !h.mgr.AllowMixing(outpointN(2)) {
		t.Fatal("AllowMixing failed for known record")
	}

	mn1, _ := h.mgr.Get(outpointN(1))
	mn2, _ := h.mgr.Get(outpointN(2))
	if !mn1.AllowMixingTx || !mn2.AllowMixingTx {
		t.Error("mixing flag not set")
	}
	if mn2.LastDsq <= mn1.LastDsq {
		t.Errorf("dsq order violated: %d <= %d", mn2.LastDsq, mn1.LastDsq)
	}
	if h.mgr.DsqCount() != 2 {
		t.Errorf("dsqCount: got %d, want 2", h.mgr.DsqCount())
	}

	if !h.mgr.DisallowMixing(outpointN(1)) {
		t.Fatal("DisallowMixing failed for known record")
	}
	mn1, _ = h.mgr.Get(outpointN(1))
	if mn1.AllowMixingTx {
		t.Error("mixing flag not cleared")
	}
}

// TestAnnounceDedupThenUpdate exercises the seen-table dedup followed by an
// in-place update: re-delivering an identical announce is a no-op, a newer
// one replaces the record's service and swaps the seen entry.
func TestAnnounceDedupThenUpdate(t *testing.T) {
	h := newTestHarness()
	peer := newMockPeer(1, "203.0.113.9:19155")

	collPriv, collPub := testKeyPair()
	mnPriv, mnPub := testKeyPair()
	pingHash := h.chain.setHash(988, 1)

	outpoint := outpointN(7)
	a1 := signedAnnounce(outpoint, "198.51.100.7:19155",
		testTime.Unix()-7200, collPriv, collPub, mnPriv, mnPub, pingHash)

	if err := h.mgr.CheckMnbAndUpdateMasternodeList(peer, a1, false); err != nil {
		t.Fatalf("initial announce rejected: %v", err)
	}
	if !h.mgr.Has(outpoint) {
		t.Fatal("record not added")
	}

	// Re-delivery dedups: the registry is untouched and no error (hence
	// no penalty) is produced.
	if err := h.mgr.CheckMnbAndUpdateMasternodeList(peer, a1, false); err != nil {
		t.Fatalf("re-delivered announce errored: %v", err)
	}
	if got := len(h.sink.recorded()); got != 0 {
		t.Fatalf("dedup produced %d penalties", got)
	}

	// A newer announce with a new service address takes the update path.
	a2 := signedAnnounce(outpoint, "198.51.100.8:19155",
		testTime.Unix()-3600, collPriv, collPub, mnPriv, mnPub, pingHash)
	if err := h.mgr.CheckMnbAndUpdateMasternodeList(peer, a2, false); err != nil {
		t.Fatalf("update announce rejected: %v", err)
	}

	mn, ok := h.mgr.Get(outpoint)
	if !ok {
		t.Fatal("record vanished across update")
	}
	if mn.Addr.Key() != "198.51.100.8:19155" {
		t.Errorf("service not updated: got %s", mn.Addr.Key())
	}

	// The old seen entry is gone, the new one is present.
	h.mgr.mtx.Lock()
	_, oldSeen := h.mgr.seenBroadcast[a1.Hash()]
	_, newSeen := h.mgr.seenBroadcast[a2.Hash()]
	h.mgr.mtx.Unlock()
	if oldSeen {
		t.Error("stale seen entry not erased on update")
	}
	if !newSeen {
		t.Error("new seen entry missing after update")
	}

	// An announce older than the record is refused.
	a0 := signedAnnounce(outpoint, "198.51.100.9:19155",
		testTime.Unix()-9000, collPriv, collPub, mnPriv, mnPub, pingHash)
	if err := h.mgr.CheckMnbAndUpdateMasternodeList(peer, a0, false); err == nil {
		t.Error("stale announce accepted")
	}
}

// TestPingMonotonicity verifies that a ping older than the stored one is
// discarded.
func TestPingMonotonicity(t *testing.T) {
	h := newTestHarness()
	_, pub := testKeyPair()
	h.addMasternode(outpointN(1), "198.51.100.1:19155", pub)

	older := &wire.MsgMNPing{
		Outpoint: outpointN(1),
		SigTime:  testTime.Unix() - 600,
	}
	h.mgr.SetMasternodeLastPing(outpointN(1), older)

	mn, _ := h.mgr.Get(outpointN(1))
	if mn.LastPing.SigTime != testTime.Unix()-60 {
		t.Errorf("stale ping installed: got sigTime %d", mn.LastPing.SigTime)
	}

	newer := &wire.MsgMNPing{
		Outpoint:          outpointN(1),
		SigTime:           testTime.Unix() - 10,
		SentinelIsCurrent: true,
	}
	h.mgr.SetMasternodeLastPing(outpointN(1), newer)

	mn, _ = h.mgr.Get(outpointN(1))
	if mn.LastPing.SigTime != newer.SigTime {
		t.Errorf("newer ping not installed: got sigTime %d",
			mn.LastPing.SigTime)
	}
	if !h.mgr.IsSentinelPingActive() {
		t.Error("sentinel watermark not refreshed by current ping")
	}
}

// TestCheckAndRemoveTerminal verifies the housekeeping sweep removes
// terminal records, flags governance dirty and notifies the collaborator,
// while leaving live records alone.
func TestCheckAndRemoveTerminal(t *testing.T) {
	h := newTestHarness()
	_, pub := testKeyPair()

	live := h.addMasternode(outpointN(1), "198.51.100.1:19155", pub)
	doomed := h.addMasternode(outpointN(2), "198.51.100.2:19155", pub)
	doomed.AddGovernanceVote(chainhash.DoubleHashH([]byte("gov")))
	doomed.PoSeBan()

	h.mgr.CheckAndRemove()

	if !h.mgr.Has(live.Outpoint) {
		t.Error("live record removed")
	}
	if h.mgr.Has(doomed.Outpoint) {
		t.Error("terminal record not removed")
	}
	if h.gov.cleans == 0 {
		t.Error("governance not notified of removal")
	}
	dirty := h.mgr.GetAndClearDirtyGovernanceObjectHashes()
	if len(dirty) == 0 {
		t.Error("governance votes not flagged dirty")
	}
	if len(h.mgr.GetAndClearDirtyGovernanceObjectHashes()) != 0 {
		t.Error("dirty governance votes not cleared on read")
	}
}

// TestPacingExpiry verifies expired pacing entries are purged by the sweep
// while unexpired ones survive.
func TestPacingExpiry(t *testing.T) {
	h := newTestHarness()

	h.mgr.mtx.Lock()
	h.mgr.askedUsForList["198.51.100.1:0"] = h.now.Add(-time.Minute)
	h.mgr.askedUsForList["198.51.100.2:0"] = h.now.Add(time.Hour)
	h.mgr.weAskedForEntry[outpointN(1)] = map[string]time.Time{
		"198.51.100.1:0": h.now.Add(-time.Minute),
	}
	h.mgr.mtx.Unlock()

	h.mgr.CheckAndRemove()

	h.mgr.mtx.Lock()
	defer h.mgr.mtx.Unlock()
	if _, ok := h.mgr.askedUsForList["198.51.100.1:0"]; ok {
		t.Error("expired askedUsForList entry survived")
	}
	if _, ok := h.mgr.askedUsForList["198.51.100.2:0"]; !ok {
		t.Error("live askedUsForList entry purged")
	}
	if _, ok := h.mgr.weAskedForEntry[outpointN(1)]; ok {
		t.Error("expired weAskedForEntry entry survived")
	}
}
