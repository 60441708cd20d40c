// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"testing"
	"time"

	"github.com/zocsuite/zocd/chaincfg"
	"github.com/zocsuite/zocd/wire"
)

// TestDSegFullListPacing exercises the full-list pacing contract on
// mainnet: the first request is served with announce and ping inventory
// plus a sync status summary, a repeat within the window earns exactly one
// misbehavior-34 strike and no data.
func TestDSegFullListPacing(t *testing.T) {
	h := newTestHarness()
	_, pub := testKeyPair()
	h.addMasternode(outpointN(1), "198.51.100.1:19155", pub)
	h.addMasternode(outpointN(2), "198.51.100.2:19155", pub)

	peer := newMockPeer(7, "198.51.100.7:19155")

	h.mgr.OnDSeg(peer, wire.NewMsgDSeg(wire.OutPoint{}))

	// Two invs per record plus the trailing summary.
	if got := len(peer.sentInventory()); got != 4 {
		t.Fatalf("first dseg: got %d invs, want 4", got)
	}
	msgs := peer.sentMessages()
	if len(msgs) != 1 {
		t.Fatalf("first dseg: got %d messages, want 1", len(msgs))
	}
	ssc, ok := msgs[0].(*wire.MsgSyncStatusCount)
	if !ok {
		t.Fatalf("first dseg: trailing message is %T, want ssc", msgs[0])
	}
	if ssc.ItemID != wire.SyncItemList || ssc.Count != 2 {
		t.Errorf("ssc: got (%d, %d), want (%d, 2)", ssc.ItemID, ssc.Count,
			wire.SyncItemList)
	}

	// Ten seconds later the same peer asks again.
	h.advance(10 * time.Second)
	h.mgr.OnDSeg(peer, wire.NewMsgDSeg(wire.OutPoint{}))

	if got := len(peer.sentInventory()); got != 4 {
		t.Errorf("second dseg: inventory grew to %d, want still 4", got)
	}
	if got := len(peer.sentMessages()); got != 1 {
		t.Errorf("second dseg: messages grew to %d, want still 1", got)
	}
	records := h.sink.recorded()
	if len(records) != 1 {
		t.Fatalf("second dseg: got %d penalties, want 1", len(records))
	}
	if records[0].peerID != 7 || records[0].score != misbehaviorDSegAbuse {
		t.Errorf("penalty: got (%d, %d), want (7, %d)", records[0].peerID,
			records[0].score, misbehaviorDSegAbuse)
	}

	// Once the window passes, the peer may ask again without penalty.
	h.advance(chaincfg.MainNetParams.DSegUpdateInterval)
	h.mgr.OnDSeg(peer, wire.NewMsgDSeg(wire.OutPoint{}))
	if got := len(peer.sentInventory()); got != 8 {
		t.Errorf("third dseg: got %d invs, want 8", got)
	}
	if got := len(h.sink.recorded()); got != 1 {
		t.Errorf("third dseg: penalties grew to %d, want still 1", got)
	}
}

// TestDSegPacingSkippedOffMainnet verifies the pacing penalty is a mainnet
// rule only.
func TestDSegPacingSkippedOffMainnet(t *testing.T) {
	h := newTestHarness(withParams(&chaincfg.TestNet3Params))
	_, pub := testKeyPair()
	h.addMasternode(outpointN(1), "198.51.100.1:19255", pub)

	peer := newMockPeer(7, "198.51.100.7:19255")

	h.mgr.OnDSeg(peer, wire.NewMsgDSeg(wire.OutPoint{}))
	h.advance(10 * time.Second)
	h.mgr.OnDSeg(peer, wire.NewMsgDSeg(wire.OutPoint{}))

	if got := len(h.sink.recorded()); got != 0 {
		t.Errorf("testnet dseg repeat penalized %d times", got)
	}
	if got := len(peer.sentInventory()); got != 4 {
		t.Errorf("testnet dseg repeat: got %d invs, want 4", got)
	}
}

// TestDSegSingleEntry verifies a single-entry request serves only the named
// record and skips unroutable ones.
func TestDSegSingleEntry(t *testing.T) {
	h := newTestHarness()
	_, pub := testKeyPair()
	h.addMasternode(outpointN(1), "198.51.100.1:19155", pub)
	h.addMasternode(outpointN(2), "10.1.2.3:19155", pub)

	peer := newMockPeer(7, "198.51.100.7:19155")

	h.mgr.OnDSeg(peer, wire.NewMsgDSeg(outpointN(1)))
	if got := len(peer.sentInventory()); got != 2 {
		t.Errorf("single dseg: got %d invs, want 2", got)
	}

	// The RFC1918 record is never served.
	h.mgr.OnDSeg(peer, wire.NewMsgDSeg(outpointN(2)))
	if got := len(peer.sentInventory()); got != 2 {
		t.Errorf("local-record dseg: got %d invs, want still 2", got)
	}

	// Unknown outpoints produce nothing.
	h.mgr.OnDSeg(peer, wire.NewMsgDSeg(outpointN(9)))
	if got := len(peer.sentInventory()); got != 2 {
		t.Errorf("unknown dseg: got %d invs, want still 2", got)
	}
}

// TestDSegNotServedUnsynced verifies no data is served before the node is
// fully synced.
func TestDSegNotServedUnsynced(t *testing.T) {
	h := newTestHarness()
	_, pub := testKeyPair()
	h.addMasternode(outpointN(1), "198.51.100.1:19155", pub)
	h.sync.synced = false

	peer := newMockPeer(7, "198.51.100.7:19155")
	h.mgr.OnDSeg(peer, wire.NewMsgDSeg(wire.OutPoint{}))

	if got := len(peer.sentInventory()) + len(peer.sentMessages()); got != 0 {
		t.Errorf("unsynced dseg answered with %d items", got)
	}
}

// TestAskForMNPacing verifies we do not ask the same peer for the same
// entry twice within the pacing window.
func TestAskForMNPacing(t *testing.T) {
	h := newTestHarness()
	peer := newMockPeer(7, "198.51.100.7:19155")

	h.mgr.AskForMN(peer, outpointN(1))
	h.advance(10 * time.Second)
	h.mgr.AskForMN(peer, outpointN(1))

	if got := len(peer.sentMessages()); got != 1 {
		t.Errorf("paced AskForMN sent %d requests, want 1", got)
	}

	// A different entry goes out immediately.
	h.mgr.AskForMN(peer, outpointN(2))
	if got := len(peer.sentMessages()); got != 2 {
		t.Errorf("distinct-entry AskForMN sent %d requests, want 2", got)
	}
}
