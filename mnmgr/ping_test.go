// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/mnsign"
	"github.com/zocsuite/zocd/wire"
)

// signedPing builds a ping signed by the passed masternode key.
func signedPing(t *testing.T, outpoint wire.OutPoint, sigTime int64, mnPriv []byte) *wire.MsgMNPing {
	t.Helper()

	mnp := &wire.MsgMNPing{
		Outpoint:          outpoint,
		SigTime:           sigTime,
		SentinelVersion:   1,
		SentinelIsCurrent: true,
	}
	sig, err := mnsign.KeySigner{}.SignHash(
		chainhash.DoubleHashH(mnp.SignaturePayload()), mnPriv)
	if err != nil {
		t.Fatalf("signing ping: %v", err)
	}
	mnp.Signature = sig
	return mnp
}

// TestOnMNPing exercises inbound ping processing: a fresh signed ping
// updates the record, a replay dedups, and a forged signature costs the
// relaying peer ban score.
func TestOnMNPing(t *testing.T) {
	h := newTestHarness()
	mnPriv, mnPub := testKeyPair()
	h.addMasternode(outpointN(1), "198.51.100.1:19155", mnPub)

	peer := newMockPeer(3, "203.0.113.3:19155")

	mnp := signedPing(t, outpointN(1), testTime.Unix()-5, mnPriv)
	h.mgr.OnMNPing(peer, mnp)

	mn, _ := h.mgr.Get(outpointN(1))
	if mn.LastPing.SigTime != mnp.SigTime {
		t.Fatalf("ping not installed: got sigTime %d", mn.LastPing.SigTime)
	}
	if got := len(h.sink.recorded()); got != 0 {
		t.Fatalf("valid ping produced %d penalties", got)
	}

	// Replay is a no-op: no penalty, no list request.
	h.mgr.OnMNPing(peer, mnp)
	if got := len(peer.sentMessages()); got != 0 {
		t.Errorf("replayed ping triggered %d messages", got)
	}

	// A forged ping for the same masternode costs the peer ban score.
	foreignPriv, _ := testKeyPair()
	forged := signedPing(t, outpointN(1), testTime.Unix()-1, foreignPriv)
	h.mgr.OnMNPing(peer, forged)
	records := h.sink.recorded()
	if len(records) != 1 || records[0].score != 33 {
		t.Errorf("forged ping penalties: got %v, want one score-33 strike",
			records)
	}
}

// TestOnMNPingUnknownMasternode verifies a ping for an unknown outpoint
// triggers a single paced entry request to the sending peer.
func TestOnMNPingUnknownMasternode(t *testing.T) {
	h := newTestHarness()
	mnPriv, _ := testKeyPair()
	peer := newMockPeer(3, "203.0.113.3:19155")

	mnp := signedPing(t, outpointN(9), testTime.Unix()-5, mnPriv)
	h.mgr.OnMNPing(peer, mnp)

	msgs := peer.sentMessages()
	if len(msgs) != 1 {
		t.Fatalf("unknown-outpoint ping sent %d messages, want 1 dseg",
			len(msgs))
	}
	dseg, ok := msgs[0].(*wire.MsgDSeg)
	if !ok {
		t.Fatalf("unknown-outpoint ping sent %T, want dseg", msgs[0])
	}
	if dseg.Outpoint != outpointN(9) {
		t.Errorf("dseg names %s, want %s", dseg.Outpoint.StringShort(),
			outpointN(9).StringShort())
	}

	// A second unknown ping within the pacing window does not re-ask.
	mnp2 := signedPing(t, outpointN(9), testTime.Unix()-4, mnPriv)
	h.mgr.OnMNPing(peer, mnp2)
	if got := len(peer.sentMessages()); got != 1 {
		t.Errorf("paced re-ask: sent %d messages, want still 1", got)
	}
}
