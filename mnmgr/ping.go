// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

// pingSignatureMessage returns the string-canonicalized form of the ping
// signature payload used by the legacy signing scheme.
func pingSignatureMessage(mnp *wire.MsgMNPing) string {
	return fmt.Sprintf("%s%s%d", mnp.Outpoint.StringShort(), mnp.BlockHash,
		mnp.SigTime)
}

// simpleCheckPing performs the structural checks on a ping that need no
// registry state.
func (m *Manager) simpleCheckPing(mnp *wire.MsgMNPing) error {
	adjusted := m.cfg.TimeSource.AdjustedTime()
	if mnp.SigTime > adjusted.Add(maxFutureSigTime).Unix() {
		str := fmt.Sprintf("ping %s signed too far in the future",
			mnp.Outpoint.StringShort())
		return ruleError(ErrFutureSigTime, 1, str)
	}
	return nil
}

// checkAndUpdatePingLocked validates an inbound ping against the record it
// names and merges it on success.  Pings that are not strictly newer than
// the stored one are discarded; a bad signature costs the relaying peer ban
// score.
//
// This function MUST be called with the registry lock held.
func (m *Manager) checkAndUpdatePingLocked(mn *Masternode, mnp *wire.MsgMNPing) error {
	if err := m.simpleCheckPing(mnp); err != nil {
		return err
	}

	// The stored ping wins unless the inbound one is strictly newer.
	if mn.LastPing.SigTime >= mnp.SigTime {
		str := fmt.Sprintf("ping %s not newer than stored ping "+
			"(%d <= %d)", mnp.Outpoint.StringShort(), mnp.SigTime,
			mn.LastPing.SigTime)
		return ruleError(ErrStalePing, 0, str)
	}

	sigHash := chainhash.DoubleHashH(mnp.SignaturePayload())
	err := m.verifyWithScheme(sigHash, pingSignatureMessage(mnp),
		mn.PubKeyMasternode, mnp.Signature)
	if err != nil {
		str := fmt.Sprintf("ping %s signature invalid: %v",
			mnp.Outpoint.StringShort(), err)
		return ruleError(ErrBadSignature, 33, str)
	}

	m.setLastPingLocked(mn, mnp)

	// A live ping lifts an expired record back up; the next check sweep
	// settles the precise state.
	if mn.State == StateExpired || mn.State == StateSentinelPingExpired {
		mn.State = StateEnabled
	}

	return nil
}

// setLastPingLocked stores the ping on the record, refreshes the sentinel
// watermark when the ping vouches for a current sentinel, registers the ping
// in the seen table and patches the ping embedded in the record's seen
// broadcast so later dseg answers serve the fresh one.
//
// This function MUST be called with the registry lock held.
func (m *Manager) setLastPingLocked(mn *Masternode, mnp *wire.MsgMNPing) {
	mn.LastPing = *mnp
	if mnp.SentinelIsCurrent {
		m.lastSentinelPingTime = m.now()
	}
	m.seenPing[mnp.Hash()] = mnp

	mnbHash := announceHashForRecord(mn)
	if seen, ok := m.seenBroadcast[mnbHash]; ok {
		seen.announce.LastPing = *mnp
	}
}

// announceHashForRecord reconstructs the hash the record's announce had, so
// related seen-table entries can be located.
func announceHashForRecord(mn *Masternode) chainhash.Hash {
	mnb := announceFromRecord(mn)
	return mnb.Hash()
}

// announceFromRecord rebuilds an announce from the record's fields, carrying
// the record's current last ping.  The record keeps no announce signature, so
// the rebuilt message has none; its hash matches the original announce, and
// dseg answers register it in the seen table only when no entry with that
// hash is there yet.
func announceFromRecord(mn *Masternode) *wire.MsgMNAnnounce {
	return &wire.MsgMNAnnounce{
		Outpoint:         mn.Outpoint,
		Service:          mn.Addr,
		PubKeyCollateral: append([]byte(nil), mn.PubKeyCollateral...),
		PubKeyMasternode: append([]byte(nil), mn.PubKeyMasternode...),
		SigTime:          mn.SigTime,
		ProtocolVersion:  mn.ProtocolVersion,
		LastPing:         mn.LastPing,
	}
}
