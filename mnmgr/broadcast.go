// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

// announceSignatureMessage returns the string-canonicalized form of the
// announce signature payload used by the legacy signing scheme.  Both signer
// and verifier must produce it bit-for-bit.
func announceSignatureMessage(mnb *wire.MsgMNAnnounce) string {
	return fmt.Sprintf("%s%d%s%s%d", mnb.Service.Key(), mnb.SigTime,
		hex.EncodeToString(mnb.PubKeyCollateral),
		hex.EncodeToString(mnb.PubKeyMasternode), mnb.ProtocolVersion)
}

// verifyWithScheme verifies a signature under whichever signing scheme is
// active: the hash scheme signs hash directly, the legacy scheme signs the
// string-canonicalized message.
func (m *Manager) verifyWithScheme(hash chainhash.Hash, legacyMsg string, pubKey, sig []byte) error {
	if m.cfg.NewSigs {
		return m.cfg.Signer.VerifyHash(hash, pubKey, sig)
	}
	return m.cfg.Signer.VerifyMessage(pubKey, sig, legacyMsg)
}

// signWithScheme signs under whichever signing scheme is active.
func (m *Manager) signWithScheme(hash chainhash.Hash, legacyMsg string, privKey []byte) ([]byte, error) {
	if m.cfg.NewSigs {
		return m.cfg.Signer.SignHash(hash, privKey)
	}
	return m.cfg.Signer.SignMessage(legacyMsg, privKey)
}

// simpleCheckAnnounce performs the structural and signature checks on an
// announce that need no registry or chain state.  A returned RuleError
// carries the misbehavior score for the relaying peer.
func (m *Manager) simpleCheckAnnounce(mnb *wire.MsgMNAnnounce) error {
	adjusted := m.cfg.TimeSource.AdjustedTime()
	if mnb.SigTime > adjusted.Add(maxFutureSigTime).Unix() {
		str := fmt.Sprintf("announce %s signed too far in the future",
			mnb.Outpoint.StringShort())
		return ruleError(ErrFutureSigTime, 1, str)
	}

	if len(mnb.PubKeyCollateral) == 0 || len(mnb.PubKeyMasternode) == 0 {
		str := fmt.Sprintf("announce %s carries an empty key",
			mnb.Outpoint.StringShort())
		return ruleError(ErrBadKey, 100, str)
	}

	if mnb.ProtocolVersion < m.cfg.Payments.MinProtoVersion() {
		str := fmt.Sprintf("announce %s advertises obsolete protocol %d",
			mnb.Outpoint.StringShort(), mnb.ProtocolVersion)
		return ruleError(ErrBadProtocolVersion, 0, str)
	}

	sigHash := chainhash.DoubleHashH(mnb.SignaturePayload())
	err := m.verifyWithScheme(sigHash, announceSignatureMessage(mnb),
		mnb.PubKeyCollateral, mnb.Signature)
	if err != nil {
		str := fmt.Sprintf("announce %s signature invalid: %v",
			mnb.Outpoint.StringShort(), err)
		return ruleError(ErrBadSignature, 100, str)
	}

	// The embedded ping, when present, must be structurally sound too.
	if mnb.LastPing.SigTime != 0 {
		if err := m.simpleCheckPing(&mnb.LastPing); err != nil {
			return err
		}
	}

	return nil
}

// checkAnnounceAddr verifies the announced service address is usable on the
// active network.
func (m *Manager) checkAnnounceAddr(mnb *wire.MsgMNAnnounce) error {
	if !m.cfg.ChainParams.RequireRoutableMasternodes {
		return nil
	}
	if mnb.Service.IsRoutable() {
		return nil
	}
	str := fmt.Sprintf("announce %s advertises unroutable address %s",
		mnb.Outpoint.StringShort(), mnb.Service.Key())
	return ruleError(ErrBadAddr, 0, str)
}

// checkAnnounceOutpoint verifies the collateral output backing the announce
// exists, is unspent and has matured.  It consults the chain and MUST be
// called without the registry lock held.
func (m *Manager) checkAnnounceOutpoint(mnb *wire.MsgMNAnnounce) error {
	confs, ok := m.cfg.Chain.UTXOConfirmations(&mnb.Outpoint)
	if !ok {
		str := fmt.Sprintf("announce %s collateral missing or spent",
			mnb.Outpoint.StringShort())
		return ruleError(ErrCollateralSpent, 0, str)
	}
	if confs < m.cfg.ChainParams.MasternodeMinimumConfirmations {
		str := fmt.Sprintf("announce %s collateral has %d of %d "+
			"confirmations", mnb.Outpoint.StringShort(), confs,
			m.cfg.ChainParams.MasternodeMinimumConfirmations)
		return ruleError(ErrCollateralUnconfirmed, 0, str)
	}
	return nil
}

// updateFromAnnounceLocked merges a re-announce into an existing record with
// the same outpoint.  The announce must be strictly newer than the record
// and carry the same collateral key.
//
// This function MUST be called with the registry lock held.
func (m *Manager) updateFromAnnounceLocked(mn *Masternode, mnb *wire.MsgMNAnnounce) error {
	if mn.SigTime > mnb.SigTime {
		str := fmt.Sprintf("announce %s older than registry record",
			mnb.Outpoint.StringShort())
		return ruleError(ErrOutdated, 0, str)
	}
	// An announce carrying the record's own signing time brings nothing
	// new and is ignored.
	if mn.SigTime == mnb.SigTime {
		return nil
	}

	if !bytes.Equal(mn.PubKeyCollateral, mnb.PubKeyCollateral) {
		str := fmt.Sprintf("announce %s changes collateral key",
			mnb.Outpoint.StringShort())
		return ruleError(ErrBadSignature, 33, str)
	}

	mn.Addr = mnb.Service
	mn.PubKeyMasternode = append([]byte(nil), mnb.PubKeyMasternode...)
	mn.SigTime = mnb.SigTime
	mn.ProtocolVersion = mnb.ProtocolVersion
	if mnb.LastPing.SigTime > mn.LastPing.SigTime {
		m.setLastPingLocked(mn, &mnb.LastPing)
	}

	// A fresh announce clears the new-start penalty; the next check sweep
	// recomputes the precise state.
	if mn.State == StateNewStartRequired || mn.State == StateExpired {
		mn.State = StatePreEnabled
	}

	// If this is our own masternode being re-announced, pin the score at
	// the verified floor and kick the local state machine.
	active := m.cfg.ActiveMasternode
	if active != nil && bytes.Equal(mnb.PubKeyMasternode, active.PubKey()) {
		mn.PoSeBanScore = -PoSeBanMaxScore
		if mnb.ProtocolVersion == wire.ProtocolVersion {
			active.ManageState()
		} else {
			log.Warnf("Re-announce of our masternode carries protocol "+
				"%d, ours is %d; re-activate required",
				mnb.ProtocolVersion, wire.ProtocolVersion)
		}
	}

	return nil
}
