// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// maxPubKeySize is the maximum serialized size of a masternode public key.
// Both compressed (33 bytes) and uncompressed (65 bytes) encodings appear on
// the network.
const maxPubKeySize = 65

// MsgMNAnnounce implements the Message interface and represents a zoc mnb
// message, the announce a masternode broadcasts when it starts.  It binds
// the collateral outpoint to the advertised service address and the two key
// pairs, and embeds the latest ping so a single message is enough to admit
// the masternode into the registry.
type MsgMNAnnounce struct {
	Outpoint         OutPoint
	Service          NetAddress
	PubKeyCollateral []byte
	PubKeyMasternode []byte
	Signature        []byte
	SigTime          int64
	ProtocolVersion  uint32
	LastPing         MsgMNPing
}

// BtcDecode decodes r using the protocol encoding into the receiver.
// This is part of the Message interface implementation.
func (msg *MsgMNAnnounce) BtcDecode(r io.Reader, pver uint32) error {
	err := ReadOutPoint(r, pver, &msg.Outpoint)
	if err != nil {
		return err
	}

	err = readNetAddress(r, pver, &msg.Service)
	if err != nil {
		return err
	}

	msg.PubKeyCollateral, err = ReadVarBytes(r, pver, maxPubKeySize,
		"collateral pubkey")
	if err != nil {
		return err
	}

	msg.PubKeyMasternode, err = ReadVarBytes(r, pver, maxPubKeySize,
		"masternode pubkey")
	if err != nil {
		return err
	}

	msg.Signature, err = ReadVarBytes(r, pver, maxSignatureSize,
		"announce signature")
	if err != nil {
		return err
	}

	err = readElements(r, &msg.SigTime, &msg.ProtocolVersion)
	if err != nil {
		return err
	}

	return msg.LastPing.BtcDecode(r, pver)
}

// BtcEncode encodes the receiver to w using the protocol encoding.
// This is part of the Message interface implementation.
func (msg *MsgMNAnnounce) BtcEncode(w io.Writer, pver uint32) error {
	err := WriteOutPoint(w, pver, &msg.Outpoint)
	if err != nil {
		return err
	}

	err = writeNetAddress(w, pver, &msg.Service)
	if err != nil {
		return err
	}

	err = WriteVarBytes(w, pver, msg.PubKeyCollateral)
	if err != nil {
		return err
	}

	err = WriteVarBytes(w, pver, msg.PubKeyMasternode)
	if err != nil {
		return err
	}

	err = WriteVarBytes(w, pver, msg.Signature)
	if err != nil {
		return err
	}

	err = writeElements(w, msg.SigTime, msg.ProtocolVersion)
	if err != nil {
		return err
	}

	return msg.LastPing.BtcEncode(w, pver)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgMNAnnounce) Command() string {
	return CmdMNAnnounce
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgMNAnnounce) MaxPayloadLength(pver uint32) uint32 {
	return OutPointSize + maxNetAddressPayload(pver) +
		2*(uint32(VarIntSerializeSize(maxPubKeySize))+maxPubKeySize) +
		uint32(VarIntSerializeSize(maxSignatureSize)) + maxSignatureSize +
		8 + 4 + (&MsgMNPing{}).MaxPayloadLength(pver)
}

// Hash returns the identifying hash of the announce, which covers the
// collateral outpoint, the collateral public key and the signing time.  A
// re-announce with a newer sigTime therefore hashes differently while the
// rest of the fields may change freely.
func (msg *MsgMNAnnounce) Hash() chainhash.Hash {
	var buf bytes.Buffer
	_ = WriteOutPoint(&buf, ProtocolVersion, &msg.Outpoint)
	_ = WriteVarBytes(&buf, ProtocolVersion, msg.PubKeyCollateral)
	_ = writeElement(&buf, msg.SigTime)
	return chainhash.DoubleHashH(buf.Bytes())
}

// SignaturePayload returns the canonical byte string the collateral key signs
// when producing the announce signature.
func (msg *MsgMNAnnounce) SignaturePayload() []byte {
	var buf bytes.Buffer
	_ = writeNetAddress(&buf, ProtocolVersion, &msg.Service)
	_ = writeElement(&buf, msg.SigTime)
	_ = WriteVarBytes(&buf, ProtocolVersion, msg.PubKeyCollateral)
	_ = WriteVarBytes(&buf, ProtocolVersion, msg.PubKeyMasternode)
	_ = writeElement(&buf, msg.ProtocolVersion)
	return buf.Bytes()
}

// NewMsgMNAnnounce returns a new zoc mnb message that conforms to the
// Message interface.
func NewMsgMNAnnounce(outpoint OutPoint, service NetAddress) *MsgMNAnnounce {
	return &MsgMNAnnounce{
		Outpoint: outpoint,
		Service:  service,
	}
}
