// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// maxSignatureSize is the maximum serialized size of a masternode signature.
// Compact ECDSA signatures are 65 bytes; DER encoded ones stay below 80.
const maxSignatureSize = 80

// MsgMNPing implements the Message interface and represents a zoc mnp
// message.  Masternodes broadcast one periodically to prove liveness; it
// names a recent block so stale pings can be rejected and carries the
// sentinel state of the sender.
type MsgMNPing struct {
	Outpoint          OutPoint
	BlockHash         chainhash.Hash
	SigTime           int64
	Signature         []byte
	SentinelVersion   uint32
	SentinelIsCurrent bool
	DaemonVersion     uint32
}

// BtcDecode decodes r using the protocol encoding into the receiver.
// This is part of the Message interface implementation.
func (msg *MsgMNPing) BtcDecode(r io.Reader, pver uint32) error {
	err := ReadOutPoint(r, pver, &msg.Outpoint)
	if err != nil {
		return err
	}

	err = readElements(r, &msg.BlockHash, &msg.SigTime)
	if err != nil {
		return err
	}

	msg.Signature, err = ReadVarBytes(r, pver, maxSignatureSize,
		"ping signature")
	if err != nil {
		return err
	}

	return readElements(r, &msg.SentinelVersion, &msg.SentinelIsCurrent,
		&msg.DaemonVersion)
}

// BtcEncode encodes the receiver to w using the protocol encoding.
// This is part of the Message interface implementation.
func (msg *MsgMNPing) BtcEncode(w io.Writer, pver uint32) error {
	err := WriteOutPoint(w, pver, &msg.Outpoint)
	if err != nil {
		return err
	}

	err = writeElements(w, &msg.BlockHash, msg.SigTime)
	if err != nil {
		return err
	}

	err = WriteVarBytes(w, pver, msg.Signature)
	if err != nil {
		return err
	}

	return writeElements(w, msg.SentinelVersion, msg.SentinelIsCurrent,
		msg.DaemonVersion)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgMNPing) Command() string {
	return CmdMNPing
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgMNPing) MaxPayloadLength(pver uint32) uint32 {
	// Outpoint + block hash + sig time + signature + sentinel version +
	// sentinel flag + daemon version.
	return OutPointSize + chainhash.HashSize + 8 +
		uint32(VarIntSerializeSize(maxSignatureSize)) + maxSignatureSize +
		4 + 1 + 4
}

// Hash returns the identifying hash of the ping, which covers the collateral
// outpoint and the signing time.  Two pings of the same masternode at the
// same time dedup to a single entry regardless of the block they name.
func (msg *MsgMNPing) Hash() chainhash.Hash {
	var buf bytes.Buffer
	_ = WriteOutPoint(&buf, ProtocolVersion, &msg.Outpoint)
	_ = writeElement(&buf, msg.SigTime)
	return chainhash.DoubleHashH(buf.Bytes())
}

// SignaturePayload returns the canonical byte string a masternode signs when
// producing the ping signature: outpoint, block hash and signing time.
func (msg *MsgMNPing) SignaturePayload() []byte {
	var buf bytes.Buffer
	_ = WriteOutPoint(&buf, ProtocolVersion, &msg.Outpoint)
	_ = writeElements(&buf, &msg.BlockHash, msg.SigTime)
	return buf.Bytes()
}

// NewMsgMNPing returns a new zoc mnp message that conforms to the Message
// interface.
func NewMsgMNPing(outpoint OutPoint, blockHash chainhash.Hash, sigTime int64) *MsgMNPing {
	return &MsgMNPing{
		Outpoint:  outpoint,
		BlockHash: blockHash,
		SigTime:   sigTime,
	}
}
