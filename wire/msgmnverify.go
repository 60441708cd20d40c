// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MsgMNVerify implements the Message interface and represents a zoc mnv
// message, one leg of the three-phase proof-of-service challenge.  The same
// shape serves all three phases and the phase is determined by which
// signatures are present:
//
//	both empty       - a challenge asking the owner of Addr to sign the nonce
//	Sig1 only        - the direct reply from the challenged masternode
//	Sig1 and Sig2    - a witnessed broadcast naming both masternodes
type MsgMNVerify struct {
	Addr        NetAddress
	Nonce       uint64
	BlockHeight int32
	Sig1        []byte
	Sig2        []byte
	Outpoint1   OutPoint
	Outpoint2   OutPoint
}

// BtcDecode decodes r using the protocol encoding into the receiver.
// This is part of the Message interface implementation.
func (msg *MsgMNVerify) BtcDecode(r io.Reader, pver uint32) error {
	err := readNetAddress(r, pver, &msg.Addr)
	if err != nil {
		return err
	}

	err = readElements(r, &msg.Nonce, &msg.BlockHeight)
	if err != nil {
		return err
	}

	msg.Sig1, err = ReadVarBytes(r, pver, maxSignatureSize, "mnv sig1")
	if err != nil {
		return err
	}

	msg.Sig2, err = ReadVarBytes(r, pver, maxSignatureSize, "mnv sig2")
	if err != nil {
		return err
	}

	err = ReadOutPoint(r, pver, &msg.Outpoint1)
	if err != nil {
		return err
	}

	return ReadOutPoint(r, pver, &msg.Outpoint2)
}

// BtcEncode encodes the receiver to w using the protocol encoding.
// This is part of the Message interface implementation.
func (msg *MsgMNVerify) BtcEncode(w io.Writer, pver uint32) error {
	err := writeNetAddress(w, pver, &msg.Addr)
	if err != nil {
		return err
	}

	err = writeElements(w, msg.Nonce, msg.BlockHeight)
	if err != nil {
		return err
	}

	err = WriteVarBytes(w, pver, msg.Sig1)
	if err != nil {
		return err
	}

	err = WriteVarBytes(w, pver, msg.Sig2)
	if err != nil {
		return err
	}

	err = WriteOutPoint(w, pver, &msg.Outpoint1)
	if err != nil {
		return err
	}

	return WriteOutPoint(w, pver, &msg.Outpoint2)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgMNVerify) Command() string {
	return CmdMNVerify
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgMNVerify) MaxPayloadLength(pver uint32) uint32 {
	return maxNetAddressPayload(pver) + 8 + 4 +
		2*(uint32(VarIntSerializeSize(maxSignatureSize))+maxSignatureSize) +
		2*OutPointSize
}

// Hash returns the identifying hash of the verification, covering the
// challenged address, the nonce, the block height and both outpoints.  The
// signatures are not covered.  A direct reply, whose outpoints are null,
// therefore hashes differently from the witnessed broadcast for the same
// challenge.
func (msg *MsgMNVerify) Hash() chainhash.Hash {
	var buf bytes.Buffer
	_ = writeNetAddress(&buf, ProtocolVersion, &msg.Addr)
	_ = writeElements(&buf, msg.Nonce, msg.BlockHeight)
	_ = WriteOutPoint(&buf, ProtocolVersion, &msg.Outpoint1)
	_ = WriteOutPoint(&buf, ProtocolVersion, &msg.Outpoint2)
	return chainhash.DoubleHashH(buf.Bytes())
}

// SignatureHash1 returns the hash signed by the challenged masternode in the
// reply phase: the challenged address, the nonce and the hash of the named
// block.  Both sides must produce this bit-for-bit.
func (msg *MsgMNVerify) SignatureHash1(blockHash chainhash.Hash) chainhash.Hash {
	var buf bytes.Buffer
	_ = writeNetAddress(&buf, ProtocolVersion, &msg.Addr)
	_ = writeElements(&buf, msg.Nonce, &blockHash)
	return chainhash.DoubleHashH(buf.Bytes())
}

// SignatureHash2 returns the hash signed by the witnessing masternode in the
// broadcast phase, which additionally binds both collateral outpoints.
func (msg *MsgMNVerify) SignatureHash2(blockHash chainhash.Hash) chainhash.Hash {
	var buf bytes.Buffer
	_ = writeNetAddress(&buf, ProtocolVersion, &msg.Addr)
	_ = writeElements(&buf, msg.Nonce, &blockHash)
	_ = WriteOutPoint(&buf, ProtocolVersion, &msg.Outpoint1)
	_ = WriteOutPoint(&buf, ProtocolVersion, &msg.Outpoint2)
	return chainhash.DoubleHashH(buf.Bytes())
}

// SignatureMessage1 returns the string-canonicalized form of the reply
// signature payload used by the legacy signing scheme.
func (msg *MsgMNVerify) SignatureMessage1(blockHash chainhash.Hash) string {
	return fmt.Sprintf("%s%d%s", msg.Addr.Key(), msg.Nonce, blockHash)
}

// SignatureMessage2 returns the string-canonicalized form of the broadcast
// signature payload used by the legacy signing scheme.
func (msg *MsgMNVerify) SignatureMessage2(blockHash chainhash.Hash) string {
	return fmt.Sprintf("%s%d%s%s%s", msg.Addr.Key(), msg.Nonce, blockHash,
		msg.Outpoint1.StringShort(), msg.Outpoint2.StringShort())
}

// NewMsgMNVerify returns a new zoc mnv challenge, with both signatures
// empty, that conforms to the Message interface.
func NewMsgMNVerify(addr NetAddress, nonce uint64, blockHeight int32) *MsgMNVerify {
	return &MsgMNVerify{
		Addr:        addr,
		Nonce:       nonce,
		BlockHeight: blockHeight,
	}
}
