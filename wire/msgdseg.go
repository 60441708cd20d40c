// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"
)

// MsgDSeg implements the Message interface and represents a zoc dseg
// message.  It is used to request either the full masternode list, when the
// outpoint is null, or a single masternode entry identified by its collateral
// outpoint.  The remote peer answers with mnb/mnp inventory followed by an
// ssc summary for full list requests.
type MsgDSeg struct {
	Outpoint OutPoint
}

// BtcDecode decodes r using the protocol encoding into the receiver.
// This is part of the Message interface implementation.
func (msg *MsgDSeg) BtcDecode(r io.Reader, pver uint32) error {
	return ReadOutPoint(r, pver, &msg.Outpoint)
}

// BtcEncode encodes the receiver to w using the protocol encoding.
// This is part of the Message interface implementation.
func (msg *MsgDSeg) BtcEncode(w io.Writer, pver uint32) error {
	return WriteOutPoint(w, pver, &msg.Outpoint)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgDSeg) Command() string {
	return CmdDSeg
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgDSeg) MaxPayloadLength(pver uint32) uint32 {
	return OutPointSize
}

// NewMsgDSeg returns a new zoc dseg message that conforms to the Message
// interface.  A null outpoint requests the full list.
func NewMsgDSeg(outpoint OutPoint) *MsgDSeg {
	return &MsgDSeg{
		Outpoint: outpoint,
	}
}
