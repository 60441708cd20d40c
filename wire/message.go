// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"
)

// MessageHeaderSize is the number of bytes in a zoc message header.
// Network (magic) 4 bytes + command 12 bytes + payload length 4 bytes +
// checksum 4 bytes.
const MessageHeaderSize = 24

// CommandSize is the fixed size of all commands in the common zoc message
// header.  Shorter commands must be zero padded.
const CommandSize = 12

// MaxMessagePayload is the maximum bytes a message can be regardless of other
// individual limits imposed by messages themselves.
const MaxMessagePayload = (1024 * 1024 * 32) // 32MB

// Commands used in zoc message headers which describe the type of message.
const (
	CmdInv             = "inv"
	CmdGetData         = "getdata"
	CmdDSeg            = "dseg"
	CmdMNAnnounce      = "mnb"
	CmdMNPing          = "mnp"
	CmdMNVerify        = "mnv"
	CmdSyncStatusCount = "ssc"
)

// Message is an interface that describes a zoc overlay message.  A type
// that implements Message has complete control over the representation of its
// data and may therefore contain additional or fewer fields than those which
// are used directly in the protocol encoded message.
type Message interface {
	BtcDecode(io.Reader, uint32) error
	BtcEncode(io.Writer, uint32) error
	Command() string
	MaxPayloadLength(uint32) uint32
}

// MakeEmptyMessage creates a message of the appropriate concrete type based
// on the command.
func MakeEmptyMessage(command string) (Message, error) {
	var msg Message
	switch command {
	case CmdInv:
		msg = &MsgInv{}

	case CmdGetData:
		msg = &MsgGetData{}

	case CmdDSeg:
		msg = &MsgDSeg{}

	case CmdMNAnnounce:
		msg = &MsgMNAnnounce{}

	case CmdMNPing:
		msg = &MsgMNPing{}

	case CmdMNVerify:
		msg = &MsgMNVerify{}

	case CmdSyncStatusCount:
		msg = &MsgSyncStatusCount{}

	default:
		return nil, messageError("MakeEmptyMessage",
			fmt.Sprintf("unhandled command [%s]", command))
	}
	return msg, nil
}
