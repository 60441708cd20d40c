// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"
)

// SyncItemID identifies which sub-list a sync status count refers to.
type SyncItemID int32

// The sync item identifiers understood by the sync tracker.
const (
	SyncItemList    SyncItemID = 2
	SyncItemWinners SyncItemID = 3
	SyncItemGov     SyncItemID = 4
)

// MsgSyncStatusCount implements the Message interface and represents a zoc
// ssc message.  It is sent after answering a full-list request to tell the
// peer how many items were pushed so its sync tracker can account for them.
type MsgSyncStatusCount struct {
	ItemID SyncItemID
	Count  int32
}

// BtcDecode decodes r using the protocol encoding into the receiver.
// This is part of the Message interface implementation.
func (msg *MsgSyncStatusCount) BtcDecode(r io.Reader, pver uint32) error {
	return readElements(r, (*int32)(&msg.ItemID), &msg.Count)
}

// BtcEncode encodes the receiver to w using the protocol encoding.
// This is part of the Message interface implementation.
func (msg *MsgSyncStatusCount) BtcEncode(w io.Writer, pver uint32) error {
	return writeElements(w, int32(msg.ItemID), msg.Count)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgSyncStatusCount) Command() string {
	return CmdSyncStatusCount
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSyncStatusCount) MaxPayloadLength(pver uint32) uint32 {
	// Item id 4 bytes + count 4 bytes.
	return 8
}

// NewMsgSyncStatusCount returns a new zoc ssc message that conforms to the
// Message interface.
func NewMsgSyncStatusCount(itemID SyncItemID, count int32) *MsgSyncStatusCount {
	return &MsgSyncStatusCount{
		ItemID: itemID,
		Count:  count,
	}
}
