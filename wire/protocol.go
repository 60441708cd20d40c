// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// ProtocolVersion is the latest protocol version this package supports.
	ProtocolVersion uint32 = 70208

	// MinPeerProtoVersion is the minimum protocol version a connected peer
	// may advertise before it is dropped.
	MinPeerProtoVersion uint32 = 70206

	// MinPoSeProtoVersion is the minimum protocol version a masternode must
	// advertise to take part in proof-of-service verification and ranking.
	MinPoSeProtoVersion uint32 = 70206
)

// ServiceFlag identifies services supported by a zoc peer.
type ServiceFlag uint64

const (
	// SFNodeNetwork is a flag used to indicate a peer is a full node.
	SFNodeNetwork ServiceFlag = 1 << iota

	// SFNodeBloom is a flag used to indicate a peer supports bloom
	// filtering.
	SFNodeBloom
)

// Map of service flags back to their constant names for pretty printing.
var sfStrings = map[ServiceFlag]string{
	SFNodeNetwork: "SFNodeNetwork",
	SFNodeBloom:   "SFNodeBloom",
}

// orderedSFStrings is an ordered list of service flags from lowest to
// highest.
var orderedSFStrings = []ServiceFlag{
	SFNodeNetwork,
	SFNodeBloom,
}

// String returns the ServiceFlag in human-readable form.
func (f ServiceFlag) String() string {
	// No flags are set.
	if f == 0 {
		return "0x0"
	}

	// Add individual bit flags.
	s := ""
	for _, flag := range orderedSFStrings {
		if f&flag == flag {
			s += sfStrings[flag] + "|"
			f -= flag
		}
	}

	// Add any remaining flags which aren't accounted for as hex.
	s = strings.TrimRight(s, "|")
	if f != 0 {
		s += "|0x" + strconv.FormatUint(uint64(f), 16)
	}
	s = strings.TrimLeft(s, "|")
	return s
}

// ZocNet represents which zoc network a message belongs to.
type ZocNet uint32

// Constants used to indicate the message zoc network.  They can also be
// used to seek to the next message when a stream's state is unknown, but
// this package does not provide that functionality since it's generally a
// better idea to simply disconnect clients that are misbehaving over TCP.
const (
	// MainNet represents the main zoc network.
	MainNet ZocNet = 0xbd6b0cbf

	// TestNet3 represents the test network.
	TestNet3 ZocNet = 0xffcae2ce

	// RegNet represents the regression test network.
	RegNet ZocNet = 0xdcb7c1fc
)

// znStrings is a map of zoc networks back to their constant names for
// pretty printing.
var znStrings = map[ZocNet]string{
	MainNet:  "MainNet",
	TestNet3: "TestNet3",
	RegNet:   "RegNet",
}

// String returns the ZocNet in human-readable form.
func (n ZocNet) String() string {
	if s, ok := znStrings[n]; ok {
		return s
	}

	return fmt.Sprintf("Unknown ZocNet (%d)", uint32(n))
}
