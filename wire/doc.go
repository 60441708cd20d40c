// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package wire implements the zoc overlay protocol messages used by the
masternode subsystem.

At a high level, this package provides the message types exchanged between
peers to synchronize and verify the masternode list: list requests (dseg),
announces (mnb), pings (mnp), verifications (mnv), inventory vectors and the
sync status summary.  Each message implements the Message interface which
provides encoding and decoding via the BtcEncode and BtcDecode functions.

Messages are encoded with the same little-endian element encoding the rest of
the overlay inherits from bitcoin; this package deliberately does not redefine
the outer wire framing (magic, command, checksum), which belongs to the
transport layer.
*/
package wire
