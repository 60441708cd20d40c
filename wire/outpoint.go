// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// OutPointSize is the serialized size of an OutPoint: a 32-byte hash plus a
// 4-byte index.
const OutPointSize = chainhash.HashSize + 4

// OutPoint defines a zoc data type that is used to track previous
// transaction outputs.  The masternode subsystem uses it as the identity of
// the collateral output that backs a masternode.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint returns a new zoc transaction outpoint point with the
// provided hash and index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{
		Hash:  *hash,
		Index: index,
	}
}

// IsNull returns whether the outpoint is the zero value, which the dseg
// message uses to request the full masternode list.
func (o OutPoint) IsNull() bool {
	return o.Hash == chainhash.Hash{} && o.Index == 0
}

// Compare returns -1, 0, or 1 depending on whether o is lexicographically
// before, equal to, or after other.  The hash is compared bytewise first and
// ties are broken by the index, which yields the total order the registry
// relies on.
func (o OutPoint) Compare(other *OutPoint) int {
	if c := bytes.Compare(o.Hash[:], other.Hash[:]); c != 0 {
		return c
	}
	switch {
	case o.Index < other.Index:
		return -1
	case o.Index > other.Index:
		return 1
	}
	return 0
}

// String returns the OutPoint in the human-readable form "hash:index".
func (o OutPoint) String() string {
	// Allocate enough for hash string, colon, and 10 decimal digits,
	// which will fit any uint32.
	buf := make([]byte, 2*chainhash.HashSize+1, 2*chainhash.HashSize+1+10)
	copy(buf, o.Hash.String())
	buf[2*chainhash.HashSize] = ':'
	buf = strconv.AppendUint(buf, uint64(o.Index), 10)
	return string(buf)
}

// StringShort returns the OutPoint with the hash abbreviated to its first 64
// bits, the form used throughout the masternode log output.
func (o OutPoint) StringShort() string {
	s := o.Hash.String()
	return s[:16] + "-" + strconv.FormatUint(uint64(o.Index), 10)
}

// ReadOutPoint reads the next sequence of bytes from r as an OutPoint.
func ReadOutPoint(r io.Reader, pver uint32, op *OutPoint) error {
	_, err := io.ReadFull(r, op.Hash[:])
	if err != nil {
		return err
	}

	op.Index, err = binarySerializer.Uint32(r, littleEndian)
	return err
}

// WriteOutPoint encodes op to the zoc protocol encoding for an OutPoint to
// w.
func WriteOutPoint(w io.Writer, pver uint32, op *OutPoint) error {
	_, err := w.Write(op.Hash[:])
	if err != nil {
		return err
	}

	return binarySerializer.PutUint32(w, littleEndian, op.Index)
}
