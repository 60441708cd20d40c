// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnsign

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

// messageMagic is the prefix mixed into every string-canonicalized message
// before hashing, so signatures produced here can never be replayed as
// transaction or block signatures.
const messageMagic = "DarkCoin Signed Message:\n"

// Common errors returned by the signer.
var (
	// ErrInvalidKey is returned when a public or private key cannot be
	// parsed.
	ErrInvalidKey = errors.New("invalid key")

	// ErrVerifyFailed is returned when a signature does not verify
	// against the claimed public key.
	ErrVerifyFailed = errors.New("signature verification failed")
)

// KeySigner signs and verifies masternode messages with compact ECDSA
// signatures over secp256k1.  The zero value is ready for use.
//
// Two schemes are provided.  The hash scheme signs a caller-provided hash
// directly and is used when new-style signatures are active.  The message
// scheme canonicalizes a string with the message magic before hashing, which
// matches the legacy signatures older nodes still produce.  The two schemes
// are deliberately kept behind one type so the caller can switch at runtime.
type KeySigner struct{}

// SignHash signs the passed hash with the serialized private key and returns
// a compact signature.
func (KeySigner) SignHash(hash chainhash.Hash, privKey []byte) ([]byte, error) {
	if len(privKey) != btcec.PrivKeyBytesLen {
		return nil, ErrInvalidKey
	}
	key, _ := btcec.PrivKeyFromBytes(privKey)
	return ecdsa.SignCompact(key, hash[:], true), nil
}

// VerifyHash verifies a compact signature over the passed hash against the
// serialized public key.
func (KeySigner) VerifyHash(hash chainhash.Hash, pubKey []byte, sig []byte) error {
	recovered, _, err := ecdsa.RecoverCompact(sig, hash[:])
	if err != nil {
		return fmt.Errorf("recover pubkey: %w", err)
	}

	claimed, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return ErrInvalidKey
	}

	if !recovered.IsEqual(claimed) {
		// The compact recovery flag encodes the compression of the
		// original key.  Compare the raw serializations too so callers
		// holding an uncompressed key for a compressed signature are
		// not rejected.
		if !bytes.Equal(recovered.SerializeCompressed(), claimed.SerializeCompressed()) {
			return ErrVerifyFailed
		}
	}
	return nil
}

// SignMessage signs the string-canonicalized form of msg with the serialized
// private key and returns a compact signature.
func (s KeySigner) SignMessage(msg string, privKey []byte) ([]byte, error) {
	return s.SignHash(MessageHash(msg), privKey)
}

// VerifyMessage verifies a compact signature over the string-canonicalized
// form of msg against the serialized public key.
func (s KeySigner) VerifyMessage(pubKey []byte, sig []byte, msg string) error {
	return s.VerifyHash(MessageHash(msg), pubKey, sig)
}

// MessageHash returns the double-SHA256 digest of the message magic followed
// by the passed message, both with varint length prefixes.  Both sides of a
// verification must produce this bit-for-bit.
func MessageHash(msg string) chainhash.Hash {
	var buf bytes.Buffer
	_ = wire.WriteVarBytes(&buf, wire.ProtocolVersion, []byte(messageMagic))
	_ = wire.WriteVarBytes(&buf, wire.ProtocolVersion, []byte(msg))
	return chainhash.DoubleHashH(buf.Bytes())
}

// NewKeyPair generates a fresh secp256k1 key pair and returns the serialized
// private key along with the compressed public key.  It is primarily useful
// for tests and tooling.
func NewKeyPair() (privKey []byte, pubKey []byte, err error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, err
	}
	return key.Serialize(), key.PubKey().SerializeCompressed(), nil
}
