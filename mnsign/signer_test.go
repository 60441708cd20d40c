// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnsign

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TestSignVerifyHash exercises the hash scheme: a signature verifies against
// the signing key's public key and fails against any other key or hash.
func TestSignVerifyHash(t *testing.T) {
	priv, pub, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	_, otherPub, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}

	signer := KeySigner{}
	hash := chainhash.DoubleHashH([]byte("challenge"))

	sig, err := signer.SignHash(hash, priv)
	if err != nil {
		t.Fatalf("SignHash: %v", err)
	}
	if err := signer.VerifyHash(hash, pub, sig); err != nil {
		t.Errorf("VerifyHash with signing key: %v", err)
	}
	if err := signer.VerifyHash(hash, otherPub, sig); err == nil {
		t.Error("VerifyHash accepted a foreign key")
	}

	otherHash := chainhash.DoubleHashH([]byte("other"))
	if err := signer.VerifyHash(otherHash, pub, sig); err == nil {
		t.Error("VerifyHash accepted a foreign hash")
	}
}

// TestSignVerifyMessage exercises the legacy string-canonicalized scheme.
func TestSignVerifyMessage(t *testing.T) {
	priv, pub, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}

	signer := KeySigner{}
	msg := "198.51.100.1:1915542deadbeef"

	sig, err := signer.SignMessage(msg, priv)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if err := signer.VerifyMessage(pub, sig, msg); err != nil {
		t.Errorf("VerifyMessage with signing key: %v", err)
	}
	if err := signer.VerifyMessage(pub, sig, msg+"x"); err == nil {
		t.Error("VerifyMessage accepted a modified message")
	}
}

// TestSignHashRejectsBadKey verifies malformed keys are rejected up front.
func TestSignHashRejectsBadKey(t *testing.T) {
	signer := KeySigner{}
	hash := chainhash.DoubleHashH([]byte("challenge"))

	if _, err := signer.SignHash(hash, []byte{0x01, 0x02}); err != ErrInvalidKey {
		t.Errorf("SignHash with short key: got %v, want ErrInvalidKey", err)
	}

	priv, _, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	sig, err := signer.SignHash(hash, priv)
	if err != nil {
		t.Fatalf("SignHash: %v", err)
	}
	if err := signer.VerifyHash(hash, []byte{0xff}, sig); err == nil {
		t.Error("VerifyHash accepted a malformed public key")
	}
}

// TestMessageHashStability pins the message canonicalization so both sides
// of a verification stay bit-compatible.
func TestMessageHashStability(t *testing.T) {
	h1 := MessageHash("payload")
	h2 := MessageHash("payload")
	if h1 != h2 {
		t.Error("MessageHash not deterministic")
	}
	if h1 == MessageHash("payloae") {
		t.Error("MessageHash ignores content")
	}
}
