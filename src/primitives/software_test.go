// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"bytes"
	"crypto/elliptic"
	"math/big"
	"testing"
)

func TestDeriveECCKeyDeterministic(t *testing.T) {
	sw := NewSoftware(elliptic.P256())
	seed := []byte("compound-device-identifier-seed")
	label := []byte("RIoT")

	pub1, priv1, err := sw.DeriveECCKey(seed, label)
	if err != nil {
		t.Fatalf("DeriveECCKey() error = %v", err)
	}
	pub2, priv2, err := sw.DeriveECCKey(seed, label)
	if err != nil {
		t.Fatalf("DeriveECCKey() error = %v", err)
	}

	if !bytes.Equal(priv1.D, priv2.D) {
		t.Errorf("private scalars differ across identical derivations")
	}
	if !bytes.Equal(pub1.X, pub2.X) || !bytes.Equal(pub1.Y, pub2.Y) {
		t.Errorf("public keys differ across identical derivations")
	}

	_, priv3, err := sw.DeriveECCKey(seed, []byte("other-label"))
	if err != nil {
		t.Fatalf("DeriveECCKey() error = %v", err)
	}
	if bytes.Equal(priv1.D, priv3.D) {
		t.Errorf("different labels produced the same scalar")
	}
}

func TestDeriveECCKeyOnCurve(t *testing.T) {
	curve := elliptic.P256()
	sw := NewSoftware(curve)
	pub, _, err := sw.DeriveECCKey([]byte("seed"), []byte("label"))
	if err != nil {
		t.Fatalf("DeriveECCKey() error = %v", err)
	}
	x := new(big.Int).SetBytes(pub.X)
	y := new(big.Int).SetBytes(pub.Y)
	if !curve.IsOnCurve(x, y) {
		t.Errorf("derived public key is not on curve")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	sw := NewSoftware(elliptic.P256())
	pub, priv, err := sw.DeriveECCKey([]byte("seed"), []byte("label"))
	if err != nil {
		t.Fatalf("DeriveECCKey() error = %v", err)
	}

	digest := sw.Hash([]byte("to-be-signed"))
	sig, err := sw.Sign(digest[:], priv)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := sw.VerifyDigest(digest[:], sig, pub); err != nil {
		t.Errorf("VerifyDigest() error = %v, want nil", err)
	}

	digest[0] ^= 0xFF
	if err := sw.VerifyDigest(digest[:], sig, pub); err == nil {
		t.Errorf("VerifyDigest() accepted a signature over a tampered digest")
	}
}

func TestExportECCPublicUncompressedPoint(t *testing.T) {
	sw := NewSoftware(elliptic.P256())
	pub, _, err := sw.DeriveECCKey([]byte("seed"), []byte("label"))
	if err != nil {
		t.Fatalf("DeriveECCKey() error = %v", err)
	}
	out, err := sw.ExportECCPublic(pub)
	if err != nil {
		t.Fatalf("ExportECCPublic() error = %v", err)
	}
	if out[0] != 0x04 {
		t.Errorf("ExportECCPublic()[0] = %#x, want 0x04", out[0])
	}
	if len(out) != 1+2*CoordWidth(elliptic.P256()) {
		t.Errorf("ExportECCPublic() length = %d, want %d", len(out), 1+2*CoordWidth(elliptic.P256()))
	}
}
