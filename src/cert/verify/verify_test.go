// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package verify

import (
	"crypto/elliptic"
	"testing"
	"time"

	"github.com/lowRISC/barnacle-riot/src/der"
	"github.com/lowRISC/barnacle-riot/src/cert/riot"
	"github.com/lowRISC/barnacle-riot/src/primitives"
)

func buildSelfSignedDevice(t *testing.T) []byte {
	t.Helper()
	curve := elliptic.P256()
	sw := primitives.NewSoftware(curve)
	pub, priv, err := sw.DeriveECCKey([]byte("cdi"), []byte("identity"))
	if err != nil {
		t.Fatalf("DeriveECCKey() error = %v", err)
	}

	serial := []byte{0x5A, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	riot.SanitizeSerial(serial)
	data := riot.TBSData{
		SerialNumber: serial,
		Issuer:       riot.Name{CommonName: "Device Root", Org: "Barnacle", Country: "US"},
		Subject:      riot.Name{CommonName: "Device Root", Org: "Barnacle", Country: "US"},
		ValidFrom:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:      time.Date(2049, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	buf := make([]byte, 2048)
	b := der.New(buf)
	if err := riot.BuildDeviceCertTBS(b, curve, sw, data, pub, nil); err != nil {
		t.Fatalf("BuildDeviceCertTBS() error = %v", err)
	}
	digest := sw.Hash(b.Bytes())
	sig, err := sw.Sign(digest[:], priv)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := riot.Finalize(b, sig); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	return append([]byte(nil), b.Bytes()...)
}

func TestVerifySelfSigned(t *testing.T) {
	der := buildSelfSignedDevice(t)
	if _, err := VerifySelfSigned(der); err != nil {
		t.Errorf("VerifySelfSigned() error = %v", err)
	}
}

func TestVerifySelfSignedRejectsTamper(t *testing.T) {
	der := buildSelfSignedDevice(t)
	der[len(der)-1] ^= 0xFF
	if _, err := VerifySelfSigned(der); err == nil {
		t.Errorf("VerifySelfSigned() accepted a tampered certificate")
	}
}
