// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// Software is a pure-Go reference Provider: deterministic key
// derivation via HKDF (RFC 5869), signing via crypto/ecdsa, hashing via
// crypto/sha256 and crypto/sha1. It is the default Provider, used by
// every identity-engine test, and the one a board ships with until its
// hardware RNG/ECC engine is bound in through HSM or a native driver.
type Software struct {
	curve elliptic.Curve
}

// NewSoftware returns a Software provider issuing keys on curve.
func NewSoftware(curve elliptic.Curve) *Software {
	return &Software{curve: curve}
}

func (s *Software) Curve() elliptic.Curve { return s.curve }

func (s *Software) RandomFill(buf []byte) error {
	_, err := io.ReadFull(rand.Reader, buf)
	if err != nil {
		return fmt.Errorf("primitives: RandomFill failed: %w", err)
	}
	return nil
}

func (s *Software) Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func (s *Software) Sha1(data []byte) [20]byte {
	return sha1.Sum(data)
}

// expand runs HKDF-Expand(ikm, salt, label) and returns outLen bytes.
// HKDF-Extract is skipped when salt is empty by passing ikm directly as
// the pseudorandom key, matching the single-label, no-salt shape of
// RiotCrypt_Kdf's call sites in the boot core.
func expand(outLen int, ikm, salt, label []byte) ([]byte, error) {
	var reader io.Reader
	if len(salt) == 0 {
		reader = hkdf.Expand(sha256.New, ikm, label)
	} else {
		reader = hkdf.New(sha256.New, ikm, salt, label)
	}
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("primitives: hkdf expand failed: %w", err)
	}
	return out, nil
}

// DeriveECCKey implements the DeriveEccKey contract: a private scalar
// is expanded deterministically from (seed, label), reduced into the
// curve's scalar field, and the public key is the corresponding point.
// Equal (seed, label) always yields an equal key pair (Testable
// Property 1): HKDF-Expand is a pure function of its inputs.
func (s *Software) DeriveECCKey(seed, label []byte) (ECCPublicKey, ECCPrivateKey, error) {
	n := s.curve.Params().N
	// Expand extra bytes beyond the order's width so the mod-N
	// reduction does not meaningfully bias the low end of the range.
	width := CoordWidth(s.curve) + 8
	material, err := expand(width, seed, nil, label)
	if err != nil {
		return ECCPublicKey{}, ECCPrivateKey{}, err
	}

	d := new(big.Int).SetBytes(material)
	d.Mod(d, new(big.Int).Sub(n, big.NewInt(1)))
	d.Add(d, big.NewInt(1)) // d in [1, N-1]

	x, y := s.curve.ScalarBaseMult(d.Bytes())
	pub := ECCPublicKey{X: fixedWidth(x, s.curve), Y: fixedWidth(y, s.curve)}
	priv := ECCPrivateKey{D: fixedWidth(d, s.curve)}
	return pub, priv, nil
}

// Kdf implements the Kdf contract with expand: HKDF-Expand alone when
// salt is empty, full HKDF (Extract then Expand) otherwise.
func (s *Software) Kdf(outLen int, ikm, salt, label []byte) ([]byte, error) {
	return expand(outLen, ikm, salt, label)
}

func (s *Software) toPrivateKey(priv ECCPrivateKey) *ecdsa.PrivateKey {
	d := new(big.Int).SetBytes(priv.D)
	x, y := s.curve.ScalarBaseMult(priv.D)
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: s.curve, X: x, Y: y},
		D:         d,
	}
}

func (s *Software) Sign(digest []byte, priv ECCPrivateKey) (ECCSignature, error) {
	r, ssig, err := ecdsa.Sign(rand.Reader, s.toPrivateKey(priv), digest)
	if err != nil {
		return ECCSignature{}, fmt.Errorf("primitives: ecdsa sign failed: %w", err)
	}
	return ECCSignature{R: fixedWidth(r, s.curve), S: fixedWidth(ssig, s.curve)}, nil
}

func (s *Software) VerifyDigest(digest []byte, sig ECCSignature, pub ECCPublicKey) error {
	pk := &ecdsa.PublicKey{
		Curve: s.curve,
		X:     new(big.Int).SetBytes(pub.X),
		Y:     new(big.Int).SetBytes(pub.Y),
	}
	r := new(big.Int).SetBytes(sig.R)
	ssig := new(big.Int).SetBytes(sig.S)
	if !ecdsa.Verify(pk, digest, r, ssig) {
		return errors.New("primitives: signature verification failed")
	}
	return nil
}

func (s *Software) ExportECCPublic(pub ECCPublicKey) ([]byte, error) {
	w := CoordWidth(s.curve)
	if len(pub.X) != w || len(pub.Y) != w {
		return nil, fmt.Errorf("primitives: public key coordinate width mismatch: got (%d,%d), want %d", len(pub.X), len(pub.Y), w)
	}
	out := make([]byte, 1+2*w)
	out[0] = 0x04
	copy(out[1:], pub.X)
	copy(out[1+w:], pub.Y)
	return out, nil
}

func (s *Software) MpiToFixed(v []byte) ([]byte, error) {
	w := CoordWidth(s.curve)
	if len(v) > w {
		return nil, fmt.Errorf("primitives: value of %d bytes does not fit in %d-byte coordinate", len(v), w)
	}
	out := make([]byte, w)
	copy(out[w-len(v):], v)
	return out, nil
}

func fixedWidth(v *big.Int, curve elliptic.Curve) []byte {
	w := CoordWidth(curve)
	out := make([]byte, w)
	b := v.Bytes()
	copy(out[w-len(b):], b)
	return out
}
