// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package verify checks certificates produced by package riot with an
// independent parser (crypto/x509), the way a relying party off the
// device would. It never participates in the production write path —
// package riot never imports it — it exists so tests and the
// simulator's host-side tooling can confirm a hand-rolled DER
// encoding is standards-conformant, mirroring the role the teacher's
// src/cert package plays around CreateCertificate, but strictly as a
// read-only check here.
package verify

import (
	"crypto/x509"
	"errors"
	"fmt"
)

// RiotExtensionOID is the RIoT custom extension object identifier,
// 2.23.133.5.4.1.
const RiotExtensionOID = "2.23.133.5.4.1"

// ErrMissingRiotExtension is returned when an alias certificate lacks
// the RIoT extension.
var ErrMissingRiotExtension = errors.New("verify: certificate carries no RIoT extension")

// ParseChain parses a leaf certificate and its issuer, both DER
// encoded, and fails unless issuer's public key produced leaf's
// signature.
func ParseChain(leafDER, issuerDER []byte) (leaf, issuer *x509.Certificate, err error) {
	leaf, err = x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, nil, fmt.Errorf("verify: parse leaf: %w", err)
	}
	issuer, err = x509.ParseCertificate(issuerDER)
	if err != nil {
		return nil, nil, fmt.Errorf("verify: parse issuer: %w", err)
	}
	if err := leaf.CheckSignatureFrom(issuer); err != nil {
		return nil, nil, fmt.Errorf("verify: signature check failed: %w", err)
	}
	return leaf, issuer, nil
}

// RiotExtension returns the raw DER content of the RIoT extension
// carried by cert, or ErrMissingRiotExtension if it has none.
func RiotExtension(cert *x509.Certificate) ([]byte, error) {
	for _, ext := range cert.Extensions {
		if ext.Id.String() == RiotExtensionOID {
			return ext.Value, nil
		}
	}
	return nil, ErrMissingRiotExtension
}

// VerifySelfSigned parses a self-signed root/device certificate and
// checks it signs itself.
func VerifySelfSigned(der []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("verify: parse: %w", err)
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		return nil, fmt.Errorf("verify: self-signature check failed: %w", err)
	}
	return cert, nil
}
