// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package riot builds DICE/RIoT-profile X.509 certificates directly
// against a bounded der.Builder, byte for byte the shape the reference
// x509bldr builder produces: a device certificate binding a hardware
// device key, and an alias certificate binding a per-firmware key with
// a RIoT extension carrying the device key and a firmware measurement.
//
// Every builder here writes the TBS (to-be-signed) encoding into a
// caller-owned der.Builder and returns only an error; the caller hashes
// the builder's bytes, signs
// it through a primitives.Provider, and calls Finalize to wrap the TBS
// in the outer SEQUENCE{tbs, sigAlg, signature} the X.509 grammar
// requires. No step reaches into crypto/x509.
package riot

import (
	"crypto/elliptic"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/lowRISC/barnacle-riot/src/der"
	"github.com/lowRISC/barnacle-riot/src/primitives"
)

// ErrUnsupportedCurve is returned when asked to build a certificate on
// a curve the profile's OID table does not cover.
var ErrUnsupportedCurve = errors.New("riot: unsupported curve")

// KeyUsage is the single-byte keyUsage bit string the profile issues:
// digitalSignature, keyCertSign and cRLSign, matching RIOT_X509_KEY_USAGE.
const KeyUsage byte = 0x86

// SerialLength is the number of bytes of KDF output used as a
// certificate serial number, matching RIOT_X509_SNUM_LEN.
const SerialLength = 20

// Name is an X.501 RDN sequence reduced to the three attributes the
// profile ever sets.
type Name struct {
	CommonName string
	Org        string
	Country    string
}

// TBSData is the caller-supplied, non-key material for one certificate.
type TBSData struct {
	SerialNumber []byte // SerialLength bytes, already sanitized (see SanitizeSerial)
	Issuer       Name
	Subject      Name
	ValidFrom    time.Time
	ValidTo      time.Time
}

func utcTime(t time.Time) string {
	return t.UTC().Format("060102150405Z")
}

// SanitizeSerial clears the sign bit of the first byte (DER INTEGERs
// are signed) and sets its low bit so the value is nonzero, mirroring
// BarnacleInitialProvision's digest[0] &= 0x7F; digest[0] |= 0x01.
func SanitizeSerial(serial []byte) {
	if len(serial) == 0 {
		return
	}
	serial[0] &= 0x7F
	serial[0] |= 0x01
}

func addX501Name(b *der.Builder, n Name) error {
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	for _, attr := range []struct {
		oid []int
		val string
	}{
		{oidCommonName, n.CommonName},
		{oidCountryName, n.Country},
		{oidOrgName, n.Org},
	} {
		if err := b.StartSequenceOrSet(true); err != nil {
			return err
		}
		if err := b.StartSequenceOrSet(false); err != nil {
			return err
		}
		if err := b.AddOID(attr.oid); err != nil {
			return err
		}
		if err := b.AddUTF8String(attr.val); err != nil {
			return err
		}
		if err := b.PopNesting(); err != nil {
			return err
		}
		if err := b.PopNesting(); err != nil {
			return err
		}
	}
	return b.PopNesting()
}

func addValidity(b *der.Builder, from, to time.Time) error {
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddUTCTime(utcTime(from)); err != nil {
		return err
	}
	if err := b.AddUTCTime(utcTime(to)); err != nil {
		return err
	}
	return b.PopNesting()
}

func addSPKI(b *der.Builder, curve []int, pubPoint []byte) error {
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidECPublicKey); err != nil {
		return err
	}
	if err := b.AddOID(curve); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.AddBitString(pubPoint); err != nil {
		return err
	}
	return b.PopNesting()
}

// addRiotExtension emits the RIoT custom extension SEQUENCE: version,
// the device public key's SPKI, and the firmware digest.
func addRiotExtension(b *der.Builder, curve []int, devIDPub, fwid []byte) error {
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidRIoT); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddInteger(1); err != nil {
		return err
	}
	if err := addSPKI(b, curve, devIDPub); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidSHA256); err != nil {
		return err
	}
	if err := b.AddOctetString(fwid); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

func addAuthKeyIdentifier(b *der.Builder, keyID []byte) error {
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidAuthKeyIdentifier); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.StartExplicit(0); err != nil {
		return err
	}
	if err := b.AddOctetString(keyID); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

// aliasExtensions emits the extensions block used by alias certificates:
// keyUsage, extendedKeyUsage(clientAuth), authorityKeyIdentifier, RIoT.
func aliasExtensions(b *der.Builder, curveArcs []int, devIDPub, fwid, authKeyID []byte) error {
	if err := b.StartExplicit(3); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidKeyUsage); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.AddBitString([]byte{KeyUsage}); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidExtKeyUsage); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidClientAuth); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}

	if err := addAuthKeyIdentifier(b, authKeyID); err != nil {
		return err
	}
	if err := addRiotExtension(b, curveArcs, devIDPub, fwid); err != nil {
		return err
	}

	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

// deviceExtensions emits the extensions block used by the self-signed
// device certificate: keyUsage, basicConstraints(CA, pathLen=1), and
// (when authKeyID is non-nil) authorityKeyIdentifier carrying it.
func deviceExtensions(b *der.Builder, authKeyID []byte) error {
	if err := b.StartExplicit(3); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidKeyUsage); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.AddBitString([]byte{KeyUsage}); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidBasicConstraints); err != nil {
		return err
	}
	if err := b.AddBoolean(true); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddBoolean(true); err != nil {
		return err
	}
	if err := b.AddInteger(1); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}

	if authKeyID != nil {
		if err := addAuthKeyIdentifier(b, authKeyID); err != nil {
			return err
		}
	}

	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

// BuildDeviceCertTBS writes the to-be-signed region of a device
// certificate: a self-signed (or root-signed, when rootKeyPub is
// given) certificate binding devIDPub.
func BuildDeviceCertTBS(b *der.Builder, curve elliptic.Curve, p primitives.Provider, data TBSData, devIDPub primitives.ECCPublicKey, rootKeyPub []byte) error {
	curveArcs, err := curveOID(curve)
	if err != nil {
		return err
	}
	devIDPoint, err := p.ExportECCPublic(devIDPub)
	if err != nil {
		return fmt.Errorf("riot: export device public key: %w", err)
	}

	var authKeyID []byte
	if rootKeyPub != nil {
		id := p.Sha1(rootKeyPub)
		authKeyID = id[:]
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddShortExplicitInteger(0, 2); err != nil {
		return err
	}
	if err := b.AddIntegerFromArray(data.SerialNumber); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidECDSAWithSHA256); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := addX501Name(b, data.Issuer); err != nil {
		return err
	}
	if err := addValidity(b, data.ValidFrom, data.ValidTo); err != nil {
		return err
	}
	if err := addX501Name(b, data.Subject); err != nil {
		return err
	}
	if err := addSPKI(b, curveArcs, devIDPoint); err != nil {
		return err
	}
	if err := deviceExtensions(b, authKeyID); err != nil {
		return err
	}
	return b.PopNesting()
}

// BuildAliasCertTBS writes the to-be-signed region of an alias
// certificate binding aliasPub and carrying the RIoT extension over
// devIDPub and the firmware digest fwid. A subject common name of "*"
// is replaced by a device GUID: the base64 encoding of the first 16
// bytes of SHA-256 over the encoded device public key.
func BuildAliasCertTBS(b *der.Builder, curve elliptic.Curve, p primitives.Provider, data TBSData, aliasPub, devIDPub primitives.ECCPublicKey, fwid []byte) error {
	curveArcs, err := curveOID(curve)
	if err != nil {
		return err
	}
	aliasPoint, err := p.ExportECCPublic(aliasPub)
	if err != nil {
		return fmt.Errorf("riot: export alias public key: %w", err)
	}
	devIDPoint, err := p.ExportECCPublic(devIDPub)
	if err != nil {
		return fmt.Errorf("riot: export device public key: %w", err)
	}
	authKeyID := p.Sha1(devIDPoint)
	if data.Subject.CommonName == "*" {
		guid := p.Hash(devIDPoint)
		data.Subject.CommonName = base64.StdEncoding.EncodeToString(guid[:16])
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddShortExplicitInteger(0, 2); err != nil {
		return err
	}
	if err := b.AddIntegerFromArray(data.SerialNumber); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidECDSAWithSHA256); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := addX501Name(b, data.Issuer); err != nil {
		return err
	}
	if err := addValidity(b, data.ValidFrom, data.ValidTo); err != nil {
		return err
	}
	if err := addX501Name(b, data.Subject); err != nil {
		return err
	}
	if err := addSPKI(b, curveArcs, aliasPoint); err != nil {
		return err
	}
	if err := aliasExtensions(b, curveArcs, devIDPoint, fwid, authKeyID[:]); err != nil {
		return err
	}
	return b.PopNesting()
}

// rootExtensions emits the extensions block used by a self-signed root
// certificate: keyUsage and basicConstraints(CA, pathLen=2). A root
// trust anchor carries no authorityKeyIdentifier of its own.
func rootExtensions(b *der.Builder) error {
	if err := b.StartExplicit(3); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidKeyUsage); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.AddBitString([]byte{KeyUsage}); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidBasicConstraints); err != nil {
		return err
	}
	if err := b.AddBoolean(true); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddBoolean(true); err != nil {
		return err
	}
	if err := b.AddInteger(2); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}

	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

// RootCertTBS writes the to-be-signed region of a self-signed root
// certificate binding rootPub, matching X509GetRootCertTBS. Issuer and
// Subject in data are expected to be equal: a root is its own issuer.
func RootCertTBS(b *der.Builder, curve elliptic.Curve, p primitives.Provider, data TBSData, rootPub primitives.ECCPublicKey) error {
	curveArcs, err := curveOID(curve)
	if err != nil {
		return err
	}
	rootPoint, err := p.ExportECCPublic(rootPub)
	if err != nil {
		return fmt.Errorf("riot: export root public key: %w", err)
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddShortExplicitInteger(0, 2); err != nil {
		return err
	}
	if err := b.AddIntegerFromArray(data.SerialNumber); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidECDSAWithSHA256); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := addX501Name(b, data.Issuer); err != nil {
		return err
	}
	if err := addValidity(b, data.ValidFrom, data.ValidTo); err != nil {
		return err
	}
	if err := addX501Name(b, data.Subject); err != nil {
		return err
	}
	if err := addSPKI(b, curveArcs, rootPoint); err != nil {
		return err
	}
	if err := rootExtensions(b); err != nil {
		return err
	}
	return b.PopNesting()
}

// MakeRootCert elevates a completed root TBS region into a finished,
// self-signed certificate, matching X509MakeRootCert. The wrapping
// SEQUENCE{tbs, sigAlg, signature} shape is identical to a device or
// alias certificate's, so this is Finalize under the profile's own
// name for the root case.
func MakeRootCert(b *der.Builder, sig primitives.ECCSignature) error {
	return Finalize(b, sig)
}

// CSRTBS writes the to-be-signed CertificationRequestInfo for a PKCS#10
// request binding pub under subject, matching X509GetDERCsrTbs: version
// (0), subject name, subjectPKInfo, and an empty [0] IMPLICIT attributes
// SET. A CSR carries no issuer or validity fields; the certificate
// authority that receives it assigns those.
func CSRTBS(b *der.Builder, curve elliptic.Curve, p primitives.Provider, subject Name, pub primitives.ECCPublicKey) error {
	curveArcs, err := curveOID(curve)
	if err != nil {
		return err
	}
	point, err := p.ExportECCPublic(pub)
	if err != nil {
		return fmt.Errorf("riot: export CSR public key: %w", err)
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddInteger(0); err != nil {
		return err
	}
	if err := addX501Name(b, subject); err != nil {
		return err
	}
	if err := addSPKI(b, curveArcs, point); err != nil {
		return err
	}
	if err := b.StartExplicit(0); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

// MakeCSR elevates a completed CSR TBS region into a finished
// CertificationRequest, matching X509GetDERCsr. A CertificationRequest's
// SEQUENCE{info, sigAlg, signature} shape is identical to a
// certificate's, so this is Finalize under the profile's own name for
// the CSR case.
func MakeCSR(b *der.Builder, sig primitives.ECCSignature) error {
	return Finalize(b, sig)
}

// Finalize elevates a completed TBS region into SEQUENCE{tbs, sigAlg,
// signature}, matching X509MakeDeviceCert / X509MakeAliasCert. The
// signing curve is fixed by the algorithm OID (ECDSA-with-SHA256) and
// is not re-stated here; it is carried in the TBS SPKI.
func Finalize(b *der.Builder, sig primitives.ECCSignature) error {
	if err := b.TBSToCertificate(); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddOID(oidECDSAWithSHA256); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.StartEnvelopingBitString(); err != nil {
		return err
	}
	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddIntegerFromArray(sig.R); err != nil {
		return err
	}
	if err := b.AddIntegerFromArray(sig.S); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

// EncodeECPublicKey writes a SubjectPublicKeyInfo wrapping pub, the
// format a standalone device-identity public key is exported in.
func EncodeECPublicKey(b *der.Builder, curve elliptic.Curve, p primitives.Provider, pub primitives.ECCPublicKey) error {
	curveArcs, err := curveOID(curve)
	if err != nil {
		return err
	}
	point, err := p.ExportECCPublic(pub)
	if err != nil {
		return err
	}
	return addSPKI(b, curveArcs, point)
}

// EncodeECPrivateKey writes an RFC 5915 SEC1 EC private key structure:
// SEQUENCE{version=1, privateKey OCTET STRING, [0] curve, [1] publicKey}.
func EncodeECPrivateKey(b *der.Builder, curve elliptic.Curve, p primitives.Provider, pub primitives.ECCPublicKey, priv primitives.ECCPrivateKey) error {
	curveArcs, err := curveOID(curve)
	if err != nil {
		return err
	}
	point, err := p.ExportECCPublic(pub)
	if err != nil {
		return err
	}

	if err := b.StartSequenceOrSet(false); err != nil {
		return err
	}
	if err := b.AddInteger(1); err != nil {
		return err
	}
	if err := b.AddOctetString(priv.D); err != nil {
		return err
	}
	if err := b.StartExplicit(0); err != nil {
		return err
	}
	if err := b.AddOID(curveArcs); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.StartExplicit(1); err != nil {
		return err
	}
	if err := b.AddBitString(point); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}
