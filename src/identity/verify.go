// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"

	"github.com/lowRISC/barnacle-riot/src/cert/riot"
	"github.com/lowRISC/barnacle-riot/src/der"
	"github.com/lowRISC/barnacle-riot/src/flash"
	"github.com/lowRISC/barnacle-riot/src/primitives"
)

// Sentinel errors VerifyAgent can return; each corresponds to one of
// BarnacleVerifyAgent's named failure points.
var (
	ErrInvalidHeader    = errors.New("identity: invalid agent header")
	ErrDigestMismatch   = errors.New("identity: agent digest mismatch")
	ErrAuthBootFailed   = errors.New("identity: authenticated boot signature check failed")
	ErrRollbackDetected = errors.New("identity: rollback detected")
)

// VerifyAgent runs the measured-boot verification chain over the
// staged AgentHdr/AgentCode pair: header sniff, code digest, header
// digest, optional authenticated-boot signature check, and rollback
// check. On success it derives (or reuses) the compound identity and
// returns the updated FwCache — but does not persist it; callers that
// want the write committed call CommitCache, keeping "verify" and
// "mutate flash" as separate, individually-testable steps (Testable
// Property 7: no flash mutation before verification completes).
func (e *Engine) VerifyAgent(devID flash.FwDeviceID, issued flash.IssuedCerts) (flash.FwCache, error) {
	hdr, err := e.readAgentHdr()
	if err != nil {
		return flash.FwCache{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	digest, err := e.agentDigest(hdr)
	if err != nil {
		e.log().Error(err)
		return flash.FwCache{}, ErrDigestMismatch
	}

	hdrDigestSrc := hdr.Sign.Encode()
	hdrDigest := e.Provider.Hash(hdrDigestSrc)

	if issued.AuthenticatedBootEnabled() {
		sig := primitives.ECCSignature{R: hdr.SigR, S: hdr.SigS}
		pub := primitives.ECCPublicKey{X: issued.CodeAuthPub[:len(issued.CodeAuthPub)/2], Y: issued.CodeAuthPub[len(issued.CodeAuthPub)/2:]}
		if err := e.Provider.VerifyDigest(hdrDigest[:], sig, pub); err != nil {
			e.log().Error(fmt.Errorf("%w: %v", ErrAuthBootFailed, err))
			return flash.FwCache{}, ErrAuthBootFailed
		}
	}

	cache, cacheErr := e.readCache()
	cacheValid := cacheErr == nil && cache.Valid()

	if cacheValid && cache.AgentHdrDigest == hdrDigest {
		// Testable Property 8: identical agent image, no-op.
		return cache, nil
	}

	if cacheValid {
		if err := e.checkRollback(cache, hdr.Sign); err != nil {
			if e.Config.Rollback == RollbackEnforce {
				return flash.FwCache{}, err
			}
			e.log().Warn(err)
		}
	}

	_ = digest // digest over AgentCode confirmed above; hdrDigest is what gets signed/cached
	return e.deriveCompoundCache(devID, hdr, hdrDigest)
}

func (e *Engine) checkRollback(cache flash.FwCache, sign flash.AgentSignable) error {
	if cache.LastVersion >= sign.AgentVersion {
		return fmt.Errorf("%w: version %d <= cached %d", ErrRollbackDetected, sign.AgentVersion, cache.LastVersion)
	}
	if cache.LastIssued >= sign.Issued {
		return fmt.Errorf("%w: issued %d <= cached %d", ErrRollbackDetected, sign.Issued, cache.LastIssued)
	}
	return nil
}

// deriveCompoundCache derives the per-firmware compound key pair from
// hdrDigest, builds and signs the alias certificate, and returns the
// FwCache record ready to be persisted by CommitCache.
func (e *Engine) deriveCompoundCache(devID flash.FwDeviceID, hdr flash.AgentHdr, hdrDigest [32]byte) (flash.FwCache, error) {
	compoundPub, compoundPriv, err := e.Provider.DeriveECCKey(hdrDigest[:], []byte(labelIdentity))
	if err != nil {
		return flash.FwCache{}, fmt.Errorf("identity: derive compound key: %w", err)
	}

	compoundPoint, err := e.Provider.ExportECCPublic(compoundPub)
	if err != nil {
		return flash.FwCache{}, fmt.Errorf("identity: export compound public key: %w", err)
	}
	serial, err := e.Provider.Kdf(32, compoundPoint, nil, []byte(labelSerial))
	if err != nil {
		return flash.FwCache{}, fmt.Errorf("identity: serial kdf: %w", err)
	}
	riot.SanitizeSerial(serial)

	data := riot.TBSData{
		SerialNumber: serial[:riot.SerialLength],
		Issuer:       riot.Name{CommonName: e.Config.IssuerCommon, Org: e.Config.IssuerOrg, Country: e.Config.IssuerCountry},
		Subject:      riot.Name{CommonName: hdr.Sign.Name, Org: e.Config.IssuerOrg, Country: e.Config.IssuerCountry},
		ValidFrom:    e.Config.ValidFrom,
		ValidTo:      e.Config.ValidTo,
	}
	devPub := primitives.ECCPublicKey{X: devID.PubX, Y: devID.PubY}
	devPriv := primitives.ECCPrivateKey{D: devID.PrivD}

	buf := make([]byte, derBufferSize)
	b := der.New(buf)
	if err := riot.BuildAliasCertTBS(b, e.Config.Curve, e.Provider, data, compoundPub, devPub, hdr.Sign.Digest[:]); err != nil {
		return flash.FwCache{}, fmt.Errorf("identity: build alias cert TBS: %w", err)
	}
	tbsDigest := e.Provider.Hash(b.Bytes())
	sig, err := e.Provider.Sign(tbsDigest[:], devPriv)
	if err != nil {
		return flash.FwCache{}, fmt.Errorf("identity: sign alias cert: %w", err)
	}
	if err := riot.Finalize(b, sig); err != nil {
		return flash.FwCache{}, fmt.Errorf("identity: finalize alias cert: %w", err)
	}
	pem, err := derToPEM(b.Bytes())
	if err != nil {
		return flash.FwCache{}, err
	}

	return flash.FwCache{
		Magic:          flash.Magic,
		LastIssued:     hdr.Sign.Issued,
		LastVersion:    hdr.Sign.AgentVersion,
		AgentHdrDigest: hdrDigest,
		CompoundPubX:   compoundPub.X,
		CompoundPubY:   compoundPub.Y,
		CompoundPrivD:  compoundPriv.D,
		CertPEM:        pem,
	}, nil
}

// CommitCache persists cache to FwCache flash if it differs from what
// is already stored, and reports whether a write occurred.
func (e *Engine) CommitCache(cache flash.FwCache) (wrote bool, err error) {
	current, currErr := e.readCache()
	if currErr == nil && current.Valid() && current.AgentHdrDigest == cache.AgentHdrDigest {
		return false, nil
	}
	if err := e.writeCache(cache); err != nil {
		return false, fmt.Errorf("identity: persist compound cache: %w", err)
	}
	return true, nil
}
