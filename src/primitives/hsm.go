// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"crypto/elliptic"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// curveOID returns the DER encoding of a named curve's OID, the form
// PKCS#11 expects in CKA_EC_PARAMS.
func curveOID(c elliptic.Curve) ([]byte, error) {
	switch c.Params().Name {
	case "P-256":
		return []byte{0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07}, nil
	case "P-384":
		return []byte{0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x22}, nil
	case "P-521":
		return []byte{0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x23}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurve, c.Params().Name)
	}
}

// HSM is a Provider backed by a PKCS#11 token. It is used by bench
// hardware whose RNG and ECC engine are exposed through a PKCS#11
// shared library rather than bound into the Go process directly
// (grounded on the teacher's src/pk11 package). Deterministic key
// derivation (DeriveECCKey, Kdf) is still computed in software — the
// same RiotCrypt_DeriveEccKey label-based derivation the target runs —
// and only the resulting scalar is imported into the token as a
// sensitive object before any signing takes place, so the private
// scalar exists outside the token only for the instant of import.
type HSM struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	curve   elliptic.Curve
	sw      *Software // derivation math shared with the software Provider

	mu sync.Mutex
}

// OpenHSM loads the PKCS#11 module at soPath, opens a session against
// slot, and logs in with pin.
func OpenHSM(soPath string, slot uint, pin string, curve elliptic.Curve) (*HSM, error) {
	ctx := pkcs11.New(soPath)
	if ctx == nil {
		return nil, fmt.Errorf("primitives: could not load PKCS#11 module %q", soPath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("primitives: initialize failed: %w", err)
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return nil, fmt.Errorf("primitives: get slot list failed: %w", err)
	}
	if int(slot) >= len(slots) {
		return nil, fmt.Errorf("primitives: slot %d not present (found %d slots)", slot, len(slots))
	}

	session, err := ctx.OpenSession(slots[slot], pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, fmt.Errorf("primitives: open session failed: %w", err)
	}
	if err := ctx.Login(session, pkcs11.CKU_USER, pin); err != nil {
		return nil, fmt.Errorf("primitives: login failed: %w", err)
	}

	return &HSM{ctx: ctx, session: session, curve: curve, sw: NewSoftware(curve)}, nil
}

// Close logs out, closes the session, and finalizes the module.
func (h *HSM) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctx.Logout(h.session)
	h.ctx.CloseSession(h.session)
	return h.ctx.Finalize()
}

func (h *HSM) Curve() elliptic.Curve { return h.curve }

func (h *HSM) RandomFill(buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, err := h.ctx.GenerateRandom(h.session, len(buf))
	if err != nil {
		return fmt.Errorf("primitives: HSM GenerateRandom failed: %w", err)
	}
	copy(buf, data)
	return nil
}

func (h *HSM) Hash(data []byte) [32]byte { return sha256.Sum256(data) }
func (h *HSM) Sha1(data []byte) [20]byte { return sha1.Sum(data) }

func (h *HSM) DeriveECCKey(seed, label []byte) (ECCPublicKey, ECCPrivateKey, error) {
	// The derivation arithmetic has nothing to do with the token; only
	// the resulting scalar is ever handed to the HSM, at sign time.
	return h.sw.DeriveECCKey(seed, label)
}

func (h *HSM) Kdf(outLen int, ikm, salt, label []byte) ([]byte, error) {
	return h.sw.Kdf(outLen, ikm, salt, label)
}

// Sign imports priv as a sensitive, session-scoped (non-token) private
// key object, signs digest with it under CKM_ECDSA, and destroys the
// object before returning — the scalar computed in software never
// persists inside the token.
func (h *HSM) Sign(digest []byte, priv ECCPrivateKey) (ECCSignature, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	oid, err := curveOID(h.curve)
	if err != nil {
		return ECCSignature{}, err
	}

	tpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, oid),
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, priv.D),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, false),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
	}
	obj, err := h.ctx.CreateObject(h.session, tpl)
	if err != nil {
		return ECCSignature{}, fmt.Errorf("primitives: import private key failed: %w", err)
	}
	defer h.ctx.DestroyObject(h.session, obj)

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}
	if err := h.ctx.SignInit(h.session, mech, obj); err != nil {
		return ECCSignature{}, fmt.Errorf("primitives: sign init failed: %w", err)
	}
	sig, err := h.ctx.Sign(h.session, digest)
	if err != nil {
		return ECCSignature{}, fmt.Errorf("primitives: sign failed: %w", err)
	}

	half := len(sig) / 2
	return ECCSignature{R: sig[:half], S: sig[half:]}, nil
}

func (h *HSM) VerifyDigest(digest []byte, sig ECCSignature, pub ECCPublicKey) error {
	return h.sw.VerifyDigest(digest, sig, pub)
}

func (h *HSM) ExportECCPublic(pub ECCPublicKey) ([]byte, error) {
	return h.sw.ExportECCPublic(pub)
}

func (h *HSM) MpiToFixed(v []byte) ([]byte, error) {
	return h.sw.MpiToFixed(v)
}
