// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package flash models the fixed, linker-placed persistent records the
// identity engine reads and writes, and the page-program primitive and
// memory-protection hardware it is built over. Every record begins
// with Magic; its absence means "uninitialized or erased" per the
// source's own convention (BARNACLEMAGIC).
package flash

import "encoding/binary"

// Magic is the 32-bit constant that opens every persistent and
// handoff record. It is deliberately neither all-zero nor all-one, so
// an erased (0xFF-filled) or zeroed flash page is never mistaken for a
// valid record.
const Magic uint32 = 0xB47C1E5A

// Flags bits carried in IssuedCerts.Flags.
const (
	FlagProvisioned      uint32 = 1 << 0
	FlagAuthenticatedBoot uint32 = 1 << 1
	FlagWritelock         uint32 = 1 << 2
)

// Certificate slot indices, shared by IssuedCerts.CertTable and
// CertStore.CertTable.
const (
	SlotRoot = iota
	SlotIntermediate
	SlotDevice
	SlotLoader
	SlotAgent
	slotCount
)

// FwDeviceID is the device's hardware-rooted identity key pair,
// written exactly once on first boot and never overwritten.
type FwDeviceID struct {
	Magic   uint32
	PubX    []byte
	PubY    []byte
	PrivD   []byte
}

// Valid reports whether the record's magic matches Magic.
func (r *FwDeviceID) Valid() bool { return r != nil && r.Magic == Magic }

// IssuedCerts holds the factory-provisioned certificate chain and the
// flags gating authenticated boot and write-locking.
type IssuedCerts struct {
	Magic         uint32
	Flags         uint32
	CodeAuthPub   []byte // zero-length when authenticated boot is not configured
	CertTable     [slotCount][]byte // DER, present for ROOT/INTERMEDIATE/DEVICE
	CertBagPEM    [slotCount][]byte // PEM, present for ROOT/INTERMEDIATE/DEVICE
}

func (r *IssuedCerts) Valid() bool { return r != nil && r.Magic == Magic }

// Provisioned reports whether FlagProvisioned is set.
func (r *IssuedCerts) Provisioned() bool {
	return r != nil && r.Flags&FlagProvisioned != 0
}

// AuthenticatedBootEnabled reports whether both FlagProvisioned and
// FlagAuthenticatedBoot are set and a code-signing key is configured.
func (r *IssuedCerts) AuthenticatedBootEnabled() bool {
	return r != nil && r.Flags&(FlagProvisioned|FlagAuthenticatedBoot) == (FlagProvisioned|FlagAuthenticatedBoot) && len(r.CodeAuthPub) != 0
}

// FwCache holds the cached per-firmware compound identity: the alias
// key pair and certificate derived from the last-verified agent
// image, and the rollback bookkeeping fields.
type FwCache struct {
	Magic           uint32
	LastIssued      int64
	LastVersion     uint32
	AgentHdrDigest  [32]byte
	CompoundPubX    []byte
	CompoundPubY    []byte
	CompoundPrivD   []byte
	CertPEM         []byte
}

func (r *FwCache) Valid() bool { return r != nil && r.Magic == Magic }

// AgentSignable is the contiguous, canonically-encoded subset of
// AgentHdr that is hashed and, optionally, signature-checked. Encoding
// it explicitly (rather than hashing an in-memory struct) satisfies
// the layout invariant the source enforces implicitly through a
// compiler-packed struct: the digest is over a byte range with no
// padding and a fixed field order.
type AgentSignable struct {
	Version uint32
	Size    uint32
	Name    string
	AgentVersion  uint32
	Issued  int64
	Digest  [32]byte
}

// Encode returns the canonical byte encoding of a, the exact bytes
// AgentHdr digests and signs.
func (a AgentSignable) Encode() []byte {
	nameBytes := []byte(a.Name)
	buf := make([]byte, 0, 4+4+2+len(nameBytes)+4+8+32)
	buf = binary.LittleEndian.AppendUint32(buf, a.Version)
	buf = binary.LittleEndian.AppendUint32(buf, a.Size)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(nameBytes)))
	buf = append(buf, nameBytes...)
	buf = binary.LittleEndian.AppendUint32(buf, a.AgentVersion)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(a.Issued))
	buf = append(buf, a.Digest[:]...)
	return buf
}

// AgentHdr is the immutable, off-device-signed header preceding
// AgentCode in flash.
type AgentHdr struct {
	HdrMagic   uint32
	HdrVersion uint32
	Sign       AgentSignable
	SigR       []byte
	SigS       []byte
}

func (h *AgentHdr) Valid(maxVersion uint32) bool {
	return h != nil && h.HdrMagic == Magic && h.HdrVersion <= maxVersion
}

// CompoundID is the RAM handoff record carrying the derived compound
// key pair to the next boot stage.
type CompoundID struct {
	Magic uint32
	PubX  []byte
	PubY  []byte
	PrivD []byte
}

// CertStore is the RAM handoff record carrying the assembled
// certificate bag the next stage consumes.
type CertStore struct {
	Magic     uint32
	CertTable [slotCount][]byte // by slot: the sub-slice of CertBag holding that PEM and its NUL
	Cursor    int
	CertBag   []byte
}

// MaxCertBagSize bounds CertStore.CertBag; Append fails with
// ErrCertBagOverflow rather than grow past it.
const MaxCertBagSize = 8192

// Append writes a NUL-terminated PEM blob into the cert bag at the
// given slot, advancing the cursor. It fails (rather than silently
// truncating) if the bag would overflow, matching the source's
// overflow-checked append discipline.
func (c *CertStore) Append(slot int, pem []byte) error {
	need := c.Cursor + len(pem) + 1
	if need > MaxCertBagSize {
		return ErrCertBagOverflow
	}
	if c.CertBag == nil {
		c.CertBag = make([]byte, 0, MaxCertBagSize)
	}
	start := c.Cursor
	c.CertBag = append(c.CertBag[:c.Cursor], pem...)
	c.CertBag = append(c.CertBag, 0x00)
	c.Cursor += len(pem) + 1
	c.CertTable[slot] = c.CertBag[start:c.Cursor]
	return nil
}
