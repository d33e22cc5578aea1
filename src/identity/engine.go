// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package identity is the measured-boot identity engine: given a
// hardware CDI and the flash regions a board exposes, it provisions a
// device identity on first boot, verifies the firmware ("agent")
// image staged for execution, derives a per-firmware compound key and
// alias certificate, and assembles the certificate bag the next boot
// stage consumes. It is the direct counterpart to the reference
// source's BarnacleInitialProvision / BarnacleVerifyAgent pair.
package identity

import (
	"bytes"
	"crypto/elliptic"
	"errors"
	"fmt"
	"time"

	"github.com/lowRISC/barnacle-riot/src/cert/riot"
	"github.com/lowRISC/barnacle-riot/src/der"
	"github.com/lowRISC/barnacle-riot/src/flash"
	"github.com/lowRISC/barnacle-riot/src/primitives"
)

// Logger is the minimal subset of the platform logger the engine
// drives its diagnostics through.
type Logger interface {
	Error(err error, intf ...interface{})
	Warn(err error, intf ...interface{})
}

// nopLogger discards every call; used when Engine.Log is nil.
type nopLogger struct{}

func (nopLogger) Error(error, ...interface{}) {}
func (nopLogger) Warn(error, ...interface{})  {}

// BarnacleVersion is the highest AgentHdr.HdrVersion this engine
// understands, the Go counterpart of BARNACLEVERSION.
const BarnacleVersion = 1

// derBufferSize bounds every TBS and certificate scratch buffer: large
// enough for the RIoT extension plus two X.501 names on any of the
// three supported curves.
const derBufferSize = 2048

// Identity labels, carried over from RIOT_LABEL_IDENTITY / RIOT_LABEL_SERIAL.
const (
	labelIdentity = "Identity"
	labelSerial   = "Serial"
)

// Config names the board's static identity strings and rollback
// policy; it is the Go analogue of the reference's compiled-in X.501
// constants ("CyReP Device", "Microsoft", "US").
type Config struct {
	Curve          elliptic.Curve
	IssuerCommon   string
	IssuerOrg      string
	IssuerCountry  string
	Rollback       RollbackMode
	ValidFrom      time.Time
	ValidTo        time.Time
	MaxHdrVersion  uint32
}

// DefaultConfig returns the reference source's own defaults (P-256,
// "CyReP Device"/"Microsoft"/"US", 2017-2037 validity), with
// RollbackEnforce rather than the source's log-only behavior.
func DefaultConfig() Config {
	return Config{
		Curve:         elliptic.P256(),
		IssuerCommon:  "CyReP Device",
		IssuerOrg:     "Microsoft",
		IssuerCountry: "US",
		Rollback:      RollbackEnforce,
		ValidFrom:     time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:       time.Date(2037, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxHdrVersion: BarnacleVersion,
	}
}

// Regions names the flash.Region set the engine reads and writes.
type Regions struct {
	FwDeviceID  flash.Region
	IssuedCerts flash.Region
	FwCache     flash.Region
	AgentHdr    flash.Region // read-only to the engine
	AgentCode   flash.Region // read-only to the engine
}

// Engine runs the measured-boot identity flow over a Provider and a
// fixed set of flash regions.
type Engine struct {
	Config    Config
	Regions   Regions
	Provider  primitives.Provider
	Protect   flash.MemoryProtection
	Log       Logger
}

func (e *Engine) log() Logger {
	if e.Log == nil {
		return nopLogger{}
	}
	return e.Log
}

// Result is everything a completed boot produced, handed to Handoff.
type Result struct {
	DeviceID    flash.FwDeviceID
	IssuedCerts flash.IssuedCerts
	Cache       flash.FwCache
}

// InitialProvision derives a fresh device identity from cdi
// and, if needed, a self-signed device certificate, matching
// BarnacleInitialProvision. It is idempotent: if FwDeviceID and
// IssuedCerts are already valid, it returns their current contents
// unchanged and performs no flash writes.
func (e *Engine) InitialProvision(cdi []byte) (flash.FwDeviceID, flash.IssuedCerts, error) {
	devID, err := e.readDeviceID()
	generateCerts := false

	if err != nil || !devID.Valid() {
		pub, priv, derivErr := e.Provider.DeriveECCKey(cdi, []byte(labelIdentity))
		if derivErr != nil {
			e.log().Error(fmt.Errorf("identity: derive device key: %w", derivErr))
			return flash.FwDeviceID{}, flash.IssuedCerts{}, derivErr
		}
		devID = flash.FwDeviceID{Magic: flash.Magic, PubX: pub.X, PubY: pub.Y, PrivD: priv.D}
		if err := e.writeDeviceID(devID); err != nil {
			e.log().Error(fmt.Errorf("identity: persist device id: %w", err))
			return flash.FwDeviceID{}, flash.IssuedCerts{}, err
		}
		generateCerts = true
	}

	issued, err := e.readIssuedCerts()
	if generateCerts || err != nil || !issued.Valid() {
		issued, err = e.bootstrapSelfSignedDevice(devID)
		if err != nil {
			return devID, flash.IssuedCerts{}, err
		}
		if err := e.writeIssuedCerts(issued); err != nil {
			e.log().Error(fmt.Errorf("identity: persist issued certs: %w", err))
			return devID, flash.IssuedCerts{}, err
		}
	}

	return devID, issued, nil
}

// bootstrapSelfSignedDevice builds a self-signed device certificate
// over devID and wraps it in a fresh IssuedCerts record with only the
// DEVICE slot populated, matching the reference's unprovisioned-factory
// fallback.
func (e *Engine) bootstrapSelfSignedDevice(devID flash.FwDeviceID) (flash.IssuedCerts, error) {
	pub := primitives.ECCPublicKey{X: devID.PubX, Y: devID.PubY}
	priv := primitives.ECCPrivateKey{D: devID.PrivD}

	devPoint, err := e.Provider.ExportECCPublic(pub)
	if err != nil {
		return flash.IssuedCerts{}, fmt.Errorf("identity: export device public key: %w", err)
	}
	serial, err := e.Provider.Kdf(32, devPoint, nil, []byte(labelSerial))
	if err != nil {
		return flash.IssuedCerts{}, fmt.Errorf("identity: serial kdf: %w", err)
	}
	riot.SanitizeSerial(serial)

	data := riot.TBSData{
		SerialNumber: serial[:riot.SerialLength],
		Issuer:       riot.Name{CommonName: e.Config.IssuerCommon, Org: e.Config.IssuerOrg, Country: e.Config.IssuerCountry},
		Subject:      riot.Name{CommonName: e.Config.IssuerCommon, Org: e.Config.IssuerOrg, Country: e.Config.IssuerCountry},
		ValidFrom:    e.Config.ValidFrom,
		ValidTo:      e.Config.ValidTo,
	}

	buf := make([]byte, derBufferSize)
	b := der.New(buf)
	if err := riot.BuildDeviceCertTBS(b, e.Config.Curve, e.Provider, data, pub, nil); err != nil {
		return flash.IssuedCerts{}, fmt.Errorf("identity: build device cert TBS: %w", err)
	}
	digest := e.Provider.Hash(b.Bytes())
	sig, err := e.Provider.Sign(digest[:], priv)
	if err != nil {
		return flash.IssuedCerts{}, fmt.Errorf("identity: sign device cert: %w", err)
	}
	if err := riot.Finalize(b, sig); err != nil {
		return flash.IssuedCerts{}, fmt.Errorf("identity: finalize device cert: %w", err)
	}

	issued := flash.IssuedCerts{Magic: flash.Magic}
	issued.CertTable[flash.SlotDevice] = append([]byte(nil), b.Bytes()...)
	pemBytes, err := derToPEM(b.Bytes())
	if err != nil {
		return flash.IssuedCerts{}, err
	}
	issued.CertBagPEM[flash.SlotDevice] = pemBytes
	return issued, nil
}

// agentDigest returns SHA-256(AgentCode[:sign.Size]) and checks it
// against the AgentHdr's claimed layout, matching
// BarnacleVerifyAgent's header sniff and code digest steps (the
// layout check — AgentCode starting exactly where the header claims —
// is structural here: AgentCode is its own Region, not an address
// offset from AgentHdr). It never mutates flash.
func (e *Engine) agentDigest(hdr flash.AgentHdr) ([32]byte, error) {
	if !hdr.Valid(e.Config.MaxHdrVersion) {
		return [32]byte{}, errors.New("identity: invalid agent header")
	}
	code := e.Regions.AgentCode.Read()
	if uint32(len(code)) < hdr.Sign.Size {
		return [32]byte{}, errors.New("identity: agent code shorter than claimed size")
	}
	digest := e.Provider.Hash(code[:hdr.Sign.Size])
	if !bytes.Equal(digest[:], hdr.Sign.Digest[:]) {
		return [32]byte{}, errors.New("identity: agent digest mismatch")
	}
	return digest, nil
}
