// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"crypto/x509"
	"testing"
	"time"

	"github.com/lowRISC/barnacle-riot/src/flash"
	"github.com/lowRISC/barnacle-riot/src/primitives"
)

const (
	testPageSize       = 256
	testAgentCodeSize  = 4096
	testAgentHdrRegion = 1024
)

func newTestEngine(t *testing.T) (*Engine, *flash.MemRegion, *flash.MemRegion) {
	t.Helper()
	sw := primitives.NewSoftware(DefaultConfig().Curve)

	agentCode := flash.NewMemRegion(testAgentCodeSize, testPageSize)
	agentHdr := flash.NewMemRegion(testAgentHdrRegion, testPageSize)

	e := &Engine{
		Config: DefaultConfig(),
		Regions: Regions{
			FwDeviceID:  flash.NewMemRegion(testPageSize*4, testPageSize),
			IssuedCerts: flash.NewMemRegion(testPageSize*8, testPageSize),
			FwCache:     flash.NewMemRegion(testPageSize*8, testPageSize),
			AgentHdr:    agentHdr,
			AgentCode:   agentCode,
		},
		Provider: sw,
		Protect:  flash.MemFirewall{},
	}
	return e, agentHdr, agentCode
}

// stageAgent writes codeContent into the AgentCode region and a
// matching, digest-correct AgentHdr into the AgentHdr region.
func stageAgent(t *testing.T, e *Engine, agentHdr, agentCode *flash.MemRegion, name string, version uint32, issued int64, codeContent []byte) flash.AgentHdr {
	t.Helper()
	padded := make([]byte, testAgentCodeSize)
	for i := range padded {
		padded[i] = 0xFF
	}
	copy(padded, codeContent)
	if err := agentCode.FlashPages(0, padded); err != nil {
		t.Fatalf("stage agent code: %v", err)
	}

	digest := e.Provider.Hash(codeContent)
	sign := flash.AgentSignable{
		Version:      1,
		Size:         uint32(len(codeContent)),
		Name:         name,
		AgentVersion: version,
		Issued:       issued,
		Digest:       digest,
	}
	hdr := flash.AgentHdr{HdrMagic: flash.Magic, HdrVersion: 1, Sign: sign}
	if err := writeRecord(agentHdr, hdr); err != nil {
		t.Fatalf("stage agent header: %v", err)
	}
	return hdr
}

func TestInitialProvisionIsDeterministicAndIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	cdi := bytes.Repeat([]byte{0x42}, 32)

	devID1, issued1, err := e.InitialProvision(cdi)
	if err != nil {
		t.Fatalf("first InitialProvision: %v", err)
	}
	if !devID1.Valid() || !issued1.Valid() {
		t.Fatalf("expected valid records after first boot")
	}

	devID2, issued2, err := e.InitialProvision(cdi)
	if err != nil {
		t.Fatalf("second InitialProvision: %v", err)
	}
	if !bytes.Equal(devID1.PrivD, devID2.PrivD) {
		t.Fatalf("device identity must not be regenerated once valid")
	}
	if !bytes.Equal(issued1.CertTable[flash.SlotDevice], issued2.CertTable[flash.SlotDevice]) {
		t.Fatalf("device certificate must not be reissued on warm boot")
	}
}

func TestInitialProvisionCertParsesAsX509(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, issued, err := e.InitialProvision(bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("InitialProvision: %v", err)
	}
	cert, err := x509.ParseCertificate(issued.CertTable[flash.SlotDevice])
	if err != nil {
		t.Fatalf("parse device cert: %v", err)
	}
	if cert.Subject.CommonName != e.Config.IssuerCommon {
		t.Fatalf("unexpected subject CN %q", cert.Subject.CommonName)
	}
}

// S1: cold boot. No prior state; InitialProvision bootstraps identity
// and a self-signed cert, then VerifyAgent issues a fresh alias cert.
func TestScenarioColdBoot(t *testing.T) {
	e, agentHdr, agentCode := newTestEngine(t)
	devID, issued, err := e.InitialProvision(bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("InitialProvision: %v", err)
	}

	stageAgent(t, e, agentHdr, agentCode, "loader", 1, 1000, []byte("firmware-v1"))

	cache, err := e.VerifyAgent(devID, issued)
	if err != nil {
		t.Fatalf("VerifyAgent: %v", err)
	}
	if !cache.Valid() || len(cache.CertPEM) == 0 {
		t.Fatalf("expected a freshly issued alias cache")
	}
	wrote, err := e.CommitCache(cache)
	if err != nil || !wrote {
		t.Fatalf("expected CommitCache to write on cold boot: wrote=%v err=%v", wrote, err)
	}

	store, compound, err := e.Handoff(issued, cache)
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if len(store.CertTable[flash.SlotDevice]) == 0 || len(store.CertTable[flash.SlotLoader]) == 0 {
		t.Fatalf("expected device and loader certs in handoff bag")
	}
	if len(compound.PrivD) == 0 {
		t.Fatalf("expected a compound private key in handoff")
	}
	if !e.Regions.FwDeviceID.Locked() || !e.Regions.FwCache.Locked() {
		t.Fatalf("expected memory protection engaged after handoff")
	}
}

// S2: warm boot, unchanged agent image. VerifyAgent must be a no-op
// against flash (Testable Property 8) and return the same cache.
func TestScenarioWarmBootUnchanged(t *testing.T) {
	e, agentHdr, agentCode := newTestEngine(t)
	devID, issued, _ := e.InitialProvision(bytes.Repeat([]byte{0x02}, 32))
	stageAgent(t, e, agentHdr, agentCode, "loader", 1, 1000, []byte("firmware-v1"))

	first, err := e.VerifyAgent(devID, issued)
	if err != nil {
		t.Fatalf("first VerifyAgent: %v", err)
	}
	if _, err := e.CommitCache(first); err != nil {
		t.Fatalf("commit first cache: %v", err)
	}

	second, err := e.VerifyAgent(devID, issued)
	if err != nil {
		t.Fatalf("second VerifyAgent: %v", err)
	}
	if !bytes.Equal(first.CompoundPrivD, second.CompoundPrivD) {
		t.Fatalf("expected identical compound key across unchanged warm boot")
	}
	wrote, err := e.CommitCache(second)
	if err != nil {
		t.Fatalf("commit second cache: %v", err)
	}
	if wrote {
		t.Fatalf("expected no flash write for an unchanged agent image")
	}
}

// S3: warm boot, updated agent. A newer version/issuance must derive a
// new compound key and alias cert, and commit it.
func TestScenarioWarmBootUpdatedAgent(t *testing.T) {
	e, agentHdr, agentCode := newTestEngine(t)
	devID, issued, _ := e.InitialProvision(bytes.Repeat([]byte{0x03}, 32))
	stageAgent(t, e, agentHdr, agentCode, "loader", 1, 1000, []byte("firmware-v1"))

	first, err := e.VerifyAgent(devID, issued)
	if err != nil {
		t.Fatalf("first VerifyAgent: %v", err)
	}
	if _, err := e.CommitCache(first); err != nil {
		t.Fatalf("commit first cache: %v", err)
	}

	stageAgent(t, e, agentHdr, agentCode, "loader", 2, 2000, []byte("firmware-v2-longer"))
	second, err := e.VerifyAgent(devID, issued)
	if err != nil {
		t.Fatalf("second VerifyAgent: %v", err)
	}
	if bytes.Equal(first.CompoundPrivD, second.CompoundPrivD) {
		t.Fatalf("expected a new compound key for an updated agent image")
	}
	if second.LastVersion != 2 {
		t.Fatalf("expected cached LastVersion to advance to 2, got %d", second.LastVersion)
	}
	wrote, err := e.CommitCache(second)
	if err != nil || !wrote {
		t.Fatalf("expected CommitCache to persist the updated cache: wrote=%v err=%v", wrote, err)
	}
}

// S4: authenticated boot enabled, signature does not verify under the
// configured code-signing key.
func TestScenarioAuthenticatedBootWrongSignature(t *testing.T) {
	e, agentHdr, agentCode := newTestEngine(t)
	devID, issued, _ := e.InitialProvision(bytes.Repeat([]byte{0x04}, 32))

	authPub, _, err := e.Provider.DeriveECCKey([]byte("unrelated-seed"), []byte("CodeAuth"))
	if err != nil {
		t.Fatalf("derive auth key: %v", err)
	}
	point, err := e.Provider.ExportECCPublic(authPub)
	if err != nil {
		t.Fatalf("export auth key: %v", err)
	}
	issued.Flags = flash.FlagProvisioned | flash.FlagAuthenticatedBoot
	issued.CodeAuthPub = point[1:] // strip the 0x04 prefix into X||Y form expected by VerifyAgent

	hdr := stageAgent(t, e, agentHdr, agentCode, "loader", 1, 1000, []byte("firmware-v1"))
	hdr.SigR = []byte{0x01, 0x02}
	hdr.SigS = []byte{0x03, 0x04}
	if err := writeRecord(agentHdr, hdr); err != nil {
		t.Fatalf("restage header with bogus signature: %v", err)
	}

	if _, err := e.VerifyAgent(devID, issued); err == nil {
		t.Fatalf("expected VerifyAgent to reject an unverifiable authenticated-boot signature")
	}
}

// S6: tampered AgentCode must fail the digest check before any
// signature or rollback logic runs.
func TestScenarioTamperedAgentCode(t *testing.T) {
	e, agentHdr, agentCode := newTestEngine(t)
	devID, issued, _ := e.InitialProvision(bytes.Repeat([]byte{0x06}, 32))
	stageAgent(t, e, agentHdr, agentCode, "loader", 1, 1000, []byte("firmware-v1"))

	tampered := make([]byte, testAgentCodeSize)
	for i := range tampered {
		tampered[i] = 0xAA
	}
	if err := agentCode.FlashPages(0, tampered); err != nil {
		t.Fatalf("tamper agent code: %v", err)
	}

	if _, err := e.VerifyAgent(devID, issued); err == nil {
		t.Fatalf("expected VerifyAgent to reject a tampered agent image")
	}
}

func TestRollbackEnforceRejectsOlderAgent(t *testing.T) {
	e, agentHdr, agentCode := newTestEngine(t)
	devID, issued, _ := e.InitialProvision(bytes.Repeat([]byte{0x07}, 32))
	stageAgent(t, e, agentHdr, agentCode, "loader", 5, 5000, []byte("firmware-v5"))
	cache, err := e.VerifyAgent(devID, issued)
	if err != nil {
		t.Fatalf("VerifyAgent v5: %v", err)
	}
	if _, err := e.CommitCache(cache); err != nil {
		t.Fatalf("commit v5 cache: %v", err)
	}

	stageAgent(t, e, agentHdr, agentCode, "loader", 3, 3000, []byte("firmware-v3-older"))
	if _, err := e.VerifyAgent(devID, issued); err == nil {
		t.Fatalf("expected RollbackEnforce to reject an older agent version")
	}
}

// recordingLogger counts Warn calls so a test can observe them.
type recordingLogger struct{ warns int }

func (*recordingLogger) Error(error, ...interface{})  {}
func (r *recordingLogger) Warn(error, ...interface{}) { r.warns++ }

func TestRollbackWarnAllowsOlderAgentButLogs(t *testing.T) {
	e, agentHdr, agentCode := newTestEngine(t)
	e.Config.Rollback = RollbackWarn
	rec := &recordingLogger{}
	e.Log = rec
	devID, issued, _ := e.InitialProvision(bytes.Repeat([]byte{0x08}, 32))
	stageAgent(t, e, agentHdr, agentCode, "loader", 5, 5000, []byte("firmware-v5"))
	cache, err := e.VerifyAgent(devID, issued)
	if err != nil {
		t.Fatalf("VerifyAgent v5: %v", err)
	}
	if _, err := e.CommitCache(cache); err != nil {
		t.Fatalf("commit v5 cache: %v", err)
	}

	stageAgent(t, e, agentHdr, agentCode, "loader", 3, 3000, []byte("firmware-v3-older"))
	if _, err := e.VerifyAgent(devID, issued); err != nil {
		t.Fatalf("expected RollbackWarn to tolerate an older agent version, got %v", err)
	}
	if rec.warns == 0 {
		t.Fatalf("expected RollbackWarn to log the rollback detection")
	}
}

func TestBootEndToEnd(t *testing.T) {
	e, agentHdr, agentCode := newTestEngine(t)
	stageAgent(t, e, agentHdr, agentCode, "loader", 1, time.Now().Unix(), []byte("firmware-v1"))

	result, store, compound, err := e.Boot(bytes.Repeat([]byte{0x09}, 32))
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !result.DeviceID.Valid() || !result.IssuedCerts.Valid() || !result.Cache.Valid() {
		t.Fatalf("expected a fully populated boot result")
	}
	if len(store.CertTable[flash.SlotDevice]) == 0 {
		t.Fatalf("expected a device cert in the handoff bag")
	}
	if len(compound.PrivD) == 0 {
		t.Fatalf("expected a compound key in the handoff")
	}
}
