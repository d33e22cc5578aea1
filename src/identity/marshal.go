// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lowRISC/barnacle-riot/src/flash"
)

// readRecord decodes whatever is currently programmed into r as a
// JSON-encoded record of type T. An erased page (trailing 0xFF) or a
// short/corrupt record decodes to the zero value with ok=false,
// standing in for the source's magic-word check on a raw memory
// layout: the Region abstraction (SPEC_FULL §2) owns the wire
// encoding, so "absent or corrupt" is whatever that encoding rejects.
func readRecord[T any](r flash.Region) (T, bool) {
	var out T
	raw := r.Read()
	raw = bytes.TrimRight(raw, "\xff")
	if len(raw) == 0 {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// writeRecord erases and reprograms r's full page-aligned span with
// the JSON encoding of v, padded to a page boundary.
func writeRecord[T any](r flash.Region, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("identity: encode record: %w", err)
	}
	page := r.PageSize()
	size := len(r.Read())
	padded := ((len(raw) / page) + 1) * page
	if padded > size {
		return fmt.Errorf("identity: encoded record (%d bytes) exceeds region size (%d bytes)", len(raw), size)
	}
	buf := make([]byte, padded)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf, raw)
	return r.FlashPages(0, buf)
}

func (e *Engine) readDeviceID() (flash.FwDeviceID, error) {
	v, ok := readRecord[flash.FwDeviceID](e.Regions.FwDeviceID)
	if !ok {
		return flash.FwDeviceID{}, errRecordAbsent
	}
	return v, nil
}

func (e *Engine) writeDeviceID(v flash.FwDeviceID) error {
	return writeRecord(e.Regions.FwDeviceID, v)
}

func (e *Engine) readIssuedCerts() (flash.IssuedCerts, error) {
	v, ok := readRecord[flash.IssuedCerts](e.Regions.IssuedCerts)
	if !ok {
		return flash.IssuedCerts{}, errRecordAbsent
	}
	return v, nil
}

func (e *Engine) writeIssuedCerts(v flash.IssuedCerts) error {
	return writeRecord(e.Regions.IssuedCerts, v)
}

func (e *Engine) readCache() (flash.FwCache, error) {
	v, ok := readRecord[flash.FwCache](e.Regions.FwCache)
	if !ok {
		return flash.FwCache{}, errRecordAbsent
	}
	return v, nil
}

func (e *Engine) writeCache(v flash.FwCache) error {
	return writeRecord(e.Regions.FwCache, v)
}

func (e *Engine) readAgentHdr() (flash.AgentHdr, error) {
	v, ok := readRecord[flash.AgentHdr](e.Regions.AgentHdr)
	if !ok {
		return flash.AgentHdr{}, errRecordAbsent
	}
	return v, nil
}

// WriteAgentHdr programs hdr into r using the engine's own record
// encoding. It exists for host tooling that stages a firmware image
// and its header directly into a Region, outside of a running Engine.
func WriteAgentHdr(r flash.Region, hdr flash.AgentHdr) error {
	return writeRecord(r, hdr)
}

// WriteIssuedCerts programs v into r using the engine's own record
// encoding. It exists for factory tooling that sets IssuedCerts.Flags
// (e.g. FlagProvisioned, FlagWritelock) directly, outside of a running
// Engine's boot path.
func WriteIssuedCerts(r flash.Region, v flash.IssuedCerts) error {
	return writeRecord(r, v)
}

var errRecordAbsent = fmt.Errorf("identity: record absent or erased")

func derToPEM(der []byte) ([]byte, error) {
	return pemEncodeCertificate(der)
}
