// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package simstore

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestRegionRoundTripsThroughWrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.sqlite")
	key := bytes.Repeat([]byte{0x42}, 32)
	s, err := Open(path, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	r, err := s.Region("FwCache", 4096, 256)
	if err != nil {
		t.Fatalf("Region() error = %v", err)
	}

	payload := bytes.Repeat([]byte{0xCD}, 256)
	if err := r.FlashPages(0, payload); err != nil {
		t.Fatalf("FlashPages() error = %v", err)
	}
	if got := r.Read()[:256]; !bytes.Equal(got, payload) {
		t.Errorf("Read() = % x, want % x", got, payload)
	}
}

func TestRegionPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.sqlite")
	key := bytes.Repeat([]byte{0x11}, 16)

	s1, err := Open(path, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	r1, err := s1.Region("FwDeviceId", 4096, 256)
	if err != nil {
		t.Fatalf("Region() error = %v", err)
	}
	payload := bytes.Repeat([]byte{0x7A}, 256)
	if err := r1.FlashPages(0, payload); err != nil {
		t.Fatalf("FlashPages() error = %v", err)
	}
	s1.Close()

	s2, err := Open(path, key)
	if err != nil {
		t.Fatalf("re-Open() error = %v", err)
	}
	defer s2.Close()
	r2, err := s2.Region("FwDeviceId", 4096, 256)
	if err != nil {
		t.Fatalf("Region() error = %v", err)
	}
	if got := r2.Read()[:256]; !bytes.Equal(got, payload) {
		t.Errorf("Read() after reopen = % x, want % x", got, payload)
	}
}

func TestFirewallLocksRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.sqlite")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	r, err := s.Region("FwCache", 4096, 256)
	if err != nil {
		t.Fatalf("Region() error = %v", err)
	}

	fw := Firewall{}
	if err := fw.Engage(r); err != nil {
		t.Fatalf("Engage() error = %v", err)
	}
	if !r.Locked() {
		t.Errorf("Locked() = false after Engage")
	}
	if err := r.FlashPages(0, make([]byte, 256)); err == nil {
		t.Errorf("FlashPages() on locked region succeeded, want error")
	}
}
