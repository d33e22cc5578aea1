// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package flash

import (
	"bytes"
	"testing"
)

func TestMemRegionFlashPagesRoundTrip(t *testing.T) {
	r := NewMemRegion(4096, 256)
	payload := bytes.Repeat([]byte{0xAB}, 256)
	if err := r.FlashPages(256, payload); err != nil {
		t.Fatalf("FlashPages() error = %v", err)
	}
	got := r.Read()[256:512]
	if !bytes.Equal(got, payload) {
		t.Errorf("Read() after FlashPages = % x, want % x", got, payload)
	}
}

func TestMemRegionRejectsUnaligned(t *testing.T) {
	r := NewMemRegion(4096, 256)
	if err := r.FlashPages(1, make([]byte, 256)); err != ErrPageUnaligned {
		t.Errorf("FlashPages(unaligned dst) error = %v, want ErrPageUnaligned", err)
	}
	if err := r.FlashPages(0, make([]byte, 1)); err != ErrPageUnaligned {
		t.Errorf("FlashPages(unaligned len) error = %v, want ErrPageUnaligned", err)
	}
}

func TestMemFirewallLocksRegion(t *testing.T) {
	r := NewMemRegion(4096, 256)
	fw := MemFirewall{}
	if err := fw.Engage(r); err != nil {
		t.Fatalf("Engage() error = %v", err)
	}
	if !r.Locked() {
		t.Fatalf("Locked() = false after Engage")
	}
	if err := r.FlashPages(0, make([]byte, 256)); err != ErrHardware {
		t.Errorf("FlashPages() after lock error = %v, want ErrHardware", err)
	}
}

func TestCertStoreAppendOverflow(t *testing.T) {
	cs := &CertStore{}
	big := bytes.Repeat([]byte{'A'}, MaxCertBagSize)
	if err := cs.Append(SlotDevice, big); err != ErrCertBagOverflow {
		t.Errorf("Append() error = %v, want ErrCertBagOverflow", err)
	}
}

func TestCertStoreAppendOrdersSlots(t *testing.T) {
	cs := &CertStore{}
	if err := cs.Append(SlotDevice, []byte("device-pem")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := cs.Append(SlotLoader, []byte("loader-pem")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if !bytes.HasPrefix(cs.CertTable[SlotDevice], []byte("device-pem")) {
		t.Errorf("CertTable[SlotDevice] = %q", cs.CertTable[SlotDevice])
	}
	if !bytes.HasPrefix(cs.CertTable[SlotLoader], []byte("loader-pem")) {
		t.Errorf("CertTable[SlotLoader] = %q", cs.CertTable[SlotLoader])
	}
	if cs.Cursor != len("device-pem")+1+len("loader-pem")+1 {
		t.Errorf("Cursor = %d, want %d", cs.Cursor, len("device-pem")+1+len("loader-pem")+1)
	}
}

func TestDFUModeString(t *testing.T) {
	got := DFUModeString(0x08004000, 150, false)
	want := "@Barnacle /0x08004000/99*004Kf,51*004Kf,01*04Kg"
	if got != want {
		t.Errorf("DFUModeString() = %q, want %q", got, want)
	}
}

func TestDFUModeStringWriteLocked(t *testing.T) {
	got := DFUModeString(0x08004000, 1, true)
	want := "@Barnacle /0x08004000/01*004Kf,01*04Ka"
	if got != want {
		t.Errorf("DFUModeString() = %q, want %q", got, want)
	}
}

func TestDFUModeStringZeroPages(t *testing.T) {
	got := DFUModeString(0, 0, false)
	want := "@Barnacle /0x00000000/01*04Kg"
	if got != want {
		t.Errorf("DFUModeString() = %q, want %q", got, want)
	}
}
