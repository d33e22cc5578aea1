// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"

	"github.com/lowRISC/barnacle-riot/src/flash"
)

// Handoff assembles the RAM records the next boot stage consumes
// (CertStore, CompoundID) from a completed boot's results, and engages
// memory protection over the persistent identity regions. It mirrors
// BarnacleVerifyAgent's tail section: certificate bag assembly in
// ROOT, DEVICE, LOADER order, then the firewall.
func (e *Engine) Handoff(issued flash.IssuedCerts, cache flash.FwCache) (flash.CertStore, flash.CompoundID, error) {
	store := flash.CertStore{Magic: flash.Magic}

	if issued.Provisioned() && len(issued.CertBagPEM[flash.SlotRoot]) != 0 {
		if err := store.Append(flash.SlotRoot, issued.CertBagPEM[flash.SlotRoot]); err != nil {
			return flash.CertStore{}, flash.CompoundID{}, fmt.Errorf("identity: append root cert: %w", err)
		}
	}

	if len(issued.CertBagPEM[flash.SlotDevice]) == 0 {
		return flash.CertStore{}, flash.CompoundID{}, fmt.Errorf("identity: no device certificate to hand off")
	}
	if err := store.Append(flash.SlotDevice, issued.CertBagPEM[flash.SlotDevice]); err != nil {
		return flash.CertStore{}, flash.CompoundID{}, fmt.Errorf("identity: append device cert: %w", err)
	}

	if len(cache.CertPEM) != 0 {
		if err := store.Append(flash.SlotLoader, cache.CertPEM); err != nil {
			return flash.CertStore{}, flash.CompoundID{}, fmt.Errorf("identity: append alias cert: %w", err)
		}
	}

	compound := flash.CompoundID{
		Magic: flash.Magic,
		PubX:  cache.CompoundPubX,
		PubY:  cache.CompoundPubY,
		PrivD: cache.CompoundPrivD,
	}

	if e.Protect != nil {
		if err := e.Protect.Engage(e.Regions.FwDeviceID, e.Regions.FwCache); err != nil {
			return flash.CertStore{}, flash.CompoundID{}, fmt.Errorf("identity: engage memory protection: %w", err)
		}
	}

	return store, compound, nil
}

// Boot runs the full cold/warm boot sequence: provision the device
// identity if absent, verify the staged agent, persist its compound
// cache if new, and hand off the resulting certificate bag. It is the
// single entry point cmd/barnacle-sim drives.
func (e *Engine) Boot(cdi []byte) (Result, flash.CertStore, flash.CompoundID, error) {
	devID, issued, err := e.InitialProvision(cdi)
	if err != nil {
		return Result{}, flash.CertStore{}, flash.CompoundID{}, err
	}

	cache, err := e.VerifyAgent(devID, issued)
	if err != nil {
		return Result{}, flash.CertStore{}, flash.CompoundID{}, err
	}
	if _, err := e.CommitCache(cache); err != nil {
		return Result{}, flash.CertStore{}, flash.CompoundID{}, err
	}

	store, compound, err := e.Handoff(issued, cache)
	if err != nil {
		return Result{}, flash.CertStore{}, flash.CompoundID{}, err
	}

	return Result{DeviceID: devID, IssuedCerts: issued, Cache: cache}, store, compound, nil
}
