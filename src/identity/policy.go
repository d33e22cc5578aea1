// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package identity

// RollbackMode selects what VerifyAgent does when it detects that the
// incoming agent's version or issuance timestamp does not strictly
// advance past FwCache's cached values.
//
// The reference source computes this check and then comments out the
// rejection (`// result = false; // goto Cleanup;`), so it only ever
// logs. That is a latent anti-rollback hole: a replayed older agent
// image boots successfully and is re-cached. RollbackEnforce closes
// it; RollbackWarn preserves the source's shipped behavior for boards
// that still need to boot already-deployed older agent images during
// a staged rollout.
type RollbackMode int

const (
	// RollbackEnforce fails VerifyAgent when the agent does not
	// strictly advance version and issuance. This is the default: a
	// boot-time security gate should not ship as log-only.
	RollbackEnforce RollbackMode = iota

	// RollbackWarn logs a rollback detection but continues, matching
	// the reference source's shipped behavior verbatim.
	RollbackWarn
)
