// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	ripem "github.com/lowRISC/barnacle-riot/src/pem"
)

// pemEncodeCertificate is the engine's DERtoPEM equivalent.
func pemEncodeCertificate(der []byte) ([]byte, error) {
	return ripem.Encode(der, ripem.LabelCertificate)
}
