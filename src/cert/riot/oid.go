// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package riot

import "crypto/elliptic"

// Object identifiers used by the RIoT/DICE certificate profile, carried
// over arc-for-arc from the reference x509bldr OID tables.
var (
	oidRIoT               = []int{2, 23, 133, 5, 4, 1}
	oidECDSAWithSHA256     = []int{1, 2, 840, 10045, 4, 3, 2}
	oidECPublicKey         = []int{1, 2, 840, 10045, 2, 1}
	oidKeyUsage            = []int{2, 5, 29, 15}
	oidExtKeyUsage         = []int{2, 5, 29, 37}
	oidAuthKeyIdentifier   = []int{2, 5, 29, 35}
	oidClientAuth          = []int{1, 3, 6, 1, 5, 5, 7, 3, 2}
	oidSHA256              = []int{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidCommonName          = []int{2, 5, 4, 3}
	oidCountryName         = []int{2, 5, 4, 6}
	oidOrgName             = []int{2, 5, 4, 10}
	oidBasicConstraints    = []int{2, 5, 29, 19}

	oidPrime256v1 = []int{1, 2, 840, 10045, 3, 1, 7}
	oidAnsip384r1 = []int{1, 3, 132, 0, 34}
	oidAnsip521r1 = []int{1, 3, 132, 0, 35}
)

// curveOID returns the named-curve OID for c, matching the original
// RIoT builder's curve table (prime256v1, ansip384r1, ansip521r1).
func curveOID(c elliptic.Curve) ([]int, error) {
	switch c.Params().Name {
	case "P-256":
		return oidPrime256v1, nil
	case "P-384":
		return oidAnsip384r1, nil
	case "P-521":
		return oidAnsip521r1, nil
	default:
		return nil, ErrUnsupportedCurve
	}
}
