// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package config loads a board's static identity configuration: the
// curve it issues keys on, its rollback policy, and the X.501 issuer
// strings it stamps into every certificate it builds. It is the
// measured-boot counterpart of the factory/provisioning side's own
// per-SKU yaml configuration files.
package config

import (
	"crypto/elliptic"
	"fmt"
	"time"

	"github.com/lowRISC/barnacle-riot/src/identity"
	"github.com/lowRISC/barnacle-riot/src/utils"
)

// Board is the on-disk yaml shape a board config file is unmarshaled
// into before being resolved into an identity.Config.
type Board struct {
	Curve         string `yaml:"curve" default:"P-256"`
	IssuerCommon  string `yaml:"issuer_common" default:"CyReP Device"`
	IssuerOrg     string `yaml:"issuer_org" default:"Microsoft"`
	IssuerCountry string `yaml:"issuer_country" default:"US"`
	Rollback      string `yaml:"rollback_mode" default:"enforce"`
	ValidFrom     string `yaml:"valid_from" default:"2017-01-01"`
	ValidTo       string `yaml:"valid_to" default:"2037-01-01"`
	MaxHdrVersion uint32 `yaml:"max_header_version" default:"1"`

	AgentHdrSize  int `yaml:"agent_hdr_region_bytes" default:"4096"`
	AgentCodeSize int `yaml:"agent_code_region_bytes" default:"1048576"`
	PageSize      int `yaml:"flash_page_size" default:"256"`
}

// LoadBoard reads and resolves a board config file from configDir/configFile.
func LoadBoard(configDir, configFile string) (identity.Config, Board, error) {
	var b Board
	if err := utils.LoadConfig(configDir, configFile, &b); err != nil {
		return identity.Config{}, Board{}, fmt.Errorf("config: load board file: %w", err)
	}
	cfg, err := b.Resolve()
	return cfg, b, err
}

// Resolve converts the yaml-friendly Board fields into an
// identity.Config, validating curve names, rollback mode, and dates.
func (b Board) Resolve() (identity.Config, error) {
	curve, err := curveByName(b.Curve)
	if err != nil {
		return identity.Config{}, err
	}

	rollback, err := rollbackByName(b.Rollback)
	if err != nil {
		return identity.Config{}, err
	}

	validFrom, err := time.Parse("2006-01-02", b.ValidFrom)
	if err != nil {
		return identity.Config{}, fmt.Errorf("config: invalid valid_from %q: %w", b.ValidFrom, err)
	}
	validTo, err := time.Parse("2006-01-02", b.ValidTo)
	if err != nil {
		return identity.Config{}, fmt.Errorf("config: invalid valid_to %q: %w", b.ValidTo, err)
	}

	return identity.Config{
		Curve:         curve,
		IssuerCommon:  b.IssuerCommon,
		IssuerOrg:     b.IssuerOrg,
		IssuerCountry: b.IssuerCountry,
		Rollback:      rollback,
		ValidFrom:     validFrom,
		ValidTo:       validTo,
		MaxHdrVersion: b.MaxHdrVersion,
	}, nil
}

func curveByName(name string) (elliptic.Curve, error) {
	switch name {
	case "P-256", "":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("config: unknown curve %q", name)
	}
}

func rollbackByName(name string) (identity.RollbackMode, error) {
	switch name {
	case "enforce", "":
		return identity.RollbackEnforce, nil
	case "warn":
		return identity.RollbackWarn, nil
	default:
		return 0, fmt.Errorf("config: unknown rollback_mode %q", name)
	}
}
