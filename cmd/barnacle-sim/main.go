// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Command barnacle-sim runs the measured-boot identity engine against
// a sqlite-backed flash simulator, standing in for the board's real
// flash and memory-protection hardware during development.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/lowRISC/barnacle-riot/src/config"
	"github.com/lowRISC/barnacle-riot/src/flash"
	"github.com/lowRISC/barnacle-riot/src/flash/simstore"
	"github.com/lowRISC/barnacle-riot/src/identity"
	"github.com/lowRISC/barnacle-riot/src/logger"
	"github.com/lowRISC/barnacle-riot/src/primitives"
	"github.com/lowRISC/barnacle-riot/src/utils"
)

func main() {
	configDir := flag.String("config_dir", ".", "directory holding board.yaml")
	configFile := flag.String("config_file", "board.yaml", "board configuration filename")
	dbPath := flag.String("db", "barnacle-sim.db", "sqlite file backing the simulated flash")
	agentPath := flag.String("agent", "", "path to a firmware image to stage as AgentCode")
	agentName := flag.String("agent_name", "loader", "name recorded in the agent header")
	agentVersion := flag.Uint64("agent_version", 1, "monotonic agent version")
	wrapKeyHex := flag.String("wrap_key", "", "32 hex bytes used to AES-KWP wrap private keys at rest; random if unset")
	version := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	// If the version flag is true then print the version and exit,
	// otherwise log the version and continue.
	utils.PrintVersion(*version)

	log, err := logger.NewLogger("barnacle-sim")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}

	cfg, board, err := config.LoadBoard(*configDir, *configFile)
	if err != nil {
		log.Warn(fmt.Errorf("no board config found, using defaults: %w", err))
		cfg = identity.DefaultConfig()
		board = config.Board{AgentHdrSize: 4096, AgentCodeSize: 1 << 20, PageSize: 256}
	}

	wrapKey, err := wrapKeyBytes(*wrapKeyHex)
	if err != nil {
		log.Fatal(err)
		os.Exit(1)
	}

	store, err := simstore.Open(*dbPath, wrapKey)
	if err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
	defer store.Close()

	regions, err := openRegions(store, board)
	if err != nil {
		log.Fatal(err)
		os.Exit(1)
	}

	if *agentPath != "" {
		if err := stageAgentFromFile(regions, *agentPath, *agentName, uint32(*agentVersion)); err != nil {
			log.Fatal(err)
			os.Exit(1)
		}
	}

	e := &identity.Engine{
		Config:   cfg,
		Regions:  regions,
		Provider: primitives.NewSoftware(cfg.Curve),
		Protect:  simstore.Firewall{},
		Log:      log,
	}

	cdi := make([]byte, 32)
	if _, err := rand.Read(cdi); err != nil {
		log.Fatal(err)
		os.Exit(1)
	}

	result, certs, compound, err := e.Boot(cdi)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}

	fmt.Printf("device identity valid: %v\n", result.DeviceID.Valid())
	fmt.Printf("issued certs valid: %v, provisioned: %v\n", result.IssuedCerts.Valid(), result.IssuedCerts.Provisioned())
	fmt.Printf("compound cache valid: %v, last version: %d\n", result.Cache.Valid(), result.Cache.LastVersion)
	fmt.Printf("handoff cert bag bytes: %d\n", len(certs.CertBag))
	fmt.Printf("handoff compound key present: %v\n", len(compound.PrivD) != 0)
}

// openRegions opens each named persistent record as a simstore region,
// sizing AgentHdr/AgentCode per the board config.
func openRegions(store *simstore.Store, board config.Board) (identity.Regions, error) {
	sized := func(name string, size int) (*simstore.DBRegion, error) {
		return store.Region(name, size, board.PageSize)
	}

	devIDR, err := sized("FwDeviceId", board.PageSize*4)
	if err != nil {
		return identity.Regions{}, err
	}
	issuedR, err := sized("IssuedCerts", board.PageSize*16)
	if err != nil {
		return identity.Regions{}, err
	}
	cacheR, err := sized("FwCache", board.PageSize*16)
	if err != nil {
		return identity.Regions{}, err
	}
	hdrR, err := sized("AgentHdr", board.AgentHdrSize)
	if err != nil {
		return identity.Regions{}, err
	}
	codeR, err := sized("AgentCode", board.AgentCodeSize)
	if err != nil {
		return identity.Regions{}, err
	}

	return identity.Regions{
		FwDeviceID:  devIDR,
		IssuedCerts: issuedR,
		FwCache:     cacheR,
		AgentHdr:    hdrR,
		AgentCode:   codeR,
	}, nil
}

// stageAgentFromFile reads a firmware image from disk and writes both
// AgentCode and a matching, digest-correct AgentHdr, standing in for
// the off-device build step that signs a real agent header.
func stageAgentFromFile(r identity.Regions, path, name string, version uint32) error {
	code, err := utils.ReadFile(path)
	if err != nil {
		return fmt.Errorf("barnacle-sim: read agent image: %w", err)
	}

	pageSize := r.AgentCode.PageSize()
	padded := pad(code, pageSize)
	if err := r.AgentCode.FlashPages(0, padded); err != nil {
		return fmt.Errorf("barnacle-sim: stage agent code: %w", err)
	}

	sw := primitives.NewSoftware(identity.DefaultConfig().Curve)
	digest := sw.Hash(code)
	sign := flash.AgentSignable{
		Version:      1,
		Size:         uint32(len(code)),
		Name:         name,
		AgentVersion: version,
		Issued:       0,
		Digest:       digest,
	}
	hdr := flash.AgentHdr{HdrMagic: flash.Magic, HdrVersion: 1, Sign: sign}
	return identity.WriteAgentHdr(r.AgentHdr, hdr)
}

func pad(data []byte, pageSize int) []byte {
	padded := ((len(data) / pageSize) + 1) * pageSize
	buf := make([]byte, padded)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf, data)
	return buf
}

func wrapKeyBytes(hexKey string) ([]byte, error) {
	if hexKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("barnacle-sim: generate wrap key: %w", err)
		}
		return key, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("barnacle-sim: invalid -wrap_key: %w", err)
	}
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("barnacle-sim: -wrap_key must be 16 or 32 bytes, got %d", len(key))
	}
	return key, nil
}
