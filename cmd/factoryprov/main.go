// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Command factoryprov is the factory-floor counterpart to
// barnacle-sim: it provisions one simulated device's identity and
// self-signed device certificate, marks it provisioned, prints the DFU
// programming string a real programmer would report, and gates the
// terminal WRITELOCK operation behind an operator password. It issues
// no root or intermediate certificates.
package main

import (
	"bufio"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/lowRISC/barnacle-riot/src/config"
	"github.com/lowRISC/barnacle-riot/src/flash"
	"github.com/lowRISC/barnacle-riot/src/flash/simstore"
	"github.com/lowRISC/barnacle-riot/src/identity"
	"github.com/lowRISC/barnacle-riot/src/primitives"
	"github.com/lowRISC/barnacle-riot/src/utils"
)

func main() {
	configDir := flag.String("config_dir", ".", "directory holding board.yaml")
	configFile := flag.String("config_file", "board.yaml", "board configuration filename")
	dbPath := flag.String("db", "factory.db", "sqlite file backing the simulated flash")
	writelock := flag.Bool("writelock", false, "gate: engage WRITELOCK after provisioning, prompting for the operator password")
	passwordHash := flag.String("password_hash", "", "bcrypt hash the operator password must match before WRITELOCK is accepted")
	version := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	// If the version flag is true then print the version and exit,
	// otherwise log the version and continue.
	utils.PrintVersion(*version)

	cfg, board, err := config.LoadBoard(*configDir, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "factoryprov: no board config, using defaults: %v\n", err)
		cfg = identity.DefaultConfig()
		board = config.Board{AgentHdrSize: 4096, AgentCodeSize: 1 << 20, PageSize: 256}
	}

	store, err := simstore.Open(*dbPath, nil)
	if err != nil {
		fail(err)
	}
	defer store.Close()

	devIDR, err := store.Region("FwDeviceId", board.PageSize*4, board.PageSize)
	if err != nil {
		fail(err)
	}
	issuedR, err := store.Region("IssuedCerts", board.PageSize*16, board.PageSize)
	if err != nil {
		fail(err)
	}
	cacheR, err := store.Region("FwCache", board.PageSize*16, board.PageSize)
	if err != nil {
		fail(err)
	}

	regions := identity.Regions{
		FwDeviceID:  devIDR,
		IssuedCerts: issuedR,
		FwCache:     cacheR,
	}

	e := &identity.Engine{
		Config:   cfg,
		Regions:  regions,
		Provider: primitives.NewSoftware(cfg.Curve),
	}

	cdi := make([]byte, 32)
	if _, err := rand.Read(cdi); err != nil {
		fail(err)
	}
	devID, issued, err := e.InitialProvision(cdi)
	if err != nil {
		fail(err)
	}

	issued.Flags |= flash.FlagProvisioned

	if *writelock {
		if err := confirmWritelock(*passwordHash); err != nil {
			fail(err)
		}
		issued.Flags |= flash.FlagWritelock
		fmt.Println("writelock: accepted")
	}

	if err := identity.WriteIssuedCerts(issuedR, issued); err != nil {
		fail(err)
	}

	agentAreaPages := (board.AgentHdrSize + board.AgentCodeSize) / 4096
	dfu := flash.DFUModeString(0, agentAreaPages, issued.Flags&flash.FlagWritelock != 0)
	fmt.Printf("device provisioned: %v\n", devID.Valid())
	fmt.Printf("dfu mode string: %s\n", dfu)
}

func confirmWritelock(expectedHash string) error {
	if expectedHash == "" {
		return fmt.Errorf("factoryprov: -password_hash required for -writelock")
	}
	fmt.Print("operator password: ")
	pw, err := readPassword()
	if err != nil {
		return fmt.Errorf("factoryprov: read password: %w", err)
	}
	return utils.CompareHashAndPassword(expectedHash, pw)
}

func readPassword() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		return string(b), err
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "factoryprov: %v\n", err)
	os.Exit(1)
}
