// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package simstore is a gorm/sqlite-backed flash.Region for the host
// simulator: a board's real flash controller is swapped for a local
// database file across process restarts, the same way the teacher's
// proxy_buffer/store package fronts a sqlite file instead of a
// networked store. Private key material is wrapped with AES-KWP
// before it touches the database, so a stolen database file alone
// does not yield a device's keys.
package simstore

import (
	"fmt"
	"sync"

	kwp "github.com/google/tink/go/kwp/subtle"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lowRISC/barnacle-riot/src/flash"
)

// regionSchema is the single-row-per-region table: each named region
// (FwDeviceId, IssuedCerts, FwCache, AgentHdr, AgentCode) gets one row
// holding its full byte image, wrapped if wrapKey is non-nil.
type regionSchema struct {
	Name    string `gorm:"primarykey"`
	Content []byte
	Locked  bool
}

// Store persists flash.Region images across process restarts.
type Store struct {
	db      *gorm.DB
	wrapper *kwp.KWP // nil disables wrapping for every region of this Store
	mu      sync.Mutex
}

// Open opens (creating if absent) a sqlite-backed Store at path. wrapKey,
// if non-nil, must be 16 or 32 bytes and is used to AES-KWP wrap every
// region's content before it is written to disk.
func Open(path string, wrapKey []byte) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("simstore: open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")
	if err := db.AutoMigrate(&regionSchema{}); err != nil {
		return nil, fmt.Errorf("simstore: migrate schema: %w", err)
	}
	// Each Open is a fresh power cycle: memory protection engaged by an
	// earlier process does not carry over.
	if err := db.Model(&regionSchema{}).Where("locked = ?", true).Update("locked", false).Error; err != nil {
		return nil, fmt.Errorf("simstore: reset region locks: %w", err)
	}

	s := &Store{db: db}
	if wrapKey != nil {
		w, err := kwp.NewKWP(wrapKey)
		if err != nil {
			return nil, fmt.Errorf("simstore: init AES-KWP: %w", err)
		}
		s.wrapper = w
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Region returns a flash.Region backed by the named row, sized size
// bytes with the given page size, creating the row (erased, all-0xFF)
// if it does not already exist.
func (s *Store) Region(name string, size, pageSize int) (*DBRegion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row regionSchema
	r := s.db.First(&row, "name = ?", name)
	if r.Error != nil {
		content := make([]byte, size)
		for i := range content {
			content[i] = 0xFF
		}
		row = regionSchema{Name: name, Content: content}
		if err := s.db.Create(&row).Error; err != nil {
			return nil, fmt.Errorf("simstore: create region %q: %w", name, err)
		}
	}
	return &DBRegion{store: s, name: name, pageSize: pageSize}, nil
}

// DBRegion is a flash.Region whose content lives in a Store's database.
type DBRegion struct {
	store    *Store
	name     string
	pageSize int
}

var _ flash.Region = (*DBRegion)(nil)

func (d *DBRegion) PageSize() int { return d.pageSize }

func (d *DBRegion) Read() []byte {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	var row regionSchema
	d.store.db.First(&row, "name = ?", d.name)
	if row.Locked {
		return nil
	}
	return d.unwrap(row.Content)
}

func (d *DBRegion) FlashPages(dst int, src []byte) error {
	if dst%d.pageSize != 0 || len(src)%d.pageSize != 0 {
		return flash.ErrPageUnaligned
	}

	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	var row regionSchema
	if err := d.store.db.First(&row, "name = ?", d.name).Error; err != nil {
		return fmt.Errorf("simstore: read region %q: %w", d.name, err)
	}
	if row.Locked {
		return flash.ErrHardware
	}

	plain := d.unwrap(row.Content)
	if dst+len(src) > len(plain) {
		return flash.ErrHardware
	}
	for i := dst; i < dst+len(src); i++ {
		plain[i] = 0xFF
	}
	copy(plain[dst:], src)

	wrapped, err := d.wrap(plain)
	if err != nil {
		return fmt.Errorf("simstore: wrap region %q: %w", d.name, err)
	}
	if err := d.store.db.Model(&row).Update("content", wrapped).Error; err != nil {
		return fmt.Errorf("simstore: write region %q: %w", d.name, err)
	}
	return nil
}

func (d *DBRegion) Locked() bool {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	var row regionSchema
	d.store.db.First(&row, "name = ?", d.name)
	return row.Locked
}

// Lock marks the region inaccessible, the simstore equivalent of the
// firewall hardware engaging memory protection over it.
func (d *DBRegion) Lock() error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	return d.store.db.Model(&regionSchema{}).Where("name = ?", d.name).Update("locked", true).Error
}

func (d *DBRegion) wrap(plain []byte) ([]byte, error) {
	if d.store.wrapper == nil {
		return plain, nil
	}
	return d.store.wrapper.Wrap(plain)
}

func (d *DBRegion) unwrap(content []byte) []byte {
	if d.store.wrapper == nil {
		return content
	}
	plain, err := d.store.wrapper.Unwrap(content)
	if err != nil {
		// A region written before wrapping was enabled, under another
		// key, or corrupted; surface it as an empty (zero-length) image
		// rather than panicking.
		return make([]byte, 0)
	}
	return plain
}

// Firewall is the simstore MemoryProtection: Engage locks each given
// DBRegion's database row.
type Firewall struct{}

func (Firewall) Engage(regions ...flash.Region) error {
	for _, r := range regions {
		if d, ok := r.(*DBRegion); ok {
			if err := d.Lock(); err != nil {
				return err
			}
		}
	}
	return nil
}
