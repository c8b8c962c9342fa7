//go:build !tinygo

//----------------------------------------------------------------------
// This file is part of wifiprobe.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifiprobe is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifiprobe is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifiprobe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"
)

// layout version of the storage file
const storageVersion = 1

var (
	bucketMeta = []byte("meta")
	keyVersion = []byte("version")
	keyBoots   = []byte("boots")
)

// BoltStorage keeps the boot record of a host device in a bbolt file.
type BoltStorage struct {
	path  string
	db    *bolt.DB
	boots uint64
}

// NewBoltStorage for the given file.
func NewBoltStorage(path string) *BoltStorage {
	return &BoltStorage{path: path}
}

// Init opens the storage file and counts the boot.
func (s *BoltStorage) Init() error {
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return storageErr(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if v := b.Get(keyVersion); v == nil {
			if err = b.Put(keyVersion, u64(storageVersion)); err != nil {
				return err
			}
		} else if len(v) != 8 || binary.BigEndian.Uint64(v) != storageVersion {
			return ErrNewVersion
		}
		var boots uint64
		if v := b.Get(keyBoots); len(v) == 8 {
			boots = binary.BigEndian.Uint64(v)
		}
		boots++
		if err = b.Put(keyBoots, u64(boots)); err != nil {
			return err
		}
		s.boots = boots
		return nil
	})
	if err != nil {
		db.Close()
		return storageErr(err)
	}
	s.db = db
	return nil
}

// Erase the storage file.
func (s *BoltStorage) Erase() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close the storage file.
func (s *BoltStorage) Close() (err error) {
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	return
}

// Boots returns the number of recorded boots.
func (s *BoltStorage) Boots() uint64 {
	return s.boots
}

// map storage errors to the conditions handled by InitStorage.
func storageErr(err error) error {
	switch {
	case errors.Is(err, ErrNewVersion):
		return err
	case errors.Is(err, bolt.ErrInvalid), errors.Is(err, bolt.ErrVersionMismatch), errors.Is(err, bolt.ErrChecksum):
		return fmt.Errorf("%w: %w", ErrNewVersion, err)
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %w", ErrNoFreePages, err)
	}
	return err
}

func u64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
