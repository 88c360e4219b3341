/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

const (
	openTimeout = 3 * time.Second

	keySep = `|`
)

var (
	bktTerminals = []byte(`terminals`)
	bktUsers     = []byte(`users`)
	bktBioData   = []byte(`biodata`)
	bktUserPics  = []byte(`userpics`)
	bktBioPhotos = []byte(`biophotos`)
	bktWorkCodes = []byte(`workcodes`)
	bktSMS       = []byte(`sms`)
	bktUserSMS   = []byte(`usersms`)
	bktIDCards   = []byte(`idcards`)
	bktCommands  = []byte(`commands`)
	bktCmdIndex  = []byte(`cmdindex`)
	bktSyncLog   = []byte(`synclog`)

	buckets = [][]byte{
		bktTerminals, bktUsers, bktBioData, bktUserPics, bktBioPhotos,
		bktWorkCodes, bktSMS, bktUserSMS, bktIDCards, bktCommands,
		bktCmdIndex, bktSyncLog,
	}
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNotOpen   = errors.New("store is not open")
	ErrBadKey    = errors.New("invalid entity key")
	ErrCorrupted = errors.New("corrupted row")
)

// Store is the typed gateway over the canonical entity set, backed by a
// single bbolt database file. Write transactions are serialized by bbolt,
// which is what makes the queue's select-and-mark-sent transition atomic.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at the given path and ensures every
// entity bucket exists
func Open(pth string) (s *Store, err error) {
	var db *bolt.DB
	if db, err = bolt.Open(pth, 0660, &bolt.Options{Timeout: openTimeout}); err != nil {
		return
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, lerr := tx.CreateBucketIfNotExists(b); lerr != nil {
				return lerr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return
	}
	s = &Store{db: db}
	return
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return ErrNotOpen
	}
	return s.db.Close()
}

func key(parts ...string) []byte {
	return []byte(strings.Join(parts, keySep))
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

// put marshals v and stores it under k in bucket b within the transaction
func put(tx *bolt.Tx, b []byte, k []byte, v interface{}) error {
	bb, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(b).Put(k, bb)
}

// upsert is a single row insert-or-replace in its own transaction
func (s *Store) upsert(b []byte, k []byte, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, b, k, v)
	})
}

// get unmarshals the row at k in bucket b, ErrNotFound when absent
func (s *Store) get(b []byte, k []byte, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bb := tx.Bucket(b).Get(k)
		if bb == nil {
			return ErrNotFound
		}
		return json.Unmarshal(bb, v)
	})
}

// del removes the row at k in bucket b, deleting an absent row is not an error
func (s *Store) del(b []byte, k []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b).Delete(k)
	})
}

// scan walks every row of bucket b handing the raw value to fn
func (s *Store) scan(b []byte, fn func(k, v []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b).ForEach(fn)
	})
}
