/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

// AppendSyncLog appends an audit row, the sync log is append-only and the
// core never reads it back for state
func (s *Store) AppendSyncLog(e SyncEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSyncLog)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		bb, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), bb)
	})
}

// ListSyncLog returns the most recent limit audit rows, newest first
func (s *Store) ListSyncLog(limit int) (es []SyncEntry, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bktSyncLog).Cursor()
		for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
			if limit > 0 && len(es) >= limit {
				break
			}
			var e SyncEntry
			if lerr := json.Unmarshal(v, &e); lerr != nil {
				return ErrCorrupted
			}
			es = append(es, e)
		}
		return nil
	})
	return
}
