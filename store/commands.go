/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"encoding/binary"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

// commands are stored one sub-bucket per terminal keyed by an 8 byte big
// endian sequence number, so cursor order is enqueue order. A per-terminal
// id index maps the wire identifier back to the sequence for reply lookup.

func seqKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

// InsertCommand assigns the next sequence for the terminal and stores the
// row in state pending
func (s *Store) InsertCommand(c Command) (Command, error) {
	if c.SN == `` || c.ID == `` {
		return c, ErrBadKey
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, lerr := tx.Bucket(bktCommands).CreateBucketIfNotExists([]byte(c.SN))
		if lerr != nil {
			return lerr
		}
		if c.Seq, lerr = b.NextSequence(); lerr != nil {
			return lerr
		}
		bb, lerr := json.Marshal(c)
		if lerr != nil {
			return lerr
		}
		if lerr = b.Put(seqKey(c.Seq), bb); lerr != nil {
			return lerr
		}
		return tx.Bucket(bktCmdIndex).Put(key(c.SN, c.ID), seqKey(c.Seq))
	})
	return c, err
}

// NextPendingCommand selects the oldest pending row for the terminal and
// transitions it to sent within the same write transaction, two concurrent
// polls can never observe the same row. ok is false when the queue is empty.
func (s *Store) NextPendingCommand(sn string, now time.Time) (c Command, ok bool, err error) {
	if sn == `` {
		err = ErrBadKey
		return
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktCommands).Bucket([]byte(sn))
		if b == nil {
			return nil
		}
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var row Command
			if lerr := json.Unmarshal(v, &row); lerr != nil {
				return ErrCorrupted
			}
			if row.State != StatePending {
				continue
			}
			row.State = StateSent
			row.SentAt = now
			bb, lerr := json.Marshal(row)
			if lerr != nil {
				return lerr
			}
			if lerr = b.Put(seqKey(row.Seq), bb); lerr != nil {
				return lerr
			}
			c = row
			ok = true
			return nil
		}
		return nil
	})
	return
}

// GetCommand fetches a command row by terminal and wire identifier
func (s *Store) GetCommand(sn, id string) (c Command, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		seq := tx.Bucket(bktCmdIndex).Get(key(sn, id))
		if seq == nil {
			return ErrNotFound
		}
		b := tx.Bucket(bktCommands).Bucket([]byte(sn))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(seq)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &c)
	})
	return
}

// UpdateCommand rewrites a command row in place by its terminal and sequence
func (s *Store) UpdateCommand(c Command) error {
	if c.SN == `` || c.Seq == 0 {
		return ErrBadKey
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktCommands).Bucket([]byte(c.SN))
		if b == nil {
			return ErrNotFound
		}
		if b.Get(seqKey(c.Seq)) == nil {
			return ErrNotFound
		}
		bb, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put(seqKey(c.Seq), bb)
	})
}

// PendingCommandCount returns the number of pending rows for the terminal
func (s *Store) PendingCommandCount(sn string) (n int, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktCommands).Bucket([]byte(sn))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var row Command
			if lerr := json.Unmarshal(v, &row); lerr != nil {
				return ErrCorrupted
			}
			if row.State == StatePending {
				n++
			}
			return nil
		})
	})
	return
}

// CommandHistory returns the most recent limit rows for the terminal,
// newest first
func (s *Store) CommandHistory(sn string, limit int) (cs []Command, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktCommands).Bucket([]byte(sn))
		if b == nil {
			return nil
		}
		cur := b.Cursor()
		for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
			if limit > 0 && len(cs) >= limit {
				break
			}
			var row Command
			if lerr := json.Unmarshal(v, &row); lerr != nil {
				return ErrCorrupted
			}
			cs = append(cs, row)
		}
		return nil
	})
	return
}

// SweepCommands deletes terminated rows older than termBefore and pending
// rows older than staleBefore whose retry counter has hit the limit,
// returning the number of rows removed
func (s *Store) SweepCommands(termBefore, staleBefore time.Time, retryLimit int) (removed int, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bktCommands)
		idx := tx.Bucket(bktCmdIndex)
		return root.ForEachBucket(func(sn []byte) error {
			b := root.Bucket(sn)
			var doomed []Command
			if lerr := b.ForEach(func(k, v []byte) error {
				var row Command
				if jerr := json.Unmarshal(v, &row); jerr != nil {
					return ErrCorrupted
				}
				switch row.State {
				case StateCompleted, StateFailed:
					if row.CreatedAt.Before(termBefore) {
						doomed = append(doomed, row)
					}
				case StatePending:
					if row.Retries >= retryLimit && row.CreatedAt.Before(staleBefore) {
						doomed = append(doomed, row)
					}
				}
				return nil
			}); lerr != nil {
				return lerr
			}
			for _, row := range doomed {
				if lerr := b.Delete(seqKey(row.Seq)); lerr != nil {
					return lerr
				}
				if lerr := idx.Delete(key(row.SN, row.ID)); lerr != nil {
					return lerr
				}
				removed++
			}
			return nil
		})
	})
	return
}
