/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

// UpsertTerminal inserts or replaces a terminal row by serial number
func (s *Store) UpsertTerminal(t Terminal) error {
	if t.SN == `` {
		return ErrBadKey
	}
	return s.upsert(bktTerminals, key(t.SN), t)
}

// GetTerminal fetches a terminal by serial number
func (s *Store) GetTerminal(sn string) (t Terminal, err error) {
	err = s.get(bktTerminals, key(sn), &t)
	return
}

// ListTerminals returns every registered terminal
func (s *Store) ListTerminals() (ts []Terminal, err error) {
	err = s.scan(bktTerminals, func(k, v []byte) error {
		var t Terminal
		if lerr := json.Unmarshal(v, &t); lerr != nil {
			return ErrCorrupted
		}
		ts = append(ts, t)
		return nil
	})
	return
}

// DeleteTerminal hard-deletes a terminal and everything it owns, its
// command queue rows included, in a single transaction
func (s *Store) DeleteTerminal(sn string) error {
	if sn == `` {
		return ErrBadKey
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bktTerminals).Delete(key(sn)); err != nil {
			return err
		}
		cb := tx.Bucket(bktCommands)
		if cb.Bucket([]byte(sn)) != nil {
			if err := cb.DeleteBucket([]byte(sn)); err != nil {
				return err
			}
		}
		return deletePrefix(tx.Bucket(bktCmdIndex), key(sn, ``))
	})
}

// UpsertUser inserts or replaces a user row by PIN
func (s *Store) UpsertUser(u User) error {
	if u.PIN == `` {
		return ErrBadKey
	}
	return s.upsert(bktUsers, key(u.PIN), u)
}

// GetUser fetches a user by PIN
func (s *Store) GetUser(pin string) (u User, err error) {
	err = s.get(bktUsers, key(pin), &u)
	return
}

// ListUsers returns every user row, optionally filtered by source terminal
func (s *Store) ListUsers(source string) (us []User, err error) {
	err = s.scan(bktUsers, func(k, v []byte) error {
		var u User
		if lerr := json.Unmarshal(v, &u); lerr != nil {
			return ErrCorrupted
		}
		if source == `` || u.Source == source {
			us = append(us, u)
		}
		return nil
	})
	return
}

// DeleteUserCascade removes the user row and every biometric, photo,
// workcode, and message association sharing the PIN in one transaction
func (s *Store) DeleteUserCascade(pin string) error {
	if pin == `` {
		return ErrBadKey
	}
	pfx := []byte(pin + keySep)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bktUsers).Delete(key(pin)); err != nil {
			return err
		}
		if err := tx.Bucket(bktUserPics).Delete(key(pin)); err != nil {
			return err
		}
		for _, b := range [][]byte{bktBioData, bktBioPhotos, bktWorkCodes, bktUserSMS} {
			if err := deletePrefix(tx.Bucket(b), pfx); err != nil {
				return err
			}
		}
		return nil
	})
}

// deletePrefix removes every key beginning with pfx from the bucket
func deletePrefix(b *bolt.Bucket, pfx []byte) error {
	c := b.Cursor()
	var doomed [][]byte
	for k, _ := c.Seek(pfx); k != nil && bytes.HasPrefix(k, pfx); k, _ = c.Next() {
		doomed = append(doomed, append([]byte(nil), k...))
	}
	for _, k := range doomed {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// UpsertBioTemplate inserts or replaces a template row by its composite key,
// duplicates overwrite
func (s *Store) UpsertBioTemplate(t BioTemplate) error {
	if t.PIN == `` {
		return ErrBadKey
	}
	return s.upsert(bktBioData, bioKey(t.PIN, t.Type, t.No, t.Index), t)
}

// GetBioTemplate fetches a template row by (PIN, type, slot, index)
func (s *Store) GetBioTemplate(pin string, typ, no, index int) (t BioTemplate, err error) {
	err = s.get(bktBioData, bioKey(pin, typ, no, index), &t)
	return
}

// ListBioTemplates returns every template for a PIN, every template in the
// store when pin is empty
func (s *Store) ListBioTemplates(pin string) (ts []BioTemplate, err error) {
	err = s.scan(bktBioData, func(k, v []byte) error {
		var t BioTemplate
		if lerr := json.Unmarshal(v, &t); lerr != nil {
			return ErrCorrupted
		}
		if pin == `` || t.PIN == pin {
			ts = append(ts, t)
		}
		return nil
	})
	return
}

// ListBioTemplatesBySource returns every template attributed to a source
// terminal
func (s *Store) ListBioTemplatesBySource(source string) (ts []BioTemplate, err error) {
	err = s.scan(bktBioData, func(k, v []byte) error {
		var t BioTemplate
		if lerr := json.Unmarshal(v, &t); lerr != nil {
			return ErrCorrupted
		}
		if source == `` || t.Source == source {
			ts = append(ts, t)
		}
		return nil
	})
	return
}

// DeleteBioTemplates removes template rows for a PIN, restricted to a type
// when typ >= 0 and further to a slot when no >= 0
func (s *Store) DeleteBioTemplates(pin string, typ, no int) error {
	if pin == `` {
		return ErrBadKey
	}
	pfx := pin + keySep
	if typ >= 0 {
		pfx += itoa(typ) + keySep
		if no >= 0 {
			pfx += itoa(no) + keySep
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return deletePrefix(tx.Bucket(bktBioData), []byte(pfx))
	})
}

func bioKey(pin string, typ, no, index int) []byte {
	return key(pin, itoa(typ), itoa(no), itoa(index))
}

// UpsertUserPic inserts or replaces a user photo by PIN
func (s *Store) UpsertUserPic(p UserPic) error {
	if p.PIN == `` {
		return ErrBadKey
	}
	return s.upsert(bktUserPics, key(p.PIN), p)
}

// GetUserPic fetches a user photo by PIN
func (s *Store) GetUserPic(pin string) (p UserPic, err error) {
	err = s.get(bktUserPics, key(pin), &p)
	return
}

// DeleteUserPic removes a user photo by PIN
func (s *Store) DeleteUserPic(pin string) error {
	return s.del(bktUserPics, key(pin))
}

// UpsertBioPhoto inserts or replaces a comparison photo by (PIN, type)
func (s *Store) UpsertBioPhoto(p BioPhoto) error {
	if p.PIN == `` {
		return ErrBadKey
	}
	return s.upsert(bktBioPhotos, key(p.PIN, itoa(p.Type)), p)
}

// GetBioPhoto fetches a comparison photo by (PIN, type)
func (s *Store) GetBioPhoto(pin string, typ int) (p BioPhoto, err error) {
	err = s.get(bktBioPhotos, key(pin, itoa(typ)), &p)
	return
}

// UpsertWorkCode inserts or replaces a workcode by (PIN, code)
func (s *Store) UpsertWorkCode(wc WorkCode) error {
	if wc.Code == `` {
		return ErrBadKey
	}
	return s.upsert(bktWorkCodes, key(wc.PIN, wc.Code), wc)
}

// ListWorkCodes returns every workcode row, optionally filtered by source
// terminal
func (s *Store) ListWorkCodes(source string) (wcs []WorkCode, err error) {
	err = s.scan(bktWorkCodes, func(k, v []byte) error {
		var wc WorkCode
		if lerr := json.Unmarshal(v, &wc); lerr != nil {
			return ErrCorrupted
		}
		if source == `` || wc.Source == source {
			wcs = append(wcs, wc)
		}
		return nil
	})
	return
}

// DeleteWorkCode removes a workcode by (PIN, code)
func (s *Store) DeleteWorkCode(pin, code string) error {
	return s.del(bktWorkCodes, key(pin, code))
}

// UpsertSMS inserts or replaces a short message by uid
func (s *Store) UpsertSMS(m SMS) error {
	if m.UID == `` {
		return ErrBadKey
	}
	return s.upsert(bktSMS, key(m.UID), m)
}

// DeleteSMS removes a short message and its user associations in one transaction
func (s *Store) DeleteSMS(uid string) error {
	if uid == `` {
		return ErrBadKey
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bktSMS).Delete(key(uid)); err != nil {
			return err
		}
		//associations are keyed pin|uid, walk and match on the uid half
		b := tx.Bucket(bktUserSMS)
		var doomed [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if parts := strings.SplitN(string(k), keySep, 2); len(parts) == 2 && parts[1] == uid {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertUserSMS inserts or replaces a user-message association by (PIN, uid)
func (s *Store) UpsertUserSMS(m UserSMS) error {
	if m.PIN == `` || m.UID == `` {
		return ErrBadKey
	}
	return s.upsert(bktUserSMS, key(m.PIN, m.UID), m)
}

// UpsertIDCard inserts or replaces an id-card row by government id number
func (s *Store) UpsertIDCard(c IDCard) error {
	if c.IDNum == `` {
		return ErrBadKey
	}
	return s.upsert(bktIDCards, key(c.IDNum), c)
}

// GetIDCard fetches an id-card row by id number
func (s *Store) GetIDCard(idnum string) (c IDCard, err error) {
	err = s.get(bktIDCards, key(idnum), &c)
	return
}
