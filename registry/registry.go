/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package registry

import (
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gravwell/gatesync/log"
	"github.com/gravwell/gatesync/store"
)

const (
	DefaultActiveWindow = 10 * time.Minute

	// how often a touch is flushed through to the terminal row, the
	// in-process cache absorbs the per-request churn
	lastSeenFlushInterval = 30 * time.Second
)

var (
	ErrEmptySerial = errors.New("empty terminal serial")
)

// Registry maps serial numbers to terminal records and tracks liveness.
// The store holds the authoritative rows, the registry keeps a bounded
// last-seen cache guarded by a single mutex so every endpoint touch does
// not turn into a write transaction.
type Registry struct {
	st     *store.Store
	lg     *log.Logger
	window time.Duration

	mtx      sync.Mutex
	lastSeen map[string]time.Time
	flushed  map[string]time.Time
}

func New(st *store.Store, lg *log.Logger, window time.Duration) *Registry {
	if window <= 0 {
		window = DefaultActiveWindow
	}
	return &Registry{
		st:       st,
		lg:       lg,
		window:   window,
		lastSeen: map[string]time.Time{},
		flushed:  map[string]time.Time{},
	}
}

// Acquire registers a terminal on first contact or refreshes its row on a
// subsequent init exchange, it is idempotent
func (r *Registry) Acquire(sn, pushver, language, options string) (t store.Terminal, err error) {
	if sn == `` {
		err = ErrEmptySerial
		return
	}
	now := time.Now()
	if t, err = r.st.GetTerminal(sn); err != nil {
		if err != store.ErrNotFound {
			return
		}
		t = store.Terminal{
			SN:         sn,
			Registered: now,
			Options:    map[string]string{},
			Stamps:     map[string]string{},
		}
		err = nil
	}
	if t.Options == nil {
		t.Options = map[string]string{}
	}
	if t.Stamps == nil {
		t.Stamps = map[string]string{}
	}
	if pushver != `` {
		t.PushVersion = pushver
	}
	if language != `` {
		t.Language = language
	}
	for k, v := range ParseOptions(options) {
		t.Options[k] = v
	}
	t.LastSeen = now
	if err = r.st.UpsertTerminal(t); err != nil {
		return
	}
	r.mtx.Lock()
	r.lastSeen[sn] = now
	r.flushed[sn] = now
	r.mtx.Unlock()
	return
}

// ParseOptions parses an init capability string of the form k1=v1,k2=v2,...
func ParseOptions(s string) map[string]string {
	mp := map[string]string{}
	for _, f := range strings.Split(s, `,`) {
		if f = strings.TrimSpace(f); f == `` {
			continue
		}
		k, v, _ := strings.Cut(f, `=`)
		if k == `` {
			continue
		}
		mp[k] = v
	}
	return mp
}

// Touch bumps a terminal's last-seen, flushing through to the store when
// the cached value has gone stale
func (r *Registry) Touch(sn string) {
	if sn == `` {
		return
	}
	now := time.Now()
	r.mtx.Lock()
	r.lastSeen[sn] = now
	flushed, ok := r.flushed[sn]
	if ok && now.Sub(flushed) < lastSeenFlushInterval {
		r.mtx.Unlock()
		return
	}
	r.flushed[sn] = now
	r.mtx.Unlock()

	t, err := r.st.GetTerminal(sn)
	if err != nil {
		return //not registered yet, init will create it
	}
	t.LastSeen = now
	if err = r.st.UpsertTerminal(t); err != nil {
		r.lg.Error("failed to flush terminal last-seen", log.KV("sn", sn), log.KVErr(err))
	}
}

// TouchInfo bumps last-seen and folds the poll INFO csv into the terminal
// row, the csv carries firmware, counts, address, and algorithm versions
func (r *Registry) TouchInfo(sn, info string) {
	if sn == `` {
		return
	}
	now := time.Now()
	t, err := r.st.GetTerminal(sn)
	if err != nil {
		return
	}
	applyInfo(&t, info)
	t.LastSeen = now
	if err = r.st.UpsertTerminal(t); err != nil {
		r.lg.Error("failed to update terminal info", log.KV("sn", sn), log.KVErr(err))
		return
	}
	r.mtx.Lock()
	r.lastSeen[sn] = now
	r.flushed[sn] = now
	r.mtx.Unlock()
}

// applyInfo folds the comma separated INFO parameter into the row. The
// fixed prefix is firmware, user count, fingerprint count, record count,
// then the terminal address, fingerprint and face algorithm versions
// follow when present.
func applyInfo(t *store.Terminal, info string) {
	flds := strings.Split(info, `,`)
	for i, f := range flds {
		f = strings.TrimSpace(f)
		if f == `` {
			continue
		}
		switch i {
		case 0:
			t.Firmware = f
		case 1:
			if n, err := strconv.Atoi(f); err == nil {
				t.UserCount = n
			}
		case 2:
			if n, err := strconv.Atoi(f); err == nil {
				t.FPCount = n
			}
		case 3: //attendance record count, not tracked
		case 4:
			if ip := net.ParseIP(f); ip != nil {
				t.IPAddress = f
			}
		case 5:
			t.FPAlgVer = f
		case 6:
			t.FaceAlgVer = f
		}
	}
}

// SetStamp records the last acknowledged upload cursor for a table
func (r *Registry) SetStamp(sn, table, stamp string) {
	if sn == `` || table == `` || stamp == `` {
		return
	}
	t, err := r.st.GetTerminal(sn)
	if err != nil {
		return
	}
	if t.Stamps == nil {
		t.Stamps = map[string]string{}
	}
	t.Stamps[table] = stamp
	if err = r.st.UpsertTerminal(t); err != nil {
		r.lg.Error("failed to store upload stamp", log.KV("sn", sn), log.KV("table", table), log.KVErr(err))
	}
}

// Get returns the terminal row for a serial
func (r *Registry) Get(sn string) (store.Terminal, error) {
	return r.st.GetTerminal(sn)
}

// Active returns an atomic snapshot of the terminals seen within the
// active window, excluding the given serial, sorted by serial for stable
// fan-out order
func (r *Registry) Active(exclude string) (ts []store.Terminal, err error) {
	var all []store.Terminal
	if all, err = r.st.ListTerminals(); err != nil {
		return
	}
	cutoff := time.Now().Add(-r.window)
	r.mtx.Lock()
	for _, t := range all {
		if t.SN == exclude {
			continue
		}
		seen := t.LastSeen
		if cached, ok := r.lastSeen[t.SN]; ok && cached.After(seen) {
			seen = cached
		}
		if seen.After(cutoff) {
			ts = append(ts, t)
		}
	}
	r.mtx.Unlock()
	sort.Slice(ts, func(i, j int) bool { return ts[i].SN < ts[j].SN })
	return
}

// IsActive indicates whether a single terminal is within the active window
func (r *Registry) IsActive(sn string) bool {
	cutoff := time.Now().Add(-r.window)
	r.mtx.Lock()
	cached, ok := r.lastSeen[sn]
	r.mtx.Unlock()
	if ok && cached.After(cutoff) {
		return true
	}
	t, err := r.st.GetTerminal(sn)
	if err != nil {
		return false
	}
	return t.LastSeen.After(cutoff)
}
