/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package queue implements the durable per-terminal command FIFO. Rows
// move pending -> sent -> completed|failed, a retryable failure sends the
// row back to pending until the retry limit is hit. The store is the
// single source of truth for queue state, there is no in-process command
// cache.
package queue

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravwell/gatesync/command"
	"github.com/gravwell/gatesync/log"
	"github.com/gravwell/gatesync/store"
)

const (
	DefaultRetryLimit    = 3
	DefaultSweepInterval = time.Hour

	// terminated rows live a day for diagnostics, dead pending rows an hour
	terminatedTTL   = 24 * time.Hour
	stalePendingTTL = time.Hour

	cmdIDLen = 16
)

var (
	ErrEmptySerial = errors.New("empty terminal serial")
	ErrEmptyReply  = errors.New("empty reply body")
	ErrNoCommandID = errors.New("reply names no command id")
)

type Queue struct {
	st         *store.Store
	lg         *log.Logger
	retryLimit int
}

func New(st *store.Store, lg *log.Logger, retryLimit int) *Queue {
	if retryLimit <= 0 {
		retryLimit = DefaultRetryLimit
	}
	return &Queue{
		st:         st,
		lg:         lg,
		retryLimit: retryLimit,
	}
}

// NewCommandID generates a 16 character command identifier from 128 random
// bits, hex trimmed
func NewCommandID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), `-`, ``)[:cmdIDLen]
}

// Enqueue inserts a command row in state pending and returns its generated
// identifier
func (q *Queue) Enqueue(sn, category, payload string) (id string, err error) {
	if sn == `` {
		err = ErrEmptySerial
		return
	}
	c := store.Command{
		ID:        NewCommandID(),
		SN:        sn,
		Category:  category,
		Payload:   payload,
		State:     store.StatePending,
		CreatedAt: time.Now(),
	}
	if c, err = q.st.InsertCommand(c); err != nil {
		return
	}
	id = c.ID
	q.lg.Debug("command enqueued", log.KV("sn", sn), log.KV("id", id), log.KV("category", category))
	return
}

// DequeueNext atomically pops the oldest pending command for the terminal,
// transitioning it to sent. ok is false when the queue is empty.
func (q *Queue) DequeueNext(sn string) (c store.Command, ok bool, err error) {
	if sn == `` {
		err = ErrEmptySerial
		return
	}
	if c, ok, err = q.st.NextPendingCommand(sn, time.Now()); err != nil || !ok {
		return
	}
	q.lg.Debug("command dequeued", log.KV("sn", sn), log.KV("id", c.ID))
	return
}

// ReplyResult describes the outcome of one reconciled reply line
type ReplyResult struct {
	ID      string
	Return  string
	State   string
	Retried bool
}

// Reply reconciles one or more ampersand separated reply lines against the
// terminal's rows. An unknown command id is logged and skipped, the reply
// endpoint always answers OK regardless.
func (q *Queue) Reply(sn, body string) (results []ReplyResult, err error) {
	if sn == `` {
		err = ErrEmptySerial
		return
	}
	body = strings.TrimSpace(body)
	if body == `` {
		err = ErrEmptyReply
		return
	}
	for _, ln := range strings.Split(body, "\n") {
		ln = strings.TrimRight(ln, "\r")
		if strings.TrimSpace(ln) == `` {
			continue
		}
		res, lerr := q.replyLine(sn, ln)
		if lerr != nil {
			q.lg.Warn("failed to reconcile reply", log.KV("sn", sn), log.KV("line", ln), log.KVErr(lerr))
			continue
		}
		results = append(results, res)
	}
	return
}

// replyLine reconciles a single ID=..&Return=..&CMD=.. line
func (q *Queue) replyLine(sn, ln string) (res ReplyResult, err error) {
	flds := parseReply(ln)
	res.ID = flds[`ID`]
	res.Return = flds[`Return`]
	if res.ID == `` {
		err = ErrNoCommandID
		return
	}
	var c store.Command
	if c, err = q.st.GetCommand(sn, res.ID); err != nil {
		return
	}
	now := time.Now()
	c.Result = ln
	if res.Return == `0` {
		c.State = store.StateCompleted
		c.CompletedAt = now
	} else {
		c.Retries++
		if c.Retries < q.retryLimit && command.IsIdempotent(c.Payload) {
			c.State = store.StatePending
			c.SentAt = time.Time{}
			res.Retried = true
		} else {
			c.State = store.StateFailed
			c.CompletedAt = now
		}
		q.lg.Info("command failed on terminal",
			log.KV("sn", sn), log.KV("id", c.ID),
			log.KV("return", res.Return), log.KV("retries", c.Retries),
			log.KV("requeued", res.Retried))
	}
	if err = q.st.UpdateCommand(c); err != nil {
		return
	}
	res.State = c.State
	return
}

// parseReply splits an ampersand separated reply into its fields
func parseReply(ln string) map[string]string {
	mp := make(map[string]string, 4)
	for _, f := range strings.Split(ln, `&`) {
		k, v, _ := strings.Cut(f, `=`)
		if k == `` {
			continue
		}
		mp[k] = v
	}
	return mp
}

// PendingCount returns the number of undelivered commands for a terminal
func (q *Queue) PendingCount(sn string) (int, error) {
	if sn == `` {
		return 0, ErrEmptySerial
	}
	return q.st.PendingCommandCount(sn)
}

// History returns the most recent limit rows for a terminal, newest first
func (q *Queue) History(sn string, limit int) ([]store.Command, error) {
	if sn == `` {
		return nil, ErrEmptySerial
	}
	return q.st.CommandHistory(sn, limit)
}

// Sweep removes terminated rows older than a day and abandoned pending
// rows older than an hour
func (q *Queue) Sweep(now time.Time) (removed int, err error) {
	return q.st.SweepCommands(now.Add(-terminatedTTL), now.Add(-stalePendingTTL), q.retryLimit)
}

// RunSweeper sweeps on the given interval until the done channel closes
func (q *Queue) RunSweeper(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	for {
		select {
		case <-done:
			return
		case <-tkr.C:
			if removed, err := q.Sweep(time.Now()); err != nil {
				q.lg.Error("queue sweep failed", log.KVErr(err))
			} else if removed > 0 {
				q.lg.Info("queue sweep removed rows", log.KV("removed", removed))
			}
		}
	}
}
