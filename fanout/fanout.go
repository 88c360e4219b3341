/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package fanout turns one inbound upload into equivalent commands on
// every other active terminal's queue. Delivery is best effort, a failure
// against one peer never stops the others, and nothing here waits on a
// peer acknowledgement, that arrives later through the reply endpoint.
package fanout

import (
	"time"

	"github.com/gravwell/gatesync/command"
	"github.com/gravwell/gatesync/log"
	"github.com/gravwell/gatesync/queue"
	"github.com/gravwell/gatesync/registry"
	"github.com/gravwell/gatesync/store"
	"github.com/gravwell/gatesync/wire"
	"golang.org/x/sync/errgroup"
)

const (
	// bound on concurrent peer enqueue streams during a single upload
	maxPeerStreams = 8

	actionSync = `sync`
)

// syncable is the set of record tags that propagate to peers, photo tags
// are excluded here and gated separately by configuration
var syncable = map[string]bool{
	wire.TagUser:     true,
	wire.TagFP:       true,
	wire.TagFace:     true,
	wire.TagFVein:    true,
	wire.TagBioData:  true,
	wire.TagWorkCode: true,
	wire.TagSMS:      true,
	wire.TagUserSMS:  true,
	wire.TagIDCard:   true,
}

var photoTags = map[string]bool{
	wire.TagUserPic:  true,
	wire.TagBioPhoto: true,
}

// Syncable indicates whether records of this tag propagate to peers at all
func Syncable(tag string) bool {
	return syncable[tag]
}

// PhotoTag indicates whether this tag is gated by the photo-sync switch
func PhotoTag(tag string) bool {
	return photoTags[tag]
}

// Synchronizer translates inbound records to the outbound dialect and
// enqueues them on peer queues
type Synchronizer struct {
	reg        *registry.Registry
	q          *queue.Queue
	st         *store.Store
	lg         *log.Logger
	syncPhotos bool
}

func New(reg *registry.Registry, q *queue.Queue, st *store.Store, lg *log.Logger, syncPhotos bool) *Synchronizer {
	return &Synchronizer{
		reg:        reg,
		q:          q,
		st:         st,
		lg:         lg,
		syncPhotos: syncPhotos,
	}
}

// Dispatch fans the records out to every active peer of the source
// terminal. Enqueue order is preserved per peer within this call so a peer
// always receives a USER ahead of its templates, different peers proceed
// in parallel. Returns the number of queued and skipped (peer, record)
// pairs.
func (s *Synchronizer) Dispatch(src string, recs []wire.Record) (queued, skipped int) {
	recs = s.eligible(recs)
	if len(recs) == 0 {
		return
	}
	peers, err := s.reg.Active(src)
	if err != nil {
		s.lg.Error("failed to snapshot active terminals", log.KV("sn", src), log.KVErr(err))
		return
	}
	if len(peers) == 0 {
		return
	}

	// translate once, the payload is identical for every peer
	type outbound struct {
		tag     string
		key     string
		payload string
		err     error
	}
	outs := make([]outbound, 0, len(recs))
	for _, r := range recs {
		pl, key, err := command.FromRecord(r)
		outs = append(outs, outbound{tag: r.Tag, key: key, payload: pl, err: err})
	}

	var grp errgroup.Group
	grp.SetLimit(maxPeerStreams)
	counts := make([]struct{ q, s int }, len(peers))
	for i := range peers {
		peer := peers[i].SN
		idx := i
		plg := log.NewLoggerWithKV(s.lg, log.KV("source", src), log.KV("target", peer))
		grp.Go(func() error {
			for _, o := range outs {
				if o.err != nil {
					counts[idx].s++
					s.audit(src, peer, o.tag, o.key, `skipped`, o.err.Error())
					continue
				}
				if _, err := s.q.Enqueue(peer, command.CatData, o.payload); err != nil {
					counts[idx].s++
					plg.Error("failed to enqueue peer command", log.KV("tag", o.tag), log.KVErr(err))
					s.audit(src, peer, o.tag, o.key, `skipped`, err.Error())
					continue
				}
				counts[idx].q++
				s.audit(src, peer, o.tag, o.key, `queued`, ``)
			}
			return nil
		})
	}
	grp.Wait()
	for _, c := range counts {
		queued += c.q
		skipped += c.s
	}
	return
}

// DispatchPayload enqueues a prebuilt payload on every active peer of src,
// used for operator initiated deletes and pushes
func (s *Synchronizer) DispatchPayload(src, tag, key, category, payload string) (queued, skipped int) {
	peers, err := s.reg.Active(src)
	if err != nil {
		s.lg.Error("failed to snapshot active terminals", log.KVErr(err))
		return
	}
	for _, p := range peers {
		if _, err := s.q.Enqueue(p.SN, category, payload); err != nil {
			skipped++
			s.audit(src, p.SN, tag, key, `skipped`, err.Error())
			continue
		}
		queued++
		s.audit(src, p.SN, tag, key, `queued`, ``)
	}
	return
}

// eligible filters the record set down to what propagates under current
// configuration
func (s *Synchronizer) eligible(recs []wire.Record) (out []wire.Record) {
	for _, r := range recs {
		if syncable[r.Tag] || (s.syncPhotos && photoTags[r.Tag]) {
			out = append(out, r)
		}
	}
	return
}

func (s *Synchronizer) audit(src, tgt, tag, key, status, reason string) {
	e := store.SyncEntry{
		When:       time.Now(),
		Source:     src,
		Target:     tgt,
		RecordType: tag,
		RecordKey:  key,
		Action:     actionSync,
		Status:     status,
		Reason:     reason,
	}
	if err := s.st.AppendSyncLog(e); err != nil {
		s.lg.Error("failed to append sync log", log.KVErr(err))
	}
}
