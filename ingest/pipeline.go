/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ingest routes parsed upload records into the store and hands the
// syncable ones to the fan-out. Every store operation is an upsert by
// primary key, so retransmitted batches are harmless.
package ingest

import (
	"io"
	"time"

	"github.com/gravwell/gatesync/fanout"
	"github.com/gravwell/gatesync/log"
	"github.com/gravwell/gatesync/store"
	"github.com/gravwell/gatesync/wire"
)

// upload table tags accepted on the wire
var knownTables = map[string]bool{
	`OPERLOG`:  true,
	`BIODATA`:  true,
	`IDCARD`:   true,
	`ERRORLOG`: true,
	`SMS`:      true,
	`USER_SMS`: true,
	`WORKCODE`: true,
	`USERPIC`:  true,
	`BIOPHOTO`: true,
	`options`:  true,
	// attendance tables are accepted and discarded, processing them is
	// out of scope but a 400 would wedge the terminal's upload cursor
	`ATTLOG`:   true,
	`ATTPHOTO`: true,
}

// attendance tables whose records are dropped without parsing
var discardTables = map[string]bool{
	`ATTLOG`:   true,
	`ATTPHOTO`: true,
}

type Pipeline struct {
	st  *store.Store
	fan *fanout.Synchronizer
	lg  *log.Logger
}

func New(st *store.Store, fan *fanout.Synchronizer, lg *log.Logger) *Pipeline {
	return &Pipeline{
		st:  st,
		fan: fan,
		lg:  lg,
	}
}

// KnownTable indicates whether the upload table tag is recognized
func KnownTable(table string) bool {
	return knownTables[table]
}

// ProcessUpload parses the upload body and dispatches each record, then
// fans the accepted syncable records out to the peer fleet. The returned
// count covers accepted records only, per-record failures are logged and
// skipped. A malformed line aborts the parse and surfaces the error after
// the records ahead of it were ingested.
func (p *Pipeline) ProcessUpload(sn, table string, rdr io.Reader) (accepted int, err error) {
	if discardTables[table] {
		//drain so the terminal advances its cursor
		io.Copy(io.Discard, rdr)
		return
	}
	recs, perr := wire.ParseRecords(rdr)
	var forward []wire.Record
	for _, r := range recs {
		if lerr := p.dispatch(sn, r); lerr != nil {
			p.lg.Warn("record dropped",
				log.KV("sn", sn), log.KV("table", table),
				log.KV("tag", r.Tag), log.KVErr(lerr))
			continue
		}
		accepted++
		if fanout.Syncable(r.Tag) || fanout.PhotoTag(r.Tag) {
			forward = append(forward, r)
		}
	}
	if len(forward) > 0 {
		queued, skipped := p.fan.Dispatch(sn, forward)
		p.lg.Info("upload fanned out",
			log.KV("sn", sn), log.KV("records", len(forward)),
			log.KV("queued", queued), log.KV("skipped", skipped))
	}
	err = perr
	return
}

// dispatch routes one record to its store operation with source attribution
func (p *Pipeline) dispatch(sn string, r wire.Record) error {
	now := time.Now()
	switch r.Tag {
	case wire.TagUser:
		u, err := r.DecodeUser()
		if err != nil {
			return err
		}
		return p.st.UpsertUser(store.User{
			PIN:       u.PIN,
			Name:      u.Name,
			Privilege: u.Privilege,
			Password:  u.Password,
			Card:      u.Card,
			Group:     u.Group,
			TimeZone:  u.TimeZone,
			Verify:    u.Verify,
			ViceCard:  u.ViceCard,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagFP:
		fp, err := r.DecodeFingerprint()
		if err != nil {
			return err
		}
		return p.st.UpsertBioTemplate(store.BioTemplate{
			PIN:       fp.PIN,
			Type:      wire.BioFingerprint,
			No:        fp.FID,
			Valid:     fp.Valid,
			MajorVer:  `0`,
			MinorVer:  `0`,
			Format:    `ZK`,
			Template:  fp.TMP,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagFace:
		f, err := r.DecodeFace()
		if err != nil {
			return err
		}
		return p.st.UpsertBioTemplate(store.BioTemplate{
			PIN:       f.PIN,
			Type:      wire.BioFace,
			No:        0,
			Index:     f.FID,
			Valid:     f.Valid,
			MajorVer:  `0`,
			MinorVer:  `0`,
			Format:    `ZK`,
			Template:  f.TMP,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagFVein:
		fv, err := r.DecodeFingerVein()
		if err != nil {
			return err
		}
		return p.st.UpsertBioTemplate(store.BioTemplate{
			PIN:       fv.Pin,
			Type:      wire.BioFingerVein,
			No:        fv.FID,
			Index:     fv.Index,
			Valid:     fv.Valid,
			MajorVer:  `0`,
			MinorVer:  `0`,
			Format:    `ZK`,
			Template:  fv.Tmp,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagBioData:
		bd, err := r.DecodeBioData()
		if err != nil {
			return err
		}
		return p.st.UpsertBioTemplate(store.BioTemplate{
			PIN:       bd.Pin,
			Type:      bd.Type,
			No:        bd.No,
			Index:     bd.Index,
			Valid:     bd.Valid,
			Duress:    bd.Duress,
			MajorVer:  bd.MajorVer,
			MinorVer:  bd.MinorVer,
			Format:    bd.Format,
			Template:  bd.Tmp,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagUserPic:
		up, err := r.DecodeUserPic()
		if err != nil {
			return err
		}
		return p.st.UpsertUserPic(store.UserPic{
			PIN:       up.PIN,
			FileName:  up.FileName,
			Size:      up.Size,
			Content:   up.Content,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagBioPhoto:
		bp, err := r.DecodeBioPhoto()
		if err != nil {
			return err
		}
		return p.st.UpsertBioPhoto(store.BioPhoto{
			PIN:       bp.PIN,
			Type:      bp.Type,
			FileName:  bp.FileName,
			Size:      bp.Size,
			Content:   bp.Content,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagWorkCode:
		wc, err := r.DecodeWorkCode()
		if err != nil {
			return err
		}
		return p.st.UpsertWorkCode(store.WorkCode{
			PIN:       wc.PIN,
			Code:      wc.Code,
			Name:      wc.Name,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagSMS:
		m, err := r.DecodeSMS()
		if err != nil {
			return err
		}
		return p.st.UpsertSMS(store.SMS{
			UID:       m.UID,
			Msg:       m.Msg,
			Tag:       m.Tag,
			ValidMins: m.ValidMins,
			StartTime: m.StartTime,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagUserSMS:
		m, err := r.DecodeUserSMS()
		if err != nil {
			return err
		}
		return p.st.UpsertUserSMS(store.UserSMS{
			PIN:       m.PIN,
			UID:       m.UID,
			Source:    sn,
			UpdatedAt: now,
		})
	case wire.TagIDCard:
		c, err := r.DecodeIDCard()
		if err != nil {
			return err
		}
		return p.st.UpsertIDCard(store.IDCard{
			PIN:            c.PIN,
			SNNum:          c.SNNum,
			IDNum:          c.IDNum,
			DNNum:          c.DNNum,
			Name:           c.Name,
			Gender:         c.Gender,
			Nation:         c.Nation,
			Birthday:       c.Birthday,
			ValidInfo:      c.ValidInfo,
			Address:        c.Address,
			AdditionalInfo: c.AdditionalInfo,
			Issuer:         c.Issuer,
			Photo:          c.Photo,
			FPTemplate1:    c.FPTemplate1,
			FPTemplate2:    c.FPTemplate2,
			Reserve:        c.Reserve,
			Notice:         c.Notice,
			Source:         sn,
			UpdatedAt:      now,
		})
	case wire.TagErrorLog:
		e, _ := r.DecodeErrorLog()
		return p.st.AppendSyncLog(store.SyncEntry{
			When:       now,
			Source:     sn,
			RecordType: wire.TagErrorLog,
			RecordKey:  e.CmdID,
			Action:     e.DataOrigin + `:` + e.ErrMsg,
			Status:     `logged`,
		})
	}
	return wire.ErrUnknownTag
}
