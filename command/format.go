/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package command builds outbound command payloads in the exact wire
// dialect the terminals expect. Every biometric put is emitted in the
// unified BIODATA form regardless of the dialect the template arrived in,
// a mixed-firmware fleet only stays consistent because of this.
package command

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gravwell/gatesync/store"
	"github.com/gravwell/gatesync/wire"
)

// command categories
const (
	CatData    = `DATA`
	CatControl = `CONTROL`
	CatClear   = `CLEAR`
	CatConfig  = `CONFIG`
	CatInfo    = `INFO`
	CatEnroll  = `ENROLL`
	CatFile    = `FILE`
	CatSystem  = `SYSTEM`
	CatUpgrade = `UPGRADE`
	CatCheck   = `CHECK`
	CatLog     = `LOG`
	CatVerify  = `VERIFY`
)

var (
	ErrEmptyPIN        = errors.New("PIN is empty")
	ErrBadBioType      = errors.New("biometric type is not in the enumeration")
	ErrEmptyTemplate   = errors.New("template blob is empty")
	ErrBadTemplate     = errors.New("template blob is not valid base64 text")
	ErrBadSlot         = errors.New("slot is out of range")
	ErrUnknownVerb     = errors.New("payload does not begin with a known verb")
)

// templates are stored as printable text and must stay inside the base64
// character class
var templateRe = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// ValidateBioTemplate enforces the payload rules ahead of enqueue: PIN
// non-empty, type in the enumeration, non-empty base64 template text,
// fingerprint slot 0..9, face slot 0
func ValidateBioTemplate(t store.BioTemplate) error {
	if t.PIN == `` {
		return ErrEmptyPIN
	}
	if !wire.ValidBioType(t.Type) {
		return ErrBadBioType
	}
	if t.Template == `` {
		return ErrEmptyTemplate
	}
	if !templateRe.MatchString(t.Template) {
		return ErrBadTemplate
	}
	switch t.Type {
	case wire.BioFingerprint:
		if t.No < 0 || t.No > 9 {
			return ErrBadSlot
		}
	case wire.BioFace:
		if t.No != 0 {
			return ErrBadSlot
		}
	default:
		if t.No < 0 {
			return ErrBadSlot
		}
	}
	if t.Index < 0 {
		return ErrBadSlot
	}
	return nil
}

// PutUser builds a DATA UPDATE USERINFO payload
func PutUser(u store.User) (string, error) {
	if u.PIN == `` {
		return ``, ErrEmptyPIN
	}
	tz := u.TimeZone
	if tz == `` {
		tz = `0000000000000000`
	}
	return `DATA UPDATE USERINFO ` + wire.TabJoin(
		`PIN=`+u.PIN,
		`Name=`+u.Name,
		`Pri=`+strconv.Itoa(u.Privilege),
		`Passwd=`+u.Password,
		`Card=`+u.Card,
		`Grp=`+u.Group,
		`TZ=`+tz,
		`Verify=`+strconv.Itoa(u.Verify),
		`ViceCard=`+u.ViceCard,
	), nil
}

// PutBioTemplate builds a DATA UPDATE BIODATA payload in the canonical ten
// field order, nine tabs separate the fields. Format rides through exactly
// as received, some sites send 0 and others send ZK.
func PutBioTemplate(t store.BioTemplate) (string, error) {
	if err := ValidateBioTemplate(t); err != nil {
		return ``, err
	}
	return `DATA UPDATE BIODATA ` + wire.TabJoin(
		`Pin=`+t.PIN,
		`No=`+strconv.Itoa(t.No),
		`Index=`+strconv.Itoa(t.Index),
		`Valid=`+strconv.Itoa(t.Valid),
		`Duress=`+strconv.Itoa(t.Duress),
		`Type=`+strconv.Itoa(t.Type),
		`MajorVer=`+t.MajorVer,
		`MinorVer=`+t.MinorVer,
		`Format=`+t.Format,
		`Tmp=`+t.Template,
	), nil
}

// DeleteUser builds a DATA DELETE USERINFO payload
func DeleteUser(pin string) (string, error) {
	if pin == `` {
		return ``, ErrEmptyPIN
	}
	return `DATA DELETE USERINFO PIN=` + pin, nil
}

// DeleteBioTemplate builds a DATA DELETE BIODATA payload, typ < 0 deletes
// every template for the PIN and no < 0 every slot of the type
func DeleteBioTemplate(pin string, typ, no int) (string, error) {
	if pin == `` {
		return ``, ErrEmptyPIN
	}
	p := `DATA DELETE BIODATA Pin=` + pin
	if typ >= 0 {
		if !wire.ValidBioType(typ) {
			return ``, ErrBadBioType
		}
		p += "\tType=" + strconv.Itoa(typ)
		if no >= 0 {
			p += "\tNo=" + strconv.Itoa(no)
		}
	}
	return p, nil
}

// QueryBioTemplate builds a DATA QUERY BIODATA payload. The query form
// uses the upper-case PIN key, this matches the on-wire behaviour of the
// deployed firmware and differs from put and delete.
func QueryBioTemplate(typ int, pin string, no int) (string, error) {
	if !wire.ValidBioType(typ) {
		return ``, ErrBadBioType
	}
	p := `DATA QUERY BIODATA Type=` + strconv.Itoa(typ)
	if pin != `` {
		p += "\tPIN=" + pin
		if no >= 0 {
			p += "\tNo=" + strconv.Itoa(no)
		}
	}
	return p, nil
}

// PutUserPic builds a DATA UPDATE USERPIC payload
func PutUserPic(p store.UserPic) (string, error) {
	if p.PIN == `` {
		return ``, ErrEmptyPIN
	}
	return `DATA UPDATE USERPIC ` + wire.TabJoin(
		`PIN=`+p.PIN,
		`FileName=`+p.FileName,
		`Size=`+strconv.Itoa(p.Size),
		`Content=`+p.Content,
	), nil
}

// PutBioPhoto builds a DATA UPDATE BIOPHOTO payload
func PutBioPhoto(p store.BioPhoto) (string, error) {
	if p.PIN == `` {
		return ``, ErrEmptyPIN
	}
	if !wire.ValidBioType(p.Type) {
		return ``, ErrBadBioType
	}
	return `DATA UPDATE BIOPHOTO ` + wire.TabJoin(
		`PIN=`+p.PIN,
		`Type=`+strconv.Itoa(p.Type),
		`FileName=`+p.FileName,
		`Size=`+strconv.Itoa(p.Size),
		`Content=`+p.Content,
	), nil
}

// PutWorkCode builds a DATA UPDATE WORKCODE payload
func PutWorkCode(wc store.WorkCode) (string, error) {
	if wc.Code == `` {
		return ``, errors.New("workcode is empty")
	}
	return `DATA UPDATE WORKCODE ` + wire.TabJoin(
		`PIN=`+wc.PIN,
		`CODE=`+wc.Code,
		`NAME=`+wc.Name,
	), nil
}

// DeleteWorkCode builds a DATA DELETE WORKCODE payload
func DeleteWorkCode(code string) (string, error) {
	if code == `` {
		return ``, errors.New("workcode is empty")
	}
	return `DATA DELETE WORKCODE CODE=` + code, nil
}

// PutSMS builds a DATA UPDATE SMS payload
func PutSMS(m store.SMS) (string, error) {
	if m.UID == `` {
		return ``, errors.New("sms uid is empty")
	}
	return `DATA UPDATE SMS ` + wire.TabJoin(
		`MSG=`+m.Msg,
		`TAG=`+strconv.Itoa(m.Tag),
		`UID=`+m.UID,
		`MIN=`+strconv.Itoa(m.ValidMins),
		`StartTime=`+m.StartTime,
	), nil
}

// DeleteSMS builds a DATA DELETE SMS payload
func DeleteSMS(uid string) (string, error) {
	if uid == `` {
		return ``, errors.New("sms uid is empty")
	}
	return `DATA DELETE SMS UID=` + uid, nil
}

// PutUserSMS builds a DATA UPDATE USER_SMS payload
func PutUserSMS(m store.UserSMS) (string, error) {
	if m.PIN == `` {
		return ``, ErrEmptyPIN
	}
	if m.UID == `` {
		return ``, errors.New("sms uid is empty")
	}
	return `DATA UPDATE USER_SMS ` + wire.TabJoin(
		`PIN=`+m.PIN,
		`UID=`+m.UID,
	), nil
}

// PutIDCard builds a DATA UPDATE IDCARD payload
func PutIDCard(c store.IDCard) (string, error) {
	if c.IDNum == `` {
		return ``, errors.New("id number is empty")
	}
	return `DATA UPDATE IDCARD ` + wire.TabJoin(
		`PIN=`+c.PIN,
		`SNNum=`+c.SNNum,
		`IDNum=`+c.IDNum,
		`DNNum=`+c.DNNum,
		`Name=`+c.Name,
		`Gender=`+c.Gender,
		`Nation=`+c.Nation,
		`Birthday=`+c.Birthday,
		`ValidInfo=`+c.ValidInfo,
		`Address=`+c.Address,
		`AdditionalInfo=`+c.AdditionalInfo,
		`Issuer=`+c.Issuer,
		`Photo=`+c.Photo,
		`FPTemplate1=`+c.FPTemplate1,
		`FPTemplate2=`+c.FPTemplate2,
		`Reserve=`+c.Reserve,
		`Notice=`+c.Notice,
	), nil
}

// SetOption builds a SET OPTION payload
func SetOption(k, v string) (string, error) {
	if k == `` {
		return ``, errors.New("option name is empty")
	}
	return `SET OPTION ` + k + `=` + v, nil
}

// control and maintenance payloads
func ReloadOptions() string { return `RELOAD OPTIONS` }
func Reboot() string        { return `REBOOT` }
func Unlock() string        { return `AC_UNLOCK` }
func Unalarm() string       { return `AC_UNALARM` }
func Info() string          { return `INFO` }
func Check() string         { return `CHECK` }

// ClearData builds a CLEAR payload for the given object, DATA, LOG, or PHOTO
func ClearData(what string) string {
	return `CLEAR ` + what
}

// EnrollBio builds an ENROLL_BIO payload directing the terminal to capture
// a biometric of the given type
func EnrollBio(pin string, typ, no, retry int, overwrite bool) (string, error) {
	if pin == `` {
		return ``, ErrEmptyPIN
	}
	if !wire.ValidBioType(typ) {
		return ``, ErrBadBioType
	}
	ow := `0`
	if overwrite {
		ow = `1`
	}
	return `ENROLL_BIO ` + wire.TabJoin(
		`TYPE=`+strconv.Itoa(typ),
		`PIN=`+pin,
		`No=`+strconv.Itoa(no),
		`RETRY=`+strconv.Itoa(retry),
		`OVERWRITE=`+ow,
	), nil
}

// EnrollFP builds the legacy ENROLL_FP payload for fingerprint-only firmware
func EnrollFP(pin string, fid, retry int, overwrite bool) (string, error) {
	if pin == `` {
		return ``, ErrEmptyPIN
	}
	if fid < 0 || fid > 9 {
		return ``, ErrBadSlot
	}
	ow := `0`
	if overwrite {
		ow = `1`
	}
	return `ENROLL_FP ` + wire.TabJoin(
		`PIN=`+pin,
		`FID=`+strconv.Itoa(fid),
		`RETRY=`+strconv.Itoa(retry),
		`OVERWRITE=`+ow,
	), nil
}

// EnrollMF builds an ENROLL_MF payload directing a multi-modal capture
func EnrollMF(pin string, retry int, overwrite bool) (string, error) {
	if pin == `` {
		return ``, ErrEmptyPIN
	}
	ow := `0`
	if overwrite {
		ow = `1`
	}
	return `ENROLL_MF ` + wire.TabJoin(
		`PIN=`+pin,
		`RETRY=`+strconv.Itoa(retry),
		`OVERWRITE=`+ow,
	), nil
}

// QueryAttLog builds a DATA QUERY ATTLOG payload for a time range
func QueryAttLog(start, end string) string {
	return `DATA QUERY ATTLOG ` + wire.TabJoin(
		`StartTime=`+start,
		`EndTime=`+end,
	)
}

// QueryAttPhoto builds a DATA QUERY ATTPHOTO payload for a time range
func QueryAttPhoto(start, end string) string {
	return `DATA QUERY ATTPHOTO ` + wire.TabJoin(
		`StartTime=`+start,
		`EndTime=`+end,
	)
}

// VerifySumAttLog builds a VERIFY SUM ATTLOG payload for a time range
func VerifySumAttLog(start, end string) string {
	return `VERIFY SUM ATTLOG ` + wire.TabJoin(
		`StartTime=`+start,
		`EndTime=`+end,
	)
}

// Categorize maps a payload's verb onto its command category tag
func Categorize(payload string) (string, error) {
	verb, _, _, ok := wire.SplitCommand(payload)
	if !ok {
		return ``, ErrUnknownVerb
	}
	switch {
	case strings.HasPrefix(verb, `DATA`):
		return CatData, nil
	case verb == `REBOOT` || verb == `AC_UNLOCK` || verb == `AC_UNALARM`:
		return CatControl, nil
	case verb == `CLEAR`:
		return CatClear, nil
	case verb == `SET OPTION` || verb == `RELOAD OPTIONS`:
		return CatConfig, nil
	case verb == `INFO`:
		return CatInfo, nil
	case strings.HasPrefix(verb, `ENROLL_`):
		return CatEnroll, nil
	case verb == `GetFile` || verb == `PutFile`:
		return CatFile, nil
	case verb == `SHELL`:
		return CatSystem, nil
	case verb == `UPGRADE`:
		return CatUpgrade, nil
	case verb == `CHECK`:
		return CatCheck, nil
	case verb == `LOG`:
		return CatLog, nil
	case strings.HasPrefix(verb, `VERIFY`) || verb == `PostVerifyData`:
		return CatVerify, nil
	}
	return ``, ErrUnknownVerb
}

// IsIdempotent reports whether a payload may be safely re-delivered after
// a failed attempt, every DATA UPDATE and DATA DELETE is an upsert or
// delete by primary key on the terminal side
func IsIdempotent(payload string) bool {
	return strings.HasPrefix(payload, `DATA UPDATE `) || strings.HasPrefix(payload, `DATA DELETE `)
}

// FromRecord translates an inbound upload record into its outbound payload,
// legacy biometric dialects collapse onto the unified BIODATA form: FP to
// type 1, FACE to type 2, FVEIN to type 7. The returned key identifies the
// record for sync logging.
func FromRecord(r wire.Record) (payload, recKey string, err error) {
	switch r.Tag {
	case wire.TagUser:
		var u wire.User
		if u, err = r.DecodeUser(); err != nil {
			return
		}
		recKey = u.PIN
		payload, err = PutUser(store.User{
			PIN:       u.PIN,
			Name:      u.Name,
			Privilege: u.Privilege,
			Password:  u.Password,
			Card:      u.Card,
			Group:     u.Group,
			TimeZone:  u.TimeZone,
			Verify:    u.Verify,
			ViceCard:  u.ViceCard,
		})
	case wire.TagFP:
		var fp wire.Fingerprint
		if fp, err = r.DecodeFingerprint(); err != nil {
			return
		}
		recKey = fp.PIN
		payload, err = PutBioTemplate(store.BioTemplate{
			PIN:      fp.PIN,
			Type:     wire.BioFingerprint,
			No:       fp.FID,
			Valid:    fp.Valid,
			MajorVer: `0`,
			MinorVer: `0`,
			Format:   `ZK`,
			Template: fp.TMP,
		})
	case wire.TagFace:
		var f wire.Face
		if f, err = r.DecodeFace(); err != nil {
			return
		}
		recKey = f.PIN
		payload, err = PutBioTemplate(store.BioTemplate{
			PIN:      f.PIN,
			Type:     wire.BioFace,
			No:       0,
			Index:    f.FID,
			Valid:    f.Valid,
			MajorVer: `0`,
			MinorVer: `0`,
			Format:   `ZK`,
			Template: f.TMP,
		})
	case wire.TagFVein:
		var fv wire.FingerVein
		if fv, err = r.DecodeFingerVein(); err != nil {
			return
		}
		recKey = fv.Pin
		payload, err = PutBioTemplate(store.BioTemplate{
			PIN:      fv.Pin,
			Type:     wire.BioFingerVein,
			No:       fv.FID,
			Index:    fv.Index,
			Valid:    fv.Valid,
			MajorVer: `0`,
			MinorVer: `0`,
			Format:   `ZK`,
			Template: fv.Tmp,
		})
	case wire.TagBioData:
		var bd wire.BioData
		if bd, err = r.DecodeBioData(); err != nil {
			return
		}
		recKey = bd.Pin
		payload, err = PutBioTemplate(store.BioTemplate{
			PIN:      bd.Pin,
			Type:     bd.Type,
			No:       bd.No,
			Index:    bd.Index,
			Valid:    bd.Valid,
			Duress:   bd.Duress,
			MajorVer: bd.MajorVer,
			MinorVer: bd.MinorVer,
			Format:   bd.Format,
			Template: bd.Tmp,
		})
	case wire.TagWorkCode:
		var wc wire.WorkCode
		if wc, err = r.DecodeWorkCode(); err != nil {
			return
		}
		recKey = wc.Code
		payload, err = PutWorkCode(store.WorkCode{PIN: wc.PIN, Code: wc.Code, Name: wc.Name})
	case wire.TagSMS:
		var m wire.SMS
		if m, err = r.DecodeSMS(); err != nil {
			return
		}
		recKey = m.UID
		payload, err = PutSMS(store.SMS{
			UID:       m.UID,
			Msg:       m.Msg,
			Tag:       m.Tag,
			ValidMins: m.ValidMins,
			StartTime: m.StartTime,
		})
	case wire.TagUserSMS:
		var m wire.UserSMS
		if m, err = r.DecodeUserSMS(); err != nil {
			return
		}
		recKey = m.PIN + `:` + m.UID
		payload, err = PutUserSMS(store.UserSMS{PIN: m.PIN, UID: m.UID})
	case wire.TagIDCard:
		var c wire.IDCard
		if c, err = r.DecodeIDCard(); err != nil {
			return
		}
		recKey = c.IDNum
		payload, err = PutIDCard(store.IDCard{
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
		})
	case wire.TagUserPic:
		var p wire.UserPic
		if p, err = r.DecodeUserPic(); err != nil {
			return
		}
		recKey = p.PIN
		payload, err = PutUserPic(store.UserPic{
			PIN:      p.PIN,
			FileName: p.FileName,
			Size:     p.Size,
			Content:  p.Content,
		})
	case wire.TagBioPhoto:
		var p wire.BioPhoto
		if p, err = r.DecodeBioPhoto(); err != nil {
			return
		}
		recKey = p.PIN
		payload, err = PutBioPhoto(store.BioPhoto{
			PIN:      p.PIN,
			Type:     p.Type,
			FileName: p.FileName,
			Size:     p.Size,
			Content:  p.Content,
		})
	default:
		err = fmt.Errorf("record tag %s has no outbound form", r.Tag)
	}
	return
}
