/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package iclock

import (
	"strconv"
	"strings"

	"github.com/gravwell/gatesync/store"
	"github.com/gravwell/gatesync/wire"
)

const (
	// DefaultMultiBio is the capability bitmask handed to terminals that
	// never declared their own: fingerprint (1), face (2), finger vein (7),
	// palm (8) and visible-light face (9) on
	DefaultMultiBio = `0:1:1:0:0:0:0:1:1:1`

	defaultTransTimes    = `00:00;12:00`
	defaultTransFlag     = `TransData EnrollUser ChgUser EnrollFP ChgFP FACE UserPic BioPhoto WORKCODE FVEIN`
	defaultPushOptions   = `FingerFunOn,FaceFunOn,MultiBioDataSupport,MultiBioPhotoSupport,BioPhotoFun,BioDataFun,VisilightFun`
	defaultErrorDelay    = 30
	defaultDelay         = 10
	defaultTransInterval = 1
)

// Options carries the server side of the init exchange, most values come
// from configuration with sane defaults
type Options struct {
	Product       string
	ServerVersion string
	ErrorDelay    int
	Delay         int
	TransTimes    string
	TransInterval int
	TransFlag     string
	TimeZone      int
	Realtime      int
	MultiBio      string
}

func (o Options) ServerName() string {
	return o.Product + `/` + o.ServerVersion
}

func (o Options) errorDelay() int {
	if o.ErrorDelay <= 0 {
		return defaultErrorDelay
	}
	return o.ErrorDelay
}

func (o Options) delay() int {
	if o.Delay <= 0 {
		return defaultDelay
	}
	return o.Delay
}

func (o Options) transTimes() string {
	if o.TransTimes == `` {
		return defaultTransTimes
	}
	return o.TransTimes
}

func (o Options) transInterval() int {
	if o.TransInterval <= 0 {
		return defaultTransInterval
	}
	return o.TransInterval
}

func (o Options) transFlag() string {
	if o.TransFlag == `` {
		return defaultTransFlag
	}
	return o.TransFlag
}

// Block renders the full init options block for a terminal, one KEY=VALUE
// per line terminated by LF, with the per-terminal stamps and capability
// bitmasks folded in. Attendance stamps are pinned to None, attendance
// processing is not this server's business.
func (o Options) Block(t store.Terminal) string {
	var sb strings.Builder
	sb.WriteString(`GET OPTION FROM: ` + t.SN + "\n")
	sb.WriteString(`ATTLOGStamp=None` + "\n")
	sb.WriteString(`OPERLOGStamp=` + stampOr(t, `OPERLOG`) + "\n")
	sb.WriteString(`ATTPHOTOStamp=None` + "\n")
	sb.WriteString(`BIODATAStamp=` + stampOr(t, `BIODATA`) + "\n")
	sb.WriteString(`IDCARDStamp=` + stampOr(t, `IDCARD`) + "\n")
	sb.WriteString(`ERRORLOGStamp=` + stampOr(t, `ERRORLOG`) + "\n")
	sb.WriteString(`ErrorDelay=` + strconv.Itoa(o.errorDelay()) + "\n")
	sb.WriteString(`Delay=` + strconv.Itoa(o.delay()) + "\n")
	sb.WriteString(`TransTimes=` + o.transTimes() + "\n")
	sb.WriteString(`TransInterval=` + strconv.Itoa(o.transInterval()) + "\n")
	sb.WriteString(`TransFlag=` + o.transFlag() + "\n")
	sb.WriteString(`TimeZone=` + strconv.Itoa(o.TimeZone) + "\n")
	sb.WriteString(`Realtime=` + strconv.Itoa(o.Realtime) + "\n")
	sb.WriteString(`Encrypt=None` + "\n")
	sb.WriteString(`ServerVer=` + o.ServerVersion + "\n")
	sb.WriteString(`PushProtVer=` + o.ServerVersion + "\n")
	sb.WriteString(`PushOptionsFlag=1` + "\n")
	sb.WriteString(`PushOptions=` + defaultPushOptions + "\n")
	sb.WriteString(`MultiBioDataSupport=` + o.multiBio(t, `MultiBioDataSupport`) + "\n")
	sb.WriteString(`MultiBioPhotoSupport=` + o.multiBio(t, `MultiBioPhotoSupport`) + "\n")
	sb.WriteString(`ATTPHOTOBase64=1` + "\n")
	return sb.String()
}

// multiBio prefers the bitmask the terminal declared on init
func (o Options) multiBio(t store.Terminal, k string) string {
	if v, ok := t.Options[k]; ok && v != `` {
		return v
	}
	if o.MultiBio != `` {
		return o.MultiBio
	}
	return DefaultMultiBio
}

func stampOr(t store.Terminal, table string) string {
	if v, ok := t.Stamps[table]; ok && v != `` {
		return v
	}
	return `None`
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

// userUploadLine renders a user row in the upload dialect for RemoteAtt
// answers
func userUploadLine(u store.User) string {
	return `USER ` + wire.TabJoin(
		`PIN=`+u.PIN,
		`Name=`+u.Name,
		`Pri=`+strconv.Itoa(u.Privilege),
		`Passwd=`+u.Password,
		`Card=`+u.Card,
		`Grp=`+u.Group,
		`TZ=`+u.TimeZone,
		`Verify=`+strconv.Itoa(u.Verify),
		`ViceCard=`+u.ViceCard,
	)
}

// bioUploadLine renders a template row in the unified upload dialect
func bioUploadLine(t store.BioTemplate) string {
	return `BIODATA ` + wire.TabJoin(
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
	)
}
