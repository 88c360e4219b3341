/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package wire

import (
	"strings"
	"testing"
)

func TestParseRecordTabForm(t *testing.T) {
	r, err := ParseRecord("USER PIN=1001\tName=Alice\tPri=0\tPasswd=\tCard=\tGrp=1\tTZ=0000000000000000\tVerify=-1\tViceCard=")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if r.Tag != TagUser {
		t.Fatalf("bad tag %v", r.Tag)
	}
	u, err := r.DecodeUser()
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if u.PIN != `1001` || u.Name != `Alice` || u.Verify != -1 || u.Group != `1` {
		t.Fatalf("bad decode %+v", u)
	}
	if u.Password != `` || u.Card != `` {
		t.Fatalf("blank values should decode empty %+v", u)
	}
}

func TestParseRecordKeyCase(t *testing.T) {
	//FP uses mixed case Size/Valid, FACE upper SIZE/VALID
	fpr, err := ParseRecord("FP PIN=7\tFID=3\tSize=512\tValid=1\tTMP=AAAA")
	if err != nil {
		t.Fatalf("failed to parse FP: %v", err)
	}
	fp, err := fpr.DecodeFingerprint()
	if err != nil {
		t.Fatalf("failed to decode FP: %v", err)
	}
	if fp.FID != 3 || fp.Size != 512 || fp.Valid != 1 || fp.TMP != `AAAA` {
		t.Fatalf("bad FP decode %+v", fp)
	}
	fr, err := ParseRecord("FACE PIN=7\tFID=0\tSIZE=9\tVALID=1\tTMP=BBBB")
	if err != nil {
		t.Fatalf("failed to parse FACE: %v", err)
	}
	f, err := fr.DecodeFace()
	if err != nil {
		t.Fatalf("failed to decode FACE: %v", err)
	}
	if f.Size != 9 || f.Valid != 1 || f.TMP != `BBBB` {
		t.Fatalf("bad FACE decode %+v", f)
	}
}

func TestParseRecordUnknownTag(t *testing.T) {
	if _, err := ParseRecord(`BOGUS PIN=1`); err != ErrUnknownTag {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

type bioDataParse struct {
	line string
	pin  string
	no   string
	typ  string
	tmp  string
}

func TestParseBioDataForms(t *testing.T) {
	tests := []bioDataParse{
		//strict tab form
		{"BIODATA Pin=9\tNo=0\tIndex=0\tValid=1\tDuress=0\tType=2\tMajorVer=5\tMinorVer=8\tFormat=ZK\tTmp=CCCC", `9`, `0`, `2`, `CCCC`},
		//whitespace form, tabs dropped in transit
		{"BIODATA Pin=9 No=0 Index=0 Valid=1 Duress=0 Type=2 MajorVer=5 MinorVer=8 Format=ZK Tmp=CCCC", `9`, `0`, `2`, `CCCC`},
		//mixed runs of spaces and tabs
		{"BIODATA Pin=9  No=0\t Index=0  Valid=1 Duress=0\tType=7 MajorVer=0 MinorVer=0 Format=0 Tmp=DD==", `9`, `0`, `7`, `DD==`},
	}
	for i := range tests {
		r, err := ParseRecord(tests[i].line)
		if err != nil {
			t.Fatalf("%d failed to parse: %v", i, err)
		}
		if r.Get(`Pin`) != tests[i].pin {
			t.Fatalf("%d bad Pin %q", i, r.Get(`Pin`))
		}
		if r.Get(`No`) != tests[i].no {
			t.Fatalf("%d bad No %q", i, r.Get(`No`))
		}
		if r.Get(`Type`) != tests[i].typ {
			t.Fatalf("%d bad Type %q", i, r.Get(`Type`))
		}
		if r.Get(`Tmp`) != tests[i].tmp {
			t.Fatalf("%d bad Tmp %q", i, r.Get(`Tmp`))
		}
	}
}

func TestParseBioDataTmpGreedy(t *testing.T) {
	//Tmp must capture from its key to the end of a whitespace form line
	r, err := ParseRecord("BIODATA Pin=9 No=0 Index=0 Valid=1 Duress=0 Type=1 MajorVer=0 MinorVer=0 Format=ZK Tmp=AAAA")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	bd, err := r.DecodeBioData()
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if bd.Tmp != `AAAA` {
		t.Fatalf("bad Tmp %q", bd.Tmp)
	}
	if bd.Format != `ZK` {
		t.Fatalf("Format must ride through verbatim, got %q", bd.Format)
	}
}

func TestParseRecordsFraming(t *testing.T) {
	body := "USER PIN=1\tName=a\r\n\r\nUSER PIN=2\tName=b\nUSER PIN=3\tName=c\n"
	recs, err := ParseRecords(strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to parse records: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{`1`, `2`, `3`} {
		if recs[i].Get(`PIN`) != want {
			t.Fatalf("record %d bad PIN %q", i, recs[i].Get(`PIN`))
		}
	}
}

func TestParseRecordsPartialOnMalformed(t *testing.T) {
	body := "USER PIN=1\tName=a\nJUNKTAG x=y\nUSER PIN=2\tName=b\n"
	recs, err := ParseRecords(strings.NewReader(body))
	if err != ErrUnknownTag {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected the records ahead of the bad line, got %d", len(recs))
	}
}

func TestDecodeErrorLog(t *testing.T) {
	r, err := ParseRecord("ERRORLOG ErrCode=-10\tErrMsg=pin missing\tDataOrigin=BIODATA\tCmdId=abc123\tAdditional=")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	e, err := r.DecodeErrorLog()
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if e.ErrCode != `-10` || e.DataOrigin != `BIODATA` || e.ErrMsg != `pin missing` {
		t.Fatalf("bad decode %+v", e)
	}
}
