/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package command

import (
	"strings"
	"testing"

	"github.com/gravwell/gatesync/store"
	"github.com/gravwell/gatesync/wire"
)

func TestPutUser(t *testing.T) {
	pl, err := PutUser(store.User{
		PIN:       `1001`,
		Name:      `Alice`,
		Privilege: 0,
		Group:     `1`,
		TimeZone:  `0000000000000000`,
		Verify:    -1,
	})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	want := "DATA UPDATE USERINFO PIN=1001\tName=Alice\tPri=0\tPasswd=\tCard=\tGrp=1\tTZ=0000000000000000\tVerify=-1\tViceCard="
	if pl != want {
		t.Fatalf("bad payload:\n got %q\nwant %q", pl, want)
	}
	if _, err = PutUser(store.User{}); err != ErrEmptyPIN {
		t.Fatalf("expected ErrEmptyPIN, got %v", err)
	}
}

func TestPutBioTemplateCanonical(t *testing.T) {
	pl, err := PutBioTemplate(store.BioTemplate{
		PIN:      `1001`,
		Type:     wire.BioFingerprint,
		No:       3,
		Valid:    1,
		MajorVer: `0`,
		MinorVer: `0`,
		Format:   `ZK`,
		Template: `AAAA`,
	})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	want := "DATA UPDATE BIODATA Pin=1001\tNo=3\tIndex=0\tValid=1\tDuress=0\tType=1\tMajorVer=0\tMinorVer=0\tFormat=ZK\tTmp=AAAA"
	if pl != want {
		t.Fatalf("bad payload:\n got %q\nwant %q", pl, want)
	}
	//exactly nine tabs with all ten fields present, no duplicated keys
	if n := strings.Count(pl, "\t"); n != 9 {
		t.Fatalf("expected 9 tabs, got %d", n)
	}
	_, params, _ := strings.Cut(pl, `BIODATA `)
	seen := map[string]bool{}
	for _, f := range strings.Split(params, "\t") {
		k, _, _ := strings.Cut(f, `=`)
		if seen[k] {
			t.Fatalf("key %s appears twice", k)
		}
		seen[k] = true
	}
}

func TestPutBioTemplateFormatPassthrough(t *testing.T) {
	//some sites send the numeric 0, others the string ZK, neither is coerced
	for _, format := range []string{`0`, `ZK`} {
		pl, err := PutBioTemplate(store.BioTemplate{
			PIN:      `5`,
			Type:     wire.BioFace,
			Valid:    1,
			MajorVer: `5`,
			MinorVer: `8`,
			Format:   format,
			Template: `QQ==`,
		})
		if err != nil {
			t.Fatalf("failed to build with Format=%s: %v", format, err)
		}
		if !strings.Contains(pl, "Format="+format+"\t") {
			t.Fatalf("Format %q was not carried verbatim: %q", format, pl)
		}
	}
}

type validationTest struct {
	t    store.BioTemplate
	want error
}

func TestValidateBioTemplate(t *testing.T) {
	good := store.BioTemplate{PIN: `1`, Type: wire.BioFingerprint, No: 5, Template: `AA==`}
	tests := []validationTest{
		{good, nil},
		{store.BioTemplate{Type: 1, Template: `AA`}, ErrEmptyPIN},
		{store.BioTemplate{PIN: `1`, Type: 0, Template: `AA`}, ErrBadBioType},
		{store.BioTemplate{PIN: `1`, Type: 10, Template: `AA`}, ErrBadBioType},
		{store.BioTemplate{PIN: `1`, Type: 1}, ErrEmptyTemplate},
		{store.BioTemplate{PIN: `1`, Type: 1, Template: `not base64!`}, ErrBadTemplate},
		{store.BioTemplate{PIN: `1`, Type: 1, No: 10, Template: `AA`}, ErrBadSlot},
		{store.BioTemplate{PIN: `1`, Type: 2, No: 1, Template: `AA`}, ErrBadSlot},
		{store.BioTemplate{PIN: `1`, Type: 2, No: 0, Template: `AA`}, nil},
		{store.BioTemplate{PIN: `1`, Type: 7, No: 11, Template: `AA`}, nil},
	}
	for i := range tests {
		if err := ValidateBioTemplate(tests[i].t); err != tests[i].want {
			t.Fatalf("%d expected %v, got %v", i, tests[i].want, err)
		}
	}
}

func TestDeleteAndQueryForms(t *testing.T) {
	pl, err := DeleteUser(`1001`)
	if err != nil || pl != `DATA DELETE USERINFO PIN=1001` {
		t.Fatalf("bad delete user %q %v", pl, err)
	}
	if pl, err = DeleteBioTemplate(`1001`, -1, -1); err != nil || pl != `DATA DELETE BIODATA Pin=1001` {
		t.Fatalf("bad delete %q %v", pl, err)
	}
	if pl, err = DeleteBioTemplate(`1001`, 1, 3); err != nil || pl != "DATA DELETE BIODATA Pin=1001\tType=1\tNo=3" {
		t.Fatalf("bad delete %q %v", pl, err)
	}
	//the query form uses the upper-case PIN key
	if pl, err = QueryBioTemplate(2, `77`, -1); err != nil || pl != "DATA QUERY BIODATA Type=2\tPIN=77" {
		t.Fatalf("bad query %q %v", pl, err)
	}
	if pl, err = QueryBioTemplate(1, `77`, 4); err != nil || pl != "DATA QUERY BIODATA Type=1\tPIN=77\tNo=4" {
		t.Fatalf("bad query %q %v", pl, err)
	}
}

type categorizeTest struct {
	payload string
	cat     string
}

func TestCategorize(t *testing.T) {
	tests := []categorizeTest{
		{`DATA UPDATE USERINFO PIN=1`, CatData},
		{`DATA DELETE BIODATA Pin=1`, CatData},
		{`REBOOT`, CatControl},
		{`AC_UNLOCK`, CatControl},
		{`CLEAR DATA`, CatClear},
		{`SET OPTION IPAddress=10.0.0.1`, CatConfig},
		{`RELOAD OPTIONS`, CatConfig},
		{`INFO`, CatInfo},
		{`ENROLL_BIO TYPE=1`, CatEnroll},
		{`GetFile a.cfg`, CatFile},
		{`SHELL ls`, CatSystem},
		{`UPGRADE`, CatUpgrade},
		{`CHECK`, CatCheck},
		{`LOG`, CatLog},
		{`VERIFY SUM ATTLOG StartTime=a`, CatVerify},
	}
	for i := range tests {
		cat, err := Categorize(tests[i].payload)
		if err != nil {
			t.Fatalf("%d failed to categorize %q: %v", i, tests[i].payload, err)
		}
		if cat != tests[i].cat {
			t.Fatalf("%d expected %s, got %s", i, tests[i].cat, cat)
		}
	}
	if _, err := Categorize(`GIBBERISH`); err != ErrUnknownVerb {
		t.Fatalf("expected ErrUnknownVerb, got %v", err)
	}
}

func TestIsIdempotent(t *testing.T) {
	if !IsIdempotent(`DATA UPDATE USERINFO PIN=1`) || !IsIdempotent(`DATA DELETE SMS UID=9`) {
		t.Fatal("data update and delete are idempotent")
	}
	if IsIdempotent(`REBOOT`) || IsIdempotent(`ENROLL_BIO TYPE=1`) {
		t.Fatal("control and enroll payloads are not idempotent")
	}
}

// ingesting a legacy FP record and a unified BIODATA record carrying the
// same template must produce identical command bytes
func TestUnification(t *testing.T) {
	fpRec, err := wire.ParseRecord("FP PIN=1001\tFID=3\tSize=512\tValid=1\tTMP=AAAA")
	if err != nil {
		t.Fatalf("failed to parse FP: %v", err)
	}
	bdRec, err := wire.ParseRecord("BIODATA Pin=1001 No=3 Index=0 Valid=1 Duress=0 Type=1 MajorVer=0 MinorVer=0 Format=ZK Tmp=AAAA")
	if err != nil {
		t.Fatalf("failed to parse BIODATA: %v", err)
	}
	fpPl, _, err := FromRecord(fpRec)
	if err != nil {
		t.Fatalf("failed to translate FP: %v", err)
	}
	bdPl, _, err := FromRecord(bdRec)
	if err != nil {
		t.Fatalf("failed to translate BIODATA: %v", err)
	}
	if fpPl != bdPl {
		t.Fatalf("unification broken:\n fp %q\n bd %q", fpPl, bdPl)
	}
	want := "DATA UPDATE BIODATA Pin=1001\tNo=3\tIndex=0\tValid=1\tDuress=0\tType=1\tMajorVer=0\tMinorVer=0\tFormat=ZK\tTmp=AAAA"
	if fpPl != want {
		t.Fatalf("bad unified payload %q", fpPl)
	}
}

// the template blob must survive the parse, translate, emit round trip
// byte for byte
func TestTemplateRoundTrip(t *testing.T) {
	tmp := `c2xvdGhzIGFyZSBzbG93IGJ1dCBzdGVhZHk=`
	rec, err := wire.ParseRecord("BIODATA Pin=9 No=1 Index=0 Valid=1 Duress=0 Type=8 MajorVer=1 MinorVer=2 Format=0 Tmp=" + tmp)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	pl, _, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("failed to translate: %v", err)
	}
	if !strings.HasSuffix(pl, "Tmp="+tmp) {
		t.Fatalf("template blob mangled: %q", pl)
	}
}
