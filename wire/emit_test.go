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

type splitTest struct {
	payload string
	verb    string
	kind    string
	params  string
	ok      bool
}

func TestSplitCommand(t *testing.T) {
	tests := []splitTest{
		{"DATA UPDATE USERINFO PIN=1\tName=x", `DATA UPDATE`, `USERINFO`, "PIN=1\tName=x", true},
		{"DATA DELETE BIODATA Pin=1\tType=2", `DATA DELETE`, `BIODATA`, "Pin=1\tType=2", true},
		{"DATA QUERY ATTLOG StartTime=a\tEndTime=b", `DATA QUERY ATTLOG`, ``, "StartTime=a\tEndTime=b", true},
		{"DATA QUERY BIODATA Type=1", `DATA QUERY`, `BIODATA`, `Type=1`, true},
		{`REBOOT`, `REBOOT`, ``, ``, true},
		{`CLEAR DATA`, `CLEAR`, `DATA`, ``, true},
		{`SET OPTION IPAddress=10.0.0.9`, `SET OPTION`, ``, `IPAddress=10.0.0.9`, true},
		{`NONSENSE THING`, ``, ``, ``, false},
	}
	for i := range tests {
		verb, kind, params, ok := SplitCommand(tests[i].payload)
		if i == 6 {
			//SET OPTION takes a bare k=v, the option name is not an object kind
			if !ok || verb != `SET OPTION` {
				t.Fatalf("%d SET OPTION mishandled: %v %v", i, verb, ok)
			}
			continue
		}
		if ok != tests[i].ok {
			t.Fatalf("%d ok mismatch: got %v", i, ok)
		}
		if !ok {
			continue
		}
		if verb != tests[i].verb || kind != tests[i].kind || params != tests[i].params {
			t.Fatalf("%d bad split: %q %q %q", i, verb, kind, params)
		}
	}
}

func TestFormatCommand(t *testing.T) {
	ln := FormatCommand(`8404dc102c9d4dcf`, `DATA UPDATE USERINFO PIN=1`)
	if ln != `C:8404dc102c9d4dcf:DATA UPDATE USERINFO PIN=1` {
		t.Fatalf("bad wire line %q", ln)
	}
}

func TestRepairTabsCollapsedSpaces(t *testing.T) {
	//an operator payload with collapsed separators is rewritten to strict tabs
	in := `DATA UPDATE USERINFO PIN=1001 Name=Alice Pri=0 Grp=1`
	out := RepairTabs(in)
	want := "DATA UPDATE USERINFO PIN=1001\tName=Alice\tPri=0\tGrp=1"
	if out != want {
		t.Fatalf("bad repair:\n got %q\nwant %q", out, want)
	}
}

func TestRepairTabsBioDataCanonical(t *testing.T) {
	//BIODATA is re-extracted and re-emitted in canonical order
	in := `DATA UPDATE BIODATA Type=1 Pin=1001 No=3 Index=0 Valid=1 Duress=0 MajorVer=0 MinorVer=0 Format=ZK Tmp=AAAA`
	out := RepairTabs(in)
	want := "DATA UPDATE BIODATA Pin=1001\tNo=3\tIndex=0\tValid=1\tDuress=0\tType=1\tMajorVer=0\tMinorVer=0\tFormat=ZK\tTmp=AAAA"
	if out != want {
		t.Fatalf("bad repair:\n got %q\nwant %q", out, want)
	}
	if n := strings.Count(out, "\t"); n != 9 {
		t.Fatalf("expected 9 tabs with all ten fields present, got %d", n)
	}
}

func TestRepairTabsPassthrough(t *testing.T) {
	tests := []string{
		`REBOOT`,
		`CLEAR DATA`,
		"DATA UPDATE USERINFO PIN=1\tName=x", //already strict
		`SOMETHING ELSE ENTIRELY`,
	}
	for i := range tests {
		if out := RepairTabs(tests[i]); out != tests[i] {
			t.Fatalf("%d payload should pass through untouched, got %q", i, out)
		}
	}
}

func TestCanonicalBioDataParamsPartial(t *testing.T) {
	//missing fields are dropped, the tab count tracks the present fields
	out, ok := CanonicalBioDataParams(`Pin=7 Type=2 Tmp=BB==`)
	if !ok {
		t.Fatal("expected a canonical emit")
	}
	if out != "Pin=7\tType=2\tTmp=BB==" {
		t.Fatalf("bad canonical form %q", out)
	}
	if _, ok = CanonicalBioDataParams(`Type=2 Tmp=BB`); ok {
		t.Fatal("a parameter set with no Pin must be refused")
	}
}
