/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package wire

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

const (
	maxRecordLine = 8 * 1024 * 1024 //templates and photos ride in single lines
)

var knownTags = map[string]bool{
	TagUser:     true,
	TagFP:       true,
	TagFace:     true,
	TagFVein:    true,
	TagUserPic:  true,
	TagBioPhoto: true,
	TagBioData:  true,
	TagIDCard:   true,
	TagWorkCode: true,
	TagSMS:      true,
	TagUserSMS:  true,
	TagErrorLog: true,
}

// bioDataFieldOrder is the canonical BIODATA parameter order on the wire
var bioDataFieldOrder = []string{
	`Pin`, `No`, `Index`, `Valid`, `Duress`,
	`Type`, `MajorVer`, `MinorVer`, `Format`, `Tmp`,
}

var (
	bioDataFieldRes = buildBioDataRes()
	bioDataTmpRe    = regexp.MustCompile(`Tmp=(.*)$`)
)

func buildBioDataRes() map[string]*regexp.Regexp {
	mp := make(map[string]*regexp.Regexp, len(bioDataFieldOrder))
	for _, name := range bioDataFieldOrder {
		if name == `Tmp` {
			continue //Tmp is greedy to end of line
		}
		mp[name] = regexp.MustCompile(name + `=([^\s\t]+)`)
	}
	return mp
}

// ParseRecords consumes a newline separated upload body, LF or CRLF framed,
// dropping empty lines, and returns the parsed records. A malformed line
// stops the scan and returns what parsed before it along with the error.
func ParseRecords(rdr io.Reader) (recs []Record, err error) {
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLine)
	for scanner.Scan() {
		ln := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(ln) == `` {
			continue
		}
		var r Record
		if r, err = ParseRecord(ln); err != nil {
			return
		}
		recs = append(recs, r)
	}
	err = scanner.Err()
	return
}

// ParseRecord parses a single upload record line into its tag and field mapping.
// All tags use the tab-separated form except BIODATA, which is attempted as
// tab-separated first and falls back to whitespace extraction when too few
// keys are recovered, some firmwares collapse tabs in transit.
func ParseRecord(ln string) (r Record, err error) {
	tag, params, ok := strings.Cut(ln, ` `)
	if !ok && tag == `` {
		err = ErrEmptyRecord
		return
	}
	if !knownTags[tag] {
		err = ErrUnknownTag
		return
	}
	r.Tag = tag
	if tag == TagBioData {
		r.Fields = parseBioDataParams(params)
		return
	}
	r.Fields = parseTabParams(params)
	return
}

// parseTabParams splits a strict tab-separated key=value parameter string
func parseTabParams(params string) map[string]string {
	mp := make(map[string]string, 8)
	for _, f := range strings.Split(params, "\t") {
		if f == `` {
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

// parseBioDataParams recovers BIODATA fields, tab form first with a
// whitespace extraction fallback when too few keys come back clean. Tmp is
// always captured greedily to the end of the line, never split on interior
// separators.
func parseBioDataParams(params string) map[string]string {
	mp := parseTabParams(params)
	if cleanBioKeys(mp) < 3 {
		return extractBioDataFields(params)
	}
	if m := bioDataTmpRe.FindStringSubmatch(params); m != nil {
		mp[`Tmp`] = m[1]
	}
	return mp
}

// cleanBioKeys counts canonical fields recovered with whitespace-free
// values, a low count means the tabs were collapsed in transit
func cleanBioKeys(mp map[string]string) (n int) {
	for _, name := range bioDataFieldOrder {
		v, ok := mp[name]
		if !ok {
			continue
		}
		if name != `Tmp` && strings.ContainsAny(v, " \t") {
			continue
		}
		n++
	}
	return
}

// extractBioDataFields pulls each named BIODATA field out of a parameter
// string regardless of the separators between them
func extractBioDataFields(params string) map[string]string {
	mp := make(map[string]string, len(bioDataFieldOrder))
	tmpIdx := len(params)
	if loc := bioDataTmpRe.FindStringSubmatchIndex(params); loc != nil {
		mp[`Tmp`] = params[loc[2]:loc[3]]
		tmpIdx = loc[0]
	}
	head := params[:tmpIdx]
	for name, re := range bioDataFieldRes {
		if m := re.FindStringSubmatch(head); m != nil {
			mp[name] = m[1]
		}
	}
	return mp
}
