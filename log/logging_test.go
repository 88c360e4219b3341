/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"bytes"
	"strings"
	"testing"
)

type bufCloser struct {
	bytes.Buffer
}

func (bc *bufCloser) Close() error {
	return nil
}

func TestLevels(t *testing.T) {
	var bb bufCloser
	l := New(&bb)
	if err := l.SetLevel(WARN); err != nil {
		t.Fatalf("failed to set level: %v", err)
	}
	l.Info("should not appear")
	l.Warn("should appear")
	out := bb.String()
	if strings.Contains(out, `should not appear`) {
		t.Fatalf("level filter failed:\n%s", out)
	}
	if !strings.Contains(out, `should appear`) {
		t.Fatalf("warn line missing:\n%s", out)
	}
}

func TestStructuredKVs(t *testing.T) {
	var bb bufCloser
	l := New(&bb)
	l.Info("terminal init", KV("sn", `A01`), KV("count", 3))
	out := bb.String()
	if !strings.Contains(out, `sn="A01"`) {
		t.Fatalf("missing sn param:\n%s", out)
	}
	if !strings.Contains(out, `count="3"`) {
		t.Fatalf("missing count param:\n%s", out)
	}
}

func TestKVLoggerSticky(t *testing.T) {
	var bb bufCloser
	l := New(&bb)
	kvl := NewLoggerWithKV(l, KV("sn", `A02`))
	kvl.Info("poll", KV("pending", 2))
	out := bb.String()
	if !strings.Contains(out, `sn="A02"`) || !strings.Contains(out, `pending="2"`) {
		t.Fatalf("sticky params missing:\n%s", out)
	}
}

func TestLevelFromString(t *testing.T) {
	for s, want := range map[string]Level{
		`debug`: DEBUG, `INFO`: INFO, `Warn`: WARN, `WARNING`: WARN,
		`error`: ERROR, `CRITICAL`: CRITICAL, ``: INFO,
	} {
		got, err := LevelFromString(s)
		if err != nil || got != want {
			t.Fatalf("%q: got %v %v", s, got, err)
		}
	}
	if _, err := LevelFromString(`shouty`); err != ErrInvalidLevel {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}
