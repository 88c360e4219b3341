/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package queue

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/gatesync/log"
	"github.com/gravwell/gatesync/store"
)

func testQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), `q.db`))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, log.NewDiscardLogger(), 3), st
}

func TestNewCommandID(t *testing.T) {
	idRe := regexp.MustCompile(`^[0-9a-f]{16}$`)
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		id := NewCommandID()
		if !idRe.MatchString(id) {
			t.Fatalf("bad id %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q, _ := testQueue(t)
	var ids []string
	for _, pin := range []string{`1`, `2`, `3`} {
		id, err := q.Enqueue(`A02`, `DATA`, `DATA UPDATE USERINFO PIN=`+pin)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := range ids {
		c, ok, err := q.DequeueNext(`A02`)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, ids[i], c.ID)
		require.Equal(t, store.StateSent, c.State)
	}
	_, ok, err := q.DequeueNext(`A02`)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReplySuccess(t *testing.T) {
	q, st := testQueue(t)
	id, err := q.Enqueue(`A02`, `DATA`, `DATA UPDATE BIODATA Pin=1001`)
	require.NoError(t, err)
	_, ok, err := q.DequeueNext(`A02`)
	require.NoError(t, err)
	require.True(t, ok)

	results, err := q.Reply(`A02`, `ID=`+id+`&Return=0&CMD=DATA`)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, store.StateCompleted, results[0].State)

	c, err := st.GetCommand(`A02`, id)
	require.NoError(t, err)
	require.Equal(t, store.StateCompleted, c.State)
	require.Equal(t, `ID=`+id+`&Return=0&CMD=DATA`, c.Result)
	require.False(t, c.CompletedAt.IsZero())
}

// a retryable failure walks the row back to pending until the third
// failure lands it in failed
func TestReplyRetryCycle(t *testing.T) {
	q, st := testQueue(t)
	id, err := q.Enqueue(`A02`, `DATA`, `DATA UPDATE BIODATA Pin=1001`)
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		c, ok, derr := q.DequeueNext(`A02`)
		require.NoError(t, derr)
		require.True(t, ok, "attempt %d should be deliverable", attempt)
		require.Equal(t, id, c.ID)

		results, rerr := q.Reply(`A02`, `ID=`+id+`&Return=-1003&CMD=DATA`)
		require.NoError(t, rerr)
		require.Len(t, results, 1)
		if attempt < 3 {
			require.Equal(t, store.StatePending, results[0].State)
			require.True(t, results[0].Retried)
		} else {
			require.Equal(t, store.StateFailed, results[0].State)
			require.False(t, results[0].Retried)
		}
	}
	row, err := st.GetCommand(`A02`, id)
	require.NoError(t, err)
	require.Equal(t, 3, row.Retries)
	//the row is terminal, no further delivery
	_, ok, err := q.DequeueNext(`A02`)
	require.NoError(t, err)
	require.False(t, ok)
}

// non-idempotent payloads never requeue, a single failure is final
func TestReplyNonIdempotentFailure(t *testing.T) {
	q, _ := testQueue(t)
	id, err := q.Enqueue(`A02`, `CONTROL`, `REBOOT`)
	require.NoError(t, err)
	_, ok, err := q.DequeueNext(`A02`)
	require.NoError(t, err)
	require.True(t, ok)

	results, err := q.Reply(`A02`, `ID=`+id+`&Return=-1&CMD=REBOOT`)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, store.StateFailed, results[0].State)
}

func TestReplyMultiLine(t *testing.T) {
	q, _ := testQueue(t)
	id1, err := q.Enqueue(`A02`, `DATA`, `DATA UPDATE USERINFO PIN=1`)
	require.NoError(t, err)
	id2, err := q.Enqueue(`A02`, `DATA`, `DATA UPDATE USERINFO PIN=2`)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, ok, derr := q.DequeueNext(`A02`)
		require.NoError(t, derr)
		require.True(t, ok)
	}
	body := "ID=" + id1 + "&Return=0&CMD=DATA\r\nID=" + id2 + "&Return=0&CMD=DATA\n"
	results, err := q.Reply(`A02`, body)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, store.StateCompleted, r.State)
	}
}

// an unknown command id is skipped without failing the batch
func TestReplyUnknownID(t *testing.T) {
	q, _ := testQueue(t)
	results, err := q.Reply(`A02`, `ID=ffffffffffffffff&Return=0&CMD=DATA`)
	require.NoError(t, err)
	require.Len(t, results, 0)
}

func TestPendingCountAndHistory(t *testing.T) {
	q, _ := testQueue(t)
	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(`A03`, `DATA`, `DATA UPDATE USERINFO PIN=1`)
		require.NoError(t, err)
	}
	_, ok, err := q.DequeueNext(`A03`)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := q.PendingCount(`A03`)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	hist, err := q.History(`A03`, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestQueueIsolationAcrossTerminals(t *testing.T) {
	q, _ := testQueue(t)
	_, err := q.Enqueue(`A01`, `DATA`, `DATA UPDATE USERINFO PIN=1`)
	require.NoError(t, err)
	_, ok, err := q.DequeueNext(`A02`)
	require.NoError(t, err)
	require.False(t, ok, "terminal A02 must not see A01's queue")
}
