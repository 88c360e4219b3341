/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package mgmt is the operator surface, a small JSON API for pushing and
// deleting users across the fleet, enqueueing raw commands, and reading
// queue diagnostics.
package mgmt

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/gravwell/gatesync/command"
	"github.com/gravwell/gatesync/fanout"
	"github.com/gravwell/gatesync/log"
	"github.com/gravwell/gatesync/queue"
	"github.com/gravwell/gatesync/registry"
	"github.com/gravwell/gatesync/store"
	"github.com/gravwell/gatesync/wire"
)

const (
	maxRequestBody = 16 * 1024 * 1024

	// the operator is not a terminal, sync log rows attribute pushes to it
	operatorSource = `operator`
)

type Handler struct {
	st  *store.Store
	reg *registry.Registry
	q   *queue.Queue
	fan *fanout.Synchronizer
	lg  *log.Logger
}

func NewHandler(st *store.Store, reg *registry.Registry, q *queue.Queue, fan *fanout.Synchronizer, lg *log.Logger) (*Handler, error) {
	if st == nil || reg == nil || q == nil || fan == nil {
		return nil, errors.New("nil component")
	}
	if lg == nil {
		return nil, errors.New("nil logger")
	}
	return &Handler{
		st:  st,
		reg: reg,
		q:   q,
		fan: fan,
		lg:  lg,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		io.Copy(io.Discard, r.Body)
		r.Body.Close()
	}()
	pth := path.Clean(r.URL.Path)
	switch {
	case pth == `/mgmt/terminals` && r.Method == http.MethodGet:
		h.listTerminals(w)
	case pth == `/mgmt/user/push` && r.Method == http.MethodPost:
		h.pushUser(w, r)
	case pth == `/mgmt/user/delete` && r.Method == http.MethodPost:
		h.deleteUser(w, r)
	case pth == `/mgmt/command` && r.Method == http.MethodPost:
		h.enqueueCommand(w, r)
	case pth == `/mgmt/queue` && r.Method == http.MethodGet:
		h.queueStatus(w, r)
	case pth == `/mgmt/synclog` && r.Method == http.MethodGet:
		h.syncLog(w, r)
	default:
		writeErr(w, http.StatusNotFound, `no such resource`)
	}
}

type terminalView struct {
	SN        string    `json:"sn"`
	Firmware  string    `json:"firmware"`
	IPAddress string    `json:"ip"`
	LastSeen  time.Time `json:"last_seen"`
	Active    bool      `json:"active"`
	Pending   int       `json:"pending_commands"`
}

func (h *Handler) listTerminals(w http.ResponseWriter) {
	ts, err := h.st.ListTerminals()
	if err != nil {
		h.lg.Error("failed to list terminals", log.KVErr(err))
		writeErr(w, http.StatusInternalServerError, `store error`)
		return
	}
	views := make([]terminalView, 0, len(ts))
	for _, t := range ts {
		pending, _ := h.q.PendingCount(t.SN)
		views = append(views, terminalView{
			SN:        t.SN,
			Firmware:  t.Firmware,
			IPAddress: t.IPAddress,
			LastSeen:  t.LastSeen,
			Active:    h.reg.IsActive(t.SN),
			Pending:   pending,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// pushUser enqueues the stored user and every template for the PIN onto
// each active terminal, the user row always rides ahead of its templates
func (h *Handler) pushUser(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := h.st.GetUser(req.PIN)
	if err != nil {
		if err == store.ErrNotFound {
			writeErr(w, http.StatusNotFound, `unknown PIN`)
		} else {
			h.lg.Error("user lookup failed", log.KV("pin", req.PIN), log.KVErr(err))
			writeErr(w, http.StatusInternalServerError, `store error`)
		}
		return
	}
	var queued, skipped int
	pl, err := command.PutUser(u)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	nq, ns := h.fan.DispatchPayload(operatorSource, wire.TagUser, u.PIN, command.CatData, pl)
	queued, skipped = queued+nq, skipped+ns
	tmps, err := h.st.ListBioTemplates(req.PIN)
	if err != nil {
		h.lg.Error("template list failed", log.KV("pin", req.PIN), log.KVErr(err))
		writeErr(w, http.StatusInternalServerError, `store error`)
		return
	}
	for _, t := range tmps {
		tpl, terr := command.PutBioTemplate(t)
		if terr != nil {
			skipped++
			h.lg.Warn("template push skipped", log.KV("pin", t.PIN),
				log.KV("type", t.Type), log.KVErr(terr))
			continue
		}
		nq, ns = h.fan.DispatchPayload(operatorSource, wire.TagBioData, t.PIN, command.CatData, tpl)
		queued, skipped = queued+nq, skipped+ns
	}
	writeJSON(w, http.StatusOK, map[string]int{"queued": queued, "skipped": skipped})
}

// deleteUser removes the user and everything keyed to the PIN in one
// transaction, then enqueues a delete on every active terminal
func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PIN == `` {
		writeErr(w, http.StatusBadRequest, `pin is required`)
		return
	}
	if err := h.st.DeleteUserCascade(req.PIN); err != nil {
		h.lg.Error("cascade delete failed", log.KV("pin", req.PIN), log.KVErr(err))
		writeErr(w, http.StatusInternalServerError, `store error`)
		return
	}
	pl, err := command.DeleteUser(req.PIN)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	queued, skipped := h.fan.DispatchPayload(operatorSource, wire.TagUser, req.PIN, command.CatData, pl)
	h.lg.Info("user deleted", log.KV("pin", req.PIN), log.KV("queued", queued))
	writeJSON(w, http.StatusOK, map[string]int{"queued": queued, "skipped": skipped})
}

type commandRequest struct {
	SN      string `json:"sn"`
	Payload string `json:"payload"`
}

// enqueueCommand accepts a raw payload for one terminal, running the tab
// repair pass before the row is stored so collapsed separators never reach
// the wire
func (h *Handler) enqueueCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SN == `` || req.Payload == `` {
		writeErr(w, http.StatusBadRequest, `sn and payload are required`)
		return
	}
	payload := wire.RepairTabs(req.Payload)
	cat, err := command.Categorize(payload)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.q.Enqueue(req.SN, cat, payload)
	if err != nil {
		h.lg.Error("operator enqueue failed", log.KV("sn", req.SN), log.KVErr(err))
		writeErr(w, http.StatusInternalServerError, `store error`)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "category": cat})
}

func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get(`sn`)
	if sn == `` {
		writeErr(w, http.StatusBadRequest, `sn is required`)
		return
	}
	limit := 50
	if v := r.URL.Query().Get(`limit`); v != `` {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	pending, err := h.q.PendingCount(sn)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, `store error`)
		return
	}
	hist, err := h.q.History(sn, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, `store error`)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"history": hist,
	})
}

func (h *Handler) syncLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get(`limit`); v != `` {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	es, err := h.st.ListSyncLog(limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, `store error`)
		return
	}
	writeJSON(w, http.StatusOK, es)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeErr(w, http.StatusBadRequest, `failed to read body`)
		return false
	}
	if err = json.Unmarshal(b, v); err != nil {
		writeErr(w, http.StatusBadRequest, `invalid JSON body`)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set(`Content-Type`, `application/json`)
	w.WriteHeader(code)
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.Write(b)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
