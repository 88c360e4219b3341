/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package iclock serves the five push-protocol HTTP resources. Terminals
// poll on their own cadence and are picky about response content, every
// answer is text/plain with the no-cache header set and internal error
// text never leaks to the wire.
package iclock

import (
	"errors"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/gravwell/gatesync/ingest"
	"github.com/gravwell/gatesync/log"
	"github.com/gravwell/gatesync/queue"
	"github.com/gravwell/gatesync/registry"
	"github.com/gravwell/gatesync/store"
	"github.com/gravwell/gatesync/wire"
)

const (
	initPath  = `/iclock/cdata`
	pollPath  = `/iclock/getrequest`
	replyPath = `/iclock/devicecmd`
	pingPath  = `/iclock/ping`

	respOK = `OK`

	maxReplyBody = 64 * 1024
)

type handleFunc func(h *Handler, w http.ResponseWriter, r *http.Request, rdr io.Reader)

type route struct {
	method string
	uri    string
}

func newRoute(method, uri string) route {
	return route{
		method: method,
		uri:    path.Clean(uri),
	}
}

// Handler glues the registry, pipeline, and queue behind the protocol
// surface, one instance serves the whole fleet
type Handler struct {
	lg      *log.Logger
	reg     *registry.Registry
	q       *queue.Queue
	pipe    *ingest.Pipeline
	st      *store.Store
	opts    Options
	maxBody int64
	mp      map[route]handleFunc
}

func NewHandler(reg *registry.Registry, q *queue.Queue, pipe *ingest.Pipeline, st *store.Store, lg *log.Logger, opts Options, maxBody int64) (*Handler, error) {
	if reg == nil || q == nil || pipe == nil || st == nil {
		return nil, errors.New("nil component")
	}
	if lg == nil {
		return nil, errors.New("nil logger")
	}
	h := &Handler{
		lg:      lg,
		reg:     reg,
		q:       q,
		pipe:    pipe,
		st:      st,
		opts:    opts,
		maxBody: maxBody,
	}
	h.mp = map[route]handleFunc{
		newRoute(http.MethodGet, initPath):   handleInit,
		newRoute(http.MethodPost, initPath):  handleUpload,
		newRoute(http.MethodGet, pollPath):   handlePoll,
		newRoute(http.MethodPost, replyPath): handleReply,
		newRoute(http.MethodGet, pingPath):   handlePing,
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer drainAndClose(r.Body)
	h.setHeaders(w)
	rt := route{
		method: r.Method,
		uri:    path.Clean(r.URL.Path),
	}
	fn, ok := h.mp[rt]
	if !ok {
		h.lg.Info("bad request URL", log.KV("url", rt.uri), log.KV("method", rt.method))
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rdr, err := getReadableBody(r)
	if err != nil {
		h.lg.Error("failed to get body reader", log.KV("address", getRemoteAddr(r)), log.KVErr(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer rdr.Close()
	fn(h, w, r, io.LimitReader(rdr, h.maxBody))
}

// setHeaders applies the response headers the firmware expects on every answer
func (h *Handler) setHeaders(w http.ResponseWriter) {
	hd := w.Header()
	hd.Set(`Date`, time.Now().UTC().Format(http.TimeFormat))
	hd.Set(`Content-Type`, `text/plain`)
	hd.Set(`Pragma`, `no-cache`)
	hd.Set(`Cache-Control`, `no-store`)
	hd.Set(`Server`, h.opts.ServerName())
}

// handleInit serves the init exchange, registering the terminal and
// answering with its options block. table=RemoteAtt is the lookup flavour
// and answers with the user and biometrics in the upload dialect.
func handleInit(h *Handler, w http.ResponseWriter, r *http.Request, rdr io.Reader) {
	q := r.URL.Query()
	sn := q.Get(`SN`)
	if sn == `` {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if q.Get(`table`) == `RemoteAtt` {
		h.reg.Touch(sn)
		h.serveRemoteAtt(w, q.Get(`PIN`))
		return
	}
	t, err := h.reg.Acquire(sn, q.Get(`pushver`), q.Get(`language`), q.Get(`options`))
	if err != nil {
		h.lg.Error("failed to acquire terminal", log.KV("sn", sn), log.KVErr(err))
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `ERROR`)
		return
	}
	h.lg.Info("terminal init", log.KV("sn", sn), log.KV("pushver", q.Get(`pushver`)), log.KV("address", getRemoteAddr(r)))
	io.WriteString(w, h.opts.Block(t))
}

// serveRemoteAtt answers with the stored user and templates for a PIN, or
// a plain OK when the user is unknown
func (h *Handler) serveRemoteAtt(w http.ResponseWriter, pin string) {
	if pin == `` {
		io.WriteString(w, respOK)
		return
	}
	u, err := h.st.GetUser(pin)
	if err != nil {
		if err != store.ErrNotFound {
			h.lg.Error("remote att lookup failed", log.KV("pin", pin), log.KVErr(err))
		}
		io.WriteString(w, respOK)
		return
	}
	var sb strings.Builder
	sb.WriteString(userUploadLine(u))
	sb.WriteByte('\n')
	if tmps, err := h.st.ListBioTemplates(pin); err == nil {
		for _, t := range tmps {
			sb.WriteString(bioUploadLine(t))
			sb.WriteByte('\n')
		}
	}
	io.WriteString(w, sb.String())
}

// handleUpload consumes a multi-record upload body
func handleUpload(h *Handler, w http.ResponseWriter, r *http.Request, rdr io.Reader) {
	q := r.URL.Query()
	sn := q.Get(`SN`)
	if sn == `` {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.reg.Touch(sn)
	table := q.Get(`table`)
	switch {
	case table == `PostVerifyData`:
		io.Copy(io.Discard, rdr)
		io.WriteString(w, respOK)
		return
	case table == `options`:
		h.absorbOptions(sn, rdr)
		io.WriteString(w, respOK)
		return
	case !ingest.KnownTable(table):
		h.lg.Info("unknown upload table", log.KV("sn", sn), log.KV("table", table))
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `unknown table `+table)
		return
	}
	if stamp := q.Get(`Stamp`); stamp != `` {
		h.reg.SetStamp(sn, table, stamp)
	}
	count, err := h.pipe.ProcessUpload(sn, table, rdr)
	if err != nil {
		h.lg.Warn("upload aborted on malformed record",
			log.KV("sn", sn), log.KV("table", table),
			log.KV("accepted", count), log.KVErr(err))
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `malformed record`)
		return
	}
	io.WriteString(w, `OK: `+itoa(count))
}

// absorbOptions merges a posted options body into the terminal record,
// terminals re-post their full option set after a RELOAD OPTIONS
func (h *Handler) absorbOptions(sn string, rdr io.Reader) {
	b, err := io.ReadAll(rdr)
	if err != nil {
		h.lg.Warn("failed to read options body", log.KV("sn", sn), log.KVErr(err))
		return
	}
	opts := strings.ReplaceAll(strings.TrimSpace(string(b)), "\r\n", ",")
	opts = strings.ReplaceAll(opts, "\n", ",")
	if _, err = h.reg.Acquire(sn, ``, ``, opts); err != nil {
		h.lg.Warn("failed to absorb options", log.KV("sn", sn), log.KVErr(err))
	}
}

// handlePoll pops the next pending command for the terminal, answering OK
// when the queue is empty. There is no long poll, terminals come back on
// their own cadence.
func handlePoll(h *Handler, w http.ResponseWriter, r *http.Request, rdr io.Reader) {
	q := r.URL.Query()
	sn := q.Get(`SN`)
	if sn == `` {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if info := q.Get(`INFO`); info != `` {
		h.reg.TouchInfo(sn, info)
	} else {
		h.reg.Touch(sn)
	}
	c, ok, err := h.q.DequeueNext(sn)
	if err != nil {
		h.lg.Error("failed to dequeue command", log.KV("sn", sn), log.KVErr(err))
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `ERROR`)
		return
	}
	if !ok {
		io.WriteString(w, respOK)
		return
	}
	io.WriteString(w, wire.FormatCommand(c.ID, c.Payload)+"\n")
}

// handleReply reconciles command replies, a failed command is a state
// transition rather than a request error so the answer is always OK
func handleReply(h *Handler, w http.ResponseWriter, r *http.Request, rdr io.Reader) {
	sn := r.URL.Query().Get(`SN`)
	if sn == `` {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.reg.Touch(sn)
	b, err := io.ReadAll(io.LimitReader(rdr, maxReplyBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err = h.q.Reply(sn, string(b)); err != nil && err != queue.ErrEmptyReply {
		h.lg.Warn("reply reconciliation failed", log.KV("sn", sn), log.KVErr(err))
	}
	io.WriteString(w, respOK)
}

// handlePing bumps last-seen and answers OK
func handlePing(h *Handler, w http.ResponseWriter, r *http.Request, rdr io.Reader) {
	sn := r.URL.Query().Get(`SN`)
	if sn == `` {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.reg.Touch(sn)
	io.WriteString(w, respOK)
}

// getReadableBody transparently unwraps a gzip compressed request body
func getReadableBody(r *http.Request) (rc io.ReadCloser, err error) {
	switch r.Header.Get(`Content-Encoding`) {
	case `GZIP`:
		fallthrough
	case `gzip`:
		rc, err = gzip.NewReader(r.Body)
	default:
		rc = r.Body
	}
	return
}

func getRemoteAddr(r *http.Request) (host string) {
	xfflist, ok := r.Header[`X-Forwarded-For`]
	if !ok || len(xfflist) == 0 {
		host, _, _ = net.SplitHostPort(r.RemoteAddr)
	} else {
		host = xfflist[0]
	}
	return
}

type ew struct{}

func (x *ew) Write(b []byte) (int, error) {
	return len(b), nil
}

func drainAndClose(rc io.ReadCloser) {
	io.Copy(&ew{}, rc)
	rc.Close()
}
