/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"flag"
	"fmt"
	dlog "log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/gravwell/gatesync/fanout"
	"github.com/gravwell/gatesync/iclock"
	"github.com/gravwell/gatesync/ingest"
	"github.com/gravwell/gatesync/log"
	"github.com/gravwell/gatesync/mgmt"
	"github.com/gravwell/gatesync/queue"
	"github.com/gravwell/gatesync/registry"
	"github.com/gravwell/gatesync/store"
	"github.com/gravwell/gatesync/utils"
	"github.com/gravwell/gatesync/version"
)

var (
	configLoc  = flag.String("config-file", defaultConfigLoc, "Location of the configuration file")
	configDLoc = flag.String("config-overlays", defaultConfigDLoc, "Location of the configuration overlay directory")
	verbose    = flag.Bool("v", false, "Enable verbose logging to stderr")
	ver        = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *ver {
		version.PrintVersion(os.Stdout)
		return
	}
	cfg, err := GetConfig(*configLoc, *configDLoc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get configuration: %v\n", err)
		return
	}
	lg := log.NewStderrLogger()
	if cfg.Global.Log_File != `` {
		if lg, err = log.NewFile(cfg.Global.Log_File); err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", cfg.Global.Log_File, err)
			return
		}
	}
	if cfg.Global.Log_Level != `` {
		if err = lg.SetLevelString(cfg.Global.Log_Level); err != nil {
			lg.FatalCode(-1, "invalid log level", log.KV("level", cfg.Global.Log_Level))
		}
	}
	if *verbose {
		lg.SetLevel(log.DEBUG)
	}

	// the store directory is exclusive to one daemon
	lk := flock.New(cfg.Global.Store_Path + `.lock`)
	if err = os.MkdirAll(filepath.Dir(cfg.Global.Store_Path), 0770); err != nil {
		lg.FatalCode(-1, "failed to create store directory", log.KVErr(err))
	}
	if ok, lerr := lk.TryLock(); lerr != nil || !ok {
		lg.FatalCode(-1, "store is locked by another process", log.KV("path", cfg.Global.Store_Path))
	}
	defer lk.Unlock()

	st, err := store.Open(cfg.Global.Store_Path)
	if err != nil {
		lg.FatalCode(-1, "failed to open store", log.KV("path", cfg.Global.Store_Path), log.KVErr(err))
	}
	defer st.Close()

	reg := registry.New(st, lg, time.Duration(cfg.Global.Active_Window_Minutes)*time.Minute)
	q := queue.New(st, lg, cfg.Global.Retry_Limit)
	fan := fanout.New(reg, q, st, lg, cfg.Global.Sync_Photos)
	pipe := ingest.New(st, fan, lg)

	ich, err := iclock.NewHandler(reg, q, pipe, st, lg, cfg.terminalOptions(), cfg.Global.Max_Body)
	if err != nil {
		lg.FatalCode(-1, "failed to build protocol handler", log.KVErr(err))
	}
	mgh, err := mgmt.NewHandler(st, reg, q, fan, lg)
	if err != nil {
		lg.FatalCode(-1, "failed to build management handler", log.KVErr(err))
	}
	mux := http.NewServeMux()
	mux.Handle(`/iclock/`, ich)
	mux.Handle(`/mgmt/`, mgh)

	done := make(chan struct{})
	go q.RunSweeper(time.Duration(cfg.Global.Sweep_Interval_Minutes)*time.Minute, done)

	srv := &http.Server{
		Addr:              cfg.Global.Bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          dlog.New(lg, ``, dlog.Lshortfile|dlog.LUTC|dlog.LstdFlags),
	}
	srvDone := make(chan error, 1)
	go func(dc chan error) {
		defer close(dc)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("failed to serve HTTP server", log.KVErr(err))
		}
	}(srvDone)
	lg.Info("gatesync started",
		log.KV("version", version.GetVersion()),
		log.KV("bind", cfg.Global.Bind),
		log.KV("store", cfg.Global.Store_Path))

	qc := utils.GetQuitChannel()
	select {
	case <-srvDone:
	case <-qc:
		if err := srv.Close(); err != nil {
			lg.Error("failed to close HTTP server", log.KVErr(err))
		}
	}
	close(done)
	lg.Info("gatesync exiting")
}
