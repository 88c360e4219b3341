/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"errors"
	"fmt"
	"net"

	"github.com/gravwell/gatesync/config"
	"github.com/gravwell/gatesync/iclock"
	"github.com/gravwell/gatesync/version"
)

const (
	defaultConfigLoc  = `/opt/gatesync/etc/gatesync.conf`
	defaultConfigDLoc = `/opt/gatesync/etc/gatesync.conf.d`
	defaultLogLoc     = `/opt/gatesync/log/gatesync.log`
	defaultStoreLoc   = `/opt/gatesync/store/gatesync.db`

	defaultPort uint16 = 8081

	defaultMaxBody             = 32 * 1024 * 1024 //photos and id cards ride in single requests
	defaultActiveWindowMinutes = 10
	defaultRetryLimit          = 3
	defaultSweepMinutes        = 60

	productName = `GateSync`
)

type gbl struct {
	Bind                  string
	Max_Body              int64
	Log_File              string
	Log_Level             string
	Store_Path            string
	Active_Window_Minutes int
	Retry_Limit           int
	Sweep_Interval_Minutes int
	Sync_Photos           bool
}

type termDefaults struct {
	Error_Delay       int
	Delay             int
	Trans_Times       string
	Trans_Interval    int
	Trans_Flag        string
	Time_Zone         int
	Realtime          int
	Multi_Bio_Support string
}

type cfgType struct {
	Global            gbl
	Terminal_Defaults termDefaults
}

func GetConfig(pth, overlayPath string) (*cfgType, error) {
	var c cfgType
	if err := config.LoadConfigFile(&c, pth); err != nil {
		return nil, err
	}
	if err := config.LoadConfigOverlays(&c, overlayPath); err != nil {
		return nil, err
	}
	if err := c.verify(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *cfgType) verify() error {
	c.Global.Bind = config.AppendDefaultPort(c.Global.Bind, defaultPort)
	if _, _, err := net.SplitHostPort(c.Global.Bind); err != nil {
		return fmt.Errorf("invalid Bind %q: %w", c.Global.Bind, err)
	}
	if c.Global.Max_Body < 0 {
		return errors.New("Max-Body may not be negative")
	}
	if c.Global.Max_Body == 0 {
		c.Global.Max_Body = defaultMaxBody
	}
	if c.Global.Store_Path == `` {
		c.Global.Store_Path = defaultStoreLoc
	}
	if c.Global.Active_Window_Minutes < 0 {
		return errors.New("Active-Window-Minutes may not be negative")
	}
	if c.Global.Active_Window_Minutes == 0 {
		c.Global.Active_Window_Minutes = defaultActiveWindowMinutes
	}
	if c.Global.Retry_Limit <= 0 {
		c.Global.Retry_Limit = defaultRetryLimit
	}
	if c.Global.Sweep_Interval_Minutes <= 0 {
		c.Global.Sweep_Interval_Minutes = defaultSweepMinutes
	}
	return nil
}

// terminalOptions folds the configured terminal defaults into the init
// options block
func (c *cfgType) terminalOptions() iclock.Options {
	td := c.Terminal_Defaults
	return iclock.Options{
		Product:       productName,
		ServerVersion: version.GetVersion(),
		ErrorDelay:    td.Error_Delay,
		Delay:         td.Delay,
		TransTimes:    td.Trans_Times,
		TransInterval: td.Trans_Interval,
		TransFlag:     td.Trans_Flag,
		TimeZone:      td.Time_Zone,
		Realtime:      realtimeDefault(td.Realtime),
		MultiBio:      td.Multi_Bio_Support,
	}
}

func realtimeDefault(v int) int {
	if v == 0 {
		return 1
	}
	return v
}
