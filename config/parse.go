/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// AppendDefaultPort appends defPort to the address in bstr provided the
// address does not already carry a port
func AppendDefaultPort(bstr string, defPort uint16) string {
	if ip := net.ParseIP(bstr); ip != nil {
		return net.JoinHostPort(bstr, strconv.FormatUint(uint64(defPort), 10))
	}
	if _, _, err := net.SplitHostPort(bstr); err != nil {
		if aerr, ok := err.(*net.AddrError); ok && aerr.Err == "missing port in address" {
			return fmt.Sprintf("%s:%d", bstr, defPort)
		}
	}
	return bstr
}

// ParseInt64 handles plain and 0x prefixed integer strings
func ParseInt64(s string) (int64, error) {
	if strings.HasPrefix(s, `0x`) || strings.HasPrefix(s, `0X`) {
		return strconv.ParseInt(s[2:], 16, 64)
	}
	return strconv.ParseInt(s, 10, 64)
}

// ParseUint64 handles plain and 0x prefixed unsigned integer strings
func ParseUint64(s string) (uint64, error) {
	if strings.HasPrefix(s, `0x`) || strings.HasPrefix(s, `0X`) {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// ParseBool is a forgiving boolean parser for config values
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case `true`, `t`, `yes`, `y`, `1`, `on`:
		return true, nil
	case `false`, `f`, `no`, `n`, `0`, `off`, ``:
		return false, nil
	}
	return false, fmt.Errorf("%q is not a valid boolean", s)
}
