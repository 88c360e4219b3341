/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"fmt"

	"github.com/crewjam/rfc5424"
)

func KV(name string, value interface{}) (r rfc5424.SDParam) {
	r.Name = name
	switch v := value.(type) {
	case string:
		r.Value = v
	default:
		r.Value = fmt.Sprintf("%v", value)
	}
	return
}

func KVErr(err error) rfc5424.SDParam {
	return KV("error", err)
}

// KVLogger wraps a Logger with a sticky set of KV pairs attached to every message
type KVLogger struct {
	*Logger
	sds []rfc5424.SDParam
}

func NewLoggerWithKV(l *Logger, sds ...rfc5424.SDParam) *KVLogger {
	return &KVLogger{
		Logger: l,
		sds:    sds,
	}
}

func (kvl *KVLogger) Debug(msg string, sds ...rfc5424.SDParam) error {
	return kvl.output(defaultDepth+1, DEBUG, msg, append(kvl.sds, sds...)...)
}

func (kvl *KVLogger) Info(msg string, sds ...rfc5424.SDParam) error {
	return kvl.output(defaultDepth+1, INFO, msg, append(kvl.sds, sds...)...)
}

func (kvl *KVLogger) Warn(msg string, sds ...rfc5424.SDParam) error {
	return kvl.output(defaultDepth+1, WARN, msg, append(kvl.sds, sds...)...)
}

func (kvl *KVLogger) Error(msg string, sds ...rfc5424.SDParam) error {
	return kvl.output(defaultDepth+1, ERROR, msg, append(kvl.sds, sds...)...)
}

func (kvl *KVLogger) Critical(msg string, sds ...rfc5424.SDParam) error {
	return kvl.output(defaultDepth+1, CRITICAL, msg, append(kvl.sds, sds...)...)
}

// AddKV appends additional sticky KVs to the KV logger
func (kvl *KVLogger) AddKV(sds ...rfc5424.SDParam) {
	kvl.sds = append(kvl.sds, sds...)
}
