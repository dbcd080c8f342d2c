//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package textlog keeps the text of one test run: everything shown to the
// operator is teed to the terminal (and optionally a UART console) and kept
// in a bounded buffer that is saved to the log directory once the run ends.
package textlog

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/cesanta/go-serial/serial"
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/common/ourio"
)

const (
	DefaultLimit = 64 * 1024

	truncatedMarker = "\n*** Log truncated ***\n"
	// Layout of the timestamp in persisted log names.
	DateTimeFormat = "20060102_150405"
)

type Log struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
	tees      []io.Writer
}

// New creates a log keeping at most limit bytes (DefaultLimit if <= 0).
func New(limit int, tees ...io.Writer) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	l := &Log{limit: limit}
	for _, w := range tees {
		if w != nil {
			l.tees = append(l.tees, w)
		}
	}
	return l
}

// AddTee adds another destination for everything written from now on.
func (l *Log) AddTee(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tees = append(l.tees, w)
}

// Write never fails: tee errors are logged and the buffer silently stops
// growing once the limit is reached.
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeTees(p)
	l.record(p)
	return len(p), nil
}

// Console returns a writer that reaches the tees but is not kept in the log.
func (l *Log) Console() io.Writer {
	return consoleWriter{l}
}

// Record returns a writer that is kept in the log but not shown.
func (l *Log) Record() io.Writer {
	return recordWriter{l}
}

type consoleWriter struct{ l *Log }

func (w consoleWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	w.l.writeTees(p)
	return len(p), nil
}

type recordWriter struct{ l *Log }

func (w recordWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	w.l.record(p)
	return len(p), nil
}

func (l *Log) writeTees(p []byte) {
	for _, w := range l.tees {
		if _, err := w.Write(p); err != nil {
			glog.V(1).Infof("log tee: %s", err)
		}
	}
}

func (l *Log) record(p []byte) {
	if l.truncated {
		return
	}
	room := l.limit - l.buf.Len()
	if len(p) <= room {
		l.buf.Write(p)
		return
	}
	l.buf.Write(p[:room])
	l.buf.WriteString(truncatedMarker)
	l.truncated = true
	glog.Warningf("run log exceeded %d bytes, truncated", l.limit)
}

func (l *Log) Printf(format string, args ...interface{}) {
	fmt.Fprintf(l, format, args...)
}

// Reset clears the buffer for a new run. Tees are kept.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Reset()
	l.truncated = false
}

func (l *Log) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.buf.Bytes()...)
}

func (l *Log) String() string {
	return string(l.Bytes())
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Len()
}

func (l *Log) Truncated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncated
}

// FileName returns the name a log of kind started at t is persisted under.
func FileName(dir, kind string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", kind, t.Format(DateTimeFormat)))
}

// Persist writes the buffer to a new file in dir. An existing file is never
// overwritten. Returns the file name.
func (l *Log) Persist(dir, kind string, started time.Time) (string, error) {
	fname := FileName(dir, kind, started)
	if err := ourio.WriteNewFile(fname, l.Bytes(), 0644); err != nil {
		return "", errors.Annotatef(err, "failed to save run log")
	}
	glog.Infof("run log saved to %s", fname)
	return fname, nil
}

// OpenUART opens a serial port to mirror the log to, e.g. the rig's front
// panel console.
func OpenUART(portName string, baudRate uint) (io.WriteCloser, error) {
	if baudRate == 0 {
		baudRate = 115200
	}
	s, err := serial.Open(serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baudRate,
		DataBits:        8,
		ParityMode:      serial.PARITY_NONE,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open console port %s", portName)
	}
	return s, nil
}
