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
package bridge

import (
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const (
	// https://tools.ietf.org/html/rfc1055
	slipFrameDelimiter       = 0xC0
	slipEscape               = 0xDB
	slipEscapeFrameDelimiter = 0xDC
	slipEscapeEscape         = 0xDD
)

// SLIPReaderWriter turns a byte stream into a stream of frames.
// Each Read returns exactly one frame, each Write sends one.
type SLIPReaderWriter struct {
	rw io.ReadWriter
}

func NewSLIPReaderWriter(rw io.ReadWriter) *SLIPReaderWriter {
	return &SLIPReaderWriter{rw: rw}
}

func (srw *SLIPReaderWriter) readByte() (byte, error) {
	b := []byte{0}
	n, err := srw.rw.Read(b)
	if err != nil {
		return 0, errors.Annotatef(err, "error reading")
	}
	if n != 1 {
		return 0, errors.Errorf("read timed out")
	}
	return b[0], nil
}

func (srw *SLIPReaderWriter) Read(buf []byte) (int, error) {
	n := 0
	esc := false
	// Skip line noise and empty frames until a frame begins.
	for {
		b, err := srw.readByte()
		if err != nil {
			return 0, errors.Trace(err)
		}
		if b == slipFrameDelimiter {
			break
		}
		glog.V(4).Infof("skipping 0x%02x before frame start", b)
	}
	for {
		b, err := srw.readByte()
		if err != nil {
			return n, errors.Trace(err)
		}
		if esc {
			switch b {
			case slipEscapeFrameDelimiter:
				b = slipFrameDelimiter
			case slipEscapeEscape:
				b = slipEscape
			default:
				return n, errors.Errorf("invalid SLIP escape sequence: 0x%02x", b)
			}
			esc = false
		} else {
			switch b {
			case slipFrameDelimiter:
				if n == 0 {
					// Back-to-back delimiters, the previous one closed an empty frame.
					continue
				}
				glog.V(4).Infof("<= (%d) %s", n, limitStr(buf[:n], 32))
				return n, nil
			case slipEscape:
				esc = true
				continue
			}
		}
		if n >= len(buf) {
			return n, errors.Errorf("frame buffer overflow (%d)", len(buf))
		}
		buf[n] = b
		n++
	}
}

func (srw *SLIPReaderWriter) Write(data []byte) (int, error) {
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, slipFrameDelimiter)
	for _, b := range data {
		switch b {
		case slipFrameDelimiter:
			frame = append(frame, slipEscape, slipEscapeFrameDelimiter)
		case slipEscape:
			frame = append(frame, slipEscape, slipEscapeEscape)
		default:
			frame = append(frame, b)
		}
	}
	frame = append(frame, slipFrameDelimiter)
	glog.V(4).Infof("=> (%d) %s", len(data), limitStr(data, 32))
	if _, err := srw.rw.Write(frame); err != nil {
		return 0, errors.Trace(err)
	}
	return len(data), nil
}

func limitStr(data []byte, n int) string {
	if len(data) > n {
		return fmt.Sprintf("%x...", data[:n])
	}
	return fmt.Sprintf("%x", data)
}
