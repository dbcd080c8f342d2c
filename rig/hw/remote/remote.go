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

// Package remote implements the tester peripherals as named calls into the
// bridge firmware.
package remote

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/hw"
	"github.com/u2ptest/rig/rig/vji"
	"github.com/u2ptest/rig/rig/vji/bridge"
)

const (
	// Bridge target that addresses the tester itself rather than a JTAG chain.
	testerTarget = 0xff
	// Bitstream bytes per fpga.data call.
	configChunkSize = 1024
)

type caller interface {
	Call(ctx context.Context, name string, args ...int32) ([]int32, error)
	CallBytes(ctx context.Context, name string, payload []byte) ([]byte, error)
}

// New returns the rig behind a bridge. Chain 0 is the jig, chain 1 the slot.
func New(c *bridge.Client) *hw.Rig {
	tester := c.Slot(testerTarget)
	return newRig(tester, func(n uint8) vji.Bus { return c.Slot(n) })
}

func newRig(tester caller, chainBus func(n uint8) vji.Bus) *hw.Rig {
	return &hw.Rig{
		PIO:       &pio{tester},
		ADC:       &adc{tester},
		Audio:     &audio{tester},
		Ethernet:  &ethernet{tester},
		DigitalIO: &digitalIO{tester},
		Jig:       &fpga{c: tester, chain: 0, bus: chainBus},
		Slot:      &fpga{c: tester, chain: 1, bus: chainBus},
	}
}

// call1 makes a call that returns a single value.
func call1(ctx context.Context, c caller, name string, args ...int32) (int, error) {
	res, err := c.Call(ctx, name, args...)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(res) != 1 {
		return 0, errors.Errorf("%s: expected 1 value, got %d", name, len(res))
	}
	return int(res[0]), nil
}

// callOK makes a call that returns a status, 0 meaning success.
func callOK(ctx context.Context, c caller, name string, args ...int32) error {
	st, err := call1(ctx, c, name, args...)
	if err != nil {
		return errors.Trace(err)
	}
	if st != 0 {
		return errors.Errorf("%s failed: %d", name, st)
	}
	return nil
}

type pio struct {
	c caller
}

func (p *pio) SetBits(ctx context.Context, mask uint32) error {
	return errors.Trace(callOK(ctx, p.c, "pio.set", int32(mask)))
}

func (p *pio) ClearBits(ctx context.Context, mask uint32) error {
	return errors.Trace(callOK(ctx, p.c, "pio.clear", int32(mask)))
}

type adc struct {
	c caller
}

func (a *adc) Current(ctx context.Context) (int, error) {
	return call1(ctx, a.c, "adc.current")
}

func (a *adc) Channel(ctx context.Context, ch int) (int, error) {
	return call1(ctx, a.c, "adc.channel", int32(ch))
}

func (a *adc) Report(ctx context.Context, w io.Writer) error {
	text, err := a.c.CallBytes(ctx, "adc.report", nil)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = w.Write(text)
	return errors.Trace(err)
}

func (a *adc) Validate(ctx context.Context, w io.Writer) (int, error) {
	n, err := call1(ctx, a.c, "adc.validate", 1)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if n > 0 {
		fmt.Fprintf(w, "%d supply rail(s) out of range.\n", n)
	}
	return n, nil
}

type audio struct {
	c caller
}

func (a *audio) CodecInit(ctx context.Context) error {
	return errors.Trace(callOK(ctx, a.c, "audio.codec_init"))
}

func (a *audio) StartOutput(ctx context.Context, level int) error {
	return errors.Trace(callOK(ctx, a.c, "audio.play", int32(level)))
}

func (a *audio) CheckSpeaker(ctx context.Context) (int, error) {
	return call1(ctx, a.c, "audio.speaker")
}

func (a *audio) CheckSignal(ctx context.Context, left, right, mode int) (int, error) {
	return call1(ctx, a.c, "audio.check", int32(left), int32(right), int32(mode))
}

type ethernet struct {
	c caller
}

func (e *ethernet) ReceivePacket(ctx context.Context) ([]byte, error) {
	p, err := e.c.CallBytes(ctx, "eth.recv", nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(p) == 0 {
		return nil, nil
	}
	return p, nil
}

func (e *ethernet) SendPacket(ctx context.Context, length int) error {
	return errors.Trace(callOK(ctx, e.c, "eth.send", int32(length)))
}

type digitalIO struct {
	c caller
}

func (d *digitalIO) TestPins(ctx context.Context) (int, error) {
	return call1(ctx, d.c, "dio.test")
}

type fpga struct {
	c     caller
	chain uint8
	bus   func(n uint8) vji.Bus
}

func (f *fpga) ReadID(ctx context.Context) ([4]byte, error) {
	var id [4]byte
	v, err := call1(ctx, f.c, "jtag.idcode", int32(f.chain))
	if err != nil {
		return id, errors.Trace(err)
	}
	binary.LittleEndian.PutUint32(id[:], uint32(v))
	return id, nil
}

func (f *fpga) Configure(ctx context.Context, bitstream []byte) error {
	if len(bitstream) == 0 {
		return errors.Errorf("empty bitstream")
	}
	if err := callOK(ctx, f.c, "fpga.begin", int32(f.chain), int32(len(bitstream))); err != nil {
		return errors.Trace(err)
	}
	for off := 0; off < len(bitstream); off += configChunkSize {
		end := off + configChunkSize
		if end > len(bitstream) {
			end = len(bitstream)
		}
		payload := append([]byte{f.chain}, bitstream[off:end]...)
		if _, err := f.c.CallBytes(ctx, "fpga.data", payload); err != nil {
			return errors.Annotatef(err, "configuration failed at offset %d", off)
		}
		glog.V(2).Infof("chain %d: configured %d of %d", f.chain, end, len(bitstream))
	}
	return errors.Trace(callOK(ctx, f.c, "fpga.end", int32(f.chain)))
}

func (f *fpga) Clear(ctx context.Context) error {
	return errors.Trace(callOK(ctx, f.c, "fpga.clear", int32(f.chain)))
}

func (f *fpga) FindAccess(ctx context.Context) (vji.Bus, error) {
	if err := callOK(ctx, f.c, "jtag.find", int32(f.chain)); err != nil {
		return nil, errors.Annotatef(err, "no virtual JTAG interface on chain %d", f.chain)
	}
	return f.bus(f.chain), nil
}
