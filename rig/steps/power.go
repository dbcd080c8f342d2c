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
package steps

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/hw"
)

// Supply rail limits in mV.
const (
	railPresent = 4800
	railAbsent  = 750
)

func (e *Env) readRails(ctx context.Context, s *dut.Session, label string) (v50, vcc int, err error) {
	if v50, err = e.Rig.ADC.Channel(ctx, hw.ChanV50); err != nil {
		return 0, 0, errors.Trace(err)
	}
	if vcc, err = e.Rig.ADC.Channel(ctx, hw.ChanVCC); err != nil {
		return 0, 0, errors.Trace(err)
	}
	s.Printf("%s: V50=%d, VCC=%d.", label, v50, vcc)
	return v50, vcc, nil
}

// PowerSwitchOver checks that the DUT takes its 5V from the C64 VCC pin, and
// that external VCC is only passed on after a reset. Returns a bit mask of
// the failed checks.
func (e *Env) PowerSwitchOver(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	pio := e.Rig.PIO
	type check struct {
		label string
		bad   func(v50, vcc int) bool
	}
	vccOn := check{"C64VCC", func(v50, vcc int) bool { return vcc < railPresent || v50 < railPresent }}
	extBeforeReset := check{"ExtVCC", func(v50, vcc int) bool { return vcc > railAbsent || v50 > railAbsent }}
	extAfterReset := check{"ExtVCC", func(v50, vcc int) bool { return vcc > railAbsent || v50 < railPresent }}

	result := 0
	measure := func(c check, bit int) error {
		v50, vcc, err := e.readRails(ctx, s, c.label)
		if err != nil {
			return errors.Trace(err)
		}
		if c.bad(v50, vcc) {
			result |= bit
		}
		return nil
	}
	sequence := []struct {
		supply        uint32
		before, after check
		bits          [2]int
	}{
		{hw.PowerVCC, vccOn, vccOn, [2]int{1, 2}},
		{hw.PowerExtVCC, extBeforeReset, extAfterReset, [2]int{4, 8}},
	}

	if err := pio.ClearBits(ctx, hw.PowerMask); err != nil {
		return fault(s, "Power off", err)
	}
	if st := delay(ctx, s, 200); st != 0 {
		return st
	}
	for _, p := range sequence {
		if err := pio.SetBits(ctx, p.supply); err != nil {
			return fault(s, "Power on", err)
		}
		if st := delay(ctx, s, 5); st != 0 {
			return st
		}
		if err := measure(p.before, p.bits[0]); err != nil {
			return fault(s, "ADC", err)
		}
		if st := delay(ctx, s, 200); st != 0 {
			return st
		}
		if err := e.Chain.Clear(ctx); err != nil {
			return fault(s, "FPGA clear", err)
		}
		if st := delay(ctx, s, 100); st != 0 {
			return st
		}
		if err := measure(p.after, p.bits[1]); err != nil {
			return fault(s, "ADC", err)
		}
		if err := pio.ClearBits(ctx, p.supply); err != nil {
			return fault(s, "Power off", err)
		}
		if st := delay(ctx, s, 200); st != 0 {
			return st
		}
	}
	return result
}

// VoltageRegulator powers the DUT from all supplies and checks its rails.
func (e *Env) VoltageRegulator(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if err := e.Rig.PIO.SetBits(ctx, hw.PowerJigAll); err != nil {
		return fault(s, "Power on", err)
	}
	if st := delay(ctx, s, 200); st != 0 {
		return st
	}
	if err := e.Chain.Clear(ctx); err != nil {
		return fault(s, "FPGA clear", err)
	}
	if st := delay(ctx, s, 100); st != 0 {
		return st
	}
	if err := e.Rig.ADC.Report(ctx, s.Console()); err != nil {
		return fault(s, "ADC", err)
	}
	n, err := e.Rig.ADC.Validate(ctx, s.Console())
	if err != nil {
		return fault(s, "ADC", err)
	}
	if n != 0 {
		s.Printf("Please verify power supplies before continuing.")
		return -1
	}
	return 0
}

// DUTPowerOn powers the cartridge slot and resets the DUT.
func (e *Env) DUTPowerOn(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if err := e.Rig.Audio.CodecInit(ctx); err != nil {
		return fault(s, "Codec init", err)
	}
	if err := e.Rig.PIO.ClearBits(ctx, hw.PowerMask); err != nil {
		return fault(s, "Power off", err)
	}
	if err := e.Rig.PIO.SetBits(ctx, hw.PowerDUT); err != nil {
		return fault(s, "Power on", err)
	}
	if st := delay(ctx, s, 200); st != 0 {
		return st
	}
	if err := e.Chain.Clear(ctx); err != nil {
		return fault(s, "FPGA clear", err)
	}
	return delay(ctx, s, 100)
}
