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
	"github.com/u2ptest/rig/rig/vji"
)

const clockRetries = 5

// Current drawn by one LED, in mA.
const (
	ledMinCurrent = 3
	ledMaxCurrent = 7
)

func (e *Env) CheckIDCode(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	id, err := e.Chain.ReadID(ctx)
	if err != nil {
		return fault(s, "JTAG", err)
	}
	s.Printf("ID code found: %s", hw.FormatID(id))
	if id != hw.ExpectedID {
		s.Printf("No FPGA / Wrong FPGA type.")
		return -2
	}
	return 0
}

// ConfigureFPGA loads the DUT bitstream and attaches the session to the
// resulting virtual JTAG interface.
func (e *Env) ConfigureFPGA(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if !e.Images.FPGA.Loaded() {
		s.Printf("No FPGA image loaded from USB.")
		return -1
	}
	if err := e.Chain.Configure(ctx, e.Images.FPGA.Data); err != nil {
		return fault(s, "FPGA configuration", err)
	}
	if st := delay(ctx, s, 100); st != 0 {
		return st
	}
	if err := e.Rig.ADC.Report(ctx, s.Console()); err != nil {
		return fault(s, "ADC", err)
	}
	bus, err := e.Chain.FindAccess(ctx)
	if err != nil {
		s.Printf("%s", err)
		return -2
	}
	s.Attach(bus)
	s.Printf("FPGA seems to be correctly configured.")
	return 0
}

// sampleClock reads a clock sample register until two consecutive samples
// differ, up to clockRetries times.
func sampleClock(ctx context.Context, bus vji.Bus, reg uint8) ([2]byte, error) {
	var v [2]byte
	for i := 0; i < clockRetries; i++ {
		for j := range v {
			b, err := bus.ReadIndexed(ctx, reg, 1)
			if err != nil {
				return v, errors.Trace(err)
			}
			v[j] = b[0]
		}
		if v[0] != v[1] {
			break
		}
	}
	return v, nil
}

func (e *Env) ReferenceClock(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if !needBus(s) {
		return StatusFault
	}
	v, err := sampleClock(ctx, s.Bus(), vji.RegRefClock)
	if err != nil {
		return fault(s, "Clock sample", err)
	}
	s.Printf("50 MHz clock detection: %02x %02x", v[0], v[1])
	if v[0] == v[1] {
		s.Printf("Failed to detect 50 MHz reference clock from Ethernet PHY.")
		return -4
	}
	return 0
}

func (e *Env) USBClock(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if !needBus(s) {
		return StatusFault
	}
	// The first sample after the PHY comes out of reset is unreliable.
	if _, err := s.Bus().ReadIndexed(ctx, vji.RegUSBClock, 1); err != nil {
		return fault(s, "Clock sample", err)
	}
	v, err := sampleClock(ctx, s.Bus(), vji.RegUSBClock)
	if err != nil {
		return fault(s, "Clock sample", err)
	}
	s.Printf("60 MHz clock detection: %02x %02x", v[0], v[1])
	if v[0] == v[1] {
		s.Printf("Failed to detect 60 MHz Clock from PHY.")
		return -1
	}
	return 0
}

// LEDs lights the DUT LEDs one at a time and checks the current each adds.
// Returns the number of bad LEDs.
func (e *Env) LEDs(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if !needBus(s) {
		return StatusFault
	}
	bus := s.Bus()
	set := func(v byte) error {
		return errors.Trace(bus.WriteIndexed(ctx, vji.RegBoardControl, []byte{v}))
	}
	if err := set(vji.CtrlReset); err != nil {
		return fault(s, "LED control", err)
	}
	if st := delay(ctx, s, 50); st != 0 {
		return st
	}
	base, err := e.Rig.ADC.Current(ctx)
	if err != nil {
		return fault(s, "ADC", err)
	}
	s.Printf("All LEDs off: %d mA", base)
	bad := 0
	led := byte(0x81)
	for i := 0; i < 4; i++ {
		if err := set(led); err != nil {
			return fault(s, "LED control", err)
		}
		if st := delay(ctx, s, 10); st != 0 {
			return st
		}
		cur, err := e.Rig.ADC.Current(ctx)
		if err != nil {
			return fault(s, "ADC", err)
		}
		cur -= base
		s.Printf("LED = %02x: %d mA", led, cur)
		if cur < ledMinCurrent || cur > ledMaxCurrent {
			bad++
		}
		led = led<<1 | vji.CtrlReset
	}
	if err := set(vji.CtrlOff); err != nil {
		return fault(s, "LED control", err)
	}
	if st := delay(ctx, s, 10); st != 0 {
		return st
	}
	if bad > 0 {
		s.Printf("One or more of the LEDs failed.")
	}
	return bad
}

// ApplicationRun starts the DUT test application and waits for it to answer.
func (e *Env) ApplicationRun(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if !needBus(s) {
		return StatusFault
	}
	if err := s.Launch(ctx, e.Images.App); err != nil {
		return fault(s, "Launch", err)
	}
	st := e.command(ctx, s, dut.CmdAlive, timeout)
	if st != 0 {
		s.Printf("Seems that the DUT did not start test software.")
	}
	return st
}

func (e *Env) DigitalIO(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	n, err := e.Rig.DigitalIO.TestPins(ctx)
	if err != nil {
		return fault(s, "Digital I/O", err)
	}
	return n
}
