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
	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/suite"
)

const (
	JigSuiteName  = "JIG Test Suite"
	SlotSuiteName = "Slot Test Suite"
)

// step is a row of a suite table. Timeouts are in DUT scheduler ticks.
type step struct {
	name    string
	action  suite.Action
	ticks   int
	brk     bool
	skip    bool
	summary bool
}

func table(rows []step) []suite.Step {
	res := make([]suite.Step, len(rows))
	for i, r := range rows {
		res[i] = suite.Step{
			Name:              r.name,
			Action:            r.action,
			Timeout:           dut.Ticks(r.ticks),
			BreakOnFail:       r.brk,
			SkipIfPriorErrors: r.skip,
			IncludeInSummary:  r.summary,
		}
	}
	return res
}

// JigSteps checks a bare board mounted in the jig.
func (e *Env) JigSteps() []suite.Step {
	return table([]step{
		{"Power SwitchOver Test", e.PowerSwitchOver, 1, false, false, false},
		{"Voltage Regulator Test", e.VoltageRegulator, 1, true, false, false},
		{"Check FPGA ID Code", e.CheckIDCode, 1, true, false, false},
		{"Configure the FPGA", e.ConfigureFPGA, 1, true, false, false},
		{"Verify reference clock", e.ReferenceClock, 1, true, false, false},
		{"Verify LED presence", e.LEDs, 2, false, false, false},
		{"Verify DUT appl running", e.ApplicationRun, 150, true, false, false},
		{"Check Flash Types", e.FlashSwitch, 150, true, false, true},
		{"Audio amplifier test", e.Speaker, 150, false, false, true},
		{"Verify USB Phy clock", e.USBClock, 1, false, false, true},
		{"Verify USB Phy type", e.USBPhy, 150, false, false, true},
		{"RTC access test", e.RTCAccess, 150, false, false, true},
	})
}

// SlotSteps checks an assembled cartridge plugged into the slot and programs it.
func (e *Env) SlotSteps() []suite.Step {
	return table([]step{
		{"Power up DUT in slot", e.DUTPowerOn, 1, false, false, false},
		{"Check FPGA ID Code", e.CheckIDCode, 1, true, false, true},
		{"Configure the FPGA", e.ConfigureFPGA, 1, true, false, true},
		{"Digital I/O test", e.DigitalIO, 1, false, false, true},
		{"Verify reference clock", e.ReferenceClock, 1, true, false, true},
		{"Verify DUT appl running", e.ApplicationRun, 150, true, false, true},
		{"Button Test", e.Buttons, 3000, false, true, true},
		{"Audio input test", e.AudioInput, 600, false, false, true},
		{"Audio output test", e.AudioOutput, 600, false, false, true},
		{"RTC advance test", e.RTCAdvance, 400, false, false, true},
		{"Ethernet Tx test", e.EthernetTx, 120, false, false, false},
		{"Ethernet Rx test", e.EthernetRx, 120, false, false, false},
		{"Check USB Hub type", e.USBHub, 600, false, false, true},
		{"Check USB Ports (3x)", e.USBSticks, 600, false, false, true},
		{"Program Flashes", e.FlashROMs, 200, false, true, true},
	})
}

func (e *Env) JigSuite(opts ...suite.Option) *suite.Suite {
	return suite.New(JigSuiteName, e.JigSteps(), opts...)
}

func (e *Env) SlotSuite(opts ...suite.Option) *suite.Suite {
	return suite.New(SlotSuiteName, e.SlotSteps(), opts...)
}
