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

// Package dut drives the test application running on a device under test:
// its log ring buffer, the command mailbox and image staging.
package dut

import (
	"time"

	"github.com/juju/errors"
)

// RegisterMap holds the addresses of the mailbox the DUT application exposes
// in its memory. The log ring descriptor is four consecutive words starting
// at LogRing: base, size, head, tail.
type RegisterMap struct {
	ApplicationRun uint32 `yaml:"application_run"`
	LogRing        uint32 `yaml:"log_ring"`
	DUTToTester    uint32 `yaml:"dut_to_tester"`
	TesterToDUT    uint32 `yaml:"tester_to_dut"`
	TestStatus     uint32 `yaml:"test_status"`
	ProgramDataLoc uint32 `yaml:"program_dataloc"`
	ProgramDataLen uint32 `yaml:"program_datalen"`
	ProgramAddr    uint32 `yaml:"program_addr"`
	TimeLoc        uint32 `yaml:"time_loc"`
}

var DefaultRegisterMap = RegisterMap{
	ApplicationRun: 0x20000780,
	LogRing:        0x20000784,
	DUTToTester:    0x20000794,
	TesterToDUT:    0x20000798,
	TestStatus:     0x2000079C,
	ProgramDataLoc: 0x200007A0,
	ProgramDataLen: 0x200007A4,
	ProgramAddr:    0x200007A8,
	TimeLoc:        0x200007B0,
}

func (rm *RegisterMap) RingBase() uint32 { return rm.LogRing }
func (rm *RegisterMap) RingSize() uint32 { return rm.LogRing + 4 }
func (rm *RegisterMap) RingHead() uint32 { return rm.LogRing + 8 }
func (rm *RegisterMap) RingTail() uint32 { return rm.LogRing + 12 }

// Validate checks that every register is word aligned and set.
func (rm *RegisterMap) Validate() error {
	for _, r := range []struct {
		name string
		addr uint32
	}{
		{"application_run", rm.ApplicationRun},
		{"log_ring", rm.LogRing},
		{"dut_to_tester", rm.DUTToTester},
		{"tester_to_dut", rm.TesterToDUT},
		{"test_status", rm.TestStatus},
		{"program_dataloc", rm.ProgramDataLoc},
		{"program_datalen", rm.ProgramDataLen},
		{"program_addr", rm.ProgramAddr},
		{"time_loc", rm.TimeLoc},
	} {
		if r.addr == 0 || r.addr%4 != 0 {
			return errors.Errorf("register %s: invalid address 0x%08x", r.name, r.addr)
		}
	}
	return nil
}

const (
	// DUT firmware runs a 200 Hz scheduler; step timeouts are expressed in its ticks.
	Tick = 5 * time.Millisecond

	// Where images bound for flash are staged in DUT memory.
	DefaultStagingAddr = 0x00A00000
	// Programming the largest image takes well under this.
	DefaultFlashTimeout = 60 * time.Second
	// Wait after releasing the DUT CPU from reset before downloading an application.
	DefaultSettleDelay = 100 * Tick
)

// Ticks converts a duration in scheduler ticks to time.
func Ticks(n int) time.Duration {
	return time.Duration(n) * Tick
}
