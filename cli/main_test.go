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
package main

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/u2ptest/rig/rig/config"
	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/hw"
	"github.com/u2ptest/rig/rig/hw/sim"
	"github.com/u2ptest/rig/rig/textlog"
)

func simRig(t *testing.T) (*rig, func()) {
	dir, err := ioutil.TempDir("", "rigtest")
	require.NoError(t, err)
	cfg := config.Default()
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.Images.DUTFPGA.Path = filepath.Join(dir, "missing", "dut.b")
	cfg.Images.DUTApp.Path = filepath.Join(dir, "missing", "dut.app")
	cfg.Images.Flash = nil
	s := sim.New(&cfg.Registers)
	r := &rig{cfg: cfg, hw: s.HW(), sim: s, log: textlog.New(0)}
	return r, func() { os.RemoveAll(dir) }
}

func TestRunSuiteOnSim(t *testing.T) {
	defer func(nc bool) { color.NoColor = nc }(color.NoColor)
	color.NoColor = false
	r, cleanup := simRig(t)
	defer cleanup()
	ctx := context.Background()

	e, sess, err := r.env(kindSlot)
	require.NoError(t, err)
	// Images that could not be read were replaced with simulated ones.
	assert.True(t, e.Images.FPGA.Loaded())
	assert.True(t, e.Images.App.Loaded())

	s, err := r.suite(e, kindSlot).Select([]string{"Check FPGA ID Code", "Configure the FPGA", "Verify DUT appl running"})
	require.NoError(t, err)
	require.NoError(t, r.runSuite(ctx, s, e, sess, kindSlot))
	assert.Equal(t, uint32(hw.LEDGreen), r.sim.PIOBits()&(hw.LEDGreen|hw.LEDRed|hw.LEDYellow))

	logs, err := filepath.Glob(filepath.Join(r.cfg.LogDir, "slot_*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	data, err := ioutil.ReadFile(logs[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Result of Verify DUT appl running: PASS")
	assert.Contains(t, string(data), "DUT application alive.")
	// Image loading happened before the run and is not part of its log.
	assert.NotContains(t, string(data), "Could not open file")
	assert.Contains(t, string(data), "Slot Test Suite: PASSED")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestRunSuiteFailureOnSim(t *testing.T) {
	r, cleanup := simRig(t)
	defer cleanup()
	r.sim.Slot.IDCode = [4]byte{}

	e, sess, err := r.env(kindSlot)
	require.NoError(t, err)
	s, err := r.suite(e, kindSlot).Select([]string{"Check FPGA ID Code", "Configure the FPGA"})
	require.NoError(t, err)
	err = r.runSuite(context.Background(), s, e, sess, kindSlot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ABORTED")
	assert.Equal(t, uint32(hw.LEDRed), r.sim.PIOBits()&(hw.LEDGreen|hw.LEDRed|hw.LEDYellow))
}

func TestParseCommand(t *testing.T) {
	for in, want := range map[string]dut.Command{
		"14":       dut.CmdRTCRead,
		"0x10":     dut.CmdFinalize,
		"rtc-read": dut.CmdRTCRead,
		"ALIVE":    dut.CmdAlive,
	} {
		got, err := parseCommand(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseCommand("reboot")
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	r, cleanup := simRig(t)
	defer cleanup()
	_, err := r.chain("cartridge")
	assert.Error(t, err)
	c, err := r.chain(dutKind(""))
	require.NoError(t, err)
	assert.Equal(t, r.hw.Slot, c)
	assert.Len(t, bringUpSteps[kindJig], 4)
}

func TestListCmd(t *testing.T) {
	assert.NoError(t, listCmd())
}
