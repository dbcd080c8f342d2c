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
package dut_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/dut/dutsim"
	"github.com/u2ptest/rig/rig/image"
	"github.com/u2ptest/rig/rig/vji"
	"github.com/u2ptest/rig/rig/vji/simbus"
)

var regs = dut.DefaultRegisterMap

type testDUT struct {
	bus     *simbus.DUT
	fw      *dutsim.Firmware
	sess    *dut.Session
	console *bytes.Buffer
}

func newTestDUT(t *testing.T) *testDUT {
	td := &testDUT{bus: simbus.New(), console: new(bytes.Buffer)}
	td.fw = dutsim.New(td.bus, &regs)
	td.sess = dut.NewSession("test", &dut.Opts{
		Console:      td.console,
		PollInterval: 100 * time.Microsecond,
		TickDuration: 10 * time.Microsecond,
		FlashTimeout: 50 * time.Millisecond,
	})
	td.sess.Attach(td.bus)
	return td
}

func setRing(d *simbus.DUT, base, size, head, tail uint32) {
	d.Poke(regs.RingBase(), base)
	d.Poke(regs.RingSize(), size)
	d.Poke(regs.RingHead(), head)
	d.Poke(regs.RingTail(), tail)
}

func TestLogChannelEmpty(t *testing.T) {
	d := simbus.New()
	setRing(d, 0x3000, 16, 5, 5)
	lc := dut.NewLogChannel(d, &regs)
	_, ok, err := lc.NextByte(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, d.WritesTo(regs.RingTail()))
}

func TestLogChannelUninitialized(t *testing.T) {
	// Application not started yet: all zeroes.
	lc := dut.NewLogChannel(simbus.New(), &regs)
	_, ok, err := lc.NextByte(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogChannelOrder(t *testing.T) {
	ctx := context.Background()
	d := simbus.New()
	d.PokeBytes(0x3000, []byte("hello"))
	setRing(d, 0x3000, 16, 5, 0)
	lc := dut.NewLogChannel(d, &regs)
	var got []byte
	for {
		b, ok, err := lc.NextByte(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, b)
	}
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, uint32(5), d.Peek(regs.RingTail()))
}

func TestLogChannelWrap(t *testing.T) {
	d := simbus.New()
	d.PokeBytes(0x3000, []byte("ABCDEFGHIJKLMNOP"))
	setRing(d, 0x3000, 16, 3, 12)
	lc := dut.NewLogChannel(d, &regs)
	got, err := lc.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "MNOPABC", string(got))
	assert.Equal(t, uint32(3), d.Peek(regs.RingTail()))
	// One tail update per contiguous segment.
	assert.Equal(t, 2, d.WritesTo(regs.RingTail()))
}

func TestLogChannelTailReachesEnd(t *testing.T) {
	d := simbus.New()
	d.PokeBytes(0x3000, []byte("0123456789abcdef"))
	setRing(d, 0x3000, 16, 0, 10)
	lc := dut.NewLogChannel(d, &regs)
	got, err := lc.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(got))
	assert.Equal(t, uint32(0), d.Peek(regs.RingTail()))
}

func TestLogChannelBatch(t *testing.T) {
	ctx := context.Background()
	d := simbus.New()
	data := bytes.Repeat([]byte("0123456789"), 300)
	d.PokeBytes(0x4000, data)
	setRing(d, 0x4000, 4096, uint32(len(data)), 0)
	lc := dut.NewLogChannel(d, &regs)

	b, ok, err := lc.NextByte(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byte('0'), b)
	assert.Equal(t, uint32(dut.LogBatchSize), d.Peek(regs.RingTail()))

	rest, err := lc.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, data, append([]byte{b}, rest...))
	assert.True(t, d.MaxReadWords() <= vji.MaxTransferWords)
}

func TestLogChannelCorruptDescriptor(t *testing.T) {
	d := simbus.New()
	setRing(d, 0x3000, 16, 20, 0)
	_, _, err := dut.NewLogChannel(d, &regs).NextByte(context.Background())
	assert.Error(t, err)
}

func TestLogChannelReset(t *testing.T) {
	ctx := context.Background()
	d := simbus.New()
	d.PokeBytes(0x3000, []byte("stale"))
	setRing(d, 0x3000, 16, 5, 0)
	lc := dut.NewLogChannel(d, &regs)
	_, ok, err := lc.NextByte(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	lc.Reset()
	_, ok, err = lc.NextByte(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	td := newTestDUT(t)
	td.fw.Start()
	td.bus.Poke(regs.DUTToTester, 41)
	td.fw.Handle(dut.CmdRTCRead, func(f *dutsim.Firmware, cmd dut.Command) dutsim.Response {
		f.Print("RTC OK\n")
		return dutsim.Response{Status: -4, Delay: 3}
	})
	status, err := td.sess.Execute(ctx, dut.CmdRTCRead, time.Second)
	require.NoError(t, err)
	assert.Equal(t, -4, status)
	assert.Equal(t, "RTC OK\n", td.console.String())
	assert.Equal(t, uint32(dut.CmdRTCRead), td.bus.Peek(regs.TesterToDUT))
	assert.Equal(t, uint32(42), td.bus.Peek(regs.DUTToTester))
}

func TestExecuteWithLog(t *testing.T) {
	ctx := context.Background()
	td := newTestDUT(t)
	td.fw.Start()
	td.fw.Handle(dut.CmdUSBPhy, dutsim.Say("USB PHY: USB3310\n", 0))
	status, log, err := td.sess.ExecuteWithLog(ctx, dut.CmdUSBPhy, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, "USB PHY: USB3310\n", string(log))
	assert.Equal(t, "USB PHY: USB3310\n", td.console.String())

	// Nothing printed, nothing captured.
	td.fw.Handle(dut.CmdFinalize, dutsim.Status(0))
	_, log, err = td.sess.ExecuteWithLog(ctx, dut.CmdFinalize, time.Second)
	require.NoError(t, err)
	assert.Nil(t, log)
}

func TestExecuteWithLogCap(t *testing.T) {
	ctx := context.Background()
	td := newTestDUT(t)
	td.fw.SetRing(0x20004000, 8192)
	td.fw.Start()
	td.fw.Handle(dut.CmdUSBSticks, dutsim.Say(strings.Repeat("x", 5000), 0))
	_, log, err := td.sess.ExecuteWithLog(ctx, dut.CmdUSBSticks, time.Second)
	require.NoError(t, err)
	assert.Len(t, log, dut.MaxCapturedLog)
}

func TestExecuteTimeout(t *testing.T) {
	ctx := context.Background()
	td := newTestDUT(t)
	td.fw.Start()
	td.fw.Handle(dut.CmdButtons, func(f *dutsim.Firmware, cmd dut.Command) dutsim.Response {
		f.Print("PRESS BUTTON 1\n")
		return dutsim.Response{Hang: true}
	})
	start := time.Now()
	status, log, err := td.sess.ExecuteWithLog(ctx, dut.CmdButtons, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, dut.StatusTimeout, status)
	assert.True(t, time.Since(start) >= 5*time.Millisecond)
	// Output produced before the timeout is not lost.
	assert.Equal(t, "PRESS BUTTON 1\n", string(log))

	// Unhandled commands never complete.
	status, err = td.sess.Execute(ctx, dut.Command(77), 2*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, dut.StatusTimeout, status)
}

func TestExecuteCompletesJustBeforeDeadline(t *testing.T) {
	td := newTestDUT(t)
	td.fw.Start()
	td.fw.Handle(dut.CmdUSBHub, func(f *dutsim.Firmware, cmd dut.Command) dutsim.Response {
		return dutsim.Response{Status: 7, Delay: 1}
	})
	// Completion is checked before the deadline on every poll.
	status, err := td.sess.Execute(context.Background(), dut.CmdUSBHub, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, status)
}

func TestExecuteMissesCounterWrap(t *testing.T) {
	d := simbus.New()
	d.Poke(regs.DUTToTester, 41)
	// Two commands complete between polls: the counter moves on and back.
	d.OnWrite(regs.TesterToDUT, func(d *simbus.DUT, addr, value uint32) {
		d.Poke(regs.TestStatus, 3)
		d.Poke(regs.DUTToTester, 42)
		d.Poke(regs.DUTToTester, 41)
	})
	sess := dut.NewSession("test", &dut.Opts{Console: new(bytes.Buffer), PollInterval: 100 * time.Microsecond})
	sess.Attach(d)
	status, err := sess.Execute(context.Background(), dut.CmdUSBHub, 2*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, dut.StatusTimeout, status)
}

func TestExecuteErrors(t *testing.T) {
	ctx := context.Background()
	s := dut.NewSession("detached", nil)
	_, err := s.Execute(ctx, dut.CmdAlive, time.Second)
	assert.Error(t, err)

	td := newTestDUT(t)
	td.bus.ReadErr = errors.New("jtag chain broken")
	_, err = td.sess.Execute(ctx, dut.CmdAlive, time.Second)
	require.Error(t, err)
	assert.Equal(t, "jtag chain broken", errors.Cause(err).Error())

	td = newTestDUT(t)
	td.fw.Start()
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = td.sess.Execute(cctx, dut.CmdButtons, time.Second)
	assert.Error(t, err)
}

func TestLaunch(t *testing.T) {
	ctx := context.Background()
	td := newTestDUT(t)
	payload := []byte("0123456789abcdefXY")
	img := &image.Image{Name: "DUT Application", Data: dutsim.MakeApp(0x10000, 0x10040, payload)}
	require.NoError(t, td.sess.Launch(ctx, img))

	assert.Equal(t, [][]byte{{vji.CtrlReset}, {vji.CtrlDownload}}, td.bus.IndexWrites(vji.RegBoardControl))
	// Whole words only.
	assert.Equal(t, payload[:16], td.bus.PeekBytes(0x10000, 16))
	assert.Equal(t, []byte{0, 0}, td.bus.PeekBytes(0x10010, 2))
	assert.Equal(t, []uint32{0x10040}, td.fw.Entries())

	status, err := td.sess.Execute(ctx, dut.CmdAlive, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Contains(t, td.console.String(), "alive")
}

func TestLaunchBadImages(t *testing.T) {
	ctx := context.Background()
	td := newTestDUT(t)

	err := td.sess.Launch(ctx, &image.Image{Name: "DUT Application"})
	require.Error(t, err)
	assert.Equal(t, image.ErrNotLoaded, errors.Cause(err))
	assert.Error(t, td.sess.Launch(ctx, nil))

	err = td.sess.Launch(ctx, &image.Image{Name: "short", Data: []byte{1, 2, 3}})
	assert.Error(t, err)

	long := dutsim.MakeApp(0x10000, 0x10000, []byte("abcd"))
	long[4] = 100
	assert.Error(t, td.sess.Launch(ctx, &image.Image{Name: "lying header", Data: long}))
	// Nothing was reset.
	assert.Empty(t, td.bus.IndexWrites(vji.RegBoardControl))
}

func TestFlash(t *testing.T) {
	ctx := context.Background()
	td := newTestDUT(t)
	td.fw.Start()
	img := &image.Image{Name: "Runtime Application", Addr: 0x800C0000, Data: []byte("firmware!")}
	status, err := td.sess.Flash(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, img.Data, td.fw.Flashed(0x800C0000))
	assert.Equal(t, uint32(dut.DefaultStagingAddr), td.bus.Peek(regs.ProgramDataLoc))
	assert.Equal(t, uint32(9), td.bus.Peek(regs.ProgramDataLen))
	// Last word padded with the erased value.
	assert.Equal(t, []byte{0xff, 0xff, 0xff}, td.bus.PeekBytes(dut.DefaultStagingAddr+9, 3))
	assert.Contains(t, td.console.String(), "Programming Runtime Application")
}

func TestFlashTimeout(t *testing.T) {
	td := newTestDUT(t)
	td.fw.Start()
	td.fw.Handle(dut.CmdProgramFlash, func(f *dutsim.Firmware, cmd dut.Command) dutsim.Response {
		return dutsim.Response{Hang: true}
	})
	status, err := td.sess.Flash(context.Background(), &image.Image{Name: "ROM Pack", Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, dut.StatusTimeout, status)
}

func TestFlashNotLoaded(t *testing.T) {
	td := newTestDUT(t)
	td.fw.Start()
	_, err := td.sess.Flash(context.Background(), &image.Image{Name: "ROM Pack"})
	require.Error(t, err)
	assert.Equal(t, image.ErrNotLoaded, errors.Cause(err))
	assert.Empty(t, td.fw.Issued())
}

func TestRegisterMapValidate(t *testing.T) {
	rm := dut.DefaultRegisterMap
	assert.NoError(t, rm.Validate())
	rm.TestStatus = 0x2000079e
	assert.Error(t, rm.Validate())
}

func TestCommandNames(t *testing.T) {
	cmds := dut.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, dut.CmdMonoAudio, cmds[0])
	assert.Equal(t, dut.CmdAlive, cmds[len(cmds)-1])
	for _, c := range cmds {
		name := strings.SplitN(c.String(), "(", 2)[0]
		got, ok := dut.CommandByName(name)
		assert.True(t, ok, name)
		assert.Equal(t, c, got)
	}
	_, ok := dut.CommandByName("self-destruct")
	assert.False(t, ok)
	assert.Equal(t, "cmd(42)", dut.Command(42).String())
}
