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

// Package dutsim emulates the DUT test application on top of a simbus DUT:
// the log ring, the command mailbox and flash programming.
package dutsim

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/vji"
	"github.com/u2ptest/rig/rig/vji/simbus"
)

const (
	DefaultRingAddr = 0x20001000
	DefaultRingSize = 4096
)

// Response describes how the emulated application reacts to a command.
type Response struct {
	Status int
	// Number of completion register polls before the command completes.
	Delay int
	// Never complete.
	Hang bool
}

type Handler func(f *Firmware, cmd dut.Command) Response

// Status returns a handler that completes immediately with code.
func Status(code int) Handler {
	return func(f *Firmware, cmd dut.Command) Response {
		return Response{Status: code}
	}
}

// Say returns a handler that prints msg and completes with code.
func Say(msg string, code int) Handler {
	return func(f *Firmware, cmd dut.Command) Response {
		f.Print(msg)
		return Response{Status: code}
	}
}

type Firmware struct {
	Bus  *simbus.DUT
	regs dut.RegisterMap

	mu       sync.Mutex
	ringAddr uint32
	ringSize uint32
	handlers map[dut.Command]Handler
	running  bool
	entries  []uint32
	issued   []dut.Command
	pending  *Response
	flashed  map[uint32][]byte
}

func New(bus *simbus.DUT, regs *dut.RegisterMap) *Firmware {
	if regs == nil {
		regs = &dut.DefaultRegisterMap
	}
	f := &Firmware{
		Bus:      bus,
		regs:     *regs,
		ringAddr: DefaultRingAddr,
		ringSize: DefaultRingSize,
		handlers: make(map[dut.Command]Handler),
		flashed:  make(map[uint32][]byte),
	}
	f.Handle(dut.CmdAlive, Say("DUT application alive.\n", 0))
	f.Handle(dut.CmdFinalize, Status(0))
	f.Handle(dut.CmdProgramFlash, programFlash)
	bus.OnWrite(regs.ApplicationRun, func(d *simbus.DUT, addr, value uint32) {
		f.start(value)
	})
	bus.OnWrite(regs.TesterToDUT, func(d *simbus.DUT, addr, value uint32) {
		f.command(dut.Command(value))
	})
	bus.OnRead(regs.DUTToTester, func(d *simbus.DUT) {
		f.poll()
	})
	return f
}

// SetRing changes where the log ring is placed when the application starts.
func (f *Firmware) SetRing(addr, size uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ringAddr, f.ringSize = addr, size
}

// Handle installs the handler for cmd. Commands without a handler hang.
func (f *Firmware) Handle(cmd dut.Command, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[cmd] = h
}

// Start behaves as if an application had been launched.
func (f *Firmware) Start() {
	f.start(0)
}

func (f *Firmware) start(entry uint32) {
	f.mu.Lock()
	f.running = true
	f.pending = nil
	f.entries = append(f.entries, entry)
	addr, size := f.ringAddr, f.ringSize
	f.mu.Unlock()
	f.Bus.Poke(f.regs.RingBase(), addr)
	f.Bus.Poke(f.regs.RingSize(), size)
	f.Bus.Poke(f.regs.RingHead(), 0)
	f.Bus.Poke(f.regs.RingTail(), 0)
	glog.V(2).Infof("dutsim: application started @ 0x%08x", entry)
}

// Stop behaves as if the DUT CPU had been reset.
func (f *Firmware) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.pending = nil
}

func (f *Firmware) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Entries returns the entry points of all applications started so far.
func (f *Firmware) Entries() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.entries...)
}

// Issued returns all commands received so far.
func (f *Firmware) Issued() []dut.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dut.Command(nil), f.issued...)
}

// Flashed returns the data programmed at addr, nil if none.
func (f *Firmware) Flashed(addr uint32) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flashed[addr]
}

func (f *Firmware) command(cmd dut.Command) {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		glog.V(2).Infof("dutsim: %s ignored, not running", cmd)
		return
	}
	f.issued = append(f.issued, cmd)
	h := f.handlers[cmd]
	f.mu.Unlock()
	resp := Response{Hang: true}
	if h != nil {
		resp = h(f, cmd)
	}
	glog.V(2).Infof("dutsim: %s -> %+v", cmd, resp)
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp.Hang {
		f.pending = nil
		return
	}
	if resp.Delay == 0 {
		f.completeLocked(resp.Status)
		return
	}
	f.pending = &resp
}

func (f *Firmware) poll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return
	}
	f.pending.Delay--
	if f.pending.Delay <= 0 {
		f.completeLocked(f.pending.Status)
		f.pending = nil
	}
}

func (f *Firmware) completeLocked(status int) {
	f.Bus.Poke(f.regs.TestStatus, uint32(int32(status)))
	f.Bus.Poke(f.regs.DUTToTester, f.Bus.Peek(f.regs.DUTToTester)+1)
}

// Print appends to the log ring like the application's console does.
// Output that does not fit is dropped.
func (f *Firmware) Print(s string) int {
	base := f.Bus.Peek(f.regs.RingBase())
	size := f.Bus.Peek(f.regs.RingSize())
	head := f.Bus.Peek(f.regs.RingHead())
	if size == 0 {
		return 0
	}
	n := 0
	for i := 0; i < len(s); i++ {
		next := (head + 1) % size
		if next == f.Bus.Peek(f.regs.RingTail()) {
			break
		}
		f.Bus.PokeBytes(base+head, []byte{s[i]})
		head = next
		n++
	}
	f.Bus.Poke(f.regs.RingHead(), head)
	return n
}

func (f *Firmware) Printf(format string, args ...interface{}) int {
	return f.Print(fmt.Sprintf(format, args...))
}

func programFlash(f *Firmware, cmd dut.Command) Response {
	addr := f.Bus.Peek(f.regs.ProgramAddr)
	n := f.Bus.Peek(f.regs.ProgramDataLen)
	src := f.Bus.Peek(f.regs.ProgramDataLoc)
	data := f.Bus.PeekBytes(src, int(n))
	f.mu.Lock()
	f.flashed[addr] = data
	f.mu.Unlock()
	f.Printf("Programmed %d bytes at 0x%08x.\n", n, addr)
	return Response{Status: 0}
}

// MakeApp builds an application image as Launch expects it.
func MakeApp(dest, entry uint32, payload []byte) []byte {
	hdr := vji.FromWords([]uint32{dest, uint32(len(payload)), entry})
	return append(hdr, payload...)
}
