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

// Package sim is a simulated tester with two emulated DUTs, for running
// suites without hardware.
package sim

import (
	"context"
	"fmt"
	"io"
	"math/bits"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/dut/dutsim"
	"github.com/u2ptest/rig/rig/hw"
	"github.com/u2ptest/rig/rig/image"
	"github.com/u2ptest/rig/rig/vji"
	"github.com/u2ptest/rig/rig/vji/simbus"
)

const (
	railOn  = 5000
	railOff = 0
)

type Chain struct {
	Name     string
	Bus      *simbus.DUT
	Firmware *dutsim.Firmware
	IDCode   [4]byte
	// Clock sample registers that never toggle.
	StuckClocks map[uint8]bool

	rig        *Rig
	mu         sync.Mutex
	configured bool
	samples    uint8
	rtc        time.Time
}

type Rig struct {
	Jig  *Chain
	Slot *Chain

	IdleCurrent int
	// Current of a single lit LED, in mA.
	LEDCurrent int
	// Number of supply rails reported out of range.
	RailFaults    int
	SpeakerResult int
	SignalResult  int
	DIOFailures   int
	// Size of the packet the DUT sends when asked to.
	PacketLen int

	mu         sync.Mutex
	pio        uint32
	extArmed   bool
	lastPacket []byte
	sent       []int
}

func New(regs *dut.RegisterMap) *Rig {
	r := &Rig{
		IdleCurrent: 60,
		LEDCurrent:  5,
		PacketLen:   900,
	}
	r.Jig = newChain(r, "jig", regs)
	r.Slot = newChain(r, "slot", regs)
	return r
}

// HW returns the simulated peripherals.
func (r *Rig) HW() *hw.Rig {
	return &hw.Rig{
		PIO:       r,
		ADC:       r,
		Audio:     r,
		Ethernet:  r,
		DigitalIO: r,
		Jig:       r.Jig,
		Slot:      r.Slot,
	}
}

func (r *Rig) PIOBits() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pio
}

func (r *Rig) SetBits(ctx context.Context, mask uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pio |= mask
	return nil
}

func (r *Rig) ClearBits(ctx context.Context, mask uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pio &^= mask
	if r.pio&hw.PowerExtVCC == 0 {
		r.extArmed = false
	}
	return nil
}

// External VCC only reaches the 5V rail once the board has gone through a reset.
func (r *Rig) boardReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pio&hw.PowerExtVCC != 0 {
		r.extArmed = true
	}
}

func (r *Rig) Channel(ctx context.Context, ch int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vcc := r.pio&hw.PowerVCC != 0
	switch ch {
	case hw.ChanVCC:
		if vcc {
			return railOn, nil
		}
		return railOff, nil
	case hw.ChanV50:
		if vcc || r.extArmed {
			return railOn - 20, nil
		}
		return railOff, nil
	}
	return 0, errors.NotFoundf("ADC channel %d", ch)
}

func (r *Rig) Current(ctx context.Context) (int, error) {
	lit := 0
	for _, c := range []*Chain{r.Jig, r.Slot} {
		v, err := c.Bus.ReadIndexed(ctx, vji.RegBoardControl, 1)
		if err != nil {
			return 0, errors.Trace(err)
		}
		lit += bits.OnesCount8(v[0] & 0x0F)
	}
	return r.IdleCurrent + lit*r.LEDCurrent, nil
}

func (r *Rig) Report(ctx context.Context, w io.Writer) error {
	vcc, _ := r.Channel(ctx, hw.ChanVCC)
	v50, _ := r.Channel(ctx, hw.ChanV50)
	cur, err := r.Current(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(w, "VCC: %4d mV  V50: %4d mV  V33: 3300 mV  V18: 1800 mV  I: %d mA\n", vcc, v50, cur)
	return nil
}

func (r *Rig) Validate(ctx context.Context, w io.Writer) (int, error) {
	if r.RailFaults > 0 {
		fmt.Fprintf(w, "%d supply rail(s) out of range.\n", r.RailFaults)
	}
	return r.RailFaults, nil
}

func (r *Rig) CodecInit(ctx context.Context) error {
	return nil
}

func (r *Rig) StartOutput(ctx context.Context, level int) error {
	return nil
}

func (r *Rig) CheckSpeaker(ctx context.Context) (int, error) {
	return r.SpeakerResult, nil
}

func (r *Rig) CheckSignal(ctx context.Context, left, right, mode int) (int, error) {
	return r.SignalResult, nil
}

func (r *Rig) ReceivePacket(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.lastPacket
	r.lastPacket = nil
	return p, nil
}

func (r *Rig) SendPacket(ctx context.Context, length int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, length)
	return nil
}

func (r *Rig) TestPins(ctx context.Context) (int, error) {
	return r.DIOFailures, nil
}

func newChain(r *Rig, name string, regs *dut.RegisterMap) *Chain {
	if regs == nil {
		regs = &dut.DefaultRegisterMap
	}
	c := &Chain{
		Name:        name,
		Bus:         simbus.New(),
		IDCode:      hw.ExpectedID,
		StuckClocks: map[uint8]bool{},
		rig:         r,
		rtc:         time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	c.Firmware = dutsim.New(c.Bus, regs)
	c.Bus.OnIndexRead(c.sampleClock)
	c.installHandlers(regs)
	return c
}

// Clock sample registers read a free running counter once the FPGA runs.
func (c *Chain) sampleClock(d *simbus.DUT, index uint8, n int) []byte {
	if index != vji.RegRefClock && index != vji.RegUSBClock {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.configured || c.StuckClocks[index] {
		return make([]byte, n)
	}
	c.samples += 37
	res := make([]byte, n)
	res[0] = c.samples
	return res
}

func (c *Chain) ReadID(ctx context.Context) ([4]byte, error) {
	return c.IDCode, nil
}

func (c *Chain) Configure(ctx context.Context, bitstream []byte) error {
	if len(bitstream) == 0 {
		return errors.Errorf("%s: empty bitstream", c.Name)
	}
	c.Firmware.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configured = true
	return nil
}

func (c *Chain) Clear(ctx context.Context) error {
	c.Firmware.Stop()
	c.mu.Lock()
	c.configured = false
	c.mu.Unlock()
	c.rig.boardReset()
	return nil
}

func (c *Chain) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configured
}

func (c *Chain) FindAccess(ctx context.Context) (vji.Bus, error) {
	if !c.Configured() {
		return nil, errors.Errorf("%s: no virtual JTAG interface found", c.Name)
	}
	return c.Bus, nil
}

func (c *Chain) installHandlers(regs *dut.RegisterMap) {
	fw := c.Firmware
	fw.Handle(dut.CmdFlashSwitch, dutsim.Say("Flash types: W25Q16 (recovery), W25Q32 (runtime).\n", 0))
	fw.Handle(dut.CmdMonoAudio, dutsim.Say("Playing mono tone.\n", 0))
	fw.Handle(dut.CmdAudioOut, dutsim.Say("Playing stereo tone.\n", 0))
	fw.Handle(dut.CmdAudioIn, dutsim.Say("Audio input levels OK.\n", 0))
	fw.Handle(dut.CmdUSBPhy, dutsim.Say("USB PHY: USB3310 detected.\n", 0))
	fw.Handle(dut.CmdUSBStart, dutsim.Status(0))
	fw.Handle(dut.CmdUSBHub, dutsim.Say("USB hub: USB2503 detected.\n", 0))
	fw.Handle(dut.CmdUSBSticks, dutsim.Say("3 USB storage devices found.\n", 0))
	fw.Handle(dut.CmdRTCAccess, dutsim.Say("RTC chip responds.\n", 0))
	fw.Handle(dut.CmdButtons, func(f *dutsim.Firmware, cmd dut.Command) dutsim.Response {
		f.Print("Button 1 OK\nButton 2 OK\nButton 3 OK\n")
		return dutsim.Response{Delay: 3}
	})
	fw.Handle(dut.CmdEthernetTx, func(f *dutsim.Firmware, cmd dut.Command) dutsim.Response {
		c.rig.mu.Lock()
		c.rig.lastPacket = make([]byte, c.rig.PacketLen)
		c.rig.mu.Unlock()
		return dutsim.Response{}
	})
	fw.Handle(dut.CmdEthernetRx, func(f *dutsim.Firmware, cmd dut.Command) dutsim.Response {
		c.rig.mu.Lock()
		defer c.rig.mu.Unlock()
		if len(c.rig.sent) == 0 {
			f.Print("No packet received.\n")
			return dutsim.Response{Status: -1}
		}
		c.rig.sent = c.rig.sent[1:]
		return dutsim.Response{}
	})
	fw.Handle(dut.CmdRTCRead, func(f *dutsim.Firmware, cmd dut.Command) dutsim.Response {
		c.mu.Lock()
		c.rtc = c.rtc.Add(time.Second)
		t := c.rtc
		c.mu.Unlock()
		f.Bus.PokeBytes(regs.TimeLoc, []byte{
			byte(t.Second()), byte(t.Minute()), byte(t.Hour()), byte(t.Weekday()),
			byte(t.Day()), byte(t.Month()), byte(t.Year() - 1980), 0,
			0, 0, 0, 0,
		})
		return dutsim.Response{}
	})
}

// Images returns synthetic DUT images: an FPGA bitstream and a test
// application that the emulated firmware accepts.
func Images() (fpga, app *image.Image) {
	fpga = &image.Image{Name: "DUT FPGA Image", Path: "sim:dut.b", Data: make([]byte, 4096)}
	app = &image.Image{
		Name: "DUT Application Image",
		Path: "sim:dut.app",
		Data: dutsim.MakeApp(0x10000, 0x10000, make([]byte, 256)),
	}
	return fpga, app
}

// FillMissing gives every image that failed to load synthetic content.
func FillMissing(images ...*image.Image) {
	for _, im := range images {
		if !im.Loaded() {
			im.Data = make([]byte, 1024+len(im.Name))
		}
	}
}
