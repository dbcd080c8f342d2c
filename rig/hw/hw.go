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

// Package hw defines the tester peripherals the test steps rely on. They are
// implemented by the bridge firmware (package remote) or simulated (package sim).
package hw

import (
	"context"
	"fmt"
	"io"

	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/vji"
)

// Tester PIO bits.
const (
	LEDGreen  = 0x01
	LEDRed    = 0x02
	LEDYellow = 0x04
	LEDIdle   = 0x08
	// Slot power enable.
	PowerDUT = 0x10
	// Jig supplies: auxiliary rail, C64 VCC and external VCC.
	PowerJigAux = 1 << 5
	PowerVCC    = 1 << 6
	PowerExtVCC = 1 << 7
	PowerJigAll = PowerJigAux | PowerVCC | PowerExtVCC
	// Power bits of both positions.
	PowerMask = 0xF0
	// Routes the codec output to the DUT's audio input when cleared.
	AudioLoopback = 1 << 31
)

type PIO interface {
	SetBits(ctx context.Context, mask uint32) error
	ClearBits(ctx context.Context, mask uint32) error
}

// ADC samples the tester's supply monitors.
type ADC interface {
	// Current returns the total current drawn by the DUT in mA.
	Current(ctx context.Context) (int, error)
	// Channel returns the calibrated voltage of a channel in mV.
	Channel(ctx context.Context, ch int) (int, error)
	// Report prints all rails.
	Report(ctx context.Context, w io.Writer) error
	// Validate checks all rails against their limits and returns the number out of range.
	Validate(ctx context.Context, w io.Writer) (int, error)
}

// ADC channels.
const (
	ChanVCC = 1
	ChanV50 = 2
)

// FPGA is the JTAG chain of one position.
type FPGA interface {
	// ReadID scans the JTAG ID code, least significant byte first.
	ReadID(ctx context.Context) ([4]byte, error)
	Configure(ctx context.Context, bitstream []byte) error
	// Clear unconfigures the FPGA, which resets the board.
	Clear(ctx context.Context) error
	// FindAccess locates the virtual JTAG interface of a configured FPGA.
	FindAccess(ctx context.Context) (vji.Bus, error)
}

// ExpectedID is the ID code of the DUT's FPGA.
var ExpectedID = [4]byte{0xdd, 0x30, 0x0F, 0x02}

func FormatID(id [4]byte) string {
	return fmt.Sprintf("%02x %02x %02x %02x", id[3], id[2], id[1], id[0])
}

type Audio interface {
	CodecInit(ctx context.Context) error
	// StartOutput plays a test tone on the tester.
	StartOutput(ctx context.Context, level int) error
	// CheckSpeaker listens for the DUT's mono speaker output. 0 means ok.
	CheckSpeaker(ctx context.Context) (int, error)
	// CheckSignal analyses the DUT's stereo output. 0 means ok.
	CheckSignal(ctx context.Context, left, right, mode int) (int, error)
}

type Ethernet interface {
	// ReceivePacket returns the last packet received from the DUT, nil if none.
	ReceivePacket(ctx context.Context) ([]byte, error)
	SendPacket(ctx context.Context, length int) error
}

type DigitalIO interface {
	// TestPins toggles the cartridge port pins and returns the number of failures.
	TestPins(ctx context.Context) (int, error)
}

// Rig bundles the tester peripherals and the two JTAG chains.
type Rig struct {
	PIO       PIO
	ADC       ADC
	Audio     Audio
	Ethernet  Ethernet
	DigitalIO DigitalIO
	// DUT mounted in the jig.
	Jig FPGA
	// DUT plugged into the cartridge slot.
	Slot FPGA
}

// Status LEDs

func ShowIdle(ctx context.Context, p PIO) error {
	if err := p.ClearBits(ctx, 0xFF); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.SetBits(ctx, LEDIdle))
}

func ShowRunning(ctx context.Context, p PIO) error {
	if err := p.ClearBits(ctx, LEDRed|LEDGreen); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.SetBits(ctx, LEDYellow))
}

// ShowVerdict turns the DUT off and lights the verdict LED.
func ShowVerdict(ctx context.Context, p PIO, passed bool) error {
	led := uint32(LEDRed)
	if passed {
		led = LEDGreen
	}
	if err := p.ClearBits(ctx, PowerMask|LEDYellow); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.SetBits(ctx, led))
}
