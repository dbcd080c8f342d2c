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

const (
	// Length of the packet the DUT application sends.
	dutPacketLen = 900
	// Length of the packet sent to the DUT.
	testerPacketLen = 1000
	// Bytes of the RTC snapshot compared between reads.
	rtcCompareLen = 11
	// Audio analysis parameters.
	audioLeft  = 11
	audioRight = 7
	audioMode  = 1
)

func (e *Env) FlashSwitch(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	return e.command(ctx, s, dut.CmdFlashSwitch, timeout)
}

func (e *Env) Speaker(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if st := e.command(ctx, s, dut.CmdMonoAudio, timeout); st != 0 {
		s.Printf("Request for mono sound failed.")
		return -1
	}
	st, err := e.Rig.Audio.CheckSpeaker(ctx)
	if err != nil {
		return fault(s, "Speaker check", err)
	}
	if st != 0 {
		s.Printf("Speaker output failed.")
		return -2
	}
	return 0
}

func (e *Env) USBPhy(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	st := e.command(ctx, s, dut.CmdUSBPhy, timeout)
	if st != 0 {
		s.Printf("USB PHY detection failed.")
	}
	return st
}

func (e *Env) RTCAccess(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	st := e.command(ctx, s, dut.CmdRTCAccess, timeout)
	if st != 0 {
		s.Printf("Failed to access RTC chip.")
	}
	return st
}

func (e *Env) Buttons(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	s.Printf(" ** PRESS EACH OF THE BUTTONS ON THE DUT **")
	st := e.command(ctx, s, dut.CmdButtons, timeout)
	s.Printf(" ** THANK YOU **")
	return st
}

// AudioInput plays a tone on the tester and has the DUT check its input.
func (e *Env) AudioInput(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if err := e.Rig.PIO.ClearBits(ctx, hw.AudioLoopback); err != nil {
		return fault(s, "Audio routing", err)
	}
	if err := e.Rig.Audio.StartOutput(ctx, 128); err != nil {
		s.Printf("Request to play audio locally failed.")
		return -1
	}
	if st := delay(ctx, s, 200); st != 0 {
		return st
	}
	st, err := s.Execute(ctx, dut.CmdAudioIn, timeout)
	if err != nil {
		return fault(s, dut.CmdAudioIn.String(), err)
	}
	if st != 0 {
		s.Printf("DUT Audio input failed.")
	}
	return st
}

// AudioOutput has the DUT play a tone and checks it on the tester.
func (e *Env) AudioOutput(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if st := e.command(ctx, s, dut.CmdAudioOut, timeout); st != 0 {
		s.Printf("Request to play audio on DUT failed.")
		return st
	}
	st, err := e.Rig.Audio.CheckSignal(ctx, audioLeft, audioRight, audioMode)
	if err != nil {
		return fault(s, "Audio check", err)
	}
	if st != 0 {
		s.Printf("Audio signal check failed.")
	}
	return st
}

// readRTC returns the RTC snapshot, or the DUT status if the read command failed.
func (e *Env) readRTC(ctx context.Context, s *dut.Session, timeout time.Duration) ([]byte, int, error) {
	st, err := e.exec(ctx, s, dut.CmdRTCRead, timeout)
	if err != nil || st != 0 {
		return nil, st, errors.Trace(err)
	}
	t, err := vji.ReadBytes(ctx, s.Bus(), s.Regs().TimeLoc, rtcCompareLen, vji.MaxTransferWords)
	if err != nil {
		return nil, 0, errors.Annotatef(err, "RTC snapshot")
	}
	return t, 0, nil
}

// RTCAdvance reads the RTC twice and checks that it moved a little.
// Returns the number of problems.
func (e *Env) RTCAdvance(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if !needBus(s) {
		return StatusFault
	}
	errs := 0
	t1, st, err := e.readRTC(ctx, s, timeout)
	if err != nil {
		return fault(s, "RTC read", err)
	}
	if st != 0 {
		s.Printf("Failed to read RTC for the first time.")
		errs++
	}
	if st := delay(ctx, s, 300); st != 0 {
		return st
	}
	t2, st, err := e.readRTC(ctx, s, timeout)
	if err != nil {
		return fault(s, "RTC read", err)
	}
	if st != 0 {
		s.Printf("Failed to read RTC for the second time.")
		return errs + 1
	}
	if t1 == nil {
		return errs
	}
	same := 0
	for i := range t1 {
		if t1[i] == t2[i] {
			same++
		}
	}
	switch {
	case same == len(t1):
		s.Printf("RTC did not advance.")
		errs++
	case same < 6:
		s.Printf("Many bytes differ, RTC faulty.")
		errs++
	}
	return errs
}

func (e *Env) EthernetTx(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if st := e.command(ctx, s, dut.CmdEthernetTx, timeout); st != 0 {
		s.Printf("Request to send network packet failed.")
		return -1
	}
	if st := delay(ctx, s, 3); st != 0 {
		return st
	}
	p, err := e.Rig.Ethernet.ReceivePacket(ctx)
	if err != nil {
		return fault(s, "Ethernet", err)
	}
	if p == nil {
		s.Printf("No network packet received from DUT.")
		return -2
	}
	if len(p) != dutPacketLen {
		s.Printf("Network packet received with length = %d: OH no!", len(p))
		return -3
	}
	s.Printf("Network packet received with length = %d: YES!", len(p))
	return 0
}

func (e *Env) EthernetRx(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if err := e.Rig.Ethernet.SendPacket(ctx, testerPacketLen); err != nil {
		s.Printf("Tester failed to send network packet.")
		return -1
	}
	if st := delay(ctx, s, 10); st != 0 {
		return st
	}
	st := e.command(ctx, s, dut.CmdEthernetRx, timeout)
	if st != 0 {
		s.Printf("DUT failed to receive network packet.")
	}
	return st
}

func (e *Env) USBHub(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if st := e.command(ctx, s, dut.CmdUSBStart, timeout); st != 0 {
		s.Printf("Failed to start USB on DUT.")
		return st
	}
	if st := delay(ctx, s, 800); st != 0 {
		return st
	}
	st := e.command(ctx, s, dut.CmdUSBHub, timeout)
	if st != 0 {
		s.Printf("USB HUB check failed.")
	}
	return st
}

func (e *Env) USBSticks(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if st := delay(ctx, s, 1500); st != 0 {
		return st
	}
	st := e.command(ctx, s, dut.CmdUSBSticks, timeout)
	if st != 0 {
		s.Printf("*** USB check for 3 devices failed.")
	}
	return st
}
