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
package dut

import (
	"context"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/image"
	"github.com/u2ptest/rig/rig/vji"
)

// Applications start with a three word header: load address, payload length
// in bytes and entry point.
const appHeaderSize = 12

type AppHeader struct {
	Dest   uint32
	Length uint32
	Run    uint32
}

func ParseAppHeader(data []byte) (AppHeader, []byte, error) {
	if len(data) < appHeaderSize {
		return AppHeader{}, nil, errors.Errorf("application too short (%d bytes)", len(data))
	}
	w := vji.ToWords(data[:appHeaderSize], 0)
	hdr := AppHeader{Dest: w[0], Length: w[1], Run: w[2]}
	payload := data[appHeaderSize:]
	if hdr.Dest%4 != 0 {
		return hdr, nil, errors.Errorf("load address 0x%08x is not word-aligned", hdr.Dest)
	}
	if int(hdr.Length) > len(payload) {
		return hdr, nil, errors.Errorf("header claims %d bytes, image has %d", hdr.Length, len(payload))
	}
	return hdr, payload[:hdr.Length], nil
}

// Launch resets the DUT CPU, downloads an application into its memory and
// starts it. The session's log position is discarded since the new
// application starts a fresh ring.
func (s *Session) Launch(ctx context.Context, img *image.Image) error {
	if s.bus == nil {
		return errors.Errorf("%s: not attached", s.Name)
	}
	if !img.Loaded() {
		return errors.Annotatef(image.ErrNotLoaded, "%s", img)
	}
	hdr, payload, err := ParseAppHeader(img.Data)
	if err != nil {
		return errors.Annotatef(err, "%s", img.Name)
	}
	glog.Infof("%s: launching %s: %d bytes @ 0x%08x, entry 0x%08x", s.Name, img.Name, hdr.Length, hdr.Dest, hdr.Run)
	for _, c := range []byte{vji.CtrlReset, vji.CtrlDownload} {
		if err := s.bus.WriteIndexed(ctx, vji.RegBoardControl, []byte{c}); err != nil {
			return errors.Annotatef(err, "failed to reset DUT CPU")
		}
	}
	if err := Sleep(ctx, s.opts.SettleDelay); err != nil {
		return errors.Trace(err)
	}
	// The length is rounded down to whole words, as the DUT loader does.
	words := vji.ToWords(payload[:len(payload)&^3], 0)
	if err := vji.WriteWords(ctx, s.bus, hdr.Dest, words, vji.MaxTransferWords); err != nil {
		return errors.Annotatef(err, "failed to download %s", img.Name)
	}
	if err := s.bus.WriteTargetReg(ctx, s.opts.Regs.ApplicationRun, hdr.Run); err != nil {
		return errors.Annotatef(err, "failed to start %s", img.Name)
	}
	s.log.Reset()
	return nil
}

// Flash stages img in DUT memory and has the DUT application program it into
// flash at img.Addr. Returns the DUT's result code (0 on success).
func (s *Session) Flash(ctx context.Context, img *image.Image) (int, error) {
	if s.bus == nil {
		return 0, errors.Errorf("%s: not attached", s.Name)
	}
	if !img.Loaded() {
		return 0, errors.Annotatef(image.ErrNotLoaded, "%s", img)
	}
	regs := &s.opts.Regs
	staging := s.opts.StagingAddr
	s.Printf("Programming %s (%d bytes @ 0x%08x)", img.Name, img.Size(), img.Addr)
	// Pad with the erased flash value.
	if err := vji.WriteWords(ctx, s.bus, staging, vji.ToWords(img.Data, 0xff), vji.MaxTransferWords); err != nil {
		return 0, errors.Annotatef(err, "failed to stage %s", img.Name)
	}
	for _, r := range []struct {
		addr, value uint32
	}{
		{regs.ProgramAddr, img.Addr},
		{regs.ProgramDataLen, uint32(img.Size())},
		{regs.ProgramDataLoc, staging},
	} {
		if err := s.bus.WriteTargetReg(ctx, r.addr, r.value); err != nil {
			return 0, errors.Annotatef(err, "failed to set up programming of %s", img.Name)
		}
	}
	status, err := s.Execute(ctx, CmdProgramFlash, s.opts.FlashTimeout)
	return status, errors.Trace(err)
}
