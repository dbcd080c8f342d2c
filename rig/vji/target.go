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

// Package vji describes the virtual JTAG interface of a DUT: a small space
// of indexed byte registers and a word-addressed window into the DUT's memory.
package vji

import (
	"context"
)

type TargetMemReader interface {
	// ReadTargetReg reads a single 32-bit word from the target (handy for reading registers).
	ReadTargetReg(ctx context.Context, addr uint32) (uint32, error)
	// ReadTargetMem reads length words at the specified address in the target's memory.
	// addr must be word-aligned.
	ReadTargetMem(ctx context.Context, addr uint32, length int) ([]uint32, error)
}

type TargetMemWriter interface {
	// WriteTargetReg writes a single 32-bit word to the target.
	WriteTargetReg(ctx context.Context, addr uint32, value uint32) error
	// WriteTargetMem writes data at the specified address to the target's memory.
	// addr must be word-aligned.
	WriteTargetMem(ctx context.Context, addr uint32, data []uint32) error
}

type TargetMemReaderWriter interface {
	TargetMemReader
	TargetMemWriter
}

// IndexedRegs is the discrete control/status space. Each index selects a
// register of one or more bytes.
type IndexedRegs interface {
	ReadIndexed(ctx context.Context, index uint8, n int) ([]byte, error)
	WriteIndexed(ctx context.Context, index uint8, data []byte) error
}

// Bus is everything the rig can do to a DUT through its debug port.
type Bus interface {
	TargetMemReaderWriter
	IndexedRegs
}

// Indexed register numbers shared by the rig and the DUT FPGA image.
const (
	RegBoardControl uint8 = 2
	RegRefClock     uint8 = 8
	RegUSBClock     uint8 = 9
)

// Board control register values.
const (
	CtrlReset    uint8 = 0x80
	CtrlDownload uint8 = 0x01
	CtrlOff      uint8 = 0x00
)
