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
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/vji"
)

// Largest chunk of the ring fetched in one go.
const LogBatchSize = 1024

// RingDescriptor mirrors the descriptor the DUT keeps for its log ring.
// The DUT advances Head as it prints; the tester advances Tail as it consumes.
type RingDescriptor struct {
	Base uint32
	Size uint32
	Head uint32
	Tail uint32
}

func (rd RingDescriptor) String() string {
	return fmt.Sprintf("base 0x%08x size %d head %d tail %d", rd.Base, rd.Size, rd.Head, rd.Tail)
}

// Pending returns the number of contiguous bytes readable at Tail: up to Head,
// or up to the end of the buffer when Head has wrapped.
func (rd RingDescriptor) Pending() uint32 {
	if rd.Head >= rd.Tail {
		return rd.Head - rd.Tail
	}
	return rd.Size - rd.Tail
}

func (rd RingDescriptor) validate() error {
	if rd.Size == 0 || rd.Head >= rd.Size || rd.Tail >= rd.Size {
		return errors.Errorf("corrupt log ring descriptor (%s)", rd)
	}
	return nil
}

// LogChannel consumes the DUT's log ring. Bytes are fetched in batches and
// handed out one at a time; the tail is written back as soon as a batch has
// been fetched so the DUT can reuse the space.
type LogChannel struct {
	bus  vji.TargetMemReaderWriter
	regs *RegisterMap

	batch []byte
	pos   int
}

func NewLogChannel(bus vji.TargetMemReaderWriter, regs *RegisterMap) *LogChannel {
	return &LogChannel{bus: bus, regs: regs}
}

// Descriptor reads the current ring descriptor from the DUT.
func (lc *LogChannel) Descriptor(ctx context.Context) (RingDescriptor, error) {
	w, err := lc.bus.ReadTargetMem(ctx, lc.regs.RingBase(), 4)
	if err != nil {
		return RingDescriptor{}, errors.Annotatef(err, "failed to read log ring descriptor")
	}
	return RingDescriptor{Base: w[0], Size: w[1], Head: w[2], Tail: w[3]}, nil
}

// NextByte returns the next log byte. ok is false when the DUT has nothing new.
func (lc *LogChannel) NextByte(ctx context.Context) (b byte, ok bool, err error) {
	if lc.pos < len(lc.batch) {
		b = lc.batch[lc.pos]
		lc.pos++
		return b, true, nil
	}
	if err := lc.fetch(ctx); err != nil {
		return 0, false, errors.Trace(err)
	}
	if len(lc.batch) == 0 {
		return 0, false, nil
	}
	lc.pos = 1
	return lc.batch[0], true, nil
}

func (lc *LogChannel) fetch(ctx context.Context) error {
	lc.batch, lc.pos = lc.batch[:0], 0
	rd, err := lc.Descriptor(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if rd.Head == rd.Tail {
		return nil
	}
	if err := rd.validate(); err != nil {
		return errors.Trace(err)
	}
	n := rd.Pending()
	if n > LogBatchSize {
		n = LogBatchSize
	}
	data, err := vji.ReadBytes(ctx, lc.bus, rd.Base+rd.Tail, int(n), vji.MaxTransferWords)
	if err != nil {
		return errors.Annotatef(err, "failed to read log (%s)", rd)
	}
	tail := rd.Tail + n
	if tail >= rd.Size {
		tail -= rd.Size
	}
	if err := lc.bus.WriteTargetReg(ctx, lc.regs.RingTail(), tail); err != nil {
		return errors.Annotatef(err, "failed to advance log tail")
	}
	glog.V(3).Infof("log: fetched %d bytes (%s), new tail %d", n, rd, tail)
	lc.batch = append(lc.batch, data...)
	return nil
}

// Drain consumes everything the DUT has logged so far, up to max bytes
// (no limit if max <= 0).
func (lc *LogChannel) Drain(ctx context.Context, max int) ([]byte, error) {
	var res []byte
	for max <= 0 || len(res) < max {
		b, ok, err := lc.NextByte(ctx)
		if err != nil {
			return res, errors.Trace(err)
		}
		if !ok {
			break
		}
		res = append(res, b)
	}
	return res, nil
}

// Reset drops bytes fetched but not yet consumed. Used after the DUT restarts.
func (lc *LogChannel) Reset() {
	lc.batch, lc.pos = lc.batch[:0], 0
}
