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

// Package simbus implements vji.Bus on top of a sparse in-memory DUT.
// Hooks let a caller emulate DUT firmware reacting to register writes.
package simbus

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

type WriteHook func(d *DUT, addr, value uint32)
type IndexReadHook func(d *DUT, index uint8, n int) []byte

// Access records one bus transaction.
type Access struct {
	Write bool
	Addr  uint32
	Words int
}

type DUT struct {
	mu         sync.Mutex
	mem        map[uint32]uint32
	idx        map[uint8][]byte
	writeHooks map[uint32]WriteHook
	readHooks  map[uint32]func(d *DUT)
	idxHook    IndexReadHook

	// When set, all memory reads (writes) fail with this error.
	ReadErr  error
	WriteErr error

	accesses    []Access
	idxWrites   map[uint8][][]byte
	maxReadSeen int
}

func New() *DUT {
	return &DUT{
		mem:        make(map[uint32]uint32),
		idx:        make(map[uint8][]byte),
		writeHooks: make(map[uint32]WriteHook),
		readHooks:  make(map[uint32]func(d *DUT)),
		idxWrites:  make(map[uint8][][]byte),
	}
}

// OnWrite registers fn to be called after a word at addr has been written.
func (d *DUT) OnWrite(addr uint32, fn WriteHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeHooks[addr] = fn
}

// OnRead registers fn to be called before a block read touching addr.
func (d *DUT) OnRead(addr uint32, fn func(d *DUT)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readHooks[addr] = fn
}

// OnIndexRead overrides the value returned by indexed register reads.
func (d *DUT) OnIndexRead(fn IndexReadHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idxHook = fn
}

func (d *DUT) Peek(addr uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mem[addr&^3]
}

func (d *DUT) Poke(addr, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mem[addr&^3] = value
}

// PokeBytes stores data at an arbitrary address.
func (d *DUT) PokeBytes(addr uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range data {
		a := addr + uint32(i)
		wa, sh := a&^3, (a&3)*8
		d.mem[wa] = d.mem[wa]&^(0xff<<sh) | uint32(b)<<sh
	}
}

// PeekBytes returns n bytes at an arbitrary address.
func (d *DUT) PeekBytes(addr uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([]byte, n)
	for i := range res {
		a := addr + uint32(i)
		res[i] = byte(d.mem[a&^3] >> ((a & 3) * 8))
	}
	return res
}

// SetIndexed sets the value returned by indexed register reads.
func (d *DUT) SetIndexed(index uint8, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idx[index] = append([]byte(nil), data...)
}

// IndexWrites returns everything written to an indexed register, oldest first.
func (d *DUT) IndexWrites(index uint8) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.idxWrites[index]...)
}

// Accesses returns the memory transaction log.
func (d *DUT) Accesses() []Access {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Access(nil), d.accesses...)
}

// WritesTo returns the number of write transactions that started at addr.
func (d *DUT) WritesTo(addr uint32) int {
	n := 0
	for _, a := range d.Accesses() {
		if a.Write && a.Addr == addr {
			n++
		}
	}
	return n
}

// MaxReadWords returns the largest block read seen so far.
func (d *DUT) MaxReadWords() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxReadSeen
}

func (d *DUT) ReadTargetReg(ctx context.Context, addr uint32) (uint32, error) {
	v, err := d.ReadTargetMem(ctx, addr, 1)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return v[0], nil
}

func (d *DUT) ReadTargetMem(ctx context.Context, addr uint32, length int) ([]uint32, error) {
	if addr%4 != 0 {
		return nil, errors.Errorf("addr must be word-aligned, got 0x%x", addr)
	}
	d.mu.Lock()
	if d.ReadErr != nil {
		err := d.ReadErr
		d.mu.Unlock()
		return nil, err
	}
	var hooks []func(d *DUT)
	for i := 0; i < length; i++ {
		if h := d.readHooks[addr+uint32(i*4)]; h != nil {
			hooks = append(hooks, h)
		}
	}
	d.mu.Unlock()
	for _, h := range hooks {
		h(d)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.accesses = append(d.accesses, Access{Addr: addr, Words: length})
	if length > d.maxReadSeen {
		d.maxReadSeen = length
	}
	res := make([]uint32, length)
	for i := range res {
		res[i] = d.mem[addr+uint32(i*4)]
	}
	glog.V(4).Infof("sim read 0x%08x[%d]", addr, length)
	return res, nil
}

func (d *DUT) WriteTargetReg(ctx context.Context, addr uint32, value uint32) error {
	return d.WriteTargetMem(ctx, addr, []uint32{value})
}

func (d *DUT) WriteTargetMem(ctx context.Context, addr uint32, data []uint32) error {
	if addr%4 != 0 {
		return errors.Errorf("addr must be word-aligned, got 0x%x", addr)
	}
	d.mu.Lock()
	if d.WriteErr != nil {
		err := d.WriteErr
		d.mu.Unlock()
		return err
	}
	d.accesses = append(d.accesses, Access{Write: true, Addr: addr, Words: len(data)})
	type call struct {
		h    WriteHook
		a, v uint32
	}
	var calls []call
	for i, v := range data {
		a := addr + uint32(i*4)
		d.mem[a] = v
		if h := d.writeHooks[a]; h != nil {
			calls = append(calls, call{h, a, v})
		}
	}
	d.mu.Unlock()
	glog.V(4).Infof("sim write 0x%08x[%d]", addr, len(data))
	for _, c := range calls {
		c.h(d, c.a, c.v)
	}
	return nil
}

func (d *DUT) ReadIndexed(ctx context.Context, index uint8, n int) ([]byte, error) {
	d.mu.Lock()
	hook := d.idxHook
	d.mu.Unlock()
	if hook != nil {
		if v := hook(d, index, n); v != nil {
			return v, nil
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([]byte, n)
	copy(res, d.idx[index])
	return res, nil
}

func (d *DUT) WriteIndexed(ctx context.Context, index uint8, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteErr != nil {
		return d.WriteErr
	}
	v := append([]byte(nil), data...)
	d.idx[index] = v
	d.idxWrites[index] = append(d.idxWrites[index], v)
	return nil
}
