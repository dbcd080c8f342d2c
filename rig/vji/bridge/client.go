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

// Package bridge talks to the tester's JTAG bridge over a serial link.
// The bridge owns the JTAG chains of both slots and executes indexed register
// and memory transactions, plus named calls into its peripheral drivers.
package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cesanta/go-serial/serial"
	"github.com/gofrs/flock"
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/vji"
)

type op uint8

const (
	opReadIndexed  op = 0x01
	opWriteIndexed op = 0x02
	opReadMem      op = 0x03
	opWriteMem     op = 0x04
	opCall         op = 0x10
)

const (
	// Words per memory transaction; keeps frames well under the bridge's 4K receive buffer.
	maxFrameWords = vji.MaxTransferWords
	maxFrameSize  = 8 + maxFrameWords*4 + 64
)

type Opts struct {
	BaudRate      uint
	ReadTimeout   time.Duration
	HWFlowControl bool
}

type Client struct {
	mu     sync.Mutex
	frames *SLIPReaderWriter
	closer io.Closer
	lock   *flock.Flock
	buf    []byte
}

// Open opens the bridge on a serial port. Only one process may hold a given
// port; a second Open fails instead of interleaving transactions.
func Open(ctx context.Context, portName string, opts *Opts) (*Client, error) {
	if opts == nil {
		opts = &Opts{}
	}
	lock := flock.New(lockFileName(portName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Annotatef(err, "failed to lock %s", lock.Path())
	}
	if !locked {
		return nil, errors.Errorf("%s is in use by another process (%s)", portName, lock.Path())
	}
	oo := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              115200,
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		HardwareFlowControl:   opts.HWFlowControl,
		InterCharacterTimeout: uint(opts.ReadTimeout / time.Millisecond),
		MinimumReadSize:       0,
	}
	if opts.BaudRate != 0 {
		oo.BaudRate = opts.BaudRate
	}
	if oo.InterCharacterTimeout == 0 {
		oo.InterCharacterTimeout = 1000
	}
	glog.Infof("Opening %s...", portName)
	s, err := serial.Open(oo)
	if err != nil {
		lock.Unlock()
		return nil, errors.Annotatef(err, "failed to open %s", portName)
	}
	c := NewClient(s)
	c.closer = s
	c.lock = lock
	return c, nil
}

// NewClient wraps an already open byte stream.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{
		frames: NewSLIPReaderWriter(rw),
		buf:    make([]byte, maxFrameSize),
	}
}

func lockFileName(portName string) string {
	base := strings.Replace(strings.Trim(portName, "/\\"), "/", "_", -1)
	base = strings.Replace(base, "\\", "_", -1)
	return filepath.Join(os.TempDir(), "rigtest-"+base+".lock")
}

func (c *Client) Close() error {
	var err error
	if c.closer != nil {
		err = c.closer.Close()
	}
	if c.lock != nil {
		c.lock.Unlock()
	}
	return errors.Trace(err)
}

func (c *Client) exec(ctx context.Context, o op, slot uint8, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Annotatef(err, "bridge op 0x%02x", o)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	req := append([]byte{byte(o), slot}, args...)
	if _, err := c.frames.Write(req); err != nil {
		return nil, errors.Annotatef(err, "bridge write failed")
	}
	n, err := c.frames.Read(c.buf)
	if err != nil {
		return nil, errors.Annotatef(err, "bridge read failed")
	}
	resp := c.buf[:n]
	if len(resp) < 2 {
		return nil, errors.Errorf("short response (%d)", len(resp))
	}
	if op(resp[0]) != o {
		return nil, errors.Errorf("response to wrong command (want 0x%02x, got 0x%02x)", o, resp[0])
	}
	if resp[1] != 0 {
		return nil, errors.Errorf("bridge op 0x%02x returned error (0x%02x)", o, resp[1])
	}
	return append([]byte(nil), resp[2:]...), nil
}

// Slot returns the bus of one JTAG chain (0 = jig, 1 = slot).
func (c *Client) Slot(n uint8) *Slot {
	return &Slot{c: c, n: n}
}

type Slot struct {
	c *Client
	n uint8
}

var _ vji.Bus = (*Slot)(nil)

func (s *Slot) ReadIndexed(ctx context.Context, index uint8, n int) ([]byte, error) {
	if n <= 0 || n > 255 {
		return nil, errors.Errorf("invalid indexed read length %d", n)
	}
	resp, err := s.c.exec(ctx, opReadIndexed, s.n, []byte{index, uint8(n)})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(resp) != n {
		return nil, errors.Errorf("reg %d: want %d bytes, got %d", index, n, len(resp))
	}
	glog.V(4).Infof("[%d] reg %d == %x", s.n, index, resp)
	return resp, nil
}

func (s *Slot) WriteIndexed(ctx context.Context, index uint8, data []byte) error {
	glog.V(4).Infof("[%d] reg %d = %x", s.n, index, data)
	_, err := s.c.exec(ctx, opWriteIndexed, s.n, append([]byte{index}, data...))
	return errors.Trace(err)
}

func (s *Slot) ReadTargetReg(ctx context.Context, addr uint32) (uint32, error) {
	v, err := s.ReadTargetMem(ctx, addr, 1)
	if err != nil {
		return 0, errors.Trace(err)
	}
	glog.V(4).Infof("[%d] ReadTargetReg(0x%08x) == 0x%08x", s.n, addr, v[0])
	return v[0], nil
}

func (s *Slot) ReadTargetMem(ctx context.Context, addr uint32, length int) ([]uint32, error) {
	glog.V(4).Infof("[%d] ReadTargetMem(0x%08x, %d)", s.n, addr, length)
	if addr%4 != 0 {
		return nil, errors.Errorf("addr must be word-aligned, got 0x%x", addr)
	}
	res := make([]uint32, 0, length)
	for i := 0; i < length; {
		cl := length - i
		if cl > maxFrameWords {
			cl = maxFrameWords
		}
		args := new(bytes.Buffer)
		binary.Write(args, binary.LittleEndian, addr)
		binary.Write(args, binary.LittleEndian, uint16(cl))
		resp, err := s.c.exec(ctx, opReadMem, s.n, args.Bytes())
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(resp) != cl*4 {
			return nil, errors.Errorf("read @ 0x%08x: want %d bytes, got %d", addr, cl*4, len(resp))
		}
		for j := 0; j < cl; j++ {
			res = append(res, binary.LittleEndian.Uint32(resp[j*4:]))
		}
		addr += uint32(cl * 4)
		i += cl
	}
	return res, nil
}

func (s *Slot) WriteTargetReg(ctx context.Context, addr uint32, value uint32) error {
	glog.V(4).Infof("[%d] WriteTargetReg(0x%08x, 0x%08x)", s.n, addr, value)
	return errors.Trace(s.WriteTargetMem(ctx, addr, []uint32{value}))
}

func (s *Slot) WriteTargetMem(ctx context.Context, addr uint32, data []uint32) error {
	glog.V(4).Infof("[%d] WriteTargetMem(0x%08x, %d)", s.n, addr, len(data))
	if addr%4 != 0 {
		return errors.Errorf("addr must be word-aligned, got 0x%x", addr)
	}
	for i := 0; i < len(data); {
		cl := len(data) - i
		if cl > maxFrameWords {
			cl = maxFrameWords
		}
		args := new(bytes.Buffer)
		binary.Write(args, binary.LittleEndian, addr)
		binary.Write(args, binary.LittleEndian, data[i:i+cl])
		if _, err := s.c.exec(ctx, opWriteMem, s.n, args.Bytes()); err != nil {
			return errors.Trace(err)
		}
		addr += uint32(cl * 4)
		i += cl
	}
	return nil
}

// Call invokes a named driver function on the bridge.
func (s *Slot) Call(ctx context.Context, name string, args ...int32) ([]int32, error) {
	if len(name) > 255 || len(args) > 255 {
		return nil, errors.Errorf("call %q: too many arguments", name)
	}
	req := new(bytes.Buffer)
	req.WriteByte(uint8(len(name)))
	req.WriteString(name)
	req.WriteByte(uint8(len(args)))
	binary.Write(req, binary.LittleEndian, args)
	resp, err := s.c.exec(ctx, opCall, s.n, req.Bytes())
	if err != nil {
		return nil, errors.Annotatef(err, "call %q", name)
	}
	if len(resp) < 1 || len(resp) != 1+int(resp[0])*4 {
		return nil, errors.Errorf("call %q: malformed response (%d bytes)", name, len(resp))
	}
	res := make([]int32, resp[0])
	binary.Read(bytes.NewReader(resp[1:]), binary.LittleEndian, res)
	glog.V(3).Infof("[%d] %s(%v) == %v", s.n, name, args, res)
	return res, nil
}

// CallBytes is like Call but passes and returns an opaque byte payload
// after the integer arguments.
func (s *Slot) CallBytes(ctx context.Context, name string, payload []byte) ([]byte, error) {
	req := new(bytes.Buffer)
	req.WriteByte(uint8(len(name)))
	req.WriteString(name)
	req.WriteByte(0)
	req.Write(payload)
	resp, err := s.c.exec(ctx, opCall, s.n, req.Bytes())
	if err != nil {
		return nil, errors.Annotatef(err, "call %q", name)
	}
	if len(resp) < 1 || resp[0] != 0 {
		return nil, errors.Errorf("call %q: malformed response", name)
	}
	return resp[1:], nil
}
