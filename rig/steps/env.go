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

// Package steps implements the checks run on a DUT in the jig and in the
// cartridge slot, and the suites made of them.
package steps

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/hw"
	"github.com/u2ptest/rig/rig/image"
)

// StatusFault is returned by steps that could not talk to the rig or the DUT.
const StatusFault = -90

// Images the steps push into the DUT.
type Images struct {
	FPGA  *image.Image
	App   *image.Image
	Flash []*image.Image
}

// All returns every image, for loading.
func (im *Images) All() []*image.Image {
	res := []*image.Image{}
	res = append(res, im.Flash...)
	return append(res, im.FPGA, im.App)
}

// Env is what the steps of one position operate on.
type Env struct {
	Rig    *hw.Rig
	Chain  hw.FPGA
	Images *Images

	mu       sync.Mutex
	captured map[dut.Command][]byte
}

func NewEnv(rig *hw.Rig, chain hw.FPGA, images *Images) *Env {
	return &Env{Rig: rig, Chain: chain, Images: images, captured: map[dut.Command][]byte{}}
}

// Captured returns DUT output collected by commands of the last run, by command.
func (e *Env) Captured() map[dut.Command]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := map[dut.Command]string{}
	for c, b := range e.captured {
		res[c] = string(b)
	}
	return res
}

// Reset forgets captured output. Passed to suites as their run log.
func (e *Env) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.captured = map[dut.Command][]byte{}
}

// fault reports an error that prevents a step from completing.
func fault(s *dut.Session, what string, err error) int {
	glog.Errorf("%s: %+v", what, err)
	s.Printf("%s: %s", what, err)
	return StatusFault
}

// delay waits for n DUT scheduler ticks.
func delay(ctx context.Context, s *dut.Session, ticks int) int {
	if err := s.Delay(ctx, ticks); err != nil {
		return fault(s, "Interrupted", err)
	}
	return 0
}

// command runs cmd on the DUT and keeps what it printed.
func (e *Env) command(ctx context.Context, s *dut.Session, cmd dut.Command, timeout time.Duration) int {
	status, err := e.exec(ctx, s, cmd, timeout)
	if err != nil {
		return fault(s, cmd.String(), err)
	}
	return status
}

// exec is like command but hands transport errors back to the caller.
func (e *Env) exec(ctx context.Context, s *dut.Session, cmd dut.Command, timeout time.Duration) (int, error) {
	status, out, err := s.ExecuteWithLog(ctx, cmd, timeout)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if out != nil {
		e.mu.Lock()
		e.captured[cmd] = append(e.captured[cmd], out...)
		e.mu.Unlock()
	}
	return status, nil
}

func needBus(s *dut.Session) bool {
	if !s.Attached() {
		s.Printf("No access to the DUT, FPGA not configured.")
		return false
	}
	return true
}
