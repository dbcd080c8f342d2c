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
	"io"
	"io/ioutil"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/common/ourutil"
	"github.com/u2ptest/rig/rig/vji"
)

type Opts struct {
	Regs RegisterMap
	// DUT output and progress messages go here.
	Console io.Writer
	// How often the mailbox is polled while a command runs. Defaults to one tick.
	PollInterval time.Duration
	// Length of one scheduler tick for delays requested by tests. Defaults to Tick.
	TickDuration time.Duration
	SettleDelay  time.Duration
	StagingAddr  uint32
	FlashTimeout time.Duration
}

// Session is the tester's view of one DUT application instance. It is bound
// to a bus with Attach and must be re-attached whenever the DUT is reset.
type Session struct {
	Name string
	opts Opts
	bus  vji.Bus
	log  *LogChannel
}

func NewSession(name string, opts *Opts) *Session {
	s := &Session{Name: name}
	if opts != nil {
		s.opts = *opts
	}
	o := &s.opts
	if o.Regs == (RegisterMap{}) {
		o.Regs = DefaultRegisterMap
	}
	if o.Console == nil {
		o.Console = ioutil.Discard
	}
	if o.TickDuration == 0 {
		o.TickDuration = Tick
	}
	if o.PollInterval == 0 {
		o.PollInterval = o.TickDuration
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = 100 * o.TickDuration
	}
	if o.StagingAddr == 0 {
		o.StagingAddr = DefaultStagingAddr
	}
	if o.FlashTimeout == 0 {
		o.FlashTimeout = DefaultFlashTimeout
	}
	return s
}

// Attach binds the session to the bus of a freshly reset DUT.
func (s *Session) Attach(bus vji.Bus) {
	s.bus = bus
	s.log = NewLogChannel(bus, &s.opts.Regs)
}

// Attached reports whether the session has a bus.
func (s *Session) Attached() bool {
	return s.bus != nil
}

func (s *Session) Bus() vji.Bus {
	return s.bus
}

func (s *Session) Regs() *RegisterMap {
	return &s.opts.Regs
}

func (s *Session) Log() *LogChannel {
	return s.log
}

func (s *Session) Console() io.Writer {
	return s.opts.Console
}

// SetConsole redirects DUT output, e.g. into a per-run log.
func (s *Session) SetConsole(w io.Writer) {
	if w == nil {
		w = ioutil.Discard
	}
	s.opts.Console = w
}

// Printf prints a line to the console.
func (s *Session) Printf(format string, args ...interface{}) {
	ourutil.Freportf(s.opts.Console, format, args...)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return errors.Trace(ctx.Err())
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-t.C:
		return nil
	}
}

// Delay waits for n scheduler ticks.
func (s *Session) Delay(ctx context.Context, ticks int) error {
	return Sleep(ctx, time.Duration(ticks)*s.opts.TickDuration)
}

// Execute issues cmd and waits up to timeout for the DUT to complete it.
// DUT output produced meanwhile is streamed to the console. Returns the DUT's
// result code or StatusTimeout. The error is non-nil only on bus failure or
// cancellation.
func (s *Session) Execute(ctx context.Context, cmd Command, timeout time.Duration) (int, error) {
	status, _, err := s.execute(ctx, cmd, timeout, false)
	return status, err
}

// ExecuteWithLog is like Execute but collects DUT output produced while the
// command runs (up to MaxCapturedLog bytes) and returns it once it is done,
// after echoing it to the console.
func (s *Session) ExecuteWithLog(ctx context.Context, cmd Command, timeout time.Duration) (int, []byte, error) {
	return s.execute(ctx, cmd, timeout, true)
}

func (s *Session) execute(ctx context.Context, cmd Command, timeout time.Duration, capture bool) (int, []byte, error) {
	if s.bus == nil {
		return 0, nil, errors.Errorf("%s: not attached", s.Name)
	}
	regs := &s.opts.Regs
	glog.V(1).Infof("%s: %s, timeout %s", s.Name, cmd, timeout)

	gen, err := s.bus.ReadTargetReg(ctx, regs.DUTToTester)
	if err != nil {
		return 0, nil, errors.Annotatef(err, "%s: failed to read completion register", cmd)
	}
	if err := s.bus.WriteTargetReg(ctx, regs.TesterToDUT, uint32(cmd)); err != nil {
		return 0, nil, errors.Annotatef(err, "%s: failed to issue", cmd)
	}

	start := time.Now()
	done := false
	for !done {
		if err := Sleep(ctx, s.opts.PollInterval); err != nil {
			return 0, nil, errors.Trace(err)
		}
		if !capture {
			if err := s.forwardLog(ctx); err != nil {
				return 0, nil, errors.Trace(err)
			}
		}
		if done, err = s.pollCompletion(ctx, gen); err != nil {
			return 0, nil, errors.Annotatef(err, "%s", cmd)
		}
		if !done && time.Since(start) > timeout {
			break
		}
	}

	status := StatusTimeout
	if done {
		v, err := s.bus.ReadTargetReg(ctx, regs.TestStatus)
		if err != nil {
			return 0, nil, errors.Annotatef(err, "%s: failed to read status", cmd)
		}
		status = int(int32(v))
	} else {
		glog.Warningf("%s: %s timed out after %s", s.Name, cmd, timeout)
	}

	// Whatever the DUT printed up to now belongs to this command, whether it
	// finished or not.
	tail, err := s.log.Drain(ctx, MaxCapturedLog)
	if err != nil {
		return 0, nil, errors.Annotatef(err, "%s: failed to drain log", cmd)
	}
	s.opts.Console.Write(tail)
	glog.V(1).Infof("%s: %s == %d (%s)", s.Name, cmd, status, time.Since(start))
	if !capture || len(tail) == 0 {
		tail = nil
	}
	return status, tail, nil
}

// pollCompletion reports whether the DUT's completion generation moved away from gen.
func (s *Session) pollCompletion(ctx context.Context, gen uint32) (bool, error) {
	v, err := s.bus.ReadTargetReg(ctx, s.opts.Regs.DUTToTester)
	if err != nil {
		return false, errors.Trace(err)
	}
	return v != gen, nil
}

func (s *Session) forwardLog(ctx context.Context) error {
	data, err := s.log.Drain(ctx, LogBatchSize)
	if len(data) > 0 {
		s.opts.Console.Write(data)
	}
	return errors.Trace(err)
}
