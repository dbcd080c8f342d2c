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
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/skratchdot/open-golang/open"

	"github.com/u2ptest/rig/cli/flags"
	"github.com/u2ptest/rig/common/ourutil"
	"github.com/u2ptest/rig/rig/config"
	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/hw"
	"github.com/u2ptest/rig/rig/hw/remote"
	"github.com/u2ptest/rig/rig/hw/sim"
	"github.com/u2ptest/rig/rig/publish"
	"github.com/u2ptest/rig/rig/steps"
	"github.com/u2ptest/rig/rig/suite"
	"github.com/u2ptest/rig/rig/textlog"
	"github.com/u2ptest/rig/rig/vji/bridge"
)

const (
	kindJig  = "jig"
	kindSlot = "slot"
)

// rig is everything a command needs to talk to the tester.
type rig struct {
	cfg     *config.Config
	hw      *hw.Rig
	sim     *sim.Rig
	client  *bridge.Client
	log     *textlog.Log
	closers []io.Closer
}

func loadConfig() (*config.Config, error) {
	path, explicit := flags.ConfigPath()
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, errors.Trace(err)
	}
	flags.Apply(cfg)
	return cfg, nil
}

func openRig(ctx context.Context) (*rig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, errors.Trace(err)
	}
	r := &rig{cfg: cfg, log: textlog.New(cfg.LogLimit, os.Stdout)}
	if cfg.Console.Port != "" {
		uart, err := textlog.OpenUART(cfg.Console.Port, cfg.Console.BaudRate)
		if err != nil {
			return nil, errors.Trace(err)
		}
		r.log.AddTee(uart)
		r.closers = append(r.closers, uart)
	}
	if *flags.Sim {
		ourutil.Reportf("Using the simulated rig.")
		r.sim = sim.New(&cfg.Registers)
		r.hw = r.sim.HW()
		if err := hw.ShowIdle(ctx, r.hw.PIO); err != nil {
			r.Close()
			return nil, errors.Trace(err)
		}
		return r, nil
	}
	if cfg.Bridge.Port == "" {
		r.Close()
		return nil, errors.Errorf("no bridge port, use --port or set bridge.port in the config")
	}
	c, err := bridge.Open(ctx, cfg.Bridge.Port, &bridge.Opts{
		BaudRate:      cfg.Bridge.BaudRate,
		ReadTimeout:   cfg.Bridge.Timeout,
		HWFlowControl: *flags.HWFC,
	})
	if err != nil {
		r.Close()
		return nil, errors.Trace(err)
	}
	r.client = c
	r.closers = append(r.closers, c)
	r.hw = remote.New(c)
	if err := hw.ShowIdle(ctx, r.hw.PIO); err != nil {
		r.Close()
		return nil, errors.Annotatef(err, "bridge not responding")
	}
	return r, nil
}

func (r *rig) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			glog.Warningf("close: %s", err)
		}
	}
	r.closers = nil
}

// loadImages reads the images from removable media. On the simulated rig
// missing images are made up.
func (r *rig) loadImages() *steps.Images {
	fpga, app, flash, err := r.cfg.LoadImages(r.log)
	if err != nil {
		glog.Warningf("%s", err)
	}
	if r.sim != nil {
		simFPGA, simApp := sim.Images()
		if !fpga.Loaded() {
			fpga = simFPGA
		}
		if !app.Loaded() {
			app = simApp
		}
		sim.FillMissing(flash...)
	}
	return &steps.Images{FPGA: fpga, App: app, Flash: flash}
}

func (r *rig) chain(kind string) (hw.FPGA, error) {
	switch kind {
	case kindJig:
		return r.hw.Jig, nil
	case kindSlot:
		return r.hw.Slot, nil
	}
	return nil, errors.NotValidf("DUT %q (want %s or %s)", kind, kindJig, kindSlot)
}

// env sets up the step environment and a session for one DUT.
func (r *rig) env(kind string) (*steps.Env, *dut.Session, error) {
	chain, err := r.chain(kind)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	e := steps.NewEnv(r.hw, chain, r.loadImages())
	return e, dut.NewSession(kind, r.cfg.SessionOpts(r.log)), nil
}

func (r *rig) suite(e *steps.Env, kind string) *suite.Suite {
	opts := []suite.Option{suite.WithRunLog(r.log), suite.WithRunLog(e)}
	if kind == kindJig {
		return e.JigSuite(opts...)
	}
	return e.SlotSuite(opts...)
}

// runSuite runs s with the status LEDs showing progress, then saves and
// publishes the result.
func (r *rig) runSuite(ctx context.Context, s *suite.Suite, e *steps.Env, sess *dut.Session, kind string) error {
	if err := s.Reset(); err != nil {
		return errors.Trace(err)
	}
	if err := hw.ShowRunning(ctx, r.hw.PIO); err != nil {
		return errors.Trace(err)
	}
	runErr := s.Run(ctx, sess)
	s.Report(r.log.Console())
	s.PlainReport(r.log.Record())
	// The run may have been interrupted; the LEDs still need to be set.
	if err := hw.ShowVerdict(context.Background(), r.hw.PIO, s.Passed()); err != nil {
		glog.Errorf("failed to set status LEDs: %s", err)
	}
	logFile := r.saveLog(kind, s)
	r.publish(s, e, logFile)
	if runErr != nil {
		return errors.Trace(runErr)
	}
	if !s.Passed() {
		return errors.Errorf("%s: %s", s.Name(), s.Verdict())
	}
	return nil
}

func (r *rig) saveLog(kind string, s *suite.Suite) string {
	if *flags.NoSaveLog {
		return ""
	}
	if r.log.Truncated() {
		ourutil.Reportf("Warning: run log exceeded %d bytes and was truncated.", r.cfg.LogLimit)
	}
	fname, err := r.log.Persist(r.cfg.LogDir, kind, s.Started())
	if err != nil {
		ourutil.Reportf("Warning: %s", err)
		return ""
	}
	ourutil.Reportf("Log saved to %s", fname)
	if *flags.OpenLog {
		if err := open.Run(fname); err != nil {
			ourutil.Reportf("Warning: failed to open %s: %s", fname, err)
		}
	}
	return fname
}

func (r *rig) publish(s *suite.Suite, e *steps.Env, logFile string) {
	mc := r.cfg.MQTT
	if mc.Broker == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flags.PollTimeout)
	defer cancel()
	p, err := publish.DialMQTT(ctx, &publish.Opts{Broker: mc.Broker, ClientID: mc.ClientID, Topic: mc.Topic})
	if err != nil {
		ourutil.Reportf("Warning: results not published: %s", err)
		return
	}
	defer p.Close()
	if err := p.Publish(ctx, publish.NewReport(mc.Station, s, e.Captured(), logFile)); err != nil {
		ourutil.Reportf("Warning: results not published: %s", err)
	}
}

// interruptible returns a context that is cancelled on SIGINT or SIGTERM.
func interruptible() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			glog.Infof("%s, stopping", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}

// parseCommand accepts a command code or name, e.g. 14 or rtc-read.
func parseCommand(s string) (dut.Command, error) {
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return dut.Command(n), nil
	}
	if c, ok := dut.CommandByName(strings.ToLower(s)); ok {
		return c, nil
	}
	return 0, errors.NotFoundf("command %q", s)
}

func dutKind(arg string) string {
	if arg == "" {
		return kindSlot
	}
	return arg
}
