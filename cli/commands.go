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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/u2ptest/rig/cli/flags"
	"github.com/u2ptest/rig/common/ourio"
	"github.com/u2ptest/rig/common/ourutil"
	"github.com/u2ptest/rig/rig/config"
	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/steps"
	"github.com/u2ptest/rig/rig/suite"
	"github.com/u2ptest/rig/rig/textlog"
	"github.com/u2ptest/rig/version"
)

// Steps that bring a DUT up to the point where its test application runs.
var bringUpSteps = map[string][]string{
	kindJig:  {"Voltage Regulator Test", "Check FPGA ID Code", "Configure the FPGA", "Verify DUT appl running"},
	kindSlot: {"Power up DUT in slot", "Check FPGA ID Code", "Configure the FPGA", "Verify DUT appl running"},
}

func runCmd() error {
	kind := flag.Arg(1)
	if kind != kindJig && kind != kindSlot {
		return errors.Errorf("usage: %s run jig|slot", os.Args[0])
	}
	ctx, cancel := interruptible()
	defer cancel()
	r, err := openRig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	e, sess, err := r.env(kind)
	if err != nil {
		return errors.Trace(err)
	}
	s := r.suite(e, kind)
	names, err := flags.OnlySteps()
	if err != nil {
		return errors.Trace(err)
	}
	if names != nil {
		if s, err = s.Select(names); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(r.runSuite(ctx, s, e, sess, kind))
}

// flashCmd brings up the slot DUT and programs its flash images.
func flashCmd() error {
	ctx, cancel := interruptible()
	defer cancel()
	r, err := openRig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	e, sess, err := r.env(kindSlot)
	if err != nil {
		return errors.Trace(err)
	}
	s, err := r.suite(e, kindSlot).Select(append(bringUpSteps[kindSlot], "Program Flashes"))
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.runSuite(ctx, s, e, sess, "flash"))
}

// bringUp runs the bring-up steps of kind without saving a log.
func (r *rig) bringUp(ctx context.Context, kind string) (*steps.Env, *dut.Session, error) {
	e, sess, err := r.env(kind)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	s, err := r.suite(e, kind).Select(bringUpSteps[kind])
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if err := s.Run(ctx, sess); err != nil {
		return nil, nil, errors.Trace(err)
	}
	if !s.Passed() {
		return nil, nil, errors.Errorf("%s bring-up failed: %s", kind, s.Summary())
	}
	return e, sess, nil
}

func execCmd() error {
	if flag.NArg() < 2 {
		return errors.Errorf("usage: %s exec <code|name> [jig|slot]", os.Args[0])
	}
	cmd, err := parseCommand(flag.Arg(1))
	if err != nil {
		return errors.Trace(err)
	}
	kind := dutKind(flag.Arg(2))
	ctx, cancel := interruptible()
	defer cancel()
	r, err := openRig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	_, sess, err := r.bringUp(ctx, kind)
	if err != nil {
		return errors.Trace(err)
	}
	var status int
	if *flags.Capture {
		var out []byte
		status, out, err = sess.ExecuteWithLog(ctx, cmd, flags.PollTimeout)
		if err == nil {
			ourutil.Reportf("Captured %d bytes of output.", len(out))
		}
	} else {
		status, err = sess.Execute(ctx, cmd, flags.PollTimeout)
	}
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("%s returned %d", cmd, status)
	if status != 0 {
		return errors.Errorf("%s failed (%d)", cmd, status)
	}
	return nil
}

// logCmd follows the DUT log until interrupted.
func logCmd() error {
	kind := dutKind(flag.Arg(1))
	ctx, cancel := interruptible()
	defer cancel()
	r, err := openRig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	_, sess, err := r.bringUp(ctx, kind)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Following the %s DUT log, Ctrl-C to stop.", kind)
	for {
		data, err := sess.Log().Drain(ctx, 0)
		if len(data) > 0 {
			os.Stdout.Write(data)
		}
		if err != nil {
			return errors.Trace(err)
		}
		if err := dut.Sleep(ctx, r.cfg.PollInterval); err != nil {
			return nil
		}
	}
}

func listCmd() error {
	e := steps.NewEnv(nil, nil, nil)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, s := range []*suite.Suite{e.JigSuite(), e.SlotSuite()} {
		fmt.Fprintf(w, "%s:\n", s.Name())
		for _, st := range s.Steps() {
			var attrs []string
			if st.BreakOnFail {
				attrs = append(attrs, "break")
			}
			if st.SkipIfPriorErrors {
				attrs = append(attrs, "skip-on-error")
			}
			if st.IncludeInSummary {
				attrs = append(attrs, "summary")
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\n", st.Name, st.Timeout, strings.Join(attrs, ","))
		}
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "DUT commands:\n")
	for _, c := range dut.Commands() {
		fmt.Fprintf(w, "  %d\t%s\n", uint32(c), c)
	}
	return errors.Trace(w.Flush())
}

func archiveLogsCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	files, err := filepath.Glob(filepath.Join(cfg.LogDir, "*.log"))
	if err != nil {
		return errors.Trace(err)
	}
	if len(files) == 0 {
		ourutil.Reportf("No logs in %s.", cfg.LogDir)
		return nil
	}
	sort.Strings(files)
	out := *flags.Output
	if out == "" {
		out = fmt.Sprintf("rigtest_logs_%s.zip", time.Now().Format(textlog.DateTimeFormat))
	}
	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Trace(err)
	}
	added, err := ourio.Archive(files, f, func(name string) bool {
		ourutil.Reportf("  %s", name)
		return true
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return errors.Trace(err)
	}
	ourutil.Reportf("%d logs archived to %s.", len(added), out)
	if *flags.Prune {
		if !*flags.Force {
			ans := ourutil.Prompt(fmt.Sprintf("Remove %d archived logs from %s? [y/N]", len(added), cfg.LogDir))
			if strings.ToLower(ans) != "y" {
				return nil
			}
		}
		return errors.Trace(ourio.RemoveFromDir(cfg.LogDir, added))
	}
	return nil
}

func initConfigCmd() error {
	path, _ := flags.ConfigPath()
	if _, err := os.Stat(path); err == nil && !*flags.Force {
		return errors.AlreadyExistsf("%s (use --force to overwrite)", path)
	}
	cfg := config.Default()
	flags.Apply(cfg)
	if _, err := cfg.Save(path); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Wrote %s", path)
	return nil
}

func versionCmd() error {
	fmt.Printf("%s\nVersion: %s\nBuild ID: %s\n", "The rig test tool", version.Version, version.BuildId)
	return nil
}
