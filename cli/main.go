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
	goflag "flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/u2ptest/rig/cli/flags"
	"github.com/u2ptest/rig/common/pflagenv"
	"github.com/u2ptest/rig/version"
)

const (
	envPrefix = "RIGTEST_"
)

var (
	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var (
	// put all commands here
	commands = []command{
		{"run", runCmd, `Run the jig or slot test suite: run jig|slot`, []string{}, []string{"port", "sim", "only", "config", "console-port", "log-dir", "open-log", "mqtt-broker", "station"}},
		{"flash", flashCmd, `Bring up the slot DUT and program its flash images`, []string{}, []string{"port", "sim", "config", "log-dir"}},
		{"exec", execCmd, `Execute one DUT command: exec <code|name> [jig|slot]`, []string{}, []string{"port", "sim", "capture"}},
		{"log", logCmd, `Follow the DUT log: log [jig|slot]`, []string{}, []string{"port", "sim"}},
		{"list", listCmd, `List suite steps and DUT commands`, []string{}, []string{}},
		{"archive-logs", archiveLogsCmd, `Zip the saved run logs`, []string{}, []string{"output", "prune", "log-dir"}},
		{"init-config", initConfigCmd, `Write the default configuration file`, []string{}, []string{"config", "force"}},
		{"version", versionCmd, `Print version`, []string{}, []string{}},
	}
)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func() error

func run() error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			// check required flags
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			// run the handler
			if err := c.handler(); err != nil {
				return errors.Trace(err)
			}
			return nil
		}
	}
	// not found
	usage()
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	fromEnv, err := pflagenv.Parse(envPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer glog.Flush()
	if *flags.Verbose {
		goflag.Set("logtostderr", "true")
		goflag.Set("v", "1")
	}
	glog.Infof("%s, flags from environment: %v", version.String(), fromEnv)

	if *helpFull {
		unhideFlags()
		usage()
		return
	} else if *versionFlag {
		versionCmd()
		return
	}

	if err := run(); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		glog.Flush()
		os.Exit(1)
	}
}
