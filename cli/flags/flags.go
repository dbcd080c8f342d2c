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
package flags

import (
	"time"

	"github.com/juju/errors"
	"github.com/mattn/go-shellwords"
	flag "github.com/spf13/pflag"

	"github.com/u2ptest/rig/common/ourutil"
	"github.com/u2ptest/rig/rig/config"
)

var (
	Config   = flag.String("config", "", "Configuration file. Defaults to "+config.DefaultFileName+" next to the executable.")
	Port     = flag.String("port", "", "Serial port of the JTAG bridge. Overrides bridge.port from the config.")
	BaudRate = flag.Uint("baud-rate", 0, "Bridge serial port speed")
	HWFC     = flag.Bool("hw-flow-control", false, "Enable hardware flow control (CTS/RTS) on the bridge port")
	Timeout  = flag.Duration("timeout", 0, "Timeout of a single bridge request")

	ConsolePort = flag.String("console-port", "", "UART to mirror the run log to")
	LogDir      = flag.String("log-dir", "", "Where run logs are saved. Overrides log_dir from the config.")
	NoSaveLog   = flag.Bool("no-save-log", false, "Do not save the run log")
	OpenLog     = flag.Bool("open-log", false, "Open the saved run log when done")

	Sim  = flag.Bool("sim", false, "Run against the simulated rig instead of hardware")
	Only = flag.String("only", "", `Run only these steps, e.g. --only '"Check FPGA ID Code" "Configure the FPGA"'`)

	Broker  = flag.String("mqtt-broker", "", "Publish results to this MQTT broker, e.g. mqtt://line3.local")
	Station = flag.String("station", "", "Station name used in published results")

	Capture = flag.Bool("capture", true, "exec: capture the DUT output of the command")
	Output  = flag.StringP("output", "o", "", "archive-logs: zip file to write")
	Prune   = flag.Bool("prune", false, "archive-logs: remove logs once archived")
	Force   = flag.Bool("force", false, "init-config: overwrite an existing file; archive-logs: prune without asking")
	Verbose = flag.Bool("verbose", false, "Verbose output")
)

// OnlySteps returns the step names given with --only.
func OnlySteps() ([]string, error) {
	if *Only == "" {
		return nil, nil
	}
	names, err := shellwords.Parse(*Only)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid --only")
	}
	if len(names) == 0 {
		return nil, errors.Errorf("--only names no steps")
	}
	return names, nil
}

// ConfigPath returns the configuration file to use and whether it was
// explicitly requested.
func ConfigPath() (string, bool) {
	if *Config != "" {
		return *Config, true
	}
	return config.DefaultPath(), false
}

// Apply overrides cfg with the flags that were given.
func Apply(cfg *config.Config) {
	if *Port != "" {
		cfg.Bridge.Port = *Port
	}
	if *BaudRate != 0 {
		cfg.Bridge.BaudRate = *BaudRate
	}
	if *Timeout != 0 {
		cfg.Bridge.Timeout = *Timeout
	}
	if *ConsolePort != "" {
		cfg.Console.Port = *ConsolePort
	}
	if *LogDir != "" {
		cfg.LogDir = *LogDir
	}
	if *Broker != "" {
		cfg.MQTT.Broker = *Broker
	}
	if *Station != "" {
		cfg.MQTT.Station = *Station
	}
	if *Sim && cfg.Bridge.Port != "" {
		ourutil.Reportf("Warning: --sim given, ignoring bridge port %s", cfg.Bridge.Port)
	}
}

// PollTimeout is the default wait for commands run outside a suite.
const PollTimeout = 10 * time.Second
