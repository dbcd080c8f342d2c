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

// Package config holds the rig settings that are not worth a flag: the DUT
// register map, image locations, timing and where results go.
package config

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/kardianos/osext"
	yaml "gopkg.in/yaml.v2"

	"github.com/u2ptest/rig/common/ourio"
	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/image"
	"github.com/u2ptest/rig/rig/textlog"
)

const DefaultFileName = "rigtest.yaml"

// Removable media the images are read from. The ? matches any drive.
const MediaRoot = "/media/usb?"

type Bridge struct {
	Port     string        `yaml:"port,omitempty"`
	BaudRate uint          `yaml:"baud_rate,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

type Console struct {
	// UART the run log is mirrored to. Empty means none.
	Port     string `yaml:"port,omitempty"`
	BaudRate uint   `yaml:"baud_rate,omitempty"`
}

type MQTT struct {
	// Empty broker disables publishing.
	Broker   string `yaml:"broker,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`
	Topic    string `yaml:"topic,omitempty"`
	Station  string `yaml:"station,omitempty"`
}

type Images struct {
	DUTFPGA image.Image   `yaml:"dut_fpga"`
	DUTApp  image.Image   `yaml:"dut_app"`
	Flash   []image.Image `yaml:"flash"`
}

type Config struct {
	Registers    dut.RegisterMap `yaml:"registers"`
	StagingAddr  uint32          `yaml:"staging_addr"`
	PollInterval time.Duration   `yaml:"poll_interval"`
	SettleDelay  time.Duration   `yaml:"settle_delay"`
	FlashTimeout time.Duration   `yaml:"flash_timeout"`

	LogDir   string `yaml:"log_dir"`
	LogLimit int    `yaml:"log_limit"`

	Bridge  Bridge  `yaml:"bridge"`
	Console Console `yaml:"console"`
	MQTT    MQTT    `yaml:"mqtt"`
	Images  Images  `yaml:"images"`
}

func media(rel string) string {
	return filepath.Join(MediaRoot, rel)
}

// Default returns the settings of the production rig.
func Default() *Config {
	return &Config{
		Registers:    dut.DefaultRegisterMap,
		StagingAddr:  dut.DefaultStagingAddr,
		PollInterval: dut.Tick,
		SettleDelay:  dut.DefaultSettleDelay,
		FlashTimeout: dut.DefaultFlashTimeout,
		LogDir:       media("logs"),
		LogLimit:     textlog.DefaultLimit,
		Bridge: Bridge{
			BaudRate: 115200,
			Timeout:  time.Second,
		},
		Console: Console{BaudRate: 115200},
		MQTT: MQTT{
			ClientID: "rigtest",
			Topic:    "rigtest/results",
		},
		Images: Images{
			DUTFPGA: image.Image{Name: "DUT FPGA Image", Path: media("tester/dut.b")},
			DUTApp:  image.Image{Name: "DUT Application Image", Path: media("tester/dut.app")},
			Flash: []image.Image{
				{Name: "Recovery FPGA Image", Path: media("flash/ultimate_recovery.swp"), Addr: 0x00000000},
				{Name: "Recovery Application", Path: media("flash/recovery.app"), Addr: 0x00080000},
				{Name: "Runtime FPGA Image", Path: media("flash/ultimate_run.swp"), Addr: 0x80000000},
				{Name: "Runtime Application", Path: media("flash/ultimate.app"), Addr: 0x800C0000},
				{Name: "ROM Pack", Path: media("flash/rompack.bin"), Addr: 0x80200000},
			},
		},
	}
}

// DefaultPath is rigtest.yaml next to the executable.
func DefaultPath() string {
	dir, err := osext.ExecutableFolder()
	if err != nil {
		glog.Warningf("cannot locate executable: %s", err)
		return DefaultFileName
	}
	return filepath.Join(dir, DefaultFileName)
}

// Load reads the file at path over the defaults. A missing file is not an
// error unless mustExist is set.
func Load(path string, mustExist bool) (*Config, error) {
	c := Default()
	data, err := ioutil.ReadFile(path)
	switch {
	case err == nil:
	case os.IsNotExist(err) && !mustExist:
		glog.V(1).Infof("%s not found, using defaults", path)
		return c, nil
	default:
		return nil, errors.Annotatef(err, "failed to read config")
	}
	if err := Parse(data, c); err != nil {
		return nil, errors.Annotatef(err, "%s", path)
	}
	glog.V(1).Infof("config loaded from %s", path)
	return c, nil
}

// Parse overlays YAML data onto c and validates the result.
// Unknown keys are errors.
func Parse(data []byte, c *Config) error {
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.Validate())
}

func (c *Config) Validate() error {
	if err := c.Registers.Validate(); err != nil {
		return errors.Annotatef(err, "registers")
	}
	if c.StagingAddr%4 != 0 {
		return errors.NotValidf("staging_addr 0x%x (must be word aligned)", c.StagingAddr)
	}
	if c.PollInterval <= 0 {
		return errors.NotValidf("poll_interval %s", c.PollInterval)
	}
	if c.SettleDelay < 0 || c.FlashTimeout <= 0 {
		return errors.NotValidf("settle_delay %s / flash_timeout %s", c.SettleDelay, c.FlashTimeout)
	}
	if c.LogLimit <= 0 {
		return errors.NotValidf("log_limit %d", c.LogLimit)
	}
	seen := map[uint32]string{}
	for _, im := range c.Images.Flash {
		if im.Path == "" {
			return errors.NotValidf("flash image %q without path", im.Name)
		}
		if other, ok := seen[im.Addr]; ok {
			return errors.NotValidf("flash images %q and %q both at 0x%08x", other, im.Name, im.Addr)
		}
		seen[im.Addr] = im.Name
	}
	return nil
}

// Save writes c to path, unless the file already has the same contents.
func (c *Config) Save(path string) (bool, error) {
	return ourio.WriteYAMLFileIfDifferent(path, c, 0644)
}

// SessionOpts returns the session settings for a DUT console.
func (c *Config) SessionOpts(console io.Writer) *dut.Opts {
	return &dut.Opts{
		Regs:         c.Registers,
		Console:      console,
		PollInterval: c.PollInterval,
		SettleDelay:  c.SettleDelay,
		StagingAddr:  c.StagingAddr,
		FlashTimeout: c.FlashTimeout,
	}
}

// LoadImages returns fresh copies of the configured images. Images that
// failed to load have no data; the error lists them.
func (c *Config) LoadImages(logw io.Writer) (fpga, app *image.Image, flash []*image.Image, err error) {
	fpga, app = copyImage(c.Images.DUTFPGA), copyImage(c.Images.DUTApp)
	for _, im := range c.Images.Flash {
		flash = append(flash, copyImage(im))
	}
	all := append([]*image.Image{fpga, app}, flash...)
	return fpga, app, flash, image.LoadAll(logw, all...)
}

func copyImage(im image.Image) *image.Image {
	im.Data = nil
	return &im
}
