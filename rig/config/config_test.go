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
package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/u2ptest/rig/rig/dut"
)

func TestDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, dut.DefaultRegisterMap, c.Registers)
	require.Len(t, c.Images.Flash, 5)
	assert.Equal(t, "/media/usb?/flash/ultimate_run.swp", c.Images.Flash[2].Path)
	assert.Equal(t, uint32(0x800C0000), c.Images.Flash[3].Addr)
	assert.Equal(t, "/media/usb?/tester/dut.app", c.Images.DUTApp.Path)
	assert.Equal(t, DefaultFileName, filepath.Base(DefaultPath()))
}

func TestParseOverlay(t *testing.T) {
	c := Default()
	err := Parse([]byte(`
registers:
  application_run: 0x20000880
staging_addr: 0x00b00000
poll_interval: 10ms
log_dir: /var/log/rig
mqtt:
  broker: tcp://line3:1883
  station: line3-slot
images:
  flash:
  - name: ROM Pack
    path: /srv/rompack.bin
    addr: 0x80200000
`), c)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x20000880), c.Registers.ApplicationRun)
	// Untouched registers keep their defaults.
	assert.Equal(t, dut.DefaultRegisterMap.TimeLoc, c.Registers.TimeLoc)
	assert.Equal(t, uint32(0x00b00000), c.StagingAddr)
	assert.Equal(t, 10*time.Millisecond, c.PollInterval)
	assert.Equal(t, "/var/log/rig", c.LogDir)
	assert.Equal(t, "tcp://line3:1883", c.MQTT.Broker)
	assert.Equal(t, "rigtest/results", c.MQTT.Topic)
	require.Len(t, c.Images.Flash, 1)
	assert.Equal(t, "ROM Pack", c.Images.Flash[0].Name)
}

func TestParseErrors(t *testing.T) {
	for _, doc := range []string{
		"pol_interval: 5ms\n",
		"staging_addr: 0x00a00002\n",
		"poll_interval: 0s\n",
		"registers:\n  log_ring: 0x20000786\n",
		"images:\n  flash:\n  - {name: a, path: /a, addr: 0}\n  - {name: b, path: /b, addr: 0}\n",
		"images:\n  flash:\n  - {name: a, addr: 16}\n",
	} {
		assert.Error(t, Parse([]byte(doc), Default()), doc)
	}
}

func TestLoadAndSave(t *testing.T) {
	dir, err := ioutil.TempDir("", "config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	fn := filepath.Join(dir, DefaultFileName)

	c, err := Load(fn, false)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	_, err = Load(fn, true)
	assert.Error(t, err)

	c.LogDir = dir
	c.PollInterval = 2 * time.Millisecond
	changed, err := c.Save(fn)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = c.Save(fn)
	require.NoError(t, err)
	assert.False(t, changed)

	c2, err := Load(fn, true)
	require.NoError(t, err)
	assert.Equal(t, c, c2)
}

func TestLoadImages(t *testing.T) {
	dir, err := ioutil.TempDir("", "config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "dut.b"), []byte("bitstream"), 0644))

	c := Default()
	c.Images.DUTFPGA.Path = filepath.Join(dir, "dut.b")
	c.Images.DUTApp.Path = filepath.Join(dir, "dut.app")
	c.Images.Flash = c.Images.Flash[:1]
	c.Images.Flash[0].Path = filepath.Join(dir, "usb?", "recovery.swp")

	var log bytes.Buffer
	fpga, app, flash, err := c.LoadImages(&log)
	require.Error(t, err)
	assert.Equal(t, []byte("bitstream"), fpga.Data)
	assert.False(t, app.Loaded())
	require.Len(t, flash, 1)
	assert.False(t, flash[0].Loaded())
	assert.Contains(t, log.String(), "Warning: Could not open file")
	// The configuration itself is not modified.
	assert.Nil(t, c.Images.DUTFPGA.Data)
}
