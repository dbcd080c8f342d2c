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
package image

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/u2ptest/rig/common/multierror"
)

func mediaDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "image")
	require.NoError(t, err)
	for _, usb := range []string{"usb1", "usb0"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, usb, "flash"), 0755))
	}
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "usb1", "flash", "rompack.bin"), []byte("usb1"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "usb0", "flash", "rompack.bin"), []byte("usb0!"), 0644))
	return dir
}

func TestLoadWildcard(t *testing.T) {
	dir := mediaDir(t)
	defer os.RemoveAll(dir)
	im := &Image{Name: "ROM Pack", Path: filepath.Join(dir, "usb?", "flash", "rompack.bin"), Addr: 0x80200000}
	assert.False(t, im.Loaded())

	var log bytes.Buffer
	require.NoError(t, im.Load(&log))
	// First match in sorted order wins.
	assert.Equal(t, []byte("usb0!"), im.Data)
	assert.Equal(t, 5, im.Size())
	assert.True(t, im.Loaded())
	assert.Contains(t, log.String(), "Successfully read")
	assert.Contains(t, log.String(), "Size =        5.")
}

func TestLoadMissing(t *testing.T) {
	dir := mediaDir(t)
	defer os.RemoveAll(dir)
	im := &Image{Name: "Runtime Application", Path: filepath.Join(dir, "usb?", "flash", "ultimate.app"), Data: []byte("stale")}
	var log bytes.Buffer
	err := im.Load(&log)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(errors.Cause(err)))
	assert.Nil(t, im.Data)
	assert.Contains(t, log.String(), "Warning: Could not open file")
}

func TestLoadAll(t *testing.T) {
	dir := mediaDir(t)
	defer os.RemoveAll(dir)
	good := &Image{Name: "ROM Pack", Path: filepath.Join(dir, "usb1", "flash", "rompack.bin")}
	bad1 := &Image{Name: "Recovery Application", Path: filepath.Join(dir, "nope", "recovery.app")}
	bad2 := &Image{Name: "DUT FPGA Image", Path: filepath.Join(dir, "[")}

	err := LoadAll(nil, bad1, good, bad2)
	require.Error(t, err)
	assert.Len(t, multierror.Errors(err), 2)
	assert.Contains(t, err.Error(), "Recovery Application")
	assert.True(t, good.Loaded())
	assert.False(t, bad1.Loaded())

	assert.NoError(t, LoadAll(nil, good))
}

func TestString(t *testing.T) {
	var im *Image
	assert.Equal(t, "<no image>", im.String())
	assert.False(t, im.Loaded())
	assert.Equal(t, "ROM Pack (/media/usb?/flash/rompack.bin)",
		(&Image{Name: "ROM Pack", Path: "/media/usb?/flash/rompack.bin"}).String())
}
