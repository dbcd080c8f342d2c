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

// Package image holds the binaries the rig pushes into a DUT: the DUT FPGA
// bitstream, the DUT test application and the images programmed into flash.
package image

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/common/multierror"
	"github.com/u2ptest/rig/common/ourutil"
)

// ErrNotLoaded is returned when an image is used whose data never made it off the media.
var ErrNotLoaded = errors.New("image not loaded")

type Image struct {
	// Human readable name, e.g. "Recovery FPGA Image".
	Name string `yaml:"name"`
	// File to load. May contain glob wildcards, e.g. /media/usb?/flash/ultimate.app;
	// the first match wins.
	Path string `yaml:"path"`
	// Flash address for images that are programmed into flash.
	Addr uint32 `yaml:"addr"`

	// nil until loaded.
	Data []byte `yaml:"-"`
}

func (im *Image) Size() int {
	return len(im.Data)
}

func (im *Image) Loaded() bool {
	return im != nil && im.Data != nil
}

func (im *Image) String() string {
	if im == nil {
		return "<no image>"
	}
	return fmt.Sprintf("%s (%s)", im.Name, im.Path)
}

// ResolvePath expands wildcards in the image path.
func (im *Image) ResolvePath() (string, error) {
	matches, err := filepath.Glob(im.Path)
	if err != nil {
		return "", errors.Annotatef(err, "bad path %q", im.Path)
	}
	if len(matches) == 0 {
		return "", errors.NotFoundf("%s", im.Path)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// Load reads the image data. On failure Data stays nil.
func (im *Image) Load(logw io.Writer) error {
	im.Data = nil
	fname, err := im.ResolvePath()
	if err != nil {
		ourutil.Freportf(logw, "Warning: Could not open file '%s'! %s", im.Path, err)
		return errors.Trace(err)
	}
	f, err := os.Open(fname)
	if err != nil {
		ourutil.Freportf(logw, "Warning: Could not open file '%s'! %s", fname, err)
		return errors.Trace(err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return errors.Annotatef(err, "%s", fname)
	}
	data, err := ioutil.ReadAll(f)
	if err != nil {
		return errors.Annotatef(err, "failed to read %s", fname)
	}
	if int64(len(data)) != st.Size() {
		ourutil.Freportf(logw, "Expected to read %d bytes, but got %d bytes.", st.Size(), len(data))
		return errors.Errorf("%s: short read (%d of %d)", fname, len(data), st.Size())
	}
	im.Data = data
	ourutil.Freportf(logw, "Successfully read %-35s. Size = %8d.", fname, len(data))
	glog.V(1).Infof("%s loaded from %s", im.Name, fname)
	return nil
}

// LoadAll loads every image, carrying on past failures. The returned error
// lists everything that failed; images that did load are usable regardless.
func LoadAll(logw io.Writer, images ...*Image) error {
	var errs error
	for _, im := range images {
		if err := im.Load(logw); err != nil {
			errs = multierror.Append(errs, errors.Annotatef(err, "%s", im.Name))
		}
	}
	return errs
}
