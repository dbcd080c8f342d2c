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
package textlog

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTee(t *testing.T) {
	var a, b bytes.Buffer
	l := New(0, &a, nil)
	l.AddTee(&b)
	l.Printf("Check FPGA ID Code: %s\n", "PASS")
	assert.Equal(t, "Check FPGA ID Code: PASS\n", a.String())
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, a.String(), l.String())

	l.Reset()
	assert.Equal(t, 0, l.Len())
	l.Printf("x")
	assert.Equal(t, "x", l.String())
	assert.Equal(t, "Check FPGA ID Code: PASS\nx", a.String())
}

func TestConsoleAndRecord(t *testing.T) {
	var term bytes.Buffer
	l := New(0, &term)
	fmt.Fprint(l.Console(), "\x1b[32mPASS\x1b[0m\n")
	fmt.Fprint(l.Record(), "PASS\n")
	assert.Equal(t, "\x1b[32mPASS\x1b[0m\n", term.String())
	assert.Equal(t, "PASS\n", l.String())
}

func TestLimit(t *testing.T) {
	var term bytes.Buffer
	l := New(10, &term)
	l.Write([]byte("0123456"))
	n, err := l.Write([]byte("789abc"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	l.Write([]byte("more"))
	assert.True(t, l.Truncated())
	assert.Equal(t, "0123456789"+truncatedMarker, l.String())
	// The terminal still sees everything.
	assert.Equal(t, "0123456789abcmore", term.String())

	l.Reset()
	assert.False(t, l.Truncated())
	l.Write([]byte(strings.Repeat("z", 10)))
	assert.False(t, l.Truncated())
}

func TestPersist(t *testing.T) {
	dir, err := ioutil.TempDir("", "textlog")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	started := time.Date(2019, 6, 1, 14, 3, 9, 0, time.Local)
	l := New(0)
	l.Printf("All tests passed.\n")
	fname, err := l.Persist(filepath.Join(dir, "logs"), "slot", started)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs", "slot_20190601_140309.log"), fname)
	data, err := ioutil.ReadFile(fname)
	require.NoError(t, err)
	assert.Equal(t, "All tests passed.\n", string(data))

	// Same timestamp again: refuse to clobber.
	_, err = l.Persist(filepath.Join(dir, "logs"), "slot", started)
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(errors.Cause(err)))
}
