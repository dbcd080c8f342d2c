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
package ourutil

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreportf(t *testing.T) {
	var b bytes.Buffer
	Freportf(&b, "Result of %s: %s", "Button Test", "PASS")
	assert.Equal(t, "Result of Button Test: PASS\n", b.String())
	// A nil writer only logs.
	Freportf(nil, "dropped")
}

func TestFindNamedSubmatches(t *testing.T) {
	re := regexp.MustCompile(`^(?P<version>[^+]+)\+(?P<hash>[0-9a-f]+)$`)
	assert.Equal(t, map[string]string{"version": "1.2", "hash": "abc123"}, FindNamedSubmatches(re, "1.2+abc123"))
	assert.Nil(t, FindNamedSubmatches(re, "1.2"))
}

func TestFirstN(t *testing.T) {
	assert.Equal(t, "JIG", FirstN("JIG Test Suite", 3))
	assert.Equal(t, "ab", FirstN("ab", 5))
}
