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
package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeVersionNumber(t *testing.T) {
	assert.True(t, LooksLikeVersionNumber("1.4"))
	assert.True(t, LooksLikeVersionNumber("2.0.1"))
	assert.False(t, LooksLikeVersionNumber("latest"))
	assert.False(t, LooksLikeVersionNumber("1.4-rc1"))
}

func TestBuildIDParts(t *testing.T) {
	assert.Equal(t, map[string]string{"version": "1.4", "hash": "3e1f2a9", "station": "line3"},
		BuildIDParts("1.4+3e1f2a9~line3"))
	assert.Equal(t, "", BuildIDParts("1.4+3e1f2a9")["station"])
	assert.Nil(t, BuildIDParts("20190601-120000"))
}

func TestInfo(t *testing.T) {
	defer func(v, id, ts string) { Version, BuildId, BuildTimestamp = v, id, ts }(Version, BuildId, BuildTimestamp)
	Version, BuildId, BuildTimestamp = "1.4", "1.4+3e1f2a9", "2019-06-01T12:00:00Z"
	info := Info()
	assert.Equal(t, "1.4", info.BuildVersion)
	assert.Equal(t, time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC), info.BuildTimestamp)
	assert.Contains(t, String(), "rigtest/1.4 1.4+3e1f2a9")

	Version = "dev-build"
	assert.Equal(t, LatestVersionName, Info().BuildVersion)
}
