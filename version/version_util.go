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
	"fmt"
	"regexp"
	"runtime"
	"time"

	"github.com/u2ptest/rig/common/ourutil"
)

type VersionJson struct {
	BuildId        string    `json:"build_id"`
	BuildTimestamp time.Time `json:"build_timestamp"`
	BuildVersion   string    `json:"build_version"`
}

const (
	LatestVersionName = "latest"
)

var (
	regexpVersionNumber = regexp.MustCompile(`^\d+\.[0-9.]*$`)
	// e.g. 1.4+3e1f2a9~line3
	regexpBuildId = regexp.MustCompile(`^(?P<version>[^+]+)\+(?P<hash>[^~]+)(\~(?P<station>.+))?$`)
)

// GetVersion returns this binary's version, or "latest" if it's not a release build.
func GetVersion() string {
	if LooksLikeVersionNumber(Version) {
		return Version
	}
	return LatestVersionName
}

func LooksLikeVersionNumber(s string) bool {
	return regexpVersionNumber.MatchString(s)
}

// BuildIDParts splits a build id into version, hash and station.
// Returns nil if the id does not have that form.
func BuildIDParts(buildId string) map[string]string {
	return ourutil.FindNamedSubmatches(regexpBuildId, buildId)
}

// Info describes this binary.
func Info() VersionJson {
	v := VersionJson{BuildId: BuildId, BuildVersion: GetVersion()}
	if t, err := time.Parse(time.RFC3339, BuildTimestamp); err == nil {
		v.BuildTimestamp = t
	}
	return v
}

func String() string {
	id := BuildId
	if id == "" {
		id = "dev"
	}
	return fmt.Sprintf("rigtest/%s %s (%s; %s)", Version, id, runtime.GOOS, runtime.GOARCH)
}
