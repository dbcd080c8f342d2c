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

// Package pflagenv lets environment variables stand in for flags that were
// not given on the command line, e.g. RIGTEST_PORT for --port.
package pflagenv

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/pflag"

	"github.com/u2ptest/rig/common/multierror"
)

// ParseFlagSet iterates through all non-set flags in the given FlagSet,
// checks if there is an environment variable with the uppercased flag name
// prepended with the given envPrefix, and if so, sets flag value to the
// environment variable value. It returns the names of the flags that were
// set this way, sorted, and an error listing values that did not parse.
//
// It should be called after Parse is called for the given FlagSet.
func ParseFlagSet(fs *pflag.FlagSet, envPrefix string) ([]string, error) {
	// pflag cannot tell a flag set to its default value from one that was
	// not set at all, so collect everything and remove what was visited.
	nonset := make(map[string]*pflag.Flag)
	fs.VisitAll(func(f *pflag.Flag) {
		nonset[f.Name] = f
	})
	fs.Visit(func(f *pflag.Flag) {
		delete(nonset, f.Name)
	})
	return setFromEnv(nonset, envPrefix)
}

// The same as ParseFlagSet, but operates on a default FlagSet: pflag.CommandLine
func Parse(envPrefix string) ([]string, error) {
	return ParseFlagSet(pflag.CommandLine, envPrefix)
}

func setFromEnv(nonset map[string]*pflag.Flag, envPrefix string) ([]string, error) {
	var set []string
	var errs error
	for name, f := range nonset {
		envName := EnvName(name, envPrefix)
		v := os.Getenv(envName)
		if v == "" {
			continue
		}
		// Some values are clobbered by a failed Set.
		old := f.Value.String()
		if err := f.Value.Set(v); err != nil {
			f.Value.Set(old)
			errs = multierror.Append(errs, errors.Annotatef(err, "%s=%q", envName, v))
			continue
		}
		f.Changed = true
		set = append(set, name)
	}
	sort.Strings(set)
	return set, errs
}

// EnvName returns the variable consulted for a flag.
func EnvName(flagName, envPrefix string) string {
	flagName = strings.ToUpper(flagName)
	flagName = strings.Replace(flagName, "-", "_", -1)
	return fmt.Sprint(envPrefix, flagName)
}
