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
package ourio

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// RemoveFromDir removes the named entries from dir. Entries that are
// already gone are not an error.
func RemoveFromDir(dir string, names []string) error {
	for _, name := range names {
		if filepath.Base(name) != name {
			return errors.NotValidf("entry name %q", name)
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
