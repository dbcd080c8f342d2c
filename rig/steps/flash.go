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
package steps

import (
	"context"
	"time"

	"github.com/u2ptest/rig/rig/dut"
)

// FlashROMs programs every flash image, stopping at the first image that is
// missing or fails to program. The DUT is told to finalize only if all went
// well. Returns the number of errors, or StatusFault if the bus failed.
func (e *Env) FlashROMs(ctx context.Context, s *dut.Session, timeout time.Duration) int {
	if !needBus(s) {
		return StatusFault
	}
	errs := 0
	for _, img := range e.Images.Flash {
		if !img.Loaded() {
			s.Printf("No Valid data for '%s' => Cannot flash.", img.Name)
			errs++
			break
		}
		st, err := s.Flash(ctx, img)
		if err != nil {
			return fault(s, "Flash "+img.Name, err)
		}
		if st != 0 {
			s.Printf("Flashing failed.")
			errs++
			break
		}
	}
	if errs == 0 {
		if st := e.command(ctx, s, dut.CmdFinalize, timeout); st != 0 {
			s.Printf("Finalize after flashing returned %d.", st)
		}
	}
	return errs
}
