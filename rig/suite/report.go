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
package suite

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	skipColor = color.New(color.FgYellow)
)

func colorFor(r Result) *color.Color {
	switch {
	case r.Skipped || !r.Executed:
		return skipColor
	case r.Status == StatusPass:
		return passColor
	}
	return failColor
}

// Verdict is the one-word outcome of the run.
func (s *Suite) Verdict() string {
	switch {
	case s.Passed():
		return "PASSED"
	case s.state == Aborted:
		return "ABORTED"
	case s.state == Idle:
		return "NOT RUN"
	}
	return "FAILED"
}

// Report prints the results of the steps included in the summary, followed
// by the verdict. Verdicts are colored when color output is enabled.
func (s *Suite) Report(w io.Writer) {
	s.report(w, func(c *color.Color, text string) {
		c.Fprintf(w, "%s", text)
	})
}

// PlainReport is Report without any color codes, for files.
func (s *Suite) PlainReport(w io.Writer) {
	s.report(w, func(c *color.Color, text string) {
		fmt.Fprint(w, text)
	})
}

func (s *Suite) report(w io.Writer, paint func(c *color.Color, text string)) {
	width := 0
	for _, st := range s.steps {
		if st.IncludeInSummary && len(st.Name) > width {
			width = len(st.Name)
		}
	}
	fmt.Fprintf(w, "\n=== %s, started %s ===\n", s.name, s.started.Format("2006-01-02 15:04:05"))
	for i, st := range s.steps {
		if !st.IncludeInSummary {
			continue
		}
		r := s.results[i]
		fmt.Fprintf(w, "%-*s : ", width, st.Name)
		paint(colorFor(r), r.Verdict())
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "%s: ", s.name)
	if s.Passed() {
		paint(passColor, s.Verdict())
	} else {
		paint(failColor, s.Verdict())
	}
	fmt.Fprintf(w, "\n")
}

// Summary returns the report as one line, e.g. "id=PASS, clock=FAIL(-4)".
func (s *Suite) Summary() string {
	var parts []string
	for i, st := range s.steps {
		if st.IncludeInSummary {
			parts = append(parts, fmt.Sprintf("%s=%s", st.Name, s.results[i].Verdict()))
		}
	}
	return strings.Join(parts, ", ")
}
