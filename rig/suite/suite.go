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

// Package suite runs an ordered list of test steps against a DUT session and
// keeps their results.
package suite

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/dut"
)

const (
	StatusPass = 0
	// An action panicked.
	StatusCrashed = -98
	// Recorded for steps skipped because an earlier step failed.
	StatusSkipped = -97
)

// Action performs one check. It returns 0 on success; any other value is a
// failure code. Actions report problems through the session console and
// never return errors.
type Action func(ctx context.Context, s *dut.Session, timeout time.Duration) int

type Step struct {
	Name    string
	Action  Action
	Timeout time.Duration
	// Abort the run if this step fails.
	BreakOnFail bool
	// Don't run this step if anything failed before it.
	SkipIfPriorErrors bool
	// Show this step in the report.
	IncludeInSummary bool
}

type State int

const (
	Idle State = iota
	Running
	Completed
	Aborted
)

func (st State) String() string {
	switch st {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	case Aborted:
		return "ABORTED"
	}
	return fmt.Sprintf("State(%d)", int(st))
}

type Result struct {
	Name     string
	Status   int
	Executed bool
	Skipped  bool
	Duration time.Duration
}

func (r Result) Failed() bool {
	return r.Executed && r.Status != StatusPass
}

func (r Result) Verdict() string {
	switch {
	case r.Skipped:
		return "SKIP"
	case !r.Executed:
		return "NOT RUN"
	case r.Status == StatusPass:
		return "PASS"
	case r.Status == dut.StatusTimeout:
		return "TIMEOUT"
	case r.Status == StatusCrashed:
		return "CRASHED"
	}
	return fmt.Sprintf("FAIL(%d)", r.Status)
}

// RunLog is state kept per run, such as the text log; it is cleared by Reset.
type RunLog interface {
	Reset()
}

type Option func(s *Suite)

// WithRunLog attaches a log that Reset clears. May be given more than once.
func WithRunLog(l RunLog) Option {
	return func(s *Suite) {
		s.runLogs = append(s.runLogs, l)
	}
}

// WithClock overrides the source of timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Suite) {
		s.now = now
	}
}

type Suite struct {
	name    string
	steps   []Step
	results []Result
	state   State
	started time.Time
	runLogs []RunLog
	now     func() time.Time
}

func New(name string, steps []Step, opts ...Option) *Suite {
	s := &Suite{
		name:  name,
		steps: append([]Step(nil), steps...),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.clearResults()
	s.started = s.now()
	return s
}

func (s *Suite) Name() string {
	return s.name
}

func (s *Suite) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

func (s *Suite) State() State {
	return s.state
}

func (s *Suite) Started() time.Time {
	return s.started
}

// DateTime returns the start of the current run in a form suitable for file names.
func (s *Suite) DateTime() string {
	return s.started.Format("20060102_150405")
}

func (s *Suite) Results() []Result {
	return append([]Result(nil), s.results...)
}

func (s *Suite) clearResults() {
	s.results = make([]Result, len(s.steps))
	for i, st := range s.steps {
		s.results[i] = Result{Name: st.Name}
	}
}

// Reset prepares the suite for a new run: results and the run log are
// cleared and the start time is taken.
func (s *Suite) Reset() error {
	if s.state == Running {
		return errors.Errorf("%s: cannot reset while running", s.name)
	}
	s.clearResults()
	for _, l := range s.runLogs {
		l.Reset()
	}
	s.started = s.now()
	s.state = Idle
	return nil
}

// Select returns a suite made of the named steps only, in suite order.
func (s *Suite) Select(names []string) (*Suite, error) {
	want := map[string]bool{}
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var steps []Step
	for _, st := range s.steps {
		key := strings.ToLower(st.Name)
		if want[key] {
			steps = append(steps, st)
			delete(want, key)
		}
	}
	if len(want) > 0 {
		var missing []string
		for n := range want {
			missing = append(missing, n)
		}
		return nil, errors.NotFoundf("steps %q in %s", missing, s.name)
	}
	ns := &Suite{name: s.name, steps: steps, runLogs: s.runLogs, now: s.now, started: s.now()}
	ns.clearResults()
	return ns, nil
}

// Run executes the steps in order. The returned error is non-nil only if
// the suite could not run or ctx was cancelled; step failures are recorded
// in the results.
func (s *Suite) Run(ctx context.Context, sess *dut.Session) error {
	if s.state == Running {
		return errors.Errorf("%s: already running", s.name)
	}
	s.clearResults()
	s.state = Running
	sess.Printf("=== %s ===", s.name)
	failed := false
	for i, st := range s.steps {
		if err := ctx.Err(); err != nil {
			s.state = Aborted
			return errors.Annotatef(err, "%s", s.name)
		}
		r := &s.results[i]
		if st.SkipIfPriorErrors && failed {
			r.Skipped = true
			r.Status = StatusSkipped
			sess.Printf("Skipping test: %s", st.Name)
			continue
		}
		sess.Printf("Running test: %s", st.Name)
		start := time.Now()
		r.Status = runStep(ctx, sess, &st)
		r.Executed = true
		r.Duration = time.Since(start)
		sess.Printf("Result of %s: %s", st.Name, r.Verdict())
		glog.V(1).Infof("%s: %s == %d (%s)", s.name, st.Name, r.Status, r.Duration)
		if r.Status != StatusPass {
			failed = true
			if st.BreakOnFail {
				sess.Printf("Aborting %s.", s.name)
				s.state = Aborted
				return nil
			}
		}
	}
	s.state = Completed
	return nil
}

func runStep(ctx context.Context, sess *dut.Session, st *Step) (status int) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("%s panicked: %v\n%s", st.Name, r, debug.Stack())
			sess.Printf("Test %s crashed: %v", st.Name, r)
			status = StatusCrashed
		}
	}()
	if st.Action == nil {
		panic("no action")
	}
	return st.Action(ctx, sess, st.Timeout)
}

// Passed is true if the run completed and every executed step passed,
// whether or not it is shown in the report.
func (s *Suite) Passed() bool {
	if s.state != Completed {
		return false
	}
	for _, r := range s.results {
		if r.Failed() {
			return false
		}
	}
	return true
}
