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
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/u2ptest/rig/rig/dut"
)

type recorder struct {
	ran []string
}

func (rec *recorder) step(name string, result int) Step {
	return Step{
		Name: name,
		Action: func(ctx context.Context, s *dut.Session, timeout time.Duration) int {
			rec.ran = append(rec.ran, name)
			return result
		},
		IncludeInSummary: true,
	}
}

func newSession() (*dut.Session, *bytes.Buffer) {
	var console bytes.Buffer
	return dut.NewSession("test", &dut.Opts{Console: &console}), &console
}

func assertText(t *testing.T, want, got string) {
	t.Helper()
	if want != got {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(want, got, false)
		t.Errorf("text mismatch (-want +got):\n%s", dmp.DiffPrettyText(diffs))
	}
}

func TestBreakOnFail(t *testing.T) {
	rec := &recorder{}
	b := rec.step("B", -1)
	b.BreakOnFail = true
	s := New("suite", []Step{rec.step("A", 0), b, rec.step("C", 0)})
	sess, _ := newSession()
	require.NoError(t, s.Run(context.Background(), sess))

	assert.Equal(t, []string{"A", "B"}, rec.ran)
	assert.Equal(t, Aborted, s.State())
	assert.False(t, s.Passed())
	assert.Equal(t, "A=PASS, B=FAIL(-1), C=NOT RUN", s.Summary())
}

func TestSkipIfPriorErrors(t *testing.T) {
	rec := &recorder{}
	b := rec.step("B", 0)
	b.SkipIfPriorErrors = true
	s := New("suite", []Step{rec.step("A", 3), b, rec.step("C", 0)})
	sess, console := newSession()
	require.NoError(t, s.Run(context.Background(), sess))

	assert.Equal(t, []string{"A", "C"}, rec.ran)
	assert.Equal(t, Completed, s.State())
	assert.False(t, s.Passed())
	res := s.Results()
	assert.True(t, res[1].Skipped)
	assert.False(t, res[1].Executed)
	assert.Equal(t, StatusSkipped, res[1].Status)
	assert.Equal(t, "A=FAIL(3), B=SKIP, C=PASS", s.Summary())
	assert.Contains(t, console.String(), "Skipping test: B")
}

func TestSkipNeedsPriorFailure(t *testing.T) {
	rec := &recorder{}
	b := rec.step("B", 0)
	b.SkipIfPriorErrors = true
	s := New("suite", []Step{rec.step("A", 0), b})
	sess, _ := newSession()
	require.NoError(t, s.Run(context.Background(), sess))
	assert.Equal(t, []string{"A", "B"}, rec.ran)
	assert.True(t, s.Passed())
}

func TestHiddenStepsStillCount(t *testing.T) {
	rec := &recorder{}
	hidden := rec.step("power", -2)
	hidden.IncludeInSummary = false
	later := rec.step("B", 0)
	later.SkipIfPriorErrors = true
	s := New("suite", []Step{hidden, rec.step("A", 0), later})
	sess, _ := newSession()
	require.NoError(t, s.Run(context.Background(), sess))
	assert.False(t, s.Passed())
	assert.Equal(t, "A=PASS, B=SKIP", s.Summary())

	hidden.BreakOnFail = true
	s = New("suite", []Step{hidden, rec.step("A", 0)})
	require.NoError(t, s.Run(context.Background(), sess))
	assert.Equal(t, Aborted, s.State())
	assert.Equal(t, "A=NOT RUN", s.Summary())
}

func TestEndToEnd(t *testing.T) {
	color.NoColor = true
	rec := &recorder{}
	power := rec.step("power", 0)
	power.IncludeInSummary = false
	started := time.Date(2019, 6, 1, 14, 3, 9, 0, time.UTC)
	s := New("Slot Test Suite", []Step{power, rec.step("id", 0), rec.step("clock", -4), rec.step("led", 0)},
		WithClock(func() time.Time { return started }))
	sess, _ := newSession()
	require.NoError(t, s.Run(context.Background(), sess))

	assert.Equal(t, "id=PASS, clock=FAIL(-4), led=PASS", s.Summary())
	assert.False(t, s.Passed())
	assert.Equal(t, Completed, s.State())
	assert.Equal(t, "FAILED", s.Verdict())
	assert.Equal(t, "20190601_140309", s.DateTime())

	var report bytes.Buffer
	s.Report(&report)
	assertText(t, `
=== Slot Test Suite, started 2019-06-01 14:03:09 ===
id    : PASS
clock : FAIL(-4)
led   : PASS
Slot Test Suite: FAILED
`, report.String())
}

func TestPlainReport(t *testing.T) {
	defer func(nc bool) { color.NoColor = nc }(color.NoColor)
	color.NoColor = false
	rec := &recorder{}
	s := New("Jig Test Suite", []Step{rec.step("id", 0), rec.step("clock", -4)})
	sess, _ := newSession()
	require.NoError(t, s.Run(context.Background(), sess))

	var colored, plain bytes.Buffer
	s.Report(&colored)
	s.PlainReport(&plain)
	assert.Contains(t, colored.String(), "\x1b[")
	assert.NotContains(t, plain.String(), "\x1b[")
	assert.Contains(t, plain.String(), "clock : FAIL(-4)\nJig Test Suite: FAILED\n")
}

func TestVerdicts(t *testing.T) {
	rec := &recorder{}
	s := New("suite", []Step{rec.step("slow", dut.StatusTimeout), rec.step("ok", 0)})
	assert.Equal(t, "NOT RUN", s.Verdict())
	assert.False(t, s.Passed())
	sess, _ := newSession()
	require.NoError(t, s.Run(context.Background(), sess))
	assert.Equal(t, "slow=TIMEOUT, ok=PASS", s.Summary())
	assert.Equal(t, "FAILED", s.Verdict())
}

func TestAllPass(t *testing.T) {
	rec := &recorder{}
	s := New("suite", []Step{rec.step("A", 0), rec.step("B", 0)})
	sess, _ := newSession()
	require.NoError(t, s.Run(context.Background(), sess))
	assert.True(t, s.Passed())
	assert.Equal(t, "PASSED", s.Verdict())
}

func TestPanicIsContained(t *testing.T) {
	rec := &recorder{}
	boom := Step{
		Name: "boom",
		Action: func(ctx context.Context, s *dut.Session, timeout time.Duration) int {
			var m map[string]int
			m["x"] = 1
			return 0
		},
		IncludeInSummary: true,
	}
	s := New("suite", []Step{boom, rec.step("after", 0), {Name: "no action", IncludeInSummary: true}})
	sess, console := newSession()
	require.NoError(t, s.Run(context.Background(), sess))
	assert.Equal(t, []string{"after"}, rec.ran)
	assert.Equal(t, "boom=CRASHED, after=PASS, no action=CRASHED", s.Summary())
	assert.Contains(t, console.String(), "Test boom crashed")
}

func TestTimeoutIsPassed(t *testing.T) {
	var got time.Duration
	s := New("suite", []Step{{
		Name: "t",
		Action: func(ctx context.Context, s *dut.Session, timeout time.Duration) int {
			got = timeout
			return 0
		},
		Timeout: dut.Ticks(150),
	}})
	sess, _ := newSession()
	require.NoError(t, s.Run(context.Background(), sess))
	assert.Equal(t, 750*time.Millisecond, got)
}

type fakeLog struct {
	resets int
}

func (fl *fakeLog) Reset() { fl.resets++ }

func TestReset(t *testing.T) {
	now := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	fl := &fakeLog{}
	rec := &recorder{}
	var s *Suite
	var resetErr error
	s = New("suite", []Step{rec.step("A", 1), {
		Name: "reset inside",
		Action: func(ctx context.Context, sess *dut.Session, timeout time.Duration) int {
			resetErr = s.Reset()
			return 0
		},
	}}, WithRunLog(fl), WithClock(func() time.Time { return now }))
	sess, _ := newSession()
	require.NoError(t, s.Run(context.Background(), sess))
	assert.Error(t, resetErr)
	assert.Equal(t, 0, fl.resets)

	now = now.Add(time.Hour)
	require.NoError(t, s.Reset())
	assert.Equal(t, 1, fl.resets)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, now, s.Started())
	assert.Equal(t, "A=NOT RUN", s.Summary())
}

func TestSelect(t *testing.T) {
	rec := &recorder{}
	s := New("suite", []Step{rec.step("Power", 0), rec.step("Button Test", 0), rec.step("RTC", 0)})
	sub, err := s.Select([]string{"rtc", " button test"})
	require.NoError(t, err)
	sess, _ := newSession()
	require.NoError(t, sub.Run(context.Background(), sess))
	assert.Equal(t, []string{"Button Test", "RTC"}, rec.ran)

	_, err = s.Select([]string{"bogus"})
	assert.Error(t, err)
}

func TestCancelled(t *testing.T) {
	rec := &recorder{}
	s := New("suite", []Step{rec.step("A", 0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess, _ := newSession()
	assert.Error(t, s.Run(ctx, sess))
	assert.Empty(t, rec.ran)
	assert.Equal(t, Aborted, s.State())
}
