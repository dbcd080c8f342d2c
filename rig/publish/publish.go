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

// Package publish sends run results to the production line dashboard.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/u2ptest/rig/rig/dut"
	"github.com/u2ptest/rig/rig/suite"
)

type StepResult struct {
	Name       string `json:"name"`
	Verdict    string `json:"verdict"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// Report is the published form of one suite run.
type Report struct {
	Station string       `json:"station,omitempty"`
	Suite   string       `json:"suite"`
	Started time.Time    `json:"started"`
	Verdict string       `json:"verdict"`
	Passed  bool         `json:"passed"`
	Summary string       `json:"summary"`
	Steps   []StepResult `json:"steps"`
	// DUT output captured per command, keyed by command name.
	Output  map[string]string `json:"output,omitempty"`
	LogFile string            `json:"log_file,omitempty"`
}

// NewReport collects the results of s. Steps that were never reached are
// left out.
func NewReport(station string, s *suite.Suite, captured map[dut.Command]string, logFile string) *Report {
	r := &Report{
		Station: station,
		Suite:   s.Name(),
		Started: s.Started(),
		Verdict: s.Verdict(),
		Passed:  s.Passed(),
		Summary: s.Summary(),
		LogFile: logFile,
	}
	for _, res := range s.Results() {
		if !res.Executed && !res.Skipped {
			continue
		}
		r.Steps = append(r.Steps, StepResult{
			Name:       res.Name,
			Verdict:    res.Verdict(),
			Status:     res.Status,
			DurationMS: int64(res.Duration / time.Millisecond),
		})
	}
	if len(captured) > 0 {
		r.Output = map[string]string{}
		for cmd, out := range captured {
			r.Output[cmd.String()] = out
		}
	}
	return r
}

// Topic returns where a report is published under base, e.g.
// rigtest/results/line3-slot/slot_test_suite.
func (r *Report) Topic(base string) string {
	parts := []string{strings.TrimSuffix(base, "/")}
	if r.Station != "" {
		parts = append(parts, r.Station)
	}
	parts = append(parts, strings.ToLower(strings.Replace(r.Suite, " ", "_", -1)))
	return strings.Join(parts, "/")
}

// OutputCommands returns the names of the commands with captured output, sorted.
func (r *Report) OutputCommands() []string {
	var res []string
	for k := range r.Output {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

type Publisher interface {
	Publish(ctx context.Context, r *Report) error
	Close()
}

// sendFunc delivers one message.
type sendFunc func(ctx context.Context, topic string, payload []byte) error

type mqttPublisher struct {
	topic string
	send  sendFunc
	close func()
}

func (p *mqttPublisher) Publish(ctx context.Context, r *Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Trace(err)
	}
	topic := r.Topic(p.topic)
	glog.V(1).Infof("Publishing %s to [%s] (%d bytes)", r.Verdict, topic, len(payload))
	return errors.Annotatef(p.send(ctx, topic, payload), "publish to %s", topic)
}

func (p *mqttPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}

type Opts struct {
	// mqtt://[user:pass@]host[:port] or mqtts://...
	Broker   string
	ClientID string
	Topic    string
}

// ClientOptsFromURL builds paho client options from a broker URL.
func ClientOptsFromURL(us, clientID string) (*mqtt.ClientOptions, error) {
	u, err := url.Parse(us)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if u.Host == "" {
		return nil, errors.NotValidf("broker URL %q", us)
	}
	if clientID == "" {
		clientID = fmt.Sprintf("rigtest-%d", rand.Int31())
	}
	u.Path = ""
	switch u.Scheme {
	case "mqtts", "ssl", "tcps":
		u.Scheme = "ssl"
		if u.Port() == "" {
			u.Host = fmt.Sprintf("%s:%d", u.Host, 8883)
		}
	default:
		u.Scheme = "tcp"
		if u.Port() == "" {
			u.Host = fmt.Sprintf("%s:%d", u.Host, 1883)
		}
	}
	opts := mqtt.NewClientOptions()
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pass, isset := u.User.Password(); isset {
			opts.SetPassword(pass)
		}
		u.User = nil
	}
	opts.AddBroker(u.String())
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	return opts, nil
}

// waitToken waits for t, giving up when ctx is done.
func waitToken(ctx context.Context, t mqtt.Token) error {
	timeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !t.WaitTimeout(timeout) {
		return errors.Timeoutf("MQTT operation")
	}
	return errors.Trace(t.Error())
}

// DialMQTT connects to the broker.
func DialMQTT(ctx context.Context, o *Opts) (Publisher, error) {
	opts, err := ClientOptsFromURL(o.Broker, o.ClientID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	opts.SetConnectionLostHandler(func(cli mqtt.Client, err error) {
		glog.Errorf("Lost connection to MQTT broker: %s", err)
	})
	glog.V(1).Infof("Connecting %s to %s", opts.ClientID, o.Broker)
	cli := mqtt.NewClient(opts)
	if err := waitToken(ctx, cli.Connect()); err != nil {
		return nil, errors.Annotatef(err, "MQTT connect error")
	}
	return &mqttPublisher{
		topic: o.Topic,
		send: func(ctx context.Context, topic string, payload []byte) error {
			return waitToken(ctx, cli.Publish(topic, 1 /* qos */, false, payload))
		},
		close: func() { cli.Disconnect(250) },
	}, nil
}
