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
package dut

import (
	"fmt"
	"sort"
)

// Command is a code understood by the DUT test application.
type Command uint32

const (
	CmdMonoAudio    Command = 1
	CmdAudioOut     Command = 2
	CmdAudioIn      Command = 3
	CmdFlashSwitch  Command = 4
	CmdEthernetTx   Command = 5
	CmdEthernetRx   Command = 6
	CmdUSBPhy       Command = 7
	CmdUSBHub       Command = 8
	CmdUSBSticks    Command = 9
	CmdButtons      Command = 10
	CmdUSBStart     Command = 11
	CmdProgramFlash Command = 12
	CmdRTCAccess    Command = 13
	CmdRTCRead      Command = 14
	CmdFinalize     Command = 16
	CmdAlive        Command = 99
)

var commandNames = map[Command]string{
	CmdMonoAudio:    "mono-audio",
	CmdAudioOut:     "audio-out",
	CmdAudioIn:      "audio-in",
	CmdFlashSwitch:  "flash-switch",
	CmdEthernetTx:   "eth-tx",
	CmdEthernetRx:   "eth-rx",
	CmdUSBPhy:       "usb-phy",
	CmdUSBHub:       "usb-hub",
	CmdUSBSticks:    "usb-sticks",
	CmdButtons:      "buttons",
	CmdUSBStart:     "usb-start",
	CmdProgramFlash: "program-flash",
	CmdRTCAccess:    "rtc-access",
	CmdRTCRead:      "rtc-read",
	CmdFinalize:     "finalize",
	CmdAlive:        "alive",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return fmt.Sprintf("%s(%d)", n, uint32(c))
	}
	return fmt.Sprintf("cmd(%d)", uint32(c))
}

// Commands returns the known commands in code order.
func Commands() []Command {
	res := make([]Command, 0, len(commandNames))
	for c := range commandNames {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// CommandByName resolves a command name as printed by String, without the code.
func CommandByName(name string) (Command, bool) {
	for c, n := range commandNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

const (
	// Returned by Execute when the DUT did not finish the command in time.
	StatusTimeout = -99

	// Cap on the log captured by ExecuteWithLog.
	MaxCapturedLog = 4095
)
