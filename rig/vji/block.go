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
package vji

import (
	"context"
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// MaxTransferWords is the largest block moved in one bus transaction (1K).
const MaxTransferWords = 256

// ReadBytes reads length bytes starting at an arbitrary (not necessarily
// aligned) address. Words are fetched in blocks of at most maxWords.
func ReadBytes(ctx context.Context, r TargetMemReader, addr uint32, length, maxWords int) ([]byte, error) {
	glog.V(4).Infof("ReadBytes(0x%08x, %d)", addr, length)
	if length <= 0 {
		return nil, nil
	}
	if maxWords <= 0 {
		maxWords = MaxTransferWords
	}
	firstWord := addr >> 2
	lastWord := (addr + uint32(length) - 1) >> 2
	words := int(lastWord - firstWord + 1)
	offset := int(addr & 3)
	wa := addr &^ 3

	res := make([]byte, 0, length)
	for words > 0 && len(res) < length {
		cl := words
		if cl > maxWords {
			cl = maxWords
		}
		chunk, err := r.ReadTargetMem(ctx, wa, cl)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(chunk) != cl {
			return nil, errors.Errorf("short read @ 0x%08x: want %d words, got %d", wa, cl, len(chunk))
		}
		cb := FromWords(chunk)[offset:]
		if rem := length - len(res); len(cb) > rem {
			cb = cb[:rem]
		}
		res = append(res, cb...)
		wa += uint32(cl * 4)
		words -= cl
		offset = 0
	}
	return res, nil
}

// WriteBytes writes data at a word-aligned address, padding the last word
// with zeroes, in blocks of at most maxWords.
func WriteBytes(ctx context.Context, w TargetMemWriter, addr uint32, data []byte, maxWords int) error {
	if addr%4 != 0 {
		return errors.Errorf("addr must be word-aligned, got 0x%x", addr)
	}
	return errors.Trace(WriteWords(ctx, w, addr, ToWords(data, 0), maxWords))
}

// WriteWords writes data in blocks of at most maxWords.
func WriteWords(ctx context.Context, w TargetMemWriter, addr uint32, data []uint32, maxWords int) error {
	glog.V(4).Infof("WriteWords(0x%08x, %d)", addr, len(data))
	if maxWords <= 0 {
		maxWords = MaxTransferWords
	}
	for i := 0; i < len(data); {
		cl := len(data) - i
		if cl > maxWords {
			cl = maxWords
		}
		if err := w.WriteTargetMem(ctx, addr, data[i:i+cl]); err != nil {
			return errors.Annotatef(err, "failed to write %d words @ 0x%08x", cl, addr)
		}
		addr += uint32(cl * 4)
		i += cl
	}
	return nil
}

// ToWords packs bytes into little-endian words. A partial last word is
// filled with padWith.
func ToWords(data []byte, padWith byte) []uint32 {
	n := (len(data) + 3) / 4
	res := make([]uint32, n)
	var last [4]byte
	for i := 0; i < n; i++ {
		b := data[i*4:]
		if len(b) < 4 {
			for j := range last {
				if j < len(b) {
					last[j] = b[j]
				} else {
					last[j] = padWith
				}
			}
			b = last[:]
		}
		res[i] = binary.LittleEndian.Uint32(b)
	}
	return res
}

// FromWords is the inverse of ToWords.
func FromWords(words []uint32) []byte {
	res := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(res[i*4:], w)
	}
	return res
}
