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

// Package multierror collects independent failures, such as images that
// failed to load, into a single error.
package multierror

import (
	"bytes"
	"fmt"
)

type Error struct {
	errs []error
}

func (e *Error) Error() string {
	buf := bytes.NewBuffer(nil)

	fmt.Fprintf(buf, "%d error(s) occurred:", len(e.errs))
	for _, err := range e.errs {
		fmt.Fprintf(buf, "\n%s", err)
	}
	return buf.String()
}

// Errors returns the collected errors, oldest first.
func (e *Error) Errors() []error {
	return append([]error(nil), e.errs...)
}

func (e *Error) Len() int {
	return len(e.errs)
}

// Append adds errs to err. Nil errors are dropped; if nothing is left, the
// result is nil.
func Append(err error, errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch err := err.(type) {
	case nil:
		if len(nonNil) == 0 {
			return nil
		}
		return &Error{nonNil}
	case *Error:
		err.errs = append(err.errs, nonNil...)
		return err
	default:
		return &Error{append([]error{err}, nonNil...)}
	}
}

// Errors flattens err into a list: nil gives none, an *Error gives its
// members, anything else gives itself.
func Errors(err error) []error {
	switch err := err.(type) {
	case nil:
		return nil
	case *Error:
		return err.Errors()
	default:
		return []error{err}
	}
}
