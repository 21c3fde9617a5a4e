// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package format

import (
	"errors"
	"fmt"
)

// SwapReason classifies swap activation failures.
type SwapReason int

// Swap failure reasons.
const (
	SwapUnknown SwapReason = iota
	SwapOld
	SwapSuspend
	SwapPageSize
)

// String implements fmt.Stringer.
func (r SwapReason) String() string {
	switch r {
	case SwapOld:
		return "old swap format"
	case SwapSuspend:
		return "hibernation image present"
	case SwapPageSize:
		return "page size mismatch"
	case SwapUnknown:
		fallthrough
	default:
		return "unknown swap error"
	}
}

// SwapError is returned when swap space can't be activated.
type SwapError struct {
	Device string
	Reason SwapReason
	Err    error
}

// Error implements error.
func (e *SwapError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("swap %s: %s", e.Device, e.Reason)
	}

	return fmt.Sprintf("swap %s: %s: %s", e.Device, e.Reason, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *SwapError) Unwrap() error {
	return e.Err
}

// IsSwapError returns true if err is (or wraps) a *SwapError.
func IsSwapError(err error) bool {
	var swapErr *SwapError

	return errors.As(err, &swapErr)
}
