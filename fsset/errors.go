// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package fsset

import (
	"errors"
	"fmt"
)

// ErrUnrecognizedEntry is returned for fstab entries which are kept as is.
var ErrUnrecognizedEntry = errors.New("unrecognized fstab entry")

// ErrNoRootDevice is returned when no device is mounted at the root.
var ErrNoRootDevice = errors.New("no root device")

// TypeMismatchError is returned when the fstab filesystem type doesn't match the device contents.
type TypeMismatchError struct {
	Mountpoint string
	Detected   string
	Declared   string
	Err        error
}

// Error implements error.
func (e *TypeMismatchError) Error() string {
	msg := fmt.Sprintf("%s: detected as %s, fstab says %s", e.Mountpoint, e.Detected, e.Declared)

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the probing error, if any.
func (e *TypeMismatchError) Unwrap() error {
	return e.Err
}

// Decision is the outcome of an ErrorPolicy.
type Decision int

// Decisions.
const (
	// Abort stops the operation and returns the error.
	Abort Decision = iota
	// Continue skips the failed step.
	Continue
	// Retry runs the failed step again.
	Retry
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	switch d {
	case Abort:
		return "abort"
	case Continue:
		return "continue"
	case Retry:
		return "retry"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// ErrorPolicy decides what happens after a device or format fails to come up.
type ErrorPolicy interface {
	HandleError(err error) Decision
}

// ErrorPolicyFunc is a function ErrorPolicy.
type ErrorPolicyFunc func(err error) Decision

// HandleError implements ErrorPolicy.
func (f ErrorPolicyFunc) HandleError(err error) Decision {
	return f(err)
}

// Stock policies.
var (
	AbortPolicy    ErrorPolicy = ErrorPolicyFunc(func(error) Decision { return Abort })
	ContinuePolicy ErrorPolicy = ErrorPolicyFunc(func(error) Decision { return Continue })
)

func decide(policy ErrorPolicy, err error) Decision {
	if policy == nil {
		policy = AbortPolicy
	}

	return policy.HandleError(err)
}
