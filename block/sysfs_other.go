// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package block

import "errors"

// SysFSOption configures sysfs lookups.
type SysFSOption func()

// WithSysFS sets the sysfs mount point (defaults to /sys).
func WithSysFS(string) SysFSOption {
	return func() {}
}

// DeviceName returns the kernel name of the block device with the given number.
func DeviceName(uint64, ...SysFSOption) (string, error) {
	return "", errors.New("not implemented")
}

// ContainingDeviceName returns the name of the block device holding the filesystem path lives on.
func ContainingDeviceName(string, ...SysFSOption) (string, error) {
	return "", errors.New("not implemented")
}
