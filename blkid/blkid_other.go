// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package blkid

import (
	"errors"
	"os"
)

// ProbePath returns the probe information for the specified path.
func ProbePath(string, ...ProbeOption) (*Info, error) {
	return nil, errors.New("not implemented")
}

// Probe returns the probe information for the specified file.
func Probe(*os.File, ...ProbeOption) (*Info, error) {
	return nil, errors.New("not implemented")
}
