// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package block

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// SysFSOption configures sysfs lookups.
type SysFSOption func(*sysFSOptions)

type sysFSOptions struct {
	root string
}

// WithSysFS sets the sysfs mount point (defaults to /sys).
func WithSysFS(root string) SysFSOption {
	return func(o *sysFSOptions) {
		o.root = root
	}
}

func applySysFSOptions(opts ...SysFSOption) sysFSOptions {
	o := sysFSOptions{
		root: DefaultSysFS,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func sysFsDevPath(root string, devNo uint64) string {
	return filepath.Join(root, "dev", "block", fmt.Sprintf("%d:%d", unix.Major(devNo), unix.Minor(devNo)))
}

// DeviceName returns the kernel name of the block device with the given number.
//
// Device-mapper nodes (dm-N) are translated to their mapped name.
func DeviceName(devNo uint64, opts ...SysFSOption) (string, error) {
	options := applySysFSOptions(opts...)

	sysFsPath := sysFsDevPath(options.root, devNo)

	target, err := os.Readlink(sysFsPath)
	if err != nil {
		return "", fmt.Errorf("error resolving %s: %w", sysFsPath, err)
	}

	name := filepath.Base(target)

	if !strings.HasPrefix(name, "dm-") {
		return name, nil
	}

	dmName, err := os.ReadFile(filepath.Join(sysFsPath, "dm", "name"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return name, nil
		}

		return "", fmt.Errorf("error reading device-mapper name of %s: %w", name, err)
	}

	return strings.TrimSpace(string(dmName)), nil
}

// ContainingDeviceName returns the name of the block device holding the filesystem path lives on.
func ContainingDeviceName(path string, opts ...SysFSOption) (string, error) {
	var st unix.Stat_t

	if err := unix.Stat(path, &st); err != nil {
		return "", fmt.Errorf("error getting the device of %q: %w", path, err)
	}

	return DeviceName(uint64(st.Dev), opts...) //nolint:unconvert
}
