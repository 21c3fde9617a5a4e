// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package system

import (
	"context"
	"fmt"

	"github.com/siderolabs/go-fsset/blkid"
	"github.com/siderolabs/go-fsset/block"
	"github.com/siderolabs/go-fsset/format"
)

// Locator finds the block device a path lives on through sysfs.
type Locator struct {
	// SysFS is the sysfs mount point, /sys if empty.
	SysFS string
}

// ContainingDeviceName returns the kernel (or device-mapper) name of the device holding path.
func (l Locator) ContainingDeviceName(path string) (string, error) {
	var opts []block.SysFSOption

	if l.SysFS != "" {
		opts = append(opts, block.WithSysFS(l.SysFS))
	}

	return block.ContainingDeviceName(path, opts...)
}

// Verifier confirms a declared filesystem type by probing the device contents.
type Verifier struct {
	Options []blkid.ProbeOption
}

// Verify returns true if the format found on device can be mounted as fstype.
func (v Verifier) Verify(_ context.Context, device, fstype string) (bool, error) {
	info, err := blkid.ProbePath(device, v.Options...)
	if err != nil {
		return false, fmt.Errorf("error probing %q: %w", device, err)
	}

	return Compatible(info.Name, fstype), nil
}

var extFamily = map[string]struct{}{
	format.TypeExt2: {},
	format.TypeExt3: {},
	format.TypeExt4: {},
}

// Compatible returns true if a filesystem detected as detected can be mounted with the declared type.
//
// The ext4 driver mounts every ext revision; the EFI system partition is plain vfat.
func Compatible(detected, declared string) bool {
	if detected == "" {
		return false
	}

	if format.MountType(detected) == format.MountType(declared) {
		return true
	}

	_, detectedExt := extFamily[detected]
	_, declaredExt := extFamily[declared]

	return detectedExt && declaredExt
}
