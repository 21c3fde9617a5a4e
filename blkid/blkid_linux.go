// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package blkid

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-fsset/block"
)

// ProbePath opens the device node or image file at devpath and probes it.
func ProbePath(devpath string, opts ...ProbeOption) (*Info, error) {
	f, err := os.OpenFile(devpath, os.O_RDONLY|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	defer f.Close() //nolint:errcheck

	return Probe(f, opts...)
}

// Probe detects the format stored in f, a block device or a regular file.
//
// Block devices are locked in shared mode while probing (the whole disk, if f is a partition)
// unless WithSkipLocking is set.
func Probe(f *os.File, opts ...ProbeOption) (*Info, error) {
	options := applyProbeOptions(opts...)

	unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM) //nolint:errcheck

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat: %w", err)
	}

	info := &Info{}

	switch {
	case st.Mode().IsRegular():
		info.Size = uint64(st.Size())
	case st.Mode().Type() == fs.ModeDevice:
		dev := block.NewFromFile(f)

		if err = info.inspect(dev); err != nil {
			return nil, err
		}

		if info.Skipped != "" {
			options.Logger.Debug("not probing device contents", zap.String("path", f.Name()), zap.String("reason", info.Skipped))

			return info, nil
		}

		if !options.SkipLocking {
			unlock, err := lockDisk(dev)
			if err != nil {
				return nil, err
			}

			defer unlock()
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", st.Mode().Type())
	}

	if err = info.identify(f, options.Logger); err != nil {
		return nil, fmt.Errorf("failed to probe: %w", err)
	}

	return info, nil
}

// inspect fills the block device attributes and decides whether the contents can be probed.
func (i *Info) inspect(dev *block.Device) error {
	var err error

	if i.DevNo, err = dev.DevNo(); err != nil {
		return fmt.Errorf("failed to get device number: %w", err)
	}

	if i.Size, err = dev.Size(); err != nil {
		return fmt.Errorf("failed to get block device size: %w", err)
	}

	if i.WholeDisk, err = dev.IsWholeDisk(); err != nil {
		return fmt.Errorf("failed to check if block device is whole disk: %w", err)
	}

	switch {
	case dev.IsLVMInternal():
		i.Skipped = "internal LVM volume"
	case i.WholeDisk && dev.IsOptical() && !dev.HasMedia():
		i.Skipped = "optical drive without media"
	}

	return nil
}

// lockDisk takes a shared lock on the disk holding dev.
func lockDisk(dev *block.Device) (func(), error) {
	disk, err := dev.WholeDisk()
	if err != nil {
		return nil, fmt.Errorf("failed to get whole disk: %w", err)
	}

	if err = disk.TryLockShared(); err != nil {
		disk.Close() //nolint:errcheck

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrFailedLock
		}

		return nil, fmt.Errorf("failed to lock whole disk: %w", err)
	}

	return func() {
		disk.Unlock() //nolint:errcheck
		disk.Close()  //nolint:errcheck
	}, nil
}
