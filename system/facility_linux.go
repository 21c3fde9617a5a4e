// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-fsset/format"
)

// Facility implements format.Facility with mount(2) and the util-linux swap tools.
type Facility struct {
	opts Options
}

var _ format.Facility = (*Facility)(nil)

// NewFacility returns the facility for the running system.
func NewFacility(opts ...Option) *Facility {
	return &Facility{
		opts: applyOptions(opts...),
	}
}

// Mount implements format.Facility.
//
// Network filesystems are handed to mount(8), which knows how to resolve server addresses.
func (f *Facility) Mount(ctx context.Context, source, target, fstype, options string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("error creating mountpoint %q: %w", target, err)
	}

	if strings.HasPrefix(fstype, "nfs") {
		_, err := f.opts.Runner(ctx, nil, "mount", "-t", fstype, "-o", options, source, target)

		return err
	}

	flags, data := ParseMountOptions(options)

	if fstype == format.TypeBind {
		flags |= unix.MS_BIND
		fstype = ""
	}

	f.opts.Logger.Debug("mounting",
		zap.String("source", source),
		zap.String("target", target),
		zap.String("fstype", fstype),
		zap.String("data", data),
	)

	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return err
	}

	// bind mounts ignore MS_RDONLY on the initial mount
	if flags&unix.MS_BIND != 0 && flags&unix.MS_RDONLY != 0 {
		if err := unix.Mount("", target, "", flags|unix.MS_REMOUNT, ""); err != nil {
			return errors.Join(
				fmt.Errorf("error remounting %q read-only: %w", target, err),
				unix.Unmount(target, 0),
			)
		}
	}

	return nil
}

// Unmount implements format.Facility.
func (f *Facility) Unmount(_ context.Context, target string) error {
	f.opts.Logger.Debug("unmounting", zap.String("target", target))

	for {
		if err := unix.Unmount(target, 0); !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// SwapOn implements format.Facility.
func (f *Facility) SwapOn(ctx context.Context, device, options string) error {
	if err := classifySwap(device, f.opts.PageSize); err != nil {
		return err
	}

	if _, err := f.opts.Runner(ctx, nil, "swapon", swapOnArgs(device, options)...); err != nil {
		return &format.SwapError{Device: device, Reason: format.SwapUnknown, Err: err}
	}

	return nil
}

// SwapOff implements format.Facility.
func (f *Facility) SwapOff(ctx context.Context, device string) error {
	_, err := f.opts.Runner(ctx, nil, "swapoff", device)

	return err
}

// MkSwap implements format.Facility.
func (f *Facility) MkSwap(ctx context.Context, device, uuid, label string) error {
	args := []string{}

	if uuid != "" {
		args = append(args, "-U", uuid)
	}

	if label != "" {
		args = append(args, "-L", label)
	}

	_, err := f.opts.Runner(ctx, nil, "mkswap", append(args, device)...)

	return err
}

// DeviceNumber implements format.Facility.
func (f *Facility) DeviceNumber(path string) (uint64, error) {
	var st unix.Stat_t

	if err := unix.Stat(path, &st); err != nil {
		return 0, &os.PathError{Op: "stat", Path: path, Err: err}
	}

	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return 0, fmt.Errorf("%q is not a block device", path)
	}

	return uint64(st.Rdev), nil //nolint:unconvert
}

// MakeNode implements format.Facility.
func (f *Facility) MakeNode(path string, devNo uint64) error {
	if err := unix.Mknod(path, unix.S_IFBLK|0o600, int(devNo)); err != nil {
		return &os.PathError{Op: "mknod", Path: path, Err: err}
	}

	return nil
}
