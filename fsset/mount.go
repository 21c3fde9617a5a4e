// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package fsset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
)

// relocate looks up the device holding the directory or file of device under root.
//
// Devices whose parent can't be found are removed from the tree.
func (s *FSSet) relocate(device *devicetree.Device, root string) bool {
	target := filepath.Join(root, device.Path)

	parents := s.containingDevice(target)
	if len(parents) == 0 {
		s.opts.Logger.Error("cannot determine which device contains path", zap.String("device", device.Name), zap.String("path", target))

		device.Parents = nil

		if err := s.tree.RemoveDevice(device); err != nil {
			s.opts.Logger.Warn("error removing device", zap.String("device", device.Name), zap.Error(err))
		}

		return false
	}

	device.Parents = parents

	return true
}

// TurnOnSwap activates all swap devices.
//
// Swap files are looked up under rootPath. Swap signatures which can't be used are
// logged and skipped, other errors are passed to the policy.
func (s *FSSet) TurnOnSwap(ctx context.Context, policy ErrorPolicy, rootPath string) error {
	for _, device := range s.SwapDevices() {
		if device.Status() && device.Format.Status() {
			continue
		}

		if device.Kind == devicetree.KindFile {
			path := filepath.Join("/", rootPath, device.Name)

			device.Path = path
			device.Format.Device = path

			if !s.relocate(device, "/") {
				continue
			}
		}

	retry:
		for !device.Status() || !device.Format.Status() {
			err := device.Setup(ctx)
			if err == nil {
				err = device.Format.Setup(ctx, format.SetupOptions{})
			}

			switch {
			case err == nil:
				break retry
			case format.IsSwapError(err):
				s.opts.Logger.Error("failed to activate swap", zap.String("device", device.Name), zap.Error(err))

				break retry
			}

			s.opts.Logger.Error("error setting up swap", zap.String("device", device.Name), zap.Error(err))

			switch decide(policy, err) {
			case Abort:
				return err
			case Continue:
				break retry
			case Retry:
			}
		}
	}

	return nil
}

// MountOptions configures MountFilesystems.
type MountOptions struct {
	RootPath string
	ReadOnly string
	SkipRoot bool
}

// MountOption is a functional option for MountFilesystems.
type MountOption func(*MountOptions)

// WithRootPath mounts the filesystems under path instead of the sysroot.
func WithRootPath(path string) MountOption {
	return func(o *MountOptions) {
		o.RootPath = path
	}
}

// WithReadOnly appends option (e.g. "ro") to the mount options of every filesystem.
func WithReadOnly(option string) MountOption {
	return func(o *MountOptions) {
		o.ReadOnly = option
	}
}

// WithSkipRoot doesn't mount the root filesystem.
func WithSkipRoot() MountOption {
	return func(o *MountOptions) {
		o.SkipRoot = true
	}
}

// MountFilesystems mounts the filesystems and the pseudo filesystems under the root path.
//
// Filesystems are mounted in mountpoint order. Failures are logged and passed to the policy.
//
//nolint:gocyclo,cyclop
func (s *FSSet) MountFilesystems(ctx context.Context, policy ErrorPolicy, opts ...MountOption) error {
	o := MountOptions{
		RootPath: s.opts.Sysroot,
	}

	for _, opt := range opts {
		opt(&o)
	}

	devices := s.candidates()

	s.opts.Logger.Debug("mounting filesystems", zap.String("root", o.RootPath), zap.Strings("devices", deviceNames(devices)))

	for _, device := range devices {
		if !device.Format.Mountable() || device.Format.Mountpoint == "" {
			continue
		}

		if o.SkipRoot && device.Format.Mountpoint == "/" {
			continue
		}

		options := device.Format.Options
		if hasOption(options, "noauto") {
			continue
		}

		if device.Format.Kind() == format.KindBind && device != s.pseudo.dev && device != s.pseudo.run {
			// bind sources are under the target root
			if !s.relocate(device, o.RootPath) {
				continue
			}
		}

		if ok, err := s.attempt(policy, func() error { return device.Setup(ctx) }); err != nil {
			return err
		} else if !ok {
			s.opts.Logger.Error("unable to set up device", zap.String("device", device.Name))

			continue
		}

		if o.ReadOnly != "" {
			if options == "" {
				options = o.ReadOnly
			} else {
				options += "," + o.ReadOnly
			}
		}

		setupOptions := format.SetupOptions{
			Options: options,
			Chroot:  o.RootPath,
		}

		if ok, err := s.attempt(policy, func() error { return device.Format.Setup(ctx, setupOptions) }); err != nil {
			return err
		} else if !ok {
			s.opts.Logger.Error("error mounting filesystem", zap.String("device", device.Path), zap.String("mountpoint", device.Format.Mountpoint))
		}
	}

	s.active = true

	return nil
}

// attempt runs fn until it succeeds or the policy gives up.
//
// It returns false if the policy chose to continue, and the error if it chose to abort.
func (s *FSSet) attempt(policy ErrorPolicy, fn func() error) (bool, error) {
	for {
		err := fn()
		if err == nil {
			return true, nil
		}

		s.opts.Logger.Error("operation failed", zap.Error(err))

		switch decide(policy, err) {
		case Abort:
			return false, err
		case Continue:
			return false, nil
		case Retry:
		}
	}
}

// UnmountOptions configures UnmountFilesystems.
type UnmountOptions struct {
	SkipSwapOff bool
}

// UnmountOption is a functional option for UnmountFilesystems.
type UnmountOption func(*UnmountOptions)

// WithoutSwapOff leaves swap devices active.
func WithoutSwapOff() UnmountOption {
	return func(o *UnmountOptions) {
		o.SkipSwapOff = true
	}
}

// UnmountFilesystems unmounts the filesystems in reverse mountpoint order and turns swap off.
//
// All filesystems are attempted; the errors are returned together.
func (s *FSSet) UnmountFilesystems(ctx context.Context, opts ...UnmountOption) error {
	var o UnmountOptions

	for _, opt := range opts {
		opt(&o)
	}

	var result *multierror.Error

	devices := s.candidates()
	slices.Reverse(devices)

	for _, device := range devices {
		swap := device.Format.Kind() == format.KindSwap

		if (!device.Format.Mountable() && !swap) || (swap && o.SkipSwapOff) {
			continue
		}

		if err := device.Format.Teardown(ctx); err != nil {
			s.opts.Logger.Error("error deactivating format", zap.String("device", device.Name), zap.Error(err))

			result = multierror.Append(result, err)
		}
	}

	s.active = false

	return result.ErrorOrNil()
}

// CreateSwapFile creates and activates a swap file of size bytes on the filesystem of device.
//
// The file is named SWAP, or SWAP-N if that is taken, and is added to the tree.
func (s *FSSet) CreateSwapFile(ctx context.Context, device *devicetree.Device, size uint64) (*devicetree.Device, error) {
	mountpoint := device.Format.Mountpoint
	if mountpoint == "" {
		return nil, fmt.Errorf("%w: %s", format.ErrNoMountpoint, device.Name)
	}

	base := filepath.Join(s.opts.PhysicalRoot, mountpoint)
	filename := "SWAP"

	for count := 1; s.exists(filepath.Join(base, filename)) || s.tree.DeviceByName(filepath.Join(mountpoint, filename)) != nil; count++ {
		filename = fmt.Sprintf("SWAP-%d", count)
	}

	name := filepath.Join(mountpoint, filename)
	path := filepath.Join(base, filename)

	swap := devicetree.New(name, devicetree.KindFile,
		devicetree.WithPath(path),
		devicetree.WithSize(size),
		devicetree.WithParents(device),
		devicetree.WithBackend(s.opts.Backend),
		devicetree.WithFormat(format.New(format.TypeSwap,
			format.WithDevice(path),
			format.WithFacility(s.opts.Facility),
		)),
	)

	if err := swap.Create(ctx); err != nil {
		return nil, err
	}

	if err := swap.Setup(ctx); err != nil {
		return nil, err
	}

	if err := swap.Format.Create(ctx); err != nil {
		return nil, err
	}

	if err := swap.Format.Setup(ctx, format.SetupOptions{}); err != nil {
		return nil, err
	}

	if err := s.tree.AddDevice(swap); err != nil {
		return nil, err
	}

	s.opts.Logger.Info("created swap file", zap.String("path", path), zap.Uint64("size", size))

	return swap, nil
}

// MkDevRoot creates the /dev/root node of the root device under the sysroot.
//
// Nothing is done if the node exists or the root device node is missing.
func (s *FSSet) MkDevRoot() error {
	root := s.RootDevice()
	if root == nil {
		return ErrNoRootDevice
	}

	node := filepath.Join(s.opts.Sysroot, "/dev/root")
	dev := filepath.Join(s.opts.Sysroot, root.Path)

	if s.exists(node) || !s.exists(dev) {
		return nil
	}

	devNo, err := s.opts.Facility.DeviceNumber(dev)
	if err != nil {
		return err
	}

	return s.opts.Facility.MakeNode(node, devNo)
}

func (s *FSSet) exists(path string) bool {
	_, err := s.opts.FS.Lstat(path)

	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
