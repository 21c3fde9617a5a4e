// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package fsset

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/blkidtab"
	"github.com/siderolabs/go-fsset/crypttab"
	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
)

// FstabPath is the location of the fstab relative to the system root.
const FstabPath = "/etc/fstab"

// typeAuto lets mount detect the filesystem type.
const typeAuto = "auto"

// Mountpoints of pseudo filesystems, never taken from the fstab.
var pseudoMountpoints = []string{
	"/proc",
	"/sys",
	"/dev",
	"/dev/shm",
	"/dev/pts",
	"/sys/fs/selinux",
	"/proc/bus/usb",
	"/sys/firmware/efi/efivars",
}

// Entry is a single fstab line.
type Entry struct {
	Spec       string
	Mountpoint string
	Type       string
	Options    string
	Dump       int
	Pass       int
}

// ParseEntry splits an fstab line into an Entry.
//
// Comments are stripped. Lines which don't have 4 to 6 fields are rejected.
func ParseEntry(line string) (Entry, bool) {
	line, _, _ = strings.Cut(line, "#")

	fields := strings.Fields(line)
	if len(fields) < 4 || len(fields) > 6 {
		return Entry{}, false
	}

	e := Entry{
		Spec:       fields[0],
		Mountpoint: fields[1],
		Type:       fields[2],
		Options:    fields[3],
	}

	if len(fields) > 4 {
		e.Dump, _ = strconv.Atoi(fields[4]) //nolint:errcheck
	}

	if len(fields) > 5 {
		e.Pass, _ = strconv.Atoi(fields[5]) //nolint:errcheck
	}

	return e, true
}

// ParseFstab reads the fstab of the system at chroot into the device tree.
//
// The sysroot is used if chroot is empty or not a directory. Missing fstab is not an error.
// The blkid table and the crypttab are read first to help resolving device specs;
// they are skipped if they can't be read. Entries which can't be resolved are kept in PreserveLines.
func (s *FSSet) ParseFstab(ctx context.Context, chroot string) error {
	if chroot == "" || !s.isDir(chroot) {
		chroot = s.opts.Sysroot
	}

	path := filepath.Join(chroot, FstabPath)

	f, err := s.opts.FS.Open(path)
	if err != nil {
		s.opts.Logger.Info("cannot open fstab for read", zap.String("path", path), zap.Error(err))

		return nil
	}

	defer f.Close() //nolint:errcheck

	blkidTab, err := blkidtab.Load(s.opts.FS, chroot, blkidtab.WithLogger(s.opts.Logger))
	if err != nil {
		s.opts.Logger.Info("error parsing blkid.tab", zap.Error(err))

		blkidTab = nil
	} else {
		s.opts.Logger.Debug("blkid.tab devices", zap.Strings("devices", blkidTab.Devices()))
	}

	s.blkidTab = blkidTab

	var attrs devicetree.AttributeTable
	if blkidTab != nil {
		attrs = blkidTab
	}

	cryptTab, err := crypttab.Load(s.opts.FS, chroot, s.tree, attrs, crypttab.WithLogger(s.opts.Logger))
	if err != nil {
		s.opts.Logger.Info("error parsing crypttab", zap.Error(err))

		cryptTab = nil
	} else {
		s.opts.Logger.Debug("crypttab mappings", zap.Strings("names", cryptTab.Names()))
	}

	s.cryptTab = cryptTab

	s.opts.Logger.Debug("parsing fstab", zap.String("path", path))

	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")

		entry, ok := ParseEntry(line)
		if !ok {
			continue
		}

		device, err := s.ResolveEntry(ctx, entry)
		if err != nil {
			if errors.Is(err, ErrUnrecognizedEntry) {
				s.preserve(line)

				continue
			}

			return err
		}

		if device == nil || s.tree.Contains(device) {
			continue
		}

		if err = s.tree.AddDevice(device); err != nil {
			s.opts.Logger.Info("keeping fstab entry of duplicate device", zap.String("device", device.Name), zap.Error(err))

			s.preserve(line)
		}
	}

	if err = scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	return nil
}

func (s *FSSet) preserve(line string) {
	s.preserveLines = append(s.preserveLines, strings.TrimRight(line, " \t")+"\n")
}

func (s *FSSet) isDir(path string) bool {
	st, err := s.opts.FS.Stat(path)

	return err == nil && st.IsDir()
}

// ResolveEntry returns the device described by an fstab entry.
//
// It returns ErrUnrecognizedEntry for entries which should be kept verbatim, a nil device
// for entries which should be dropped, and *TypeMismatchError if the device doesn't
// contain the declared filesystem. The device is not added to the tree.
//
//nolint:gocyclo,cyclop
func (s *FSSet) ResolveEntry(ctx context.Context, e Entry) (*devicetree.Device, error) {
	logger := s.opts.Logger.With(zap.String("spec", e.Spec), zap.String("mountpoint", e.Mountpoint))

	if hasOption(e.Options, "noauto") {
		logger.Info("ignoring noauto entry")

		return nil, ErrUnrecognizedEntry
	}

	fstype := e.Type

	device := s.tree.ResolveDevice(e.Spec, s.resolveOptions(e.Options)...)
	if device != nil && (device.Kind == devicetree.KindNoDevice || device.Kind == devicetree.KindDirectory) {
		// placeholders may share a spec ("tmpfs"), every entry gets its own
		device = nil
	}

	switch {
	case device != nil:
	case strings.HasPrefix(e.Spec, "/dev/loop"):
		logger.Warn("completely ignoring loop mount")

		return nil, nil //nolint:nilnil
	case strings.Contains(e.Spec, ":") && strings.HasPrefix(fstype, "nfs"):
		device = devicetree.New(e.Spec, devicetree.KindNFS,
			devicetree.WithExists(true),
			devicetree.WithBackend(s.opts.Backend),
			devicetree.WithFormat(format.New(fstype,
				format.WithDevice(e.Spec),
				format.WithExists(true),
				format.WithFacility(s.opts.Facility),
			)),
		)
	case strings.HasPrefix(e.Spec, "/") && fstype == format.TypeSwap:
		device = devicetree.New(e.Spec, devicetree.KindFile,
			devicetree.WithExists(true),
			devicetree.WithParents(s.containingDevice(e.Spec)...),
			devicetree.WithBackend(s.opts.Backend),
			devicetree.WithFormat(format.New(format.TypeSwap,
				format.WithDevice(e.Spec),
				format.WithExists(true),
				format.WithFacility(s.opts.Facility),
			)),
		)
	case fstype == format.TypeBind || strings.Contains(e.Options, "bind"):
		// the parent is looked up again on mount, when the target root is accessible
		fstype = format.TypeBind

		device = devicetree.New(e.Spec, devicetree.KindDirectory,
			devicetree.WithExists(true),
			devicetree.WithParents(s.containingDevice(e.Spec)...),
			devicetree.WithBackend(s.opts.Backend),
		)

		device.Format = format.New(format.TypeBind,
			format.WithDevice(device.Path),
			format.WithExists(true),
			format.WithBindFromChroot(true),
			format.WithFacility(s.opts.Facility),
		)
	case slices.Contains(pseudoMountpoints, e.Mountpoint):
		return nil, nil //nolint:nilnil
	case e.Spec == "none" || format.IsNoDev(fstype):
		device = devicetree.New(e.Spec, devicetree.KindNoDevice,
			devicetree.WithFormat(format.New(fstype,
				format.WithDevice(e.Spec),
				format.WithFacility(s.opts.Facility),
			)),
		)
	default:
		logger.Error("failed to resolve fstab entry", zap.String("type", fstype))

		return nil, ErrUnrecognizedEntry
	}

	if err := device.Setup(ctx); err != nil {
		s.teardown(ctx, device)

		return nil, fmt.Errorf("error setting up %s: %w", device.Name, err)
	}

	declared := format.New(fstype,
		format.WithDevice(device.Path),
		format.WithExists(true),
		format.WithFacility(s.opts.Facility),
	)

	if fstype != typeAuto && device.Format.Type == "" && declared.Type == "" {
		logger.Info("unrecognized filesystem type", zap.String("device", device.Name), zap.String("type", fstype))

		s.teardown(ctx, device)

		return nil, ErrUnrecognizedEntry
	}

	if declared.Probeable() && fstype != typeAuto && declared.MountType() != device.Format.MountType() {
		logger.Info("fstab type differs from detected", zap.String("detected", device.Format.Type), zap.String("declared", declared.Type))

		ok, err := s.opts.Verifier.Verify(ctx, device.Path, declared.Type)
		if err != nil || !ok {
			s.teardown(ctx, device)

			return nil, &TypeMismatchError{
				Mountpoint: e.Mountpoint,
				Detected:   device.Format.Type,
				Declared:   declared.Type,
				Err:        err,
			}
		}

		declared.UUID = device.Format.UUID
		declared.Label = device.Format.Label
		device.Format = declared
	}

	if device.Format.HasMountpoint() {
		device.Format.Mountpoint = e.Mountpoint
	}

	device.Format.Options = e.Options

	return device, nil
}

func (s *FSSet) resolveOptions(mountOptions string) []devicetree.ResolveOption {
	opts := []devicetree.ResolveOption{devicetree.WithMountOptions(mountOptions)}

	if s.blkidTab != nil {
		opts = append(opts, devicetree.WithAttributeTable(s.blkidTab))
	}

	if s.cryptTab != nil {
		opts = append(opts, devicetree.WithMappingTable(s.cryptTab))
	}

	return opts
}

// containingDevice returns the tree device holding path, if any.
func (s *FSSet) containingDevice(path string) []*devicetree.Device {
	name, err := s.opts.Locator.ContainingDeviceName(path)
	if err != nil {
		s.opts.Logger.Debug("cannot determine containing device", zap.String("path", path), zap.Error(err))

		return nil
	}

	if device := s.tree.DeviceByName(name); device != nil {
		return []*devicetree.Device{device}
	}

	return nil
}

func (s *FSSet) teardown(ctx context.Context, device *devicetree.Device) {
	if err := device.Teardown(ctx); err != nil {
		s.opts.Logger.Warn("error tearing down device", zap.String("device", device.Name), zap.Error(err))
	}
}
