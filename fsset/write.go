// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package fsset

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/twpayne/go-vfs/v4"
	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/crypttab"
	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
)

// Configuration files written by Write, relative to the sysroot.
const (
	CrypttabPath = crypttab.Path
	MdadmPath    = "/etc/mdadm.conf"
)

// Multipath configuration copied from the running system.
var multipathFiles = []string{
	"/etc/multipath.conf",
	"/etc/multipath/wwids",
	"/etc/multipath/bindings",
}

const fstabHeader = `
#
# /etc/fstab
# Created by fsset on %s
#
# Accessible filesystems, by reference, are maintained under '/dev/disk/'.
# See man pages fstab(5), findfs(8), mount(8) and/or blkid(8) for more info.
#
# After editing this file, run 'systemctl daemon-reload' to update systemd
# units generated from this file.
#
`

const fstabRow = "%-23s %-23s %-7s %-15s %d %d\n"

const mdadmHeader = "# mdadm.conf written out by fsset\nMAILADDR root\nAUTO +imsm +1.x -all\n"

// Fstab returns the contents of the fstab.
//
// Swap devices are only included if they were added with AddFstabSwap.
// Preserved lines of the parsed fstab are appended at the end.
//
//nolint:gocyclo,cyclop
func (s *FSSet) Fstab() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, fstabHeader, s.opts.Clock().Format(time.ANSIC))

	mountpoints := s.Mountpoints()

	devices := s.mountpointDevices()
	devices = append(devices, s.includedSwaps()...)

	netdevs := filterNetworkStorage(s.Devices())

	rootOnNetdev := false
	if root := mountpoints["/"]; root != nil {
		rootOnNetdev = dependsOnAny(root, netdevs)
	}

	for _, device := range devices {
		swap := device.Format.Kind() == format.KindSwap

		if !device.Format.Mountable() && !swap {
			continue
		}

		if device.Kind == devicetree.KindOptical {
			continue
		}

		fstype := device.Format.MountType()
		options := device.Format.Options

		var mountpoint string

		if swap {
			mountpoint = format.TypeSwap
		} else {
			mountpoint = device.Format.Mountpoint

			if mountpoint == "" {
				s.opts.Logger.Warn("filesystem has no mount point", zap.String("type", fstype), zap.String("device", device.Path))

				continue
			}
		}

		if options == "" {
			options = "defaults"
		}

		if rootOnNetdev && mountpoint == "/var" && dependsOnAny(device, netdevs) {
			options += ",x-initrd.mount"
		}

		if device.Encrypted() {
			options += ",x-systemd.device-timeout=0"
		}

		var pass int

		switch {
		case device.Format.Check() && mountpoint == "/":
			pass = 1
		case device.Format.Check():
			pass = 2
		}

		sb.WriteString(device.FstabComment)
		fmt.Fprintf(&sb, fstabRow, device.FstabSpec(), mountpoint, fstype, options, device.Format.Dump(), pass)
	}

	for _, line := range s.preserveLines {
		sb.WriteString(line)
	}

	return sb.String()
}

// includedSwaps returns the swap devices added with AddFstabSwap, sorted by path.
func (s *FSSet) includedSwaps() []*devicetree.Device {
	swaps := slices.DeleteFunc(slices.Clone(s.fstabSwaps), func(d *devicetree.Device) bool {
		return d.Format == nil || d.Format.Kind() != format.KindSwap
	})

	slices.SortStableFunc(swaps, func(a, b *devicetree.Device) int {
		return strings.Compare(a.Path, b.Path)
	})

	return swaps
}

func filterNetworkStorage(devices []*devicetree.Device) []*devicetree.Device {
	return slices.DeleteFunc(devices, func(d *devicetree.Device) bool {
		return !d.IsNetworkStorage()
	})
}

func dependsOnAny(device *devicetree.Device, others []*devicetree.Device) bool {
	return slices.ContainsFunc(others, device.DependsOn)
}

// Crypttab returns the contents of the crypttab.
//
// The table is generated from the tree if no crypttab was parsed. Mappings which
// no mountpoint or swap device needs are dropped from the table.
func (s *FSSet) Crypttab() string {
	if s.cryptTab == nil {
		s.cryptTab = crypttab.Populate(s.tree, crypttab.WithLogger(s.opts.Logger))
	}

	s.cryptTab.Retain(func(m crypttab.Mapping) bool {
		return m.Device != nil && s.requires(m.Device)
	})

	return s.cryptTab.String()
}

// MdadmConf returns the contents of mdadm.conf.
//
// It is empty if no mountpoint or swap device is built on a RAID array.
func (s *FSSet) MdadmConf() string {
	var entries strings.Builder

	// path order puts containers (md0, md1) before their members (md127, md126)
	for _, array := range s.Devices() {
		if !array.IsRAIDArray() || !s.requires(array) {
			continue
		}

		entries.WriteString(array.MdadmConfEntry())
	}

	if entries.Len() == 0 {
		return ""
	}

	return mdadmHeader + entries.String()
}

// Write writes fstab, crypttab and mdadm.conf to the sysroot.
//
// Multipath configuration is copied from the running system if any device is a multipath device.
func (s *FSSet) Write() error {
	if err := s.writeFile(FstabPath, s.Fstab(), 0o644); err != nil {
		return err
	}

	if err := s.writeFile(CrypttabPath, s.Crypttab(), 0o600); err != nil {
		return err
	}

	if mdadm := s.MdadmConf(); mdadm != "" {
		if err := s.writeFile(MdadmPath, mdadm, 0o644); err != nil {
			return err
		}
	}

	if !slices.ContainsFunc(s.tree.Devices(), func(d *devicetree.Device) bool { return d.Kind == devicetree.KindMultipath }) {
		s.opts.Logger.Info("not writing out mpath configuration")

		return nil
	}

	var result *multierror.Error

	for _, path := range multipathFiles {
		if err := s.copyToSysroot(path); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (s *FSSet) writeFile(path, contents string, perm fs.FileMode) error {
	target := filepath.Join(s.opts.Sysroot, path)

	if err := vfs.MkdirAll(s.opts.FS, filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", target, err)
	}

	if err := s.opts.FS.WriteFile(target, []byte(contents), perm); err != nil {
		return fmt.Errorf("error writing %s: %w", target, err)
	}

	// WriteFile keeps the mode of existing files
	if err := s.opts.FS.Chmod(target, perm); err != nil {
		return fmt.Errorf("error setting mode of %s: %w", target, err)
	}

	return nil
}

// copyToSysroot copies a file of the running system to the same path under the sysroot.
func (s *FSSet) copyToSysroot(path string) error {
	contents, err := s.opts.FS.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.opts.Logger.Info("not copying missing file", zap.String("path", path))

			return nil
		}

		return fmt.Errorf("error reading %s: %w", path, err)
	}

	st, err := s.opts.FS.Stat(path)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}

	return s.writeFile(path, string(contents), st.Mode().Perm())
}
