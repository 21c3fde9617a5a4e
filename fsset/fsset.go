// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package fsset manages the set of filesystems of an installed system.
//
// FSSet reconciles the device tree with the fstab and crypttab of an existing
// installation, mounts and unmounts the resulting set under a target root and
// writes fstab, crypttab and mdadm.conf back out.
package fsset

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/siderolabs/gen/xslices"
	"github.com/twpayne/go-vfs/v4"
	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/blkidtab"
	"github.com/siderolabs/go-fsset/crypttab"
	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
	"github.com/siderolabs/go-fsset/system"
)

// Default roots.
const (
	DefaultSysroot      = "/mnt/sysroot"
	DefaultPhysicalRoot = "/mnt/sysimage"
)

// Locator finds the name of the block device holding a path.
type Locator interface {
	ContainingDeviceName(path string) (string, error)
}

// Verifier checks whether device can be mounted as fstype.
type Verifier interface {
	Verify(ctx context.Context, device, fstype string) (bool, error)
}

// Options configures FSSet.
type Options struct {
	Logger       *zap.Logger
	FS           vfs.FS
	Sysroot      string
	PhysicalRoot string
	EFI          bool
	Facility     format.Facility
	Backend      devicetree.Backend
	Locator      Locator
	Verifier     Verifier
	Clock        func() time.Time
}

// Option is a functional option for New.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithFS sets the filesystem used to read and write configuration files.
func WithFS(fs vfs.FS) Option {
	return func(o *Options) {
		o.FS = fs
	}
}

// WithSysroot sets the root the target system is mounted on during installation.
func WithSysroot(path string) Option {
	return func(o *Options) {
		o.Sysroot = path
	}
}

// WithPhysicalRoot sets the root of the target system's physical storage.
func WithPhysicalRoot(path string) Option {
	return func(o *Options) {
		o.PhysicalRoot = path
	}
}

// WithEFI adds efivarfs to the pseudo filesystems.
func WithEFI(efi bool) Option {
	return func(o *Options) {
		o.EFI = efi
	}
}

// WithFacility sets the facility for formats created by FSSet.
func WithFacility(facility format.Facility) Option {
	return func(o *Options) {
		o.Facility = facility
	}
}

// WithBackend sets the backend for devices created by FSSet.
func WithBackend(backend devicetree.Backend) Option {
	return func(o *Options) {
		o.Backend = backend
	}
}

// WithLocator sets the containing device locator.
func WithLocator(locator Locator) Option {
	return func(o *Options) {
		o.Locator = locator
	}
}

// WithVerifier sets the filesystem type verifier.
func WithVerifier(verifier Verifier) Option {
	return func(o *Options) {
		o.Verifier = verifier
	}
}

// WithClock sets the clock used for the fstab header.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// pseudo holds the virtual filesystems mounted into every target root.
type pseudo struct {
	dev     *devicetree.Device
	devShm  *devicetree.Device
	devPts  *devicetree.Device
	sysfs   *devicetree.Device
	proc    *devicetree.Device
	selinux *devicetree.Device
	usb     *devicetree.Device
	run     *devicetree.Device
	efivars *devicetree.Device
}

func (p *pseudo) all(efi bool) []*devicetree.Device {
	devices := []*devicetree.Device{p.dev, p.devShm, p.devPts, p.sysfs, p.proc, p.selinux, p.usb, p.run}

	if efi {
		devices = append(devices, p.efivars)
	}

	return devices
}

// FSSet is the set of filesystems of a system.
//
// FSSet mutates the device tree it is given. It is not safe for concurrent use.
type FSSet struct {
	opts Options
	tree *devicetree.Tree

	blkidTab *blkidtab.Table
	cryptTab *crypttab.Table

	pseudo pseudo

	preserveLines []string
	fstabSwaps    []*devicetree.Device
	active        bool
}

// New returns a filesystem set over the device tree.
func New(tree *devicetree.Tree, opts ...Option) *FSSet {
	o := Options{
		Logger:       zap.NewNop(),
		FS:           vfs.OSFS,
		Sysroot:      DefaultSysroot,
		PhysicalRoot: DefaultPhysicalRoot,
		Clock:        time.Now,
		Locator:      system.Locator{},
		Verifier:     system.Verifier{},
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.Facility == nil {
		o.Facility = system.NewFacility(system.WithLogger(o.Logger))
	}

	if o.Backend == nil {
		o.Backend = system.NewBackend(system.WithLogger(o.Logger))
	}

	s := &FSSet{
		opts: o,
		tree: tree,
	}

	s.pseudo = pseudo{
		dev:     s.directory("/dev"),
		devShm:  s.nodev(format.TypeTmpfs, "tmpfs", "/dev/shm"),
		devPts:  s.nodev(format.TypeDevPts, "devpts", "/dev/pts"),
		sysfs:   s.nodev(format.TypeSysfs, "sysfs", "/sys"),
		proc:    s.nodev(format.TypeProc, "proc", "/proc"),
		selinux: s.nodev(format.TypeSELinuxFS, "selinuxfs", "/sys/fs/selinux"),
		usb:     s.nodev(format.TypeUSBFS, "usbfs", "/proc/bus/usb"),
		run:     s.directory("/run"),
		efivars: s.nodev(format.TypeEFIVarFS, "efivarfs", "/sys/firmware/efi/efivars"),
	}

	return s
}

// directory returns a host directory bind mounted at the same path in the target.
func (s *FSSet) directory(path string) *devicetree.Device {
	return devicetree.New(path, devicetree.KindDirectory,
		devicetree.WithExists(true),
		devicetree.WithFormat(format.New(format.TypeBind,
			format.WithDevice(path),
			format.WithMountpoint(path),
			format.WithExists(true),
			format.WithFacility(s.opts.Facility),
		)),
	)
}

func (s *FSSet) nodev(typ, source, mountpoint string) *devicetree.Device {
	return devicetree.New(source, devicetree.KindNoDevice,
		devicetree.WithFormat(format.New(typ,
			format.WithDevice(source),
			format.WithMountpoint(mountpoint),
			format.WithFacility(s.opts.Facility),
		)),
	)
}

// Tree returns the device tree.
func (s *FSSet) Tree() *devicetree.Tree {
	return s.tree
}

// BlkidTab returns the blkid table read by ParseFstab, nil if unavailable.
func (s *FSSet) BlkidTab() *blkidtab.Table {
	return s.blkidTab
}

// CryptTab returns the crypttab, nil until parsed or generated.
func (s *FSSet) CryptTab() *crypttab.Table {
	return s.cryptTab
}

// PreserveLines returns fstab lines kept verbatim.
func (s *FSSet) PreserveLines() []string {
	return slices.Clone(s.preserveLines)
}

// Active returns true after a successful MountFilesystems.
func (s *FSSet) Active() bool {
	return s.active
}

// Devices returns all devices of the tree sorted by path.
func (s *FSSet) Devices() []*devicetree.Device {
	devices := s.tree.Devices()

	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})

	return devices
}

// Mountpoints returns mountable devices keyed by mountpoint.
func (s *FSSet) Mountpoints() map[string]*devicetree.Device {
	return s.tree.Mountpoints()
}

// SwapDevices returns the devices formatted as swap, sorted by path.
func (s *FSSet) SwapDevices() []*devicetree.Device {
	return xslices.Filter(s.Devices(), func(d *devicetree.Device) bool {
		return d.Format != nil && d.Format.Kind() == format.KindSwap
	})
}

// RootDevice returns the device mounted at "/" or, failing that, at the physical root.
func (s *FSSet) RootDevice() *devicetree.Device {
	devices := s.Devices()

	for _, path := range []string{"/", s.opts.PhysicalRoot} {
		for _, device := range devices {
			if device.Format != nil && device.Format.Mountpoint == path {
				return device
			}
		}
	}

	return nil
}

// AddFstabSwap includes the swap device in the fstab.
func (s *FSSet) AddFstabSwap(device *devicetree.Device) {
	if !slices.Contains(s.fstabSwaps, device) {
		s.fstabSwaps = append(s.fstabSwaps, device)
	}
}

// RemoveFstabSwap excludes the swap device from the fstab.
func (s *FSSet) RemoveFstabSwap(device *devicetree.Device) {
	s.fstabSwaps = slices.DeleteFunc(s.fstabSwaps, func(d *devicetree.Device) bool {
		return d == device
	})
}

// SetFstabSwaps replaces the set of swap devices included in the fstab.
func (s *FSSet) SetFstabSwaps(devices []*devicetree.Device) {
	s.fstabSwaps = nil

	for _, device := range devices {
		s.AddFstabSwap(device)
	}
}

// FstabSwaps returns the swap devices included in the fstab.
func (s *FSSet) FstabSwaps() []*devicetree.Device {
	return slices.Clone(s.fstabSwaps)
}

// mountpointDevices returns the devices with a mountpoint, sorted by mountpoint.
func (s *FSSet) mountpointDevices() []*devicetree.Device {
	mountpoints := s.Mountpoints()

	keys := make([]string, 0, len(mountpoints))
	for mountpoint := range mountpoints {
		keys = append(keys, mountpoint)
	}

	sort.Strings(keys)

	return xslices.Map(keys, func(mountpoint string) *devicetree.Device {
		return mountpoints[mountpoint]
	})
}

// activeDevices are the mountpoints and the swap devices.
func (s *FSSet) activeDevices() []*devicetree.Device {
	return append(s.mountpointDevices(), s.SwapDevices()...)
}

// requires returns true if one of the active devices is device or is built on top of it.
func (s *FSSet) requires(device *devicetree.Device) bool {
	return slices.ContainsFunc(s.activeDevices(), func(d *devicetree.Device) bool {
		return d == device || d.DependsOn(device)
	})
}

// candidates are the devices handled by mount and unmount, sorted by mountpoint.
func (s *FSSet) candidates() []*devicetree.Device {
	devices := append(s.activeDevices(), s.pseudo.all(s.opts.EFI)...)

	sort.SliceStable(devices, func(i, j int) bool {
		return mountpointOf(devices[i]) < mountpointOf(devices[j])
	})

	return devices
}

func mountpointOf(d *devicetree.Device) string {
	if d.Format == nil {
		return ""
	}

	return d.Format.Mountpoint
}

func hasOption(options, option string) bool {
	return slices.Contains(strings.Split(options, ","), option)
}

func deviceNames(devices []*devicetree.Device) []string {
	return xslices.Map(devices, func(d *devicetree.Device) string { return d.Name })
}
