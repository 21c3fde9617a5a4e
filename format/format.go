// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package format describes device formats (filesystems, swap, encryption headers,
// virtual filesystems) and their activation on the running system.
package format

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrNoFacility         = errors.New("no system facility configured for format")
	ErrNotActivatable     = errors.New("format can't be activated")
	ErrNoMountpoint       = errors.New("format has no mountpoint")
	ErrCreateNotSupported = errors.New("creating format is not supported")
)

// Facility performs the system calls needed to activate formats.
type Facility interface {
	// Mount mounts source on target. Target directory is created if missing.
	Mount(ctx context.Context, source, target, fstype, options string) error
	// Unmount unmounts target.
	Unmount(ctx context.Context, target string) error
	// SwapOn activates swap space on device. Failures are reported as *SwapError.
	SwapOn(ctx context.Context, device, options string) error
	// SwapOff deactivates swap space on device.
	SwapOff(ctx context.Context, device string) error
	// MkSwap writes swap signature to device.
	MkSwap(ctx context.Context, device, uuid, label string) error
	// DeviceNumber returns the device number of the device node at path.
	DeviceNumber(path string) (uint64, error)
	// MakeNode creates a block device node with the given device number.
	MakeNode(path string, devNo uint64) error
}

// Format is a format of a device.
//
// Type is empty when the format is indeterminate (unrecognized type or "auto").
type Format struct { //nolint:govet
	Type       string
	Device     string
	Mountpoint string
	Options    string
	UUID       string
	Label      string
	Exists     bool

	// MapName and KeyFile are only used by LUKS formats.
	MapName    string
	KeyFile    string
	Passphrase []byte

	// BindFromChroot resolves the bind source relative to the setup chroot.
	BindFromChroot bool

	facility Facility
	active   bool
	target   string
}

// Option configures Format.
type Option func(*Format)

// WithDevice sets the device node (or source) of the format.
func WithDevice(device string) Option {
	return func(f *Format) {
		f.Device = device
	}
}

// WithMountpoint sets the mountpoint.
func WithMountpoint(mountpoint string) Option {
	return func(f *Format) {
		f.Mountpoint = mountpoint
	}
}

// WithOptions sets mount (or crypttab) options.
func WithOptions(options string) Option {
	return func(f *Format) {
		f.Options = options
	}
}

// WithUUID sets the format UUID.
func WithUUID(id string) Option {
	return func(f *Format) {
		f.UUID = id
	}
}

// WithLabel sets the format label.
func WithLabel(label string) Option {
	return func(f *Format) {
		f.Label = label
	}
}

// WithExists marks the format as already present on the device.
func WithExists(exists bool) Option {
	return func(f *Format) {
		f.Exists = exists
	}
}

// WithMapName sets the device-mapper name of a LUKS format.
func WithMapName(name string) Option {
	return func(f *Format) {
		f.MapName = name
	}
}

// WithKeyFile sets the key file of a LUKS format.
func WithKeyFile(keyFile string) Option {
	return func(f *Format) {
		f.KeyFile = keyFile
	}
}

// WithBindFromChroot resolves bind sources inside the setup chroot.
func WithBindFromChroot(v bool) Option {
	return func(f *Format) {
		f.BindFromChroot = v
	}
}

// WithFacility sets the facility used to activate the format.
func WithFacility(facility Facility) Option {
	return func(f *Format) {
		f.facility = facility
	}
}

// New returns a format of the specified type.
//
// Unknown types (including "auto") produce an indeterminate format.
func New(typ string, opts ...Option) *Format {
	f := &Format{}

	if Known(typ) {
		f.Type = typ
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Kind returns the class of the format.
func (f *Format) Kind() Kind {
	return registry[f.Type].kind
}

// MountType returns the filesystem type passed to mount.
func (f *Format) MountType() string {
	return MountType(f.Type)
}

// Mountable returns true if the format can be mounted.
func (f *Format) Mountable() bool {
	switch f.Kind() { //nolint:exhaustive
	case KindFilesystem, KindBind, KindNoDev, KindNetwork:
		return true
	default:
		return false
	}
}

// HasMountpoint returns true if the format carries a mountpoint attribute.
func (f *Format) HasMountpoint() bool {
	return f.Mountable()
}

// Check returns true if the format should be checked by fsck on boot.
func (f *Format) Check() bool {
	return registry[f.Type].check
}

// Dump returns the dump(8) frequency of the format.
func (f *Format) Dump() int {
	if registry[f.Type].dump {
		return 1
	}

	return 0
}

// Probeable returns true if the format type can be confirmed by probing the device.
func (f *Format) Probeable() bool {
	return registry[f.Type].probe
}

// Facility returns the facility used to activate the format.
func (f *Format) Facility() Facility {
	return f.facility
}

// Status returns true if the format is active.
func (f *Format) Status() bool {
	return f.active
}

// Target returns the path the format is mounted on, if mounted.
func (f *Format) Target() string {
	return f.target
}

// SetupOptions are passed to Setup.
type SetupOptions struct {
	// Options overrides the format options.
	Options string
	// Chroot is prepended to the mountpoint.
	Chroot string
}

// Setup activates the format: mounts filesystems, enables swap.
func (f *Format) Setup(ctx context.Context, opts SetupOptions) error {
	if f.active {
		return nil
	}

	if f.facility == nil {
		return ErrNoFacility
	}

	options := opts.Options
	if options == "" {
		options = f.Options
	}

	if options == "" {
		options = "defaults"
	}

	switch f.Kind() { //nolint:exhaustive
	case KindSwap:
		if err := f.facility.SwapOn(ctx, f.Device, options); err != nil {
			return err
		}
	case KindFilesystem, KindNoDev, KindNetwork, KindBind:
		if f.Mountpoint == "" {
			return ErrNoMountpoint
		}

		target := filepath.Join("/", opts.Chroot, f.Mountpoint)

		source := f.Device
		if f.Kind() == KindBind && f.BindFromChroot {
			source = filepath.Join("/", opts.Chroot, f.Device)
		}

		if err := f.facility.Mount(ctx, source, target, f.MountType(), options); err != nil {
			return fmt.Errorf("failed to mount %q on %q: %w", source, target, err)
		}

		f.target = target
	default:
		return fmt.Errorf("%w: %q", ErrNotActivatable, f.Type)
	}

	f.active = true

	return nil
}

// Teardown deactivates the format.
func (f *Format) Teardown(ctx context.Context) error {
	if !f.active {
		return nil
	}

	if f.facility == nil {
		return ErrNoFacility
	}

	if f.Kind() == KindSwap {
		if err := f.facility.SwapOff(ctx, f.Device); err != nil {
			return fmt.Errorf("failed to deactivate swap %q: %w", f.Device, err)
		}
	} else {
		if err := f.facility.Unmount(ctx, f.target); err != nil {
			return fmt.Errorf("failed to unmount %q: %w", f.target, err)
		}
	}

	f.active = false
	f.target = ""

	return nil
}

// Create writes the format to the device.
//
// Only swap can be created.
func (f *Format) Create(ctx context.Context) error {
	if f.Kind() != KindSwap {
		return fmt.Errorf("%w: %q", ErrCreateNotSupported, f.Type)
	}

	if f.facility == nil {
		return ErrNoFacility
	}

	if f.UUID == "" {
		f.UUID = uuid.NewString()
	}

	if err := f.facility.MkSwap(ctx, f.Device, f.UUID, f.Label); err != nil {
		return fmt.Errorf("failed to create swap on %q: %w", f.Device, err)
	}

	f.Exists = true

	return nil
}
