// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package devicetree

import (
	"context"
	"fmt"

	"github.com/siderolabs/go-fsset/format"
)

// Backend brings devices up and down on the running system.
type Backend interface {
	Setup(ctx context.Context, d *Device) error
	Teardown(ctx context.Context, d *Device) error
	Create(ctx context.Context, d *Device) error
}

// NopBackend treats every device as already present and active.
type NopBackend struct{}

// Setup implements Backend.
func (NopBackend) Setup(context.Context, *Device) error { return nil }

// Teardown implements Backend.
func (NopBackend) Teardown(context.Context, *Device) error { return nil }

// Create implements Backend.
func (NopBackend) Create(context.Context, *Device) error { return nil }

// Device is a storage device (or a placeholder for a virtual one).
type Device struct { //nolint:govet
	Name    string
	Path    string
	Kind    Kind
	Parents []*Device
	Format  *format.Format
	Size    uint64
	Exists  bool

	// UUID of the device itself (MD array UUID, LUKS header UUID).
	UUID      string
	PartUUID  string
	PartLabel string

	// Metadata is the MD metadata version of container arrays.
	Metadata string
	// SubvolID is the btrfs subvolume ID.
	SubvolID int

	// FstabComment is written out as a comment before the fstab entry.
	FstabComment string

	Backend Backend

	active bool
}

// Option configures a Device.
type Option func(*Device)

// WithPath overrides the default device path.
func WithPath(path string) Option {
	return func(d *Device) {
		d.Path = path
	}
}

// WithParents sets the parent devices.
func WithParents(parents ...*Device) Option {
	return func(d *Device) {
		d.Parents = parents
	}
}

// WithFormat sets the device format.
func WithFormat(f *format.Format) Option {
	return func(d *Device) {
		d.Format = f
	}
}

// WithSize sets the device size in bytes.
func WithSize(size uint64) Option {
	return func(d *Device) {
		d.Size = size
	}
}

// WithExists marks the device as present on the system.
func WithExists(exists bool) Option {
	return func(d *Device) {
		d.Exists = exists
	}
}

// WithUUID sets the device UUID.
func WithUUID(id string) Option {
	return func(d *Device) {
		d.UUID = id
	}
}

// WithPartition sets GPT partition UUID and label.
func WithPartition(partUUID, partLabel string) Option {
	return func(d *Device) {
		d.PartUUID = partUUID
		d.PartLabel = partLabel
	}
}

// WithMetadata sets the MD metadata version.
func WithMetadata(metadata string) Option {
	return func(d *Device) {
		d.Metadata = metadata
	}
}

// WithSubvolID sets the btrfs subvolume ID.
func WithSubvolID(id int) Option {
	return func(d *Device) {
		d.SubvolID = id
	}
}

// WithBackend sets the device backend.
func WithBackend(b Backend) Option {
	return func(d *Device) {
		d.Backend = b
	}
}

// New returns a new device.
//
// If no path is given, the path is derived from the kind and the name.
func New(name string, kind Kind, opts ...Option) *Device {
	d := &Device{
		Name: name,
		Kind: kind,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.Format == nil {
		d.Format = format.New("")
	}

	if d.Path == "" {
		d.Path = defaultPath(d)
	}

	return d
}

func defaultPath(d *Device) string {
	switch d.Kind { //nolint:exhaustive
	case KindLUKS, KindMultipath, KindLVMLogicalVolume:
		return "/dev/mapper/" + d.Name
	case KindMDArray, KindMDContainer:
		return "/dev/md/" + d.Name
	case KindBtrfsVolume, KindBtrfsSubvolume:
		if len(d.Parents) > 0 {
			return d.Parents[0].Path
		}

		return "/dev/" + d.Name
	case KindNFS, KindFile, KindDirectory, KindNoDevice:
		return d.Name
	default:
		return "/dev/" + d.Name
	}
}

// String implements fmt.Stringer.
func (d *Device) String() string {
	return fmt.Sprintf("%s %s (%s)", d.Kind, d.Name, d.Path)
}

// DependsOn returns true if d is built (directly or indirectly) on top of other.
func (d *Device) DependsOn(other *Device) bool {
	for _, parent := range d.Parents {
		if parent == other || parent.DependsOn(other) {
			return true
		}
	}

	return false
}

// Encrypted returns true if the device or any of its ancestors is a LUKS mapping.
func (d *Device) Encrypted() bool {
	if d.Kind == KindLUKS {
		return true
	}

	for _, parent := range d.Parents {
		if parent.Encrypted() {
			return true
		}
	}

	return false
}

// IsNetworkStorage returns true for devices reached over the network.
func (d *Device) IsNetworkStorage() bool {
	return d.Kind == KindNFS || d.Kind == KindISCSI
}

// DependsOnNetworkStorage returns true if the device or any ancestor is network storage.
func (d *Device) DependsOnNetworkStorage() bool {
	if d.IsNetworkStorage() {
		return true
	}

	for _, parent := range d.Parents {
		if parent.DependsOnNetworkStorage() {
			return true
		}
	}

	return false
}

// IsRAIDArray returns true for MD arrays and containers.
func (d *Device) IsRAIDArray() bool {
	return d.Kind == KindMDArray || d.Kind == KindMDContainer
}

// FstabSpec returns the device spec used in fstab.
func (d *Device) FstabSpec() string {
	switch d.Kind { //nolint:exhaustive
	case KindNFS, KindDirectory:
		return d.Path
	case KindFile:
		return d.Name
	case KindNoDevice:
		if d.Format != nil && d.Format.Device != "" {
			return d.Format.Device
		}

		return d.Name
	}

	if d.Format != nil && d.Format.UUID != "" {
		return "UUID=" + d.Format.UUID
	}

	return d.Path
}

// MdadmConfEntry returns the mdadm.conf ARRAY line for the device.
//
// It returns an empty string for non-RAID devices.
func (d *Device) MdadmConfEntry() string {
	switch d.Kind { //nolint:exhaustive
	case KindMDContainer:
		return fmt.Sprintf("ARRAY %s metadata=%s UUID=%s\n", d.Path, d.Metadata, d.UUID)
	case KindMDArray:
		for _, parent := range d.Parents {
			if parent.Kind == KindMDContainer {
				return fmt.Sprintf("ARRAY %s container=%s UUID=%s\n", d.Path, parent.Path, d.UUID)
			}
		}

		return fmt.Sprintf("ARRAY %s UUID=%s\n", d.Path, d.UUID)
	default:
		return ""
	}
}

func (d *Device) backend() Backend {
	if d.Backend == nil {
		return NopBackend{}
	}

	return d.Backend
}

// Status returns true if the device is active.
func (d *Device) Status() bool {
	return d.active
}

// Setup activates the device, bringing up its parents first.
func (d *Device) Setup(ctx context.Context) error {
	if d.active {
		return nil
	}

	for _, parent := range d.Parents {
		if err := parent.Setup(ctx); err != nil {
			return fmt.Errorf("failed to set up parent %q of %q: %w", parent.Name, d.Name, err)
		}
	}

	if err := d.backend().Setup(ctx, d); err != nil {
		return fmt.Errorf("failed to set up %q: %w", d.Name, err)
	}

	d.active = true

	return nil
}

// Teardown deactivates the device. Parents are left as is.
func (d *Device) Teardown(ctx context.Context) error {
	if !d.active {
		return nil
	}

	if err := d.backend().Teardown(ctx, d); err != nil {
		return fmt.Errorf("failed to tear down %q: %w", d.Name, err)
	}

	d.active = false

	return nil
}

// Create creates the device on the system.
func (d *Device) Create(ctx context.Context) error {
	if d.Exists {
		return nil
	}

	for _, parent := range d.Parents {
		if err := parent.Setup(ctx); err != nil {
			return fmt.Errorf("failed to set up parent %q of %q: %w", parent.Name, d.Name, err)
		}
	}

	if err := d.backend().Create(ctx, d); err != nil {
		return fmt.Errorf("failed to create %q: %w", d.Name, err)
	}

	d.Exists = true

	return nil
}
