// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package devicetree

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/siderolabs/go-fsset/format"
)

// Description is the YAML description of a device tree.
type Description struct {
	Devices []DeviceDescription `yaml:"devices"`
}

// DeviceDescription describes a single device.
type DeviceDescription struct {
	Name      string             `yaml:"name"`
	Kind      string             `yaml:"kind"`
	Path      string             `yaml:"path,omitempty"`
	Parents   []string           `yaml:"parents,omitempty"`
	Size      uint64             `yaml:"size,omitempty"`
	Exists    *bool              `yaml:"exists,omitempty"`
	UUID      string             `yaml:"uuid,omitempty"`
	PartUUID  string             `yaml:"partuuid,omitempty"`
	PartLabel string             `yaml:"partlabel,omitempty"`
	Metadata  string             `yaml:"metadata,omitempty"`
	SubvolID  int                `yaml:"subvolid,omitempty"`
	Comment   string             `yaml:"comment,omitempty"`
	Format    *FormatDescription `yaml:"format,omitempty"`
}

// FormatDescription describes a device format.
type FormatDescription struct {
	Type       string `yaml:"type"`
	UUID       string `yaml:"uuid,omitempty"`
	Label      string `yaml:"label,omitempty"`
	Mountpoint string `yaml:"mountpoint,omitempty"`
	Options    string `yaml:"options,omitempty"`
	MapName    string `yaml:"mapname,omitempty"`
	KeyFile    string `yaml:"keyfile,omitempty"`
}

type loadOptions struct {
	logger   *zap.Logger
	facility format.Facility
	backend  Backend
}

// LoadOption configures LoadYAML.
type LoadOption func(*loadOptions)

// LoadWithLogger sets the logger of the loaded tree.
func LoadWithLogger(logger *zap.Logger) LoadOption {
	return func(o *loadOptions) {
		o.logger = logger
	}
}

// LoadWithFacility sets the facility of every loaded format.
func LoadWithFacility(facility format.Facility) LoadOption {
	return func(o *loadOptions) {
		o.facility = facility
	}
}

// LoadWithBackend sets the backend of every loaded device.
func LoadWithBackend(backend Backend) LoadOption {
	return func(o *loadOptions) {
		o.backend = backend
	}
}

// LoadYAML builds a tree from a YAML description.
//
// Parents must be listed before their children.
func LoadYAML(r io.Reader, opts ...LoadOption) (*Tree, error) {
	o := loadOptions{
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var desc Description

	if err := dec.Decode(&desc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode device tree description: %w", err)
	}

	tree := NewTree(WithLogger(o.logger))

	for _, dd := range desc.Devices {
		device, err := dd.build(tree, &o)
		if err != nil {
			return nil, err
		}

		if err = tree.AddDevice(device); err != nil {
			return nil, err
		}
	}

	return tree, nil
}

func (dd *DeviceDescription) build(tree *Tree, o *loadOptions) (*Device, error) {
	kind, err := ParseKind(dd.Kind)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", dd.Name, err)
	}

	parents := make([]*Device, 0, len(dd.Parents))

	for _, name := range dd.Parents {
		parent := tree.DeviceByName(name)
		if parent == nil {
			return nil, fmt.Errorf("device %q: %w: %s", dd.Name, ErrParentNotFound, name)
		}

		parents = append(parents, parent)
	}

	exists := true
	if dd.Exists != nil {
		exists = *dd.Exists
	}

	device := New(dd.Name, kind,
		WithPath(dd.Path),
		WithParents(parents...),
		WithSize(dd.Size),
		WithExists(exists),
		WithUUID(dd.UUID),
		WithPartition(dd.PartUUID, dd.PartLabel),
		WithMetadata(dd.Metadata),
		WithSubvolID(dd.SubvolID),
		WithBackend(o.backend),
	)

	device.FstabComment = dd.Comment

	if dd.Format != nil {
		device.Format = format.New(dd.Format.Type,
			format.WithDevice(device.Path),
			format.WithUUID(dd.Format.UUID),
			format.WithLabel(dd.Format.Label),
			format.WithMountpoint(dd.Format.Mountpoint),
			format.WithOptions(dd.Format.Options),
			format.WithMapName(dd.Format.MapName),
			format.WithKeyFile(dd.Format.KeyFile),
			format.WithExists(exists),
			format.WithFacility(o.facility),
		)
	} else {
		device.Format = format.New("", format.WithDevice(device.Path), format.WithFacility(o.facility))
	}

	return device, nil
}
