// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package devicetree

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AttributeTable looks up probed attributes of a device path (e.g. blkid.tab).
type AttributeTable interface {
	Attribute(device, key string) (string, bool)
}

// MappingTable looks up the encrypted device behind a mapping name (e.g. crypttab).
type MappingTable interface {
	MappedDevice(name string) (*Device, bool)
}

type resolveOptions struct {
	attrs        AttributeTable
	mappings     MappingTable
	mountOptions string
}

// ResolveOption configures ResolveDevice.
type ResolveOption func(*resolveOptions)

// WithAttributeTable uses probed attributes to correlate device paths with UUIDs.
func WithAttributeTable(attrs AttributeTable) ResolveOption {
	return func(o *resolveOptions) {
		o.attrs = attrs
	}
}

// WithMappingTable resolves /dev/mapper names through encrypted mappings.
func WithMappingTable(mappings MappingTable) ResolveOption {
	return func(o *resolveOptions) {
		o.mappings = mappings
	}
}

// WithMountOptions passes mount options which may select a btrfs subvolume.
func WithMountOptions(options string) ResolveOption {
	return func(o *resolveOptions) {
		o.mountOptions = options
	}
}

// ResolveDevice finds the device matching an fstab/crypttab style spec.
//
// It returns nil if nothing matches.
func (t *Tree) ResolveDevice(spec string, opts ...ResolveOption) *Device {
	var o resolveOptions

	for _, opt := range opts {
		opt(&o)
	}

	device := t.resolveSpec(spec, &o)

	if device != nil && o.mountOptions != "" && device.Format != nil && device.Format.Type == "btrfs" {
		if subvol := t.resolveSubvolume(device, o.mountOptions); subvol != nil {
			device = subvol
		}
	}

	t.logger.Debug("resolved device spec", zap.String("spec", spec), zap.Bool("found", device != nil))

	return device
}

func (t *Tree) resolveSpec(spec string, o *resolveOptions) *Device {
	if tag, value, ok := strings.Cut(spec, "="); ok && !strings.HasPrefix(spec, "/") {
		value = strings.Trim(value, `"`)

		switch tag {
		case "UUID":
			return t.DeviceByUUID(normalizeUUID(value))
		case "LABEL":
			return t.DeviceByLabel(value)
		case "PARTUUID":
			return t.DeviceByPartUUID(normalizeUUID(value))
		case "PARTLABEL":
			return t.DeviceByPartLabel(value)
		default:
			return nil
		}
	}

	if o.attrs != nil {
		if id, ok := o.attrs.Attribute(spec, "UUID"); ok {
			if device := t.DeviceByUUID(normalizeUUID(id)); device != nil {
				return device
			}
		}
	}

	if name, ok := strings.CutPrefix(spec, "/dev/mapper/"); ok && o.mappings != nil {
		if encrypted, found := o.mappings.MappedDevice(name); found && encrypted != nil {
			if children := t.Children(encrypted); len(children) > 0 {
				return children[0]
			}
		}
	}

	if device := t.DeviceByPath(spec); device != nil {
		return device
	}

	name, ok := strings.CutPrefix(spec, "/dev/")
	if !ok {
		return t.DeviceByName(spec)
	}

	if mapped, ok := strings.CutPrefix(name, "mapper/"); ok {
		return t.DeviceByName(mapped)
	}

	if device := t.DeviceByName(name); device != nil {
		return device
	}

	// /dev/<vg>/<lv>
	if vg, lv, ok := strings.Cut(name, "/"); ok && !strings.Contains(lv, "/") {
		return t.DeviceByName(lvmName(vg, lv))
	}

	return nil
}

func (t *Tree) resolveSubvolume(volume *Device, mountOptions string) *Device {
	for _, option := range strings.Split(mountOptions, ",") {
		key, value, ok := strings.Cut(option, "=")
		if !ok {
			continue
		}

		for _, child := range t.Children(volume) {
			if child.Kind != KindBtrfsSubvolume {
				continue
			}

			switch key {
			case "subvol":
				if strings.Trim(child.Name, "/") == strings.Trim(value, "/") {
					return child
				}
			case "subvolid":
				if strconv.Itoa(child.SubvolID) == value {
					return child
				}
			}
		}
	}

	return nil
}

func normalizeUUID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}

	return id
}

func lvmName(vg, lv string) string {
	return strings.ReplaceAll(vg, "-", "--") + "-" + strings.ReplaceAll(lv, "-", "--")
}
