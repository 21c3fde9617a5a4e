// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package devicetree models the storage device graph of a system.
package devicetree

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Common errors.
var (
	ErrDeviceExists      = errors.New("device is already in the tree")
	ErrDeviceNotFound    = errors.New("device is not in the tree")
	ErrParentNotFound    = errors.New("parent device is not in the tree")
	ErrDeviceHasChildren = errors.New("can't remove device with children")
)

// Tree is the set of known devices.
//
// Tree is not safe for concurrent use.
type Tree struct {
	logger  *zap.Logger
	devices []*Device
}

// TreeOption configures Tree.
type TreeOption func(*Tree)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) TreeOption {
	return func(t *Tree) {
		t.logger = logger
	}
}

// NewTree returns an empty tree.
func NewTree(opts ...TreeOption) *Tree {
	t := &Tree{
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Devices returns the devices in insertion order.
func (t *Tree) Devices() []*Device {
	return slices.Clone(t.devices)
}

// Contains returns true if this very device is in the tree.
func (t *Tree) Contains(d *Device) bool {
	return slices.Contains(t.devices, d)
}

// AddDevice adds a device to the tree.
//
// All parents must already be in the tree. Names must be unique, except for
// placeholder and directory devices which may share a name.
func (t *Tree) AddDevice(d *Device) error {
	if t.Contains(d) {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.Name)
	}

	if d.Kind != KindNoDevice && d.Kind != KindDirectory {
		if other := t.DeviceByName(d.Name); other != nil {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.Name)
		}
	}

	for _, parent := range d.Parents {
		if !t.Contains(parent) {
			return fmt.Errorf("%w: %s (parent of %s)", ErrParentNotFound, parent.Name, d.Name)
		}
	}

	t.devices = append(t.devices, d)

	t.logger.Debug("added device", zap.Stringer("device", d))

	return nil
}

// RemoveDevice removes a leaf device from the tree.
func (t *Tree) RemoveDevice(d *Device) error {
	idx := slices.Index(t.devices, d)
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, d.Name)
	}

	if children := t.Children(d); len(children) > 0 {
		return fmt.Errorf("%w: %s", ErrDeviceHasChildren, d.Name)
	}

	t.devices = slices.Delete(t.devices, idx, idx+1)

	t.logger.Debug("removed device", zap.Stringer("device", d))

	return nil
}

// Children returns the devices that have d as a direct parent.
func (t *Tree) Children(d *Device) []*Device {
	var children []*Device

	for _, dev := range t.devices {
		if slices.Contains(dev.Parents, d) {
			children = append(children, dev)
		}
	}

	return children
}

func (t *Tree) find(pred func(*Device) bool) *Device {
	for _, d := range t.devices {
		if pred(d) {
			return d
		}
	}

	return nil
}

// DeviceByName returns the device with the specified name or nil.
func (t *Tree) DeviceByName(name string) *Device {
	if name == "" {
		return nil
	}

	return t.find(func(d *Device) bool { return d.Name == name })
}

// DeviceByPath returns the device with the specified path or nil.
func (t *Tree) DeviceByPath(path string) *Device {
	if path == "" {
		return nil
	}

	return t.find(func(d *Device) bool { return d.Path == path })
}

// DeviceByUUID returns the device whose format or device UUID matches (case-insensitive).
func (t *Tree) DeviceByUUID(id string) *Device {
	if id == "" {
		return nil
	}

	return t.find(func(d *Device) bool {
		return (d.Format != nil && strings.EqualFold(d.Format.UUID, id)) || strings.EqualFold(d.UUID, id)
	})
}

// DeviceByLabel returns the device whose format label matches.
func (t *Tree) DeviceByLabel(label string) *Device {
	if label == "" {
		return nil
	}

	return t.find(func(d *Device) bool { return d.Format != nil && d.Format.Label == label })
}

// DeviceByPartUUID returns the partition with the specified GPT UUID.
func (t *Tree) DeviceByPartUUID(id string) *Device {
	if id == "" {
		return nil
	}

	return t.find(func(d *Device) bool { return strings.EqualFold(d.PartUUID, id) })
}

// DeviceByPartLabel returns the partition with the specified GPT label.
func (t *Tree) DeviceByPartLabel(label string) *Device {
	if label == "" {
		return nil
	}

	return t.find(func(d *Device) bool { return d.PartLabel == label })
}

// Mountpoints returns mountable devices keyed by mountpoint.
func (t *Tree) Mountpoints() map[string]*Device {
	mountpoints := map[string]*Device{}

	for _, d := range t.devices {
		if d.Format == nil || !d.Format.Mountable() || d.Format.Mountpoint == "" {
			continue
		}

		if _, ok := mountpoints[d.Format.Mountpoint]; !ok {
			mountpoints[d.Format.Mountpoint] = d
		}
	}

	return mountpoints
}
