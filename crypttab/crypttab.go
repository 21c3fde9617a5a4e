// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package crypttab maintains the table of encrypted volume mappings (/etc/crypttab).
package crypttab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/twpayne/go-vfs/v4"
	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
)

// Path is the location of the table relative to the system root.
const Path = "/etc/crypttab"

// NoKeyFile is the key file value of mappings unlocked interactively.
const NoKeyFile = "none"

// ErrNotFound is returned by Lookup for unknown mapping names.
var ErrNotFound = errors.New("mapping not found in crypttab")

// Mapping is a single crypttab entry.
type Mapping struct {
	Name    string
	Device  *devicetree.Device
	KeyFile string
	Options string
}

// Table maps names to mappings, preserving insertion order.
//
// A nil *Table is an empty table.
type Table struct {
	logger   *zap.Logger
	mappings map[string]Mapping
	order    []string
}

// Option configures Table.
type Option func(*Table)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// New returns an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		logger:   zap.NewNop(),
		mappings: map[string]Mapping{},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Parse reads crypttab contents, resolving each device spec against the tree.
//
// Lines whose device doesn't resolve are dropped. attrs may be nil.
func Parse(r io.Reader, tree *devicetree.Tree, attrs devicetree.AttributeTable, opts ...Option) (*Table, error) {
	t := New(opts...)

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Text()

		if idx := strings.IndexByte(line, '#'); idx != -1 {
			line = line[:idx]
		}

		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields) > 4 {
			continue
		}

		for len(fields) < 4 {
			if len(fields) == 2 {
				fields = append(fields, NoKeyFile)
			} else {
				fields = append(fields, "")
			}
		}

		name, spec := fields[0], fields[1]

		var resolveOpts []devicetree.ResolveOption

		if attrs != nil {
			resolveOpts = append(resolveOpts, devicetree.WithAttributeTable(attrs))
		}

		device := tree.ResolveDevice(spec, resolveOpts...)
		if device == nil {
			t.logger.Debug("dropping crypttab entry for unknown device", zap.String("name", name), zap.String("spec", spec))

			continue
		}

		t.Set(Mapping{
			Name:    name,
			Device:  device,
			KeyFile: fields[2],
			Options: fields[3],
		})
	}

	if err := scanner.Err(); err != nil {
		return t, fmt.Errorf("failed to read crypttab: %w", err)
	}

	return t, nil
}

// Load parses the crypttab of the system mounted at chroot.
//
// A missing file yields an empty table.
func Load(filesystem vfs.FS, chroot string, tree *devicetree.Tree, attrs devicetree.AttributeTable, opts ...Option) (*Table, error) {
	path := filepath.Join("/", chroot, Path)

	f, err := filesystem.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(opts...), nil
		}

		return New(opts...), fmt.Errorf("failed to open crypttab: %w", err)
	}

	defer f.Close() //nolint:errcheck

	return Parse(f, tree, attrs, opts...)
}

// Populate builds a table from every LUKS-formatted device in the tree.
func Populate(tree *devicetree.Tree, opts ...Option) *Table {
	t := New(opts...)

	for _, device := range tree.Devices() {
		if device.Format == nil || device.Format.Kind() != format.KindLUKS {
			continue
		}

		name := device.Format.MapName
		if name == "" {
			name = "luks-" + device.Format.UUID
		}

		keyFile := device.Format.KeyFile
		if keyFile == "" {
			keyFile = NoKeyFile
		}

		t.Set(Mapping{
			Name:    name,
			Device:  device,
			KeyFile: keyFile,
			Options: device.Format.Options,
		})
	}

	return t
}

// Set adds or replaces the mapping. Replaced mappings keep their position.
func (t *Table) Set(m Mapping) {
	if _, exists := t.mappings[m.Name]; !exists {
		t.order = append(t.order, m.Name)
	}

	t.mappings[m.Name] = m
}

// Delete removes the mapping, if present.
func (t *Table) Delete(name string) {
	if t == nil {
		return
	}

	if _, exists := t.mappings[name]; !exists {
		return
	}

	delete(t.mappings, name)

	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)

			break
		}
	}
}

// Len returns the number of mappings.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.order)
}

// Names returns mapping names in insertion order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}

	return append([]string(nil), t.order...)
}

// Mappings returns all mappings in insertion order.
func (t *Table) Mappings() []Mapping {
	if t == nil {
		return nil
	}

	result := make([]Mapping, 0, len(t.order))

	for _, name := range t.order {
		result = append(result, t.mappings[name])
	}

	return result
}

// Get returns the mapping with the specified name.
func (t *Table) Get(name string) (Mapping, bool) {
	if t == nil {
		return Mapping{}, false
	}

	m, ok := t.mappings[name]

	return m, ok
}

// GetDefault returns the mapping with the specified name or def.
func (t *Table) GetDefault(name string, def Mapping) Mapping {
	if m, ok := t.Get(name); ok {
		return m
	}

	return def
}

// Lookup returns the mapping with the specified name or ErrNotFound.
func (t *Table) Lookup(name string) (Mapping, error) {
	if m, ok := t.Get(name); ok {
		return m, nil
	}

	return Mapping{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// MappedDevice implements devicetree.MappingTable.
func (t *Table) MappedDevice(name string) (*devicetree.Device, bool) {
	m, ok := t.Get(name)
	if !ok {
		return nil, false
	}

	return m.Device, true
}

// Retain keeps only the mappings for which keep returns true.
func (t *Table) Retain(keep func(Mapping) bool) {
	if t == nil {
		return
	}

	for _, name := range t.Names() {
		if !keep(t.mappings[name]) {
			t.Delete(name)
		}
	}
}

// String renders the table in crypttab format.
func (t *Table) String() string {
	var sb strings.Builder

	for _, m := range t.Mappings() {
		var id string

		if m.Device != nil && m.Device.Format != nil {
			id = m.Device.Format.UUID
		}

		fmt.Fprintf(&sb, "%s UUID=%s %s %s\n", m.Name, id, m.KeyFile, m.Options)
	}

	return sb.String()
}
