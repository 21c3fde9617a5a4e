// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package blkidtab parses the blkid cache file of an installed system.
//
// Each meaningful line looks like:
//
//	<device DEVNO="0x0801" LABEL="root" UUID="2f7a..." TYPE="ext4">/dev/sda1</device>
package blkidtab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/twpayne/go-vfs/v4"
	"go.uber.org/zap"
)

// Path is the location of the table relative to the system root.
const Path = "/etc/blkid/blkid.tab"

// ErrNotFound is returned by Lookup for unknown devices and attributes.
var ErrNotFound = errors.New("not found in blkid table")

const (
	linePrefix = "<device "
	lineSuffix = "</device>"
)

// Entry holds the attributes of a single device.
type Entry map[string]string

// Get returns the attribute value.
func (e Entry) Get(key string) (string, bool) {
	v, ok := e[key]

	return v, ok
}

// GetDefault returns the attribute value or def if the attribute is absent.
func (e Entry) GetDefault(key, def string) string {
	if v, ok := e[key]; ok {
		return v
	}

	return def
}

// Lookup returns the attribute value or ErrNotFound.
func (e Entry) Lookup(key string) (string, error) {
	if v, ok := e[key]; ok {
		return v, nil
	}

	return "", fmt.Errorf("%w: attribute %q", ErrNotFound, key)
}

// Table is the parsed blkid cache indexed by device path.
//
// A nil *Table is an empty table.
type Table struct {
	entries map[string]Entry
	order   []string
}

// Parse reads the table contents from r.
func Parse(r io.Reader) (*Table, error) {
	t := &Table{
		entries: map[string]Entry{},
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		t.parseLine(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return t, fmt.Errorf("failed to read blkid table: %w", err)
	}

	return t, nil
}

func (t *Table) parseLine(line string) {
	line = strings.TrimSpace(line)

	if !strings.HasPrefix(line, linePrefix) || !strings.HasSuffix(line, lineSuffix) {
		return
	}

	line = strings.TrimSuffix(strings.TrimPrefix(line, linePrefix), lineSuffix)

	data, device, ok := strings.Cut(line, ">")
	if !ok || device == "" {
		return
	}

	entry := Entry{}

	for _, token := range splitTokens(data) {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			continue
		}

		entry[key] = unquote(value)
	}

	if _, exists := t.entries[device]; !exists {
		t.order = append(t.order, device)
	}

	t.entries[device] = entry
}

// splitTokens splits on whitespace outside of double quotes.
func splitTokens(s string) []string {
	var (
		tokens  []string
		current strings.Builder
		quoted  bool
	)

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted

			current.WriteRune(r)
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			current.WriteRune(r)
		}
	}

	flush()

	return tokens
}

func unquote(value string) string {
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		return value[1 : len(value)-1]
	}

	return value
}

// Option configures Load.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Load parses the table of the system mounted at chroot.
//
// A missing file yields an empty table. If the file can't be read, an empty
// table is returned along with the error.
func Load(filesystem vfs.FS, chroot string, opts ...Option) (*Table, error) {
	o := options{
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	path := filepath.Join("/", chroot, Path)

	f, err := filesystem.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			o.logger.Debug("no blkid table", zap.String("path", path))

			return &Table{entries: map[string]Entry{}}, nil
		}

		return &Table{entries: map[string]Entry{}}, fmt.Errorf("failed to open blkid table: %w", err)
	}

	defer f.Close() //nolint:errcheck

	t, err := Parse(f)
	if err != nil {
		return &Table{entries: map[string]Entry{}}, err
	}

	o.logger.Debug("parsed blkid table", zap.String("path", path), zap.Int("devices", t.Len()))

	return t, nil
}

// Len returns the number of devices in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.order)
}

// Devices returns the device paths in the order they first appeared.
func (t *Table) Devices() []string {
	if t == nil {
		return nil
	}

	return append([]string(nil), t.order...)
}

// Get returns the entry for the device.
func (t *Table) Get(device string) (Entry, bool) {
	if t == nil {
		return nil, false
	}

	e, ok := t.entries[device]

	return e, ok
}

// GetDefault returns the entry for the device or def if it's missing.
func (t *Table) GetDefault(device string, def Entry) Entry {
	if e, ok := t.Get(device); ok {
		return e
	}

	return def
}

// Lookup returns the entry for the device or ErrNotFound.
func (t *Table) Lookup(device string) (Entry, error) {
	if e, ok := t.Get(device); ok {
		return e, nil
	}

	return nil, fmt.Errorf("%w: device %q", ErrNotFound, device)
}

// Attribute returns a single attribute of the device.
func (t *Table) Attribute(device, key string) (string, bool) {
	e, ok := t.Get(device)
	if !ok {
		return "", false
	}

	return e.Get(key)
}
