// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/encryption"
	"github.com/siderolabs/go-fsset/encryption/luks"
)

// ErrNoParent is returned when a stacked device has no underlying device.
var ErrNoParent = errors.New("device has no parent")

// Backend implements devicetree.Backend: dm-crypt mappings via cryptsetup,
// MD arrays via mdadm, and swap file allocation.
//
// Other kinds of devices are expected to be present already.
type Backend struct {
	opts Options
	luks *luks.LUKS
}

var _ devicetree.Backend = (*Backend)(nil)

// NewBackend returns the backend for the running system.
func NewBackend(opts ...Option) *Backend {
	options := applyOptions(opts...)

	return &Backend{
		opts: options,
		luks: luks.New(luks.AESXTSPlain64Cipher,
			luks.WithLogger(options.Logger),
			luks.WithRunner(options.Runner),
			luks.WithMapperDir(options.MapperDir),
		),
	}
}

// Setup implements devicetree.Backend.
func (b *Backend) Setup(ctx context.Context, d *devicetree.Device) error {
	switch d.Kind { //nolint:exhaustive
	case devicetree.KindLUKS:
		return b.openLUKS(ctx, d)
	case devicetree.KindMDArray, devicetree.KindMDContainer:
		return b.assembleMD(ctx, d)
	case devicetree.KindFile:
		if _, err := os.Stat(d.Path); err != nil {
			return fmt.Errorf("error accessing file device: %w", err)
		}

		return nil
	default:
		return nil
	}
}

// Teardown implements devicetree.Backend.
func (b *Backend) Teardown(ctx context.Context, d *devicetree.Device) error {
	switch d.Kind { //nolint:exhaustive
	case devicetree.KindLUKS:
		if !b.luks.IsOpen(d.Name) {
			return nil
		}

		return b.luks.Close(ctx, d.Name)
	case devicetree.KindMDArray, devicetree.KindMDContainer:
		if _, err := os.Stat(d.Path); errors.Is(err, os.ErrNotExist) {
			return nil
		}

		_, err := b.opts.Runner(ctx, nil, "mdadm", "--stop", d.Path)

		return err
	default:
		return nil
	}
}

// Create implements devicetree.Backend.
//
// Only file devices can be created; the file is fully allocated, as swap can't live on sparse files.
func (b *Backend) Create(_ context.Context, d *devicetree.Device) error {
	if d.Kind != devicetree.KindFile {
		return fmt.Errorf("creating %s devices is not supported", d.Kind)
	}

	f, err := os.OpenFile(d.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	if d.Size > 0 {
		if err = unix.Fallocate(int(f.Fd()), 0, 0, int64(d.Size)); err != nil {
			f.Close()         //nolint:errcheck
			os.Remove(d.Path) //nolint:errcheck

			return fmt.Errorf("error allocating %d bytes for %q: %w", d.Size, d.Path, err)
		}
	}

	return f.Close()
}

func (b *Backend) openLUKS(ctx context.Context, d *devicetree.Device) error {
	if len(d.Parents) == 0 {
		return fmt.Errorf("%w: %s", ErrNoParent, d.Name)
	}

	if b.luks.IsOpen(d.Name) {
		return nil
	}

	parent := d.Parents[0]
	header := parent.Format

	key := &encryption.Key{
		File:  header.KeyFile,
		Value: header.Passphrase,
		Slot:  encryption.AnyKeyslot,
	}

	var options []string

	if header.Options != "" {
		options = strings.Split(header.Options, ",")
	}

	b.opts.Logger.Debug("opening LUKS mapping", zap.String("device", parent.Path), zap.String("name", d.Name))

	_, err := b.luks.Open(ctx, parent.Path, d.Name, key, options)

	return err
}

func (b *Backend) assembleMD(ctx context.Context, d *devicetree.Device) error {
	if _, err := os.Stat(d.Path); err == nil {
		return nil
	}

	args := []string{"--assemble", d.Path}

	if d.UUID != "" {
		args = append(args, "--uuid="+d.UUID)
	}

	for _, parent := range d.Parents {
		args = append(args, parent.Path)
	}

	_, err := b.opts.Runner(ctx, nil, "mdadm", args...)

	return err
}
