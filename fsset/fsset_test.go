// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package fsset_test

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
	"github.com/siderolabs/go-fsset/fsset"
	"github.com/siderolabs/go-fsset/internal/test"
)

var errBoom = errors.New("boom")

var testTime = time.Date(2024, time.March, 5, 14, 3, 7, 0, time.UTC)

// locator maps paths to device names.
type locator map[string]string

func (l locator) ContainingDeviceName(path string) (string, error) {
	if name, ok := l[path]; ok {
		return name, nil
	}

	return "", fs.ErrNotExist
}

type verifier struct {
	ok    bool
	err   error
	calls []string
}

func (v *verifier) Verify(_ context.Context, device, fstype string) (bool, error) {
	v.calls = append(v.calls, device+" "+fstype)

	return v.ok, v.err
}

type fixture struct {
	tree     *devicetree.Tree
	facility *test.Facility
	backend  *test.Backend
	locator  locator
	verifier *verifier
	fs       vfs.FS
	t        *testing.T
}

func newFixture(t *testing.T, files map[string]any) *fixture {
	t.Helper()

	if files == nil {
		files = map[string]any{}
	}

	testFS, cleanup, err := vfst.NewTestFS(files)
	require.NoError(t, err)

	t.Cleanup(cleanup)

	return &fixture{
		tree:     devicetree.NewTree(devicetree.WithLogger(zaptest.NewLogger(t))),
		facility: test.NewFacility(),
		backend:  test.NewBackend(),
		locator:  locator{},
		verifier: &verifier{},
		fs:       testFS,
		t:        t,
	}
}

// format returns an existing format which activates through the fixture facility.
func (f *fixture) format(typ string, opts ...format.Option) *format.Format {
	return format.New(typ, append([]format.Option{format.WithExists(true), format.WithFacility(f.facility)}, opts...)...)
}

// add adds an existing device to the tree.
func (f *fixture) add(name string, kind devicetree.Kind, desc *format.Format, opts ...devicetree.Option) *devicetree.Device {
	f.t.Helper()

	if desc == nil {
		desc = f.format("")
	}

	d := devicetree.New(name, kind, append([]devicetree.Option{
		devicetree.WithExists(true),
		devicetree.WithBackend(f.backend),
		devicetree.WithFormat(desc),
	}, opts...)...)

	if desc.Device == "" {
		desc.Device = d.Path
	}

	require.NoError(f.t, f.tree.AddDevice(d))

	return d
}

func (f *fixture) fsset(opts ...fsset.Option) *fsset.FSSet {
	return fsset.New(f.tree, append([]fsset.Option{
		fsset.WithLogger(zaptest.NewLogger(f.t)),
		fsset.WithFS(f.fs),
		fsset.WithFacility(f.facility),
		fsset.WithBackend(f.backend),
		fsset.WithLocator(f.locator),
		fsset.WithVerifier(f.verifier),
		fsset.WithClock(func() time.Time { return testTime }),
	}, opts...)...)
}

// system is a disk with root, swap, /var and /var/log partitions.
type system struct {
	sda, root, swap, varDev, log *devicetree.Device
}

func (f *fixture) system() system {
	sda := f.add("sda", devicetree.KindDisk, nil)

	return system{
		sda:    sda,
		root:   f.add("sda1", devicetree.KindPartition, f.format(format.TypeExt4, format.WithMountpoint("/"), format.WithUUID("1111")), devicetree.WithParents(sda)),
		swap:   f.add("sda2", devicetree.KindPartition, f.format(format.TypeSwap, format.WithUUID("2222")), devicetree.WithParents(sda)),
		varDev: f.add("sda3", devicetree.KindPartition, f.format(format.TypeXFS, format.WithMountpoint("/var")), devicetree.WithParents(sda)),
		log:    f.add("sda4", devicetree.KindPartition, f.format(format.TypeExt4, format.WithMountpoint("/var/log")), devicetree.WithParents(sda)),
	}
}

func TestViews(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	sys := f.system()

	sdb := f.add("sdb", devicetree.KindDisk, nil)
	extraSwap := f.add("sdb1", devicetree.KindPartition, f.format(format.TypeSwap), devicetree.WithParents(sdb))

	s := f.fsset()

	assert.Same(t, f.tree, s.Tree())
	assert.False(t, s.Active())
	assert.Nil(t, s.CryptTab())
	assert.Nil(t, s.BlkidTab())
	assert.Empty(t, s.PreserveLines())

	paths := make([]string, 0, len(s.Devices()))
	for _, d := range s.Devices() {
		paths = append(paths, d.Path)
	}

	assert.Equal(t, []string{"/dev/sda", "/dev/sda1", "/dev/sda2", "/dev/sda3", "/dev/sda4", "/dev/sdb", "/dev/sdb1"}, paths)

	assert.Equal(t, []*devicetree.Device{sys.swap, extraSwap}, s.SwapDevices())
	assert.Equal(t, map[string]*devicetree.Device{
		"/":        sys.root,
		"/var":     sys.varDev,
		"/var/log": sys.log,
	}, s.Mountpoints())

	assert.Same(t, sys.root, s.RootDevice())

	s.AddFstabSwap(sys.swap)
	s.AddFstabSwap(sys.swap)
	s.AddFstabSwap(extraSwap)
	assert.Equal(t, []*devicetree.Device{sys.swap, extraSwap}, s.FstabSwaps())

	s.RemoveFstabSwap(sys.swap)
	s.RemoveFstabSwap(sys.swap)
	assert.Equal(t, []*devicetree.Device{extraSwap}, s.FstabSwaps())

	s.SetFstabSwaps([]*devicetree.Device{sys.swap, sys.swap})
	assert.Equal(t, []*devicetree.Device{sys.swap}, s.FstabSwaps())
}

func TestRootDevice(t *testing.T) {
	t.Parallel()

	t.Run("physical root", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		root := f.add("sda1", devicetree.KindPartition, f.format(format.TypeXFS, format.WithMountpoint("/target")))
		f.add("sda2", devicetree.KindPartition, f.format(format.TypeXFS, format.WithMountpoint("/home")))

		assert.Same(t, root, f.fsset(fsset.WithPhysicalRoot("/target")).RootDevice())
	})

	t.Run("slash wins", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		f.add("sda1", devicetree.KindPartition, f.format(format.TypeXFS, format.WithMountpoint("/target")))
		root := f.add("sda2", devicetree.KindPartition, f.format(format.TypeXFS, format.WithMountpoint("/")))

		assert.Same(t, root, f.fsset(fsset.WithPhysicalRoot("/target")).RootDevice())
	})

	t.Run("none", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		f.add("sda1", devicetree.KindPartition, f.format(format.TypeXFS, format.WithMountpoint("/home")))

		assert.Nil(t, f.fsset().RootDevice())
	})
}

func TestDecision(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abort", fsset.Abort.String())
	assert.Equal(t, "continue", fsset.Continue.String())
	assert.Equal(t, "retry", fsset.Retry.String())
	assert.Equal(t, "Decision(7)", fsset.Decision(7).String())

	assert.Equal(t, fsset.Abort, fsset.AbortPolicy.HandleError(errBoom))
	assert.Equal(t, fsset.Continue, fsset.ContinuePolicy.HandleError(errBoom))
}

func TestTypeMismatchError(t *testing.T) {
	t.Parallel()

	err := &fsset.TypeMismatchError{Mountpoint: "/srv", Detected: "xfs", Declared: "ext4"}
	assert.EqualError(t, err, "/srv: detected as xfs, fstab says ext4")
	assert.NoError(t, errors.Unwrap(err))

	err.Err = errBoom
	assert.EqualError(t, err, "/srv: detected as xfs, fstab says ext4: boom")
	assert.ErrorIs(t, err, errBoom)
}
