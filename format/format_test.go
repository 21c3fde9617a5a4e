// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package format_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-fsset/format"
	"github.com/siderolabs/go-fsset/internal/test"
)

func TestCapabilities(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		typ string

		kind          format.Kind
		mountType     string
		mountable     bool
		check         bool
		dump          int
		probeable     bool
		hasMountpoint bool
	}{
		{typ: "ext4", kind: format.KindFilesystem, mountType: "ext4", mountable: true, check: true, dump: 1, probeable: true, hasMountpoint: true},
		{typ: "xfs", kind: format.KindFilesystem, mountType: "xfs", mountable: true, probeable: true, hasMountpoint: true},
		{typ: "efi", kind: format.KindFilesystem, mountType: "vfat", mountable: true, check: true, probeable: true, hasMountpoint: true},
		{typ: "swap", kind: format.KindSwap, mountType: "swap"},
		{typ: "luks", kind: format.KindLUKS, mountType: "luks"},
		{typ: "bind", kind: format.KindBind, mountType: "bind", mountable: true, hasMountpoint: true},
		{typ: "tmpfs", kind: format.KindNoDev, mountType: "tmpfs", mountable: true, hasMountpoint: true},
		{typ: "nfs4", kind: format.KindNetwork, mountType: "nfs4", mountable: true, hasMountpoint: true},
		{typ: "auto", kind: format.KindUnknown},
		{typ: "cifs", kind: format.KindUnknown},
	} {
		tc := tc
		t.Run(tc.typ, func(t *testing.T) {
			t.Parallel()

			f := format.New(tc.typ)

			assert.Equal(t, tc.kind, f.Kind())
			assert.Equal(t, tc.mountType, f.MountType())
			assert.Equal(t, tc.mountable, f.Mountable())
			assert.Equal(t, tc.check, f.Check())
			assert.Equal(t, tc.dump, f.Dump())
			assert.Equal(t, tc.probeable, f.Probeable())
			assert.Equal(t, tc.hasMountpoint, f.HasMountpoint())

			if tc.kind == format.KindUnknown {
				assert.Empty(t, f.Type)
			} else {
				assert.Equal(t, tc.typ, f.Type)
			}
		})
	}
}

func TestSetupTeardown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("filesystem", func(t *testing.T) {
		t.Parallel()

		facility := test.NewFacility()

		f := format.New("efi",
			format.WithDevice("/dev/sda1"),
			format.WithMountpoint("/boot/efi"),
			format.WithFacility(facility),
		)

		require.NoError(t, f.Setup(ctx, format.SetupOptions{Chroot: "/mnt/sysroot"}))
		assert.True(t, f.Status())
		assert.Equal(t, "/mnt/sysroot/boot/efi", f.Target())

		// already active
		require.NoError(t, f.Setup(ctx, format.SetupOptions{Chroot: "/mnt/sysroot"}))

		require.NoError(t, f.Teardown(ctx))
		assert.False(t, f.Status())

		assert.Equal(t, []string{
			"mount /dev/sda1 /mnt/sysroot/boot/efi vfat defaults",
			"umount /mnt/sysroot/boot/efi",
		}, facility.Calls)
	})

	t.Run("options override", func(t *testing.T) {
		t.Parallel()

		facility := test.NewFacility()

		f := format.New("ext4",
			format.WithDevice("/dev/sda2"),
			format.WithMountpoint("/"),
			format.WithOptions("noatime"),
			format.WithFacility(facility),
		)

		require.NoError(t, f.Setup(ctx, format.SetupOptions{Options: "noatime,ro"}))

		assert.Equal(t, []string{"mount /dev/sda2 / ext4 noatime,ro"}, facility.Calls)
	})

	t.Run("bind", func(t *testing.T) {
		t.Parallel()

		facility := test.NewFacility()

		host := format.New("bind", format.WithDevice("/dev"), format.WithMountpoint("/dev"), format.WithFacility(facility))
		target := format.New("bind",
			format.WithDevice("/srv/data"),
			format.WithMountpoint("/data"),
			format.WithBindFromChroot(true),
			format.WithFacility(facility),
		)

		require.NoError(t, host.Setup(ctx, format.SetupOptions{Chroot: "/mnt/sysroot"}))
		require.NoError(t, target.Setup(ctx, format.SetupOptions{Chroot: "/mnt/sysroot"}))

		assert.Equal(t, []string{
			"mount /dev /mnt/sysroot/dev bind defaults",
			"mount /mnt/sysroot/srv/data /mnt/sysroot/data bind defaults",
		}, facility.Calls)
	})

	t.Run("swap", func(t *testing.T) {
		t.Parallel()

		facility := test.NewFacility()

		f := format.New("swap", format.WithDevice("/dev/sda3"), format.WithFacility(facility))

		require.NoError(t, f.Setup(ctx, format.SetupOptions{}))
		require.NoError(t, f.Teardown(ctx))

		assert.Equal(t, []string{"swapon /dev/sda3", "swapoff /dev/sda3"}, facility.Calls)
	})

	t.Run("swap failure", func(t *testing.T) {
		t.Parallel()

		facility := test.NewFacility()
		facility.FailWith("swapon /dev/sda3", &format.SwapError{Device: "/dev/sda3", Reason: format.SwapSuspend})

		f := format.New("swap", format.WithDevice("/dev/sda3"), format.WithFacility(facility))

		err := f.Setup(ctx, format.SetupOptions{})
		require.Error(t, err)
		assert.True(t, format.IsSwapError(err))
		assert.False(t, f.Status())
	})

	t.Run("mount failure", func(t *testing.T) {
		t.Parallel()

		facility := test.NewFacility()
		facility.FailWith("mount /dev/sda2 /mnt/sysroot xfs defaults", errors.New("boom"))

		f := format.New("xfs", format.WithDevice("/dev/sda2"), format.WithMountpoint("/"), format.WithFacility(facility))

		err := f.Setup(ctx, format.SetupOptions{Chroot: "/mnt/sysroot"})
		require.Error(t, err)
		assert.False(t, format.IsSwapError(err))
		assert.False(t, f.Status())
	})

	t.Run("not activatable", func(t *testing.T) {
		t.Parallel()

		f := format.New("luks", format.WithFacility(test.NewFacility()))

		require.ErrorIs(t, f.Setup(ctx, format.SetupOptions{}), format.ErrNotActivatable)
	})

	t.Run("no facility", func(t *testing.T) {
		t.Parallel()

		f := format.New("ext4", format.WithMountpoint("/"))

		require.ErrorIs(t, f.Setup(ctx, format.SetupOptions{}), format.ErrNoFacility)
	})

	t.Run("no mountpoint", func(t *testing.T) {
		t.Parallel()

		f := format.New("ext4", format.WithFacility(test.NewFacility()))

		require.ErrorIs(t, f.Setup(ctx, format.SetupOptions{}), format.ErrNoMountpoint)
	})
}

func TestCreate(t *testing.T) {
	t.Parallel()

	facility := test.NewFacility()

	f := format.New("swap", format.WithDevice("/mnt/sysroot/SWAP"), format.WithFacility(facility))

	require.NoError(t, f.Create(context.Background()))

	assert.True(t, f.Exists)

	_, err := uuid.Parse(f.UUID)
	require.NoError(t, err)

	assert.Equal(t, []string{"mkswap /mnt/sysroot/SWAP"}, facility.Calls)

	require.ErrorIs(t, format.New("xfs").Create(context.Background()), format.ErrCreateNotSupported)
}

func TestSwapError(t *testing.T) {
	t.Parallel()

	inner := errors.New("exit status 255")
	err := error(&format.SwapError{Device: "/dev/sda3", Reason: format.SwapPageSize, Err: inner})

	assert.EqualError(t, err, "swap /dev/sda3: page size mismatch: exit status 255")
	assert.ErrorIs(t, err, inner)
	assert.True(t, format.IsSwapError(err))
	assert.False(t, format.IsSwapError(inner))
}
