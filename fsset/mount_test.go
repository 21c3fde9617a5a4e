// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package fsset_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
	"github.com/siderolabs/go-fsset/fsset"
)

func TestMountFilesystems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.system()

	s := f.fsset()

	require.NoError(t, s.MountFilesystems(context.Background(), fsset.AbortPolicy))
	assert.True(t, s.Active())

	assert.Equal(t, []string{
		"mount /dev/sda1 /mnt/sysroot ext4 defaults",
		"mount /dev /mnt/sysroot/dev bind defaults",
		"mount devpts /mnt/sysroot/dev/pts devpts defaults",
		"mount tmpfs /mnt/sysroot/dev/shm tmpfs defaults",
		"mount proc /mnt/sysroot/proc proc defaults",
		"mount usbfs /mnt/sysroot/proc/bus/usb usbfs defaults",
		"mount /run /mnt/sysroot/run bind defaults",
		"mount sysfs /mnt/sysroot/sys sysfs defaults",
		"mount selinuxfs /mnt/sysroot/sys/fs/selinux selinuxfs defaults",
		"mount /dev/sda3 /mnt/sysroot/var xfs defaults",
		"mount /dev/sda4 /mnt/sysroot/var/log ext4 defaults",
	}, f.facility.Calls)

	assert.Equal(t, []string{"setup sda", "setup sda1", "setup sda3", "setup sda4"}, f.backend.Calls)

	f.facility.Calls = nil

	require.NoError(t, s.UnmountFilesystems(context.Background()))
	assert.False(t, s.Active())

	assert.Equal(t, []string{
		"umount /mnt/sysroot/var/log",
		"umount /mnt/sysroot/var",
		"umount /mnt/sysroot/sys/fs/selinux",
		"umount /mnt/sysroot/sys",
		"umount /mnt/sysroot/run",
		"umount /mnt/sysroot/proc/bus/usb",
		"umount /mnt/sysroot/proc",
		"umount /mnt/sysroot/dev/shm",
		"umount /mnt/sysroot/dev/pts",
		"umount /mnt/sysroot/dev",
		"umount /mnt/sysroot",
	}, f.facility.Calls)
}

func TestMountFilesystemsEFI(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	s := f.fsset(fsset.WithEFI(true), fsset.WithSysroot("/target"))

	require.NoError(t, s.MountFilesystems(context.Background(), fsset.AbortPolicy))

	assert.Contains(t, f.facility.Calls, "mount efivarfs /target/sys/firmware/efi/efivars efivarfs defaults")
	assert.Len(t, f.facility.Calls, 9)
}

func TestMountFilesystemsOptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	sys := f.system()

	sys.log.Format.Options = "noauto"
	sys.varDev.Format.Options = "noatime"

	s := f.fsset()

	require.NoError(t, s.MountFilesystems(context.Background(), fsset.AbortPolicy,
		fsset.WithRootPath("/rescue"),
		fsset.WithReadOnly("ro"),
		fsset.WithSkipRoot(),
	))

	calls := f.facility.CallsWithPrefix("mount /dev/sd")
	assert.Equal(t, []string{"mount /dev/sda3 /rescue/var xfs noatime,ro"}, calls)

	assert.Contains(t, f.facility.Calls, "mount proc /rescue/proc proc ro")
	assert.False(t, sys.root.Format.Status())
	assert.False(t, sys.log.Format.Status())
}

func TestMountFilesystemsBind(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	sys := f.system()

	bind := f.add("/srv/data", devicetree.KindDirectory, f.format(format.TypeBind,
		format.WithDevice("/srv/data"),
		format.WithMountpoint("/data"),
		format.WithBindFromChroot(true),
	))
	lost := f.add("/srv/lost", devicetree.KindDirectory, f.format(format.TypeBind,
		format.WithDevice("/srv/lost"),
		format.WithMountpoint("/lost"),
		format.WithBindFromChroot(true),
	))

	f.locator["/mnt/sysroot/srv/data"] = "sda3"

	s := f.fsset()

	require.NoError(t, s.MountFilesystems(context.Background(), fsset.AbortPolicy))

	assert.Equal(t, []*devicetree.Device{sys.varDev}, bind.Parents)
	assert.Contains(t, f.facility.Calls, "mount /mnt/sysroot/srv/data /mnt/sysroot/data bind defaults")

	assert.True(t, f.tree.Contains(bind))
	assert.False(t, f.tree.Contains(lost))
	assert.Empty(t, f.facility.CallsWithPrefix("mount /mnt/sysroot/srv/lost"))
}

func TestMountFilesystemsPolicy(t *testing.T) {
	t.Parallel()

	t.Run("abort on device", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		f.system()
		f.backend.FailWith("setup sda3", errBoom)

		s := f.fsset()

		require.ErrorIs(t, s.MountFilesystems(context.Background(), fsset.AbortPolicy), errBoom)
		assert.False(t, s.Active())
		assert.Empty(t, f.facility.CallsWithPrefix("mount /dev/sda4"))
	})

	t.Run("nil policy aborts", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		f.system()
		f.backend.FailWith("setup sda3", errBoom)

		require.ErrorIs(t, f.fsset().MountFilesystems(context.Background(), nil), errBoom)
	})

	t.Run("continue on device", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		f.system()
		f.backend.FailWith("setup sda3", errBoom)

		var seen []error

		s := f.fsset()

		require.NoError(t, s.MountFilesystems(context.Background(), fsset.ErrorPolicyFunc(func(err error) fsset.Decision {
			seen = append(seen, err)

			return fsset.Continue
		})))

		require.Len(t, seen, 1)
		assert.ErrorIs(t, seen[0], errBoom)
		assert.True(t, s.Active())

		assert.Empty(t, f.facility.CallsWithPrefix("mount /dev/sda3"))
		assert.Equal(t, []string{"mount /dev/sda4 /mnt/sysroot/var/log ext4 defaults"}, f.facility.CallsWithPrefix("mount /dev/sda4"))
	})

	t.Run("retry on device", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		f.system()
		f.backend.FailWith("setup sda3", errBoom)

		retries := 0

		require.NoError(t, f.fsset().MountFilesystems(context.Background(), fsset.ErrorPolicyFunc(func(error) fsset.Decision {
			retries++

			return fsset.Retry
		})))

		assert.Equal(t, 1, retries)
		assert.Equal(t, []string{"mount /dev/sda3 /mnt/sysroot/var xfs defaults"}, f.facility.CallsWithPrefix("mount /dev/sda3"))
	})

	t.Run("continue on mount", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		sys := f.system()
		f.facility.FailWith("mount /dev/sda3 /mnt/sysroot/var xfs defaults", errBoom)

		var seen []error

		s := f.fsset()

		require.NoError(t, s.MountFilesystems(context.Background(), fsset.ErrorPolicyFunc(func(err error) fsset.Decision {
			seen = append(seen, err)

			return fsset.Continue
		})))

		require.Len(t, seen, 1)
		assert.ErrorIs(t, seen[0], errBoom)
		assert.True(t, sys.varDev.Status())
		assert.False(t, sys.varDev.Format.Status())
		assert.True(t, sys.log.Format.Status())
	})

	t.Run("abort on mount", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		f.system()
		f.facility.FailWith("mount /dev/sda1 /mnt/sysroot ext4 defaults", errBoom)

		s := f.fsset()

		require.ErrorIs(t, s.MountFilesystems(context.Background(), fsset.AbortPolicy), errBoom)
		assert.False(t, s.Active())
		assert.Len(t, f.facility.Calls, 1)
	})
}

func TestUnmountFilesystems(t *testing.T) {
	t.Parallel()

	t.Run("swap", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		sys := f.system()

		s := f.fsset()

		require.NoError(t, s.TurnOnSwap(context.Background(), fsset.AbortPolicy, ""))
		require.NoError(t, s.MountFilesystems(context.Background(), fsset.AbortPolicy))

		require.NoError(t, s.UnmountFilesystems(context.Background(), fsset.WithoutSwapOff()))
		assert.Empty(t, f.facility.CallsWithPrefix("swapoff"))
		assert.True(t, sys.swap.Format.Status())
		assert.False(t, sys.root.Format.Status())

		require.NoError(t, s.UnmountFilesystems(context.Background()))
		assert.Equal(t, []string{"swapoff /dev/sda2"}, f.facility.CallsWithPrefix("swapoff"))
		assert.False(t, sys.swap.Format.Status())
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		f.system()

		s := f.fsset()

		require.NoError(t, s.MountFilesystems(context.Background(), fsset.AbortPolicy))

		f.facility.FailWith("umount /mnt/sysroot/var", errBoom)
		f.facility.FailWith("umount /mnt/sysroot/proc", errBoom)

		err := s.UnmountFilesystems(context.Background())
		require.ErrorIs(t, err, errBoom)
		assert.False(t, s.Active())

		assert.Contains(t, err.Error(), "2 errors occurred")

		// failures don't stop the rest
		assert.Contains(t, f.facility.Calls, "umount /mnt/sysroot")
	})
}

func TestMountOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	// added deepest first
	sda := f.add("sda", devicetree.KindDisk, nil)
	f.add("sda3", devicetree.KindPartition, f.format(format.TypeExt4, format.WithMountpoint("/var/log")), devicetree.WithParents(sda))
	f.add("sda2", devicetree.KindPartition, f.format(format.TypeExt4, format.WithMountpoint("/var")), devicetree.WithParents(sda))
	f.add("sda1", devicetree.KindPartition, f.format(format.TypeExt4, format.WithMountpoint("/")), devicetree.WithParents(sda))

	s := f.fsset()

	require.NoError(t, s.MountFilesystems(context.Background(), fsset.AbortPolicy))
	assert.Equal(t, []string{
		"mount /dev/sda1 /mnt/sysroot ext4 defaults",
		"mount /dev/sda2 /mnt/sysroot/var ext4 defaults",
		"mount /dev/sda3 /mnt/sysroot/var/log ext4 defaults",
	}, f.facility.CallsWithPrefix("mount /dev/sd"))

	require.NoError(t, s.UnmountFilesystems(context.Background()))

	var umounts []string

	for _, call := range f.facility.CallsWithPrefix("umount ") {
		if call == "umount /mnt/sysroot" || strings.HasPrefix(call, "umount /mnt/sysroot/var") {
			umounts = append(umounts, call)
		}
	}

	assert.Equal(t, []string{
		"umount /mnt/sysroot/var/log",
		"umount /mnt/sysroot/var",
		"umount /mnt/sysroot",
	}, umounts)
}

func TestTurnOnSwap(t *testing.T) {
	t.Parallel()

	t.Run("devices", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		sys := f.system()

		s := f.fsset()

		require.NoError(t, s.TurnOnSwap(context.Background(), fsset.AbortPolicy, ""))
		assert.Equal(t, []string{"swapon /dev/sda2"}, f.facility.Calls)
		assert.True(t, sys.swap.Format.Status())

		// active swap is left alone
		require.NoError(t, s.TurnOnSwap(context.Background(), fsset.AbortPolicy, ""))
		assert.Len(t, f.facility.Calls, 1)
	})

	t.Run("unusable signature", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		sys := f.system()
		sdb := f.add("sdb", devicetree.KindDisk, nil)
		other := f.add("sdb1", devicetree.KindPartition, f.format(format.TypeSwap), devicetree.WithParents(sdb))

		f.facility.FailWith("swapon /dev/sda2", &format.SwapError{Device: "/dev/sda2", Reason: format.SwapSuspend})

		require.NoError(t, f.fsset().TurnOnSwap(context.Background(), fsset.ErrorPolicyFunc(func(err error) fsset.Decision {
			t.Errorf("unexpected policy call: %v", err)

			return fsset.Abort
		}), ""))

		assert.False(t, sys.swap.Format.Status())
		assert.True(t, other.Format.Status())
	})

	t.Run("abort", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		f.system()
		f.backend.FailWith("setup sda2", errBoom)

		require.ErrorIs(t, f.fsset().TurnOnSwap(context.Background(), fsset.AbortPolicy, ""), errBoom)
		assert.Empty(t, f.facility.Calls)
	})

	t.Run("retry", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		sys := f.system()
		f.backend.FailWith("setup sda2", errBoom, errBoom)

		calls := 0

		require.NoError(t, f.fsset().TurnOnSwap(context.Background(), fsset.ErrorPolicyFunc(func(error) fsset.Decision {
			calls++

			return fsset.Retry
		}), ""))

		assert.Equal(t, 2, calls)
		assert.True(t, sys.swap.Format.Status())
	})

	t.Run("continue", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		sys := f.system()
		f.facility.FailWith("swapon /dev/sda2", errBoom)

		require.NoError(t, f.fsset().TurnOnSwap(context.Background(), fsset.ContinuePolicy, ""))
		assert.False(t, sys.swap.Format.Status())
	})

	t.Run("files", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)
		sys := f.system()

		swapFile := f.add("/swapfile", devicetree.KindFile, f.format(format.TypeSwap, format.WithDevice("/swapfile")))
		lost := f.add("/lost", devicetree.KindFile, f.format(format.TypeSwap, format.WithDevice("/lost")))

		f.locator["/mnt/sysroot/swapfile"] = "sda1"

		require.NoError(t, f.fsset().TurnOnSwap(context.Background(), fsset.AbortPolicy, "/mnt/sysroot"))

		assert.Equal(t, []*devicetree.Device{sys.root}, swapFile.Parents)
		assert.Equal(t, "/mnt/sysroot/swapfile", swapFile.Path)
		assert.Equal(t, "/swapfile", swapFile.FstabSpec())
		assert.True(t, swapFile.Format.Status())

		assert.False(t, f.tree.Contains(lost))
		assert.Empty(t, lost.Parents)

		assert.Equal(t, []string{"swapon /dev/sda2", "swapon /mnt/sysroot/swapfile"}, f.facility.CallsWithPrefix("swapon"))
	})
}

func TestCreateSwapFile(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name       string
		files      map[string]any
		mountpoint string
		taken      string

		expectedName string
		expectedPath string
	}{
		{
			name:         "first",
			files:        map[string]any{"/mnt/sysimage": &vfst.Dir{Perm: 0o755}},
			mountpoint:   "/",
			expectedName: "/SWAP",
			expectedPath: "/mnt/sysimage/SWAP",
		},
		{
			name:         "taken",
			files:        map[string]any{"/mnt/sysimage/SWAP": ""},
			mountpoint:   "/",
			expectedName: "/SWAP-1",
			expectedPath: "/mnt/sysimage/SWAP-1",
		},
		{
			name:         "two taken",
			files:        map[string]any{"/mnt/sysimage/SWAP": "", "/mnt/sysimage/SWAP-1": ""},
			mountpoint:   "/",
			expectedName: "/SWAP-2",
			expectedPath: "/mnt/sysimage/SWAP-2",
		},
		{
			name:         "known device",
			files:        map[string]any{"/mnt/sysimage": &vfst.Dir{Perm: 0o755}},
			mountpoint:   "/",
			taken:        "/SWAP",
			expectedName: "/SWAP-1",
			expectedPath: "/mnt/sysimage/SWAP-1",
		},
		{
			name:         "home",
			files:        map[string]any{"/mnt/sysimage/home/SWAP": ""},
			mountpoint:   "/home",
			expectedName: "/home/SWAP-1",
			expectedPath: "/mnt/sysimage/home/SWAP-1",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tc.files)

			sda := f.add("sda", devicetree.KindDisk, nil)
			device := f.add("sda1", devicetree.KindPartition, f.format(format.TypeExt4, format.WithMountpoint(tc.mountpoint)), devicetree.WithParents(sda))

			if tc.taken != "" {
				f.add(tc.taken, devicetree.KindFile, f.format(format.TypeSwap))
			}

			swap, err := f.fsset().CreateSwapFile(context.Background(), device, 1<<30)
			require.NoError(t, err)

			assert.Equal(t, tc.expectedName, swap.Name)
			assert.Equal(t, tc.expectedPath, swap.Path)
			assert.Equal(t, tc.expectedPath, swap.Format.Device)
			assert.Equal(t, uint64(1<<30), swap.Size)
			assert.Equal(t, []*devicetree.Device{device}, swap.Parents)
			assert.True(t, swap.Exists)
			assert.True(t, swap.Format.Exists)
			assert.True(t, swap.Format.Status())
			assert.Same(t, swap, f.tree.DeviceByName(tc.expectedName))

			assert.Equal(t, []string{"setup sda", "setup sda1", "create " + tc.expectedName, "setup " + tc.expectedName}, f.backend.Calls)
			assert.Equal(t, []string{"mkswap " + tc.expectedPath, "swapon " + tc.expectedPath}, f.facility.Calls)
		})
	}
}

func TestCreateSwapFileErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	sys := f.system()

	_, err := f.fsset().CreateSwapFile(context.Background(), sys.swap, 1<<20)
	require.ErrorIs(t, err, format.ErrNoMountpoint)

	f.backend.FailWith("create /SWAP", errBoom)

	_, err = f.fsset().CreateSwapFile(context.Background(), sys.root, 1<<20)
	require.ErrorIs(t, err, errBoom)
	assert.Nil(t, f.tree.DeviceByName("/SWAP"))
}

func TestMkDevRoot(t *testing.T) {
	t.Parallel()

	t.Run("create", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, map[string]any{"/mnt/sysroot/dev/sda1": ""})
		f.system()
		f.facility.DevNos["/mnt/sysroot/dev/sda1"] = 0x801

		require.NoError(t, f.fsset().MkDevRoot())
		assert.Equal(t, map[string]uint64{"/mnt/sysroot/dev/root": 0x801}, f.facility.Nodes)
	})

	t.Run("exists", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, map[string]any{"/mnt/sysroot/dev/sda1": "", "/mnt/sysroot/dev/root": ""})
		f.system()

		require.NoError(t, f.fsset().MkDevRoot())
		assert.Empty(t, f.facility.Calls)
	})

	t.Run("no device node", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, map[string]any{"/mnt/sysroot/dev": &vfst.Dir{Perm: 0o755}})
		f.system()

		require.NoError(t, f.fsset().MkDevRoot())
		assert.Empty(t, f.facility.Calls)
	})

	t.Run("no root", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil)

		require.ErrorIs(t, f.fsset().MkDevRoot(), fsset.ErrNoRootDevice)
	})
}
