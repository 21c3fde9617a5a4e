// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package devicetree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
)

type attrs map[string]map[string]string

func (a attrs) Attribute(device, key string) (string, bool) {
	v, ok := a[device][key]

	return v, ok
}

type mappings map[string]*devicetree.Device

func (m mappings) MappedDevice(name string) (*devicetree.Device, bool) {
	d, ok := m[name]

	return d, ok
}

func TestResolveDevice(t *testing.T) {
	t.Parallel()

	tree := devicetree.NewTree()

	disk := devicetree.New("vda", devicetree.KindDisk)
	boot := devicetree.New("vda1", devicetree.KindPartition,
		devicetree.WithParents(disk),
		devicetree.WithPartition("6e1e4b3c-5a0b-4f5e-9d43-5b1d2b8f1a01", "boot"),
		devicetree.WithFormat(format.New("ext4", format.WithUUID("0f3e5b7a-1c2d-4e5f-8a9b-0c1d2e3f4a5b"), format.WithLabel("BOOT"))),
	)
	crypt := devicetree.New("vda2", devicetree.KindPartition,
		devicetree.WithParents(disk),
		devicetree.WithFormat(format.New("luks", format.WithUUID("4a1f2c3d-9e8b-4c7a-b6d5-e4f3a2b1c0d9"), format.WithMapName("luks-root"))),
	)
	mapping := devicetree.New("luks-4a1f", devicetree.KindLUKS, devicetree.WithParents(crypt))
	volume := devicetree.New("fedora", devicetree.KindBtrfsVolume, devicetree.WithParents(mapping),
		devicetree.WithFormat(format.New("btrfs", format.WithUUID("c0ffee00-0000-4000-8000-000000000001"))))
	rootSubvol := devicetree.New("root", devicetree.KindBtrfsSubvolume, devicetree.WithParents(volume), devicetree.WithSubvolID(256),
		devicetree.WithFormat(format.New("btrfs", format.WithUUID("c0ffee00-0000-4000-8000-000000000001"))))
	homeSubvol := devicetree.New("home", devicetree.KindBtrfsSubvolume, devicetree.WithParents(volume), devicetree.WithSubvolID(257),
		devicetree.WithFormat(format.New("btrfs", format.WithUUID("c0ffee00-0000-4000-8000-000000000001"))))
	lv := devicetree.New("my--vg-data", devicetree.KindLVMLogicalVolume)

	for _, d := range []*devicetree.Device{disk, boot, crypt, mapping, volume, rootSubvol, homeSubvol, lv} {
		require.NoError(t, tree.AddDevice(d))
	}

	blkid := attrs{
		"/dev/sdz1": {"UUID": "0F3E5B7A-1C2D-4E5F-8A9B-0C1D2E3F4A5B"},
	}

	crypttab := mappings{
		"luks-root": crypt,
	}

	for _, tc := range []struct {
		name string
		spec string
		opts []devicetree.ResolveOption

		expected *devicetree.Device
	}{
		{name: "uuid", spec: "UUID=0f3e5b7a-1c2d-4e5f-8a9b-0c1d2e3f4a5b", expected: boot},
		{name: "quoted uuid", spec: `UUID="0f3e5b7a-1c2d-4e5f-8a9b-0c1d2e3f4a5b"`, expected: boot},
		{name: "label", spec: "LABEL=BOOT", expected: boot},
		{name: "partuuid", spec: "PARTUUID=6E1E4B3C-5A0B-4F5E-9D43-5B1D2B8F1A01", expected: boot},
		{name: "partlabel", spec: "PARTLABEL=boot", expected: boot},
		{name: "unknown tag", spec: "ID=boot"},
		{name: "path", spec: "/dev/vda1", expected: boot},
		{name: "name", spec: "vda1", expected: boot},
		{name: "mapper name", spec: "/dev/mapper/luks-4a1f", expected: mapping},
		{name: "lvm", spec: "/dev/my-vg/data", expected: lv},
		{name: "stale path via blkid", spec: "/dev/sdz1", opts: []devicetree.ResolveOption{devicetree.WithAttributeTable(blkid)}, expected: boot},
		{name: "stale path without blkid", spec: "/dev/sdz1"},
		{name: "crypttab mapping", spec: "/dev/mapper/luks-root", opts: []devicetree.ResolveOption{devicetree.WithMappingTable(crypttab)}, expected: mapping},
		{name: "btrfs volume", spec: "UUID=c0ffee00-0000-4000-8000-000000000001", expected: volume},
		{
			name:     "btrfs subvol",
			spec:     "UUID=c0ffee00-0000-4000-8000-000000000001",
			opts:     []devicetree.ResolveOption{devicetree.WithMountOptions("compress=zstd:1,subvol=home")},
			expected: homeSubvol,
		},
		{
			name:     "btrfs subvolid",
			spec:     "UUID=c0ffee00-0000-4000-8000-000000000001",
			opts:     []devicetree.ResolveOption{devicetree.WithMountOptions("subvolid=256")},
			expected: rootSubvol,
		},
		{name: "missing", spec: "/dev/sdq"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			actual := tree.ResolveDevice(tc.spec, tc.opts...)

			if tc.expected == nil {
				assert.Nil(t, actual)
			} else {
				assert.Same(t, tc.expected, actual)
			}
		})
	}
}
