// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package crypttab_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-vfs/v4/vfst"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/go-fsset/blkidtab"
	"github.com/siderolabs/go-fsset/crypttab"
	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
)

type fixture struct {
	tree        *devicetree.Tree
	disk        *devicetree.Device
	rootCrypt   *devicetree.Device
	homeCrypt   *devicetree.Device
	plain       *devicetree.Device
	rootMapping *devicetree.Device
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	tree := devicetree.NewTree()

	disk := devicetree.New("sda", devicetree.KindDisk)
	rootCrypt := devicetree.New("sda2", devicetree.KindPartition, devicetree.WithParents(disk),
		devicetree.WithFormat(format.New("luks",
			format.WithUUID("11111111-2222-4333-8444-555555555555"),
			format.WithMapName("luks-root"),
			format.WithOptions("discard"),
		)))
	homeCrypt := devicetree.New("sda3", devicetree.KindPartition, devicetree.WithParents(disk),
		devicetree.WithFormat(format.New("luks",
			format.WithUUID("66666666-7777-4888-9999-000000000000"),
			format.WithMapName("luks-home"),
			format.WithKeyFile("/etc/keys/home.key"),
		)))
	plain := devicetree.New("sda1", devicetree.KindPartition, devicetree.WithParents(disk),
		devicetree.WithFormat(format.New("ext4", format.WithUUID("aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee"))))
	rootMapping := devicetree.New("luks-root", devicetree.KindLUKS, devicetree.WithParents(rootCrypt))

	for _, d := range []*devicetree.Device{disk, plain, rootCrypt, homeCrypt, rootMapping} {
		require.NoError(t, tree.AddDevice(d))
	}

	return fixture{
		tree:        tree,
		disk:        disk,
		rootCrypt:   rootCrypt,
		homeCrypt:   homeCrypt,
		plain:       plain,
		rootMapping: rootMapping,
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	blkid, err := blkidtab.Parse(strings.NewReader(
		`<device UUID="66666666-7777-4888-9999-000000000000" TYPE="crypto_LUKS">/dev/vdb3</device>` + "\n",
	))
	require.NoError(t, err)

	contents := `# /etc/crypttab
luks-root UUID=11111111-2222-4333-8444-555555555555 none discard
luks-home /dev/vdb3 /etc/keys/home.key # trailing comment
luks-swap UUID=deadbeef-0000-4000-8000-000000000000 /dev/urandom swap
broken
too many fields here right now
luks-root /dev/sda2
`

	table, err := crypttab.Parse(strings.NewReader(contents), fx.tree, blkid, crypttab.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.Equal(t, []string{"luks-root", "luks-home"}, table.Names())

	root, err := table.Lookup("luks-root")
	require.NoError(t, err)
	assert.Same(t, fx.rootCrypt, root.Device)
	assert.Equal(t, crypttab.NoKeyFile, root.KeyFile)
	assert.Empty(t, root.Options)

	home, ok := table.Get("luks-home")
	require.True(t, ok)
	assert.Same(t, fx.homeCrypt, home.Device)
	assert.Equal(t, "/etc/keys/home.key", home.KeyFile)
	assert.Empty(t, home.Options)

	_, err = table.Lookup("luks-swap")
	require.ErrorIs(t, err, crypttab.ErrNotFound)

	assert.Equal(t, "fallback", table.GetDefault("luks-swap", crypttab.Mapping{Name: "fallback"}).Name)

	device, ok := table.MappedDevice("luks-home")
	assert.True(t, ok)
	assert.Same(t, fx.homeCrypt, device)
}

func TestParseWithoutAttributes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	table, err := crypttab.Parse(strings.NewReader("luks-home /dev/vdb3\n"), fx.tree, nil)
	require.NoError(t, err)

	assert.Zero(t, table.Len())
}

func TestPopulate(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	table := crypttab.Populate(fx.tree)

	require.Equal(t, 2, table.Len())

	root, ok := table.Get("luks-root")
	require.True(t, ok)
	assert.Same(t, fx.rootCrypt, root.Device)
	assert.Equal(t, "none", root.KeyFile)
	assert.Equal(t, "discard", root.Options)

	home, ok := table.Get("luks-home")
	require.True(t, ok)
	assert.Equal(t, "/etc/keys/home.key", home.KeyFile)
	assert.Empty(t, home.Options)

	assert.Equal(t,
		"luks-root UUID=11111111-2222-4333-8444-555555555555 none discard\n"+
			"luks-home UUID=66666666-7777-4888-9999-000000000000 /etc/keys/home.key \n",
		table.String())
}

func TestRetain(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	table := crypttab.Populate(fx.tree)

	table.Retain(func(m crypttab.Mapping) bool {
		return fx.rootMapping == m.Device || fx.rootMapping.DependsOn(m.Device)
	})

	assert.Equal(t, []string{"luks-root"}, table.Names())

	table.Delete("luks-root")
	table.Delete("luks-root")

	assert.Zero(t, table.Len())
	assert.Empty(t, table.String())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/mnt/sysroot/etc/crypttab": "luks-root /dev/sda2 none discard\n",
		"/other/etc":                &vfst.Dir{Perm: 0o755},
	})
	require.NoError(t, err)

	t.Cleanup(cleanup)

	table, err := crypttab.Load(fs, "/mnt/sysroot", fx.tree, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"luks-root"}, table.Names())

	table, err = crypttab.Load(fs, "/other", fx.tree, nil)
	require.NoError(t, err)
	assert.Zero(t, table.Len())
}

func TestNilTable(t *testing.T) {
	t.Parallel()

	var table *crypttab.Table

	assert.Zero(t, table.Len())
	assert.Empty(t, table.String())

	_, ok := table.MappedDevice("luks-root")
	assert.False(t, ok)
}
