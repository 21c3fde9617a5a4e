// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package chain provides a list of probers for the formats a filesystem set can hold.
package chain

import (
	"github.com/siderolabs/go-fsset/blkid/internal/filesystems/btrfs"
	"github.com/siderolabs/go-fsset/blkid/internal/filesystems/ext"
	"github.com/siderolabs/go-fsset/blkid/internal/filesystems/iso9660"
	"github.com/siderolabs/go-fsset/blkid/internal/filesystems/luks"
	"github.com/siderolabs/go-fsset/blkid/internal/filesystems/lvm2"
	"github.com/siderolabs/go-fsset/blkid/internal/filesystems/mdraid"
	"github.com/siderolabs/go-fsset/blkid/internal/filesystems/swap"
	"github.com/siderolabs/go-fsset/blkid/internal/filesystems/vfat"
	"github.com/siderolabs/go-fsset/blkid/internal/filesystems/xfs"
	"github.com/siderolabs/go-fsset/blkid/internal/probe"
)

// Chain is a list of probers.
type Chain []probe.Prober

// MaxMagicSize returns the maximum size of the magic value in the chain.
func (chain Chain) MaxMagicSize() int {
	maxSize := 0

	for _, prober := range chain {
		for _, magic := range prober.Magic() {
			maxSize = max(maxSize, magic.BlockSize())
		}
	}

	return maxSize
}

// MagicMatches returns the probers whose magic value is found in the buffer.
//
// Each prober is returned at most once, with the first magic that matched.
func (chain Chain) MagicMatches(buf []byte) []probe.MagicMatch {
	var matches []probe.MagicMatch

	for _, prober := range chain {
		for _, magic := range prober.Magic() {
			if magic.Matches(buf) {
				matches = append(matches, probe.MagicMatch{Magic: *magic, Prober: prober})

				break
			}
		}
	}

	return matches
}

// Default returns the probers in the order they are tried.
func Default() Chain {
	return Chain{
		&xfs.Probe{},
		&ext.Probe{},
		&btrfs.Probe{},
		&vfat.Probe{},
		&swap.Probe{},
		&luks.Probe{},
		&mdraid.Probe{},
		&lvm2.Probe{},
		&iso9660.Probe{},
	}
}
