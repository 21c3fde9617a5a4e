// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mdraid probes Linux software RAID members (v1.1 and v1.2 superblocks).
package mdraid

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/siderolabs/go-fsset/blkid/internal/magic"
	"github.com/siderolabs/go-fsset/blkid/internal/probe"
	"github.com/siderolabs/go-fsset/blkid/internal/utils"
)

const (
	mdMagic = 0xa92b4efc

	// v1.1 keeps the superblock at the start, v1.2 four KiB in.
	sb11Offset = 0
	sb12Offset = 0x1000

	sbSize = 0x48
)

var (
	mdMagic11 = magic.Uint32LE(sb11Offset, mdMagic)
	mdMagic12 = magic.Uint32LE(sb12Offset, mdMagic)
)

// superBlock is the common part of the v1 superblock.
//
// https://raid.wiki.kernel.org/index.php/RAID_superblock_formats
type superBlock []byte

func (sb superBlock) majorVersion() uint32 { return binary.LittleEndian.Uint32(sb[4:]) }

func (sb superBlock) setUUID() []byte { return sb[16:32] }

func (sb superBlock) setName() []byte { return sb[32:64] }

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&mdMagic11, &mdMagic12}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "mdmember"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader, m magic.Magic) (*probe.Result, error) {
	buf := make([]byte, sbSize)

	if err := utils.ReadFullAt(r, buf, int64(m.Offset)); err != nil {
		return nil, err
	}

	sb := superBlock(buf)

	if sb.majorVersion() != 1 {
		return nil, nil //nolint:nilnil
	}

	setUUID, err := uuid.FromBytes(sb.setUUID())
	if err != nil {
		return nil, err
	}

	return &probe.Result{
		UUID:  &setUUID,
		Label: utils.Label(sb.setName()),
	}, nil
}
