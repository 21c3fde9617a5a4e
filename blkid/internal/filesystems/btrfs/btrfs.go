// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package btrfs probes btrfs filesystems.
package btrfs

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/siderolabs/go-fsset/blkid/internal/magic"
	"github.com/siderolabs/go-fsset/blkid/internal/probe"
	"github.com/siderolabs/go-fsset/blkid/internal/utils"
)

const (
	sbOffset = 0x10000
	sbSize   = 0x22b
)

var btrfsMagic = magic.Magic{
	Offset: sbOffset + 0x40,
	Value:  []byte("_BHRfS_M"),
}

// superBlock is the primary btrfs superblock, little-endian.
type superBlock []byte

func (sb superBlock) fsid() []byte { return sb[0x20:0x30] }

func (sb superBlock) totalBytes() uint64 { return binary.LittleEndian.Uint64(sb[0x70:]) }

func (sb superBlock) sectorSize() uint32 { return binary.LittleEndian.Uint32(sb[0x90:]) }

func (sb superBlock) nodeSize() uint32 { return binary.LittleEndian.Uint32(sb[0x94:]) }

func (sb superBlock) label() []byte { return sb[0x12b:0x22b] }

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&btrfsMagic}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "btrfs"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader, _ magic.Magic) (*probe.Result, error) {
	buf := make([]byte, sbSize)

	if err := utils.ReadFullAt(r, buf, sbOffset); err != nil {
		return nil, err
	}

	sb := superBlock(buf)

	if !utils.IsPowerOf2(sb.sectorSize()) || !utils.IsPowerOf2(sb.nodeSize()) {
		return nil, nil //nolint:nilnil
	}

	fsid, err := uuid.FromBytes(sb.fsid())
	if err != nil {
		return nil, err
	}

	return &probe.Result{
		UUID:  &fsid,
		Label: utils.Label(sb.label()),

		BlockSize:           sb.sectorSize(),
		FilesystemBlockSize: sb.sectorSize(),
		ProbedSize:          sb.totalBytes(),
	}, nil
}
