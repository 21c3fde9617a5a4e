// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package xfs probes XFS filesystems.
package xfs

import (
	"github.com/google/uuid"

	"github.com/siderolabs/go-fsset/blkid/internal/magic"
	"github.com/siderolabs/go-fsset/blkid/internal/probe"
	"github.com/siderolabs/go-fsset/blkid/internal/utils"
)

var xfsMagic = magic.Magic{
	Offset: 0,
	Value:  []byte{0x58, 0x46, 0x53, 0x42},
}

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&xfsMagic}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "xfs"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader, _ magic.Magic) (*probe.Result, error) {
	buf := make([]byte, SUPERBLOCK_SIZE)

	if err := utils.ReadFullAt(r, buf, 0); err != nil {
		return nil, err
	}

	sb := SuperBlock(buf)
	if !sb.Valid() {
		return nil, nil //nolint:nilnil
	}

	uuid, err := uuid.FromBytes(sb.UUID())
	if err != nil {
		return nil, err
	}

	return &probe.Result{
		UUID:  &uuid,
		Label: utils.Label(sb.FName()),

		BlockSize:           uint32(sb.SectSize()),
		FilesystemBlockSize: sb.BlockSize(),
		ProbedSize:          sb.FilesystemSize(),
	}, nil
}
