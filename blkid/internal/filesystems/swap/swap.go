// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package swap probes Linux swapspaces.
package swap

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/siderolabs/go-fsset/blkid/internal/magic"
	"github.com/siderolabs/go-fsset/blkid/internal/probe"
	"github.com/siderolabs/go-fsset/blkid/internal/utils"
)

// swap signature sits at the end of the first page, for every supported page size.
var swapMagics = func() []*magic.Magic {
	var magics []*magic.Magic

	for _, pageSize := range []int{0x1000, 0x2000, 0x4000, 0x8000, 0x10000} {
		for _, signature := range []string{"SWAP-SPACE", "SWAPSPACE2"} {
			magics = append(magics, &magic.Magic{
				Offset: pageSize - len(signature),
				Value:  []byte(signature),
			})
		}
	}

	return magics
}()

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return swapMagics
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "swap"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader, m magic.Magic) (*probe.Result, error) {
	buf := make([]byte, headerSize)

	if err := utils.ReadFullAt(r, buf, headerOffset); err != nil {
		return nil, err
	}

	hdr := header(buf)

	if hdr.version() != 1 || hdr.lastPage() == 0 {
		return nil, nil //nolint:nilnil
	}

	res := &probe.Result{
		Label: utils.Label(hdr.volume()),
	}

	fsUUID, err := uuid.FromBytes(hdr.uuid())
	if err == nil {
		res.UUID = &fsUUID
	}

	// https://github.com/util-linux/util-linux/blob/c0207d354ee47fb56acfa64b03b5b559bb301280/libblkid/src/superblocks/swap.c#L47
	pageSize := m.Offset + len(m.Value)
	res.BlockSize = uint32(pageSize)
	res.FilesystemBlockSize = uint32(pageSize)
	res.ProbedSize = uint64(pageSize) * uint64(hdr.lastPage())

	return res, nil
}

const (
	headerOffset = 0x400
	headerSize   = 0x2c
)

// header is the swap header following the boot block (host-endian, little-endian on supported platforms).
type header []byte

func (h header) version() uint32  { return binary.LittleEndian.Uint32(h[0:4]) }
func (h header) lastPage() uint32 { return binary.LittleEndian.Uint32(h[4:8]) }
func (h header) uuid() []byte     { return h[0x0c:0x1c] }
func (h header) volume() []byte   { return h[0x1c:0x2c] }
