// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package vfat probes FAT12/FAT16/FAT32 filesystems.
package vfat

import (
	"strings"

	"github.com/siderolabs/go-pointer"

	"github.com/siderolabs/go-fsset/blkid/internal/magic"
	"github.com/siderolabs/go-fsset/blkid/internal/probe"
	"github.com/siderolabs/go-fsset/blkid/internal/utils"
)

var (
	fatMagic1 = magic.Magic{
		Offset: 0x52,
		Value:  []byte("MSWIN"),
	}

	fatMagic2 = magic.Magic{
		Offset: 0x52,
		Value:  []byte("FAT32   "),
	}

	fatMagic3 = magic.Magic{
		Offset: 0x36,
		Value:  []byte("MSDOS"),
	}

	fatMagic4 = magic.Magic{
		Offset: 0x36,
		Value:  []byte("FAT16   "),
	}

	fatMagic5 = magic.Magic{
		Offset: 0x36,
		Value:  []byte("FAT12   "),
	}

	fatMagic6 = magic.Magic{
		Offset: 0x36,
		Value:  []byte("FAT     "),
	}
)

const noName = "NO NAME"

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{
		&fatMagic1,
		&fatMagic2,
		&fatMagic3,
		&fatMagic4,
		&fatMagic5,
		&fatMagic6,
	}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "vfat"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader, m magic.Magic) (*probe.Result, error) {
	buf := make([]byte, BOOTSECTOR_SIZE)

	if err := utils.ReadFullAt(r, buf, 0); err != nil {
		return nil, err
	}

	bs := BootSector(buf)

	if !isValid(bs) {
		return nil, nil //nolint:nilnil
	}

	sectorCount := uint32(bs.Sectors())
	if sectorCount == 0 {
		sectorCount = bs.TotalSect()
	}

	sectorSize := uint32(bs.SectorSize())

	res := &probe.Result{
		BlockSize:           sectorSize,
		FilesystemBlockSize: uint32(bs.ClusterSize()) * sectorSize,
		ProbedSize:          uint64(sectorCount) * uint64(sectorSize),
	}

	label := bs.FAT16Label()
	if m.Offset == fatMagic1.Offset {
		label = bs.FAT32Label()
	}

	if lbl := strings.TrimRight(string(label), " \x00"); lbl != "" && lbl != noName {
		res.Label = pointer.To(lbl)
	}

	return res, nil
}

func isValid(bs BootSector) bool {
	if bs.FATs() == 0 {
		return false
	}

	if bs.Reserved() == 0 {
		return false
	}

	if !(0xf8 <= bs.Media() || bs.Media() == 0xf0) {
		return false
	}

	if !utils.IsPowerOf2(bs.ClusterSize()) {
		return false
	}

	if !utils.IsPowerOf2(bs.SectorSize()) {
		return false
	}

	if bs.SectorSize() < 512 || bs.SectorSize() > 4096 {
		return false
	}

	return true
}
