// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package iso9660 probes ISO9660 filesystems.
package iso9660

import (
	"encoding/binary"
	"strings"

	"github.com/siderolabs/go-pointer"
	"golang.org/x/text/encoding/unicode"

	"github.com/siderolabs/go-fsset/blkid/internal/magic"
	"github.com/siderolabs/go-fsset/blkid/internal/probe"
	"github.com/siderolabs/go-fsset/blkid/internal/utils"
)

const (
	superblockOffset = 0x8000
)

var isoMagic = magic.Magic{
	Offset: superblockOffset + 1,
	Value:  []byte("CD001"),
}

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&isoMagic}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "iso9660"
}

const (
	vdMax           = 16
	vdEnd           = 0xff
	vdPrimary       = 1
	vdSupplementary = 2

	sectorSize           = 2048
	volumeDescriptorSize = 256
)

// volumeDescriptor is the leading part of an ISO9660 volume descriptor.
type volumeDescriptor []byte

func (vd volumeDescriptor) typ() byte { return vd[0] }

func (vd volumeDescriptor) volumeID() []byte { return vd[40:72] }

// both-endian fields, the little-endian half comes first.
func (vd volumeDescriptor) spaceSize() uint32 { return binary.LittleEndian.Uint32(vd[80:]) }

func (vd volumeDescriptor) logicalBlockSize() uint16 { return binary.LittleEndian.Uint16(vd[128:]) }

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader, _ magic.Magic) (*probe.Result, error) {
	var pvd, joliet volumeDescriptor

vdLoop:
	for i := 0; i < vdMax; i++ {
		buf := make([]byte, volumeDescriptorSize)

		if err := utils.ReadFullAt(r, buf, superblockOffset+sectorSize*int64(i)); err != nil {
			break
		}

		vd := volumeDescriptor(buf)

		switch vd.typ() {
		case vdEnd:
			break vdLoop
		case vdPrimary:
			pvd = vd
		case vdSupplementary:
			joliet = vd
		}

		if pvd != nil && joliet != nil {
			break
		}
	}

	if pvd == nil {
		return nil, nil //nolint:nilnil
	}

	logicalBlockSize := pvd.logicalBlockSize()

	res := &probe.Result{
		BlockSize:           uint32(logicalBlockSize),
		FilesystemBlockSize: uint32(logicalBlockSize),
		ProbedSize:          uint64(pvd.spaceSize()) * uint64(logicalBlockSize),
	}

	if joliet != nil {
		if label, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(joliet.volumeID()); err == nil {
			res.Label = pointer.To(strings.TrimRight(string(label), " \x00"))
		}
	}

	if res.Label == nil || *res.Label == "" {
		res.Label = pointer.To(strings.TrimRight(string(pvd.volumeID()), " \x00"))
	}

	return res, nil
}
