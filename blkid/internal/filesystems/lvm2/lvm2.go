// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package lvm2 probes LVM2 physical volumes.
package lvm2

import (
	"github.com/siderolabs/go-fsset/blkid/internal/magic"
	"github.com/siderolabs/go-fsset/blkid/internal/probe"
	"github.com/siderolabs/go-fsset/blkid/internal/utils"
)

const (
	labelHeaderSize = 64
	labelType       = "LVM2 001"
)

var (
	lvmMagic1 = magic.Magic{
		Offset: 0x018,
		Value:  []byte(labelType),
	}

	lvmMagic2 = magic.Magic{
		Offset: 0x218,
		Value:  []byte(labelType),
	}
)

// labelHeader is the LVM2 label sector.
type labelHeader []byte

func (h labelHeader) id() string { return string(h[0:8]) }

func (h labelHeader) typ() string { return string(h[24:32]) }

func (h labelHeader) pvUUID() string { return string(h[32:64]) }

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&lvmMagic1, &lvmMagic2}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "lvmpv"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader, m magic.Magic) (*probe.Result, error) {
	buf := make([]byte, labelHeaderSize)

	if err := utils.ReadFullAt(r, buf, int64(m.Offset-lvmMagic1.Offset)); err != nil {
		return nil, err
	}

	hdr := labelHeader(buf)

	if hdr.id() != "LABELONE" || hdr.typ() != labelType {
		return nil, nil //nolint:nilnil
	}

	// PV UUIDs aren't RFC 4122 UUIDs, so they are reported as labels.
	id := hdr.pvUUID()
	label := id[:6] + "-" + id[6:10] + "-" + id[10:14] + "-" + id[14:18] + "-" + id[18:22] + "-" + id[22:26] + "-" + id[26:]

	return &probe.Result{
		Label: &label,
	}, nil
}
