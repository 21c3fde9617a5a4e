// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package luks probes LUKS encrypted volumes.
package luks

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/siderolabs/go-fsset/blkid/internal/magic"
	"github.com/siderolabs/go-fsset/blkid/internal/probe"
	"github.com/siderolabs/go-fsset/blkid/internal/utils"
)

// LUKS1 and LUKS2 share the binary header prefix; the label only exists in LUKS2.
const (
	headerSize = 208

	versionOffset = 6
	labelOffset   = 24
	labelSize     = 48
	uuidOffset    = 168
	uuidSize      = 40
)

var luksMagic = magic.Magic{
	Offset: 0,
	Value:  []byte("LUKS\xba\xbe"),
}

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&luksMagic}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "luks"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader, _ magic.Magic) (*probe.Result, error) {
	buf := make([]byte, headerSize)

	if err := utils.ReadFullAt(r, buf, 0); err != nil {
		return nil, err
	}

	version := binary.BigEndian.Uint16(buf[versionOffset:])

	res := &probe.Result{}

	switch version {
	case 1:
	case 2:
		res.Label = utils.Label(buf[labelOffset : labelOffset+labelSize])
	default:
		return nil, nil //nolint:nilnil
	}

	uuidStr := buf[uuidOffset : uuidOffset+uuidSize]
	if idx := bytes.IndexByte(uuidStr, 0); idx != -1 {
		uuidStr = uuidStr[:idx]
	}

	if len(uuidStr) > 0 {
		if u, err := uuid.ParseBytes(uuidStr); err == nil {
			res.UUID = &u
		}
	}

	return res, nil
}
