// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vfat

import "encoding/binary"

// BOOTSECTOR_SIZE is the size of the FAT boot sector.
//
//nolint:revive,stylecheck
const BOOTSECTOR_SIZE = 512

// BootSector is the FAT boot sector (little-endian).
type BootSector []byte

// SectorSize returns bytes per sector.
func (b BootSector) SectorSize() uint16 { return binary.LittleEndian.Uint16(b[0x0b:0x0d]) }

// ClusterSize returns sectors per cluster.
func (b BootSector) ClusterSize() uint8 { return b[0x0d] }

// Reserved returns the number of reserved sectors.
func (b BootSector) Reserved() uint16 { return binary.LittleEndian.Uint16(b[0x0e:0x10]) }

// FATs returns the number of FAT copies.
func (b BootSector) FATs() uint8 { return b[0x10] }

// Sectors returns the 16-bit sector count.
func (b BootSector) Sectors() uint16 { return binary.LittleEndian.Uint16(b[0x13:0x15]) }

// Media returns the media descriptor.
func (b BootSector) Media() uint8 { return b[0x15] }

// TotalSect returns the 32-bit sector count.
func (b BootSector) TotalSect() uint32 { return binary.LittleEndian.Uint32(b[0x20:0x24]) }

// FAT16Label returns the raw FAT12/16 volume label.
func (b BootSector) FAT16Label() []byte { return b[0x2b:0x36] }

// FAT32Label returns the raw FAT32 volume label.
func (b BootSector) FAT32Label() []byte { return b[0x47:0x52] }
