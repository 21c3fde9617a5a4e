// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package xfs

import "encoding/binary"

// XFS superblock structure constants.
//
//nolint:revive,stylecheck
const (
	SUPERBLOCK_SIZE = 512

	XFS_MIN_BLOCKSIZE_LOG  = 9  /* i.e. 512 bytes */
	XFS_MAX_BLOCKSIZE_LOG  = 16 /* i.e. 65536 bytes */
	XFS_MIN_SECTORSIZE_LOG = 9  /* i.e. 512 bytes */
	XFS_MAX_SECTORSIZE_LOG = 15 /* i.e. 32768 bytes */
	XFS_DINODE_MIN_LOG     = 8
	XFS_DINODE_MAX_LOG     = 11
)

// SuperBlock is the XFS superblock (big-endian).
type SuperBlock []byte

// BlockSize returns the filesystem block size.
func (s SuperBlock) BlockSize() uint32 { return binary.BigEndian.Uint32(s[4:8]) }

// DBlocks returns the number of data blocks.
func (s SuperBlock) DBlocks() uint64 { return binary.BigEndian.Uint64(s[8:16]) }

// UUID returns the raw filesystem UUID.
func (s SuperBlock) UUID() []byte { return s[32:48] }

// LogStart returns the first block of an internal log.
func (s SuperBlock) LogStart() uint64 { return binary.BigEndian.Uint64(s[48:56]) }

// AGCount returns the number of allocation groups.
func (s SuperBlock) AGCount() uint32 { return binary.BigEndian.Uint32(s[88:92]) }

// LogBlocks returns the number of log blocks.
func (s SuperBlock) LogBlocks() uint32 { return binary.BigEndian.Uint32(s[96:100]) }

// SectSize returns the sector size.
func (s SuperBlock) SectSize() uint16 { return binary.BigEndian.Uint16(s[102:104]) }

// InodeSize returns the inode size.
func (s SuperBlock) InodeSize() uint16 { return binary.BigEndian.Uint16(s[104:106]) }

// FName returns the raw label.
func (s SuperBlock) FName() []byte { return s[108:120] }

// BlockLog returns log2(block size).
func (s SuperBlock) BlockLog() uint8 { return s[120] }

// SectLog returns log2(sector size).
func (s SuperBlock) SectLog() uint8 { return s[121] }

// InodeLog returns log2(inode size).
func (s SuperBlock) InodeLog() uint8 { return s[122] }

// IMaxPct returns the max percentage of space used by inodes.
func (s SuperBlock) IMaxPct() uint8 { return s[127] }

// Valid returns true if the superblock is valid.
//
//nolint:gocyclo,cyclop
func (s SuperBlock) Valid() bool {
	if s.AGCount() == 0 ||
		s.SectLog() < XFS_MIN_SECTORSIZE_LOG ||
		s.SectLog() > XFS_MAX_SECTORSIZE_LOG ||
		uint32(s.SectSize()) != 1<<s.SectLog() ||
		s.BlockLog() < XFS_MIN_BLOCKSIZE_LOG ||
		s.BlockLog() > XFS_MAX_BLOCKSIZE_LOG ||
		s.BlockSize() != 1<<s.BlockLog() ||
		s.InodeLog() < XFS_DINODE_MIN_LOG ||
		s.InodeLog() > XFS_DINODE_MAX_LOG ||
		uint32(s.InodeSize()) != 1<<s.InodeLog() ||
		s.IMaxPct() > 100 ||
		s.DBlocks() == 0 {
		return false
	}

	return true
}

// FilesystemSize returns the size of the data section minus the internal log.
func (s SuperBlock) FilesystemSize() uint64 {
	var logBlocks uint64

	if s.LogStart() != 0 {
		logBlocks = uint64(s.LogBlocks())
	}

	return (s.DBlocks() - logBlocks) * uint64(s.BlockSize())
}
