// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package ext

import "encoding/binary"

// SUPERBLOCK_SIZE is the size of the on-disk superblock.
//
//nolint:revive,stylecheck
const SUPERBLOCK_SIZE = 1024

// Feature flags.
//
//nolint:revive,stylecheck
const (
	EXT3_FEATURE_COMPAT_HAS_JOURNAL = 0x0004

	EXT2_FEATURE_INCOMPAT_FILETYPE    = 0x0002
	EXT3_FEATURE_INCOMPAT_RECOVER     = 0x0004
	EXT3_FEATURE_INCOMPAT_JOURNAL_DEV = 0x0008
	EXT2_FEATURE_INCOMPAT_META_BG     = 0x0010
	EXT4_FEATURE_INCOMPAT_64BIT       = 0x0080

	EXT2_FEATURE_RO_COMPAT_SPARSE_SUPER  = 0x0001
	EXT2_FEATURE_RO_COMPAT_LARGE_FILE    = 0x0002
	EXT2_FEATURE_RO_COMPAT_BTREE_DIR     = 0x0004
	EXT4_FEATURE_RO_COMPAT_METADATA_CSUM = 0x0400

	ext3IncompatSupported = EXT2_FEATURE_INCOMPAT_FILETYPE | EXT3_FEATURE_INCOMPAT_RECOVER | EXT2_FEATURE_INCOMPAT_META_BG
	ext3ROCompatSupported = EXT2_FEATURE_RO_COMPAT_SPARSE_SUPER | EXT2_FEATURE_RO_COMPAT_LARGE_FILE | EXT2_FEATURE_RO_COMPAT_BTREE_DIR
)

// SuperBlock is the ext2/3/4 superblock (little-endian).
type SuperBlock []byte

func (s SuperBlock) u32(off int) uint32 {
	return binary.LittleEndian.Uint32(s[off : off+4])
}

// BlocksCount returns the number of blocks in the filesystem.
func (s SuperBlock) BlocksCount() uint64 {
	count := uint64(s.u32(0x04))

	if s.FeatureIncompat()&EXT4_FEATURE_INCOMPAT_64BIT != 0 {
		count |= uint64(s.u32(0x150)) << 32
	}

	return count
}

// LogBlockSize returns log2(block size) - 10.
func (s SuperBlock) LogBlockSize() uint32 { return s.u32(0x18) }

// FeatureCompat returns compatible feature flags.
func (s SuperBlock) FeatureCompat() uint32 { return s.u32(0x5c) }

// FeatureIncompat returns incompatible feature flags.
func (s SuperBlock) FeatureIncompat() uint32 { return s.u32(0x60) }

// FeatureROCompat returns read-only compatible feature flags.
func (s SuperBlock) FeatureROCompat() uint32 { return s.u32(0x64) }

// UUID returns the raw filesystem UUID.
func (s SuperBlock) UUID() []byte { return s[0x68:0x78] }

// VolumeName returns the raw label.
func (s SuperBlock) VolumeName() []byte { return s[0x78:0x88] }

// Checksum returns the superblock crc32c.
func (s SuperBlock) Checksum() uint32 { return s.u32(0x3fc) }

// BlockSize returns the block size of the filesystem.
func (s SuperBlock) BlockSize() uint32 {
	if s.LogBlockSize() >= 22 {
		return 0
	}

	return 1024 << s.LogBlockSize()
}

// FilesystemSize returns the size of the filesystem.
func (s SuperBlock) FilesystemSize() uint64 {
	return s.BlocksCount() * uint64(s.BlockSize())
}

// Version returns ext2, ext3 or ext4 depending on the features in use.
func (s SuperBlock) Version() string {
	switch {
	case s.FeatureIncompat()&^ext3IncompatSupported != 0, s.FeatureROCompat()&^ext3ROCompatSupported != 0:
		return "ext4"
	case s.FeatureCompat()&EXT3_FEATURE_COMPAT_HAS_JOURNAL != 0:
		return "ext3"
	default:
		return "ext2"
	}
}
