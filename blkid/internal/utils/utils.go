// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package utils provides utility functions.
package utils

import (
	"bytes"
	"hash/crc32"
	"io"
	"sync"

	"github.com/siderolabs/go-pointer"
)

var castagnoliTable = sync.OnceValue(func() *crc32.Table {
	return crc32.MakeTable(crc32.Castagnoli)
})

// CRC32c returns values compatible with Linux crc32c function.
func CRC32c(buf []byte) uint32 {
	return ^crc32.Update(0, castagnoliTable(), buf)
}

// IsPowerOf2 returns true if num is a power of 2.
func IsPowerOf2[T uint8 | uint16 | uint32 | uint64](num T) bool {
	return (num != 0 && ((num & (num - 1)) == 0))
}

// Label returns the NUL-terminated label in buf, or nil if it's empty.
func Label(buf []byte) *string {
	if len(buf) == 0 || buf[0] == 0 {
		return nil
	}

	idx := bytes.IndexByte(buf, 0)
	if idx == -1 {
		idx = len(buf)
	}

	return pointer.To(string(buf[:idx]))
}

// ReadFullAt fills buf with the contents of r at offset off.
//
// Short reads fail with io.ErrUnexpectedEOF (io.EOF if nothing could be read).
func ReadFullAt(r io.ReaderAt, buf []byte, off int64) error {
	_, err := io.ReadFull(io.NewSectionReader(r, off, int64(len(buf))), buf)

	return err
}
