// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package probe defines common probe interfaces.
package probe

import (
	"io"

	"github.com/google/uuid"

	"github.com/siderolabs/go-fsset/blkid/internal/magic"
)

// Reader gives probers access to the device contents.
type Reader interface {
	io.ReaderAt

	// Size of the device in bytes.
	Size() int64
}

// Prober is an interface for probing filesystems and volume managers.
type Prober interface {
	// Name returns the name of the filesystem or volume manager.
	Name() string
	// Magic returns the magic value for the filesystem or volume manager.
	Magic() []*magic.Magic
	// Probe runs the further inspection and returns the result if successful.
	//
	// The matched magic value is passed in.
	Probe(Reader, magic.Magic) (*Result, error)
}

// MagicMatch is a prober whose magic value matched.
type MagicMatch struct {
	magic.Magic
	Prober
}

// Result is a probe result.
type Result struct {
	// Name overrides the prober name (e.g. ext2 vs. ext4).
	Name string

	UUID  *uuid.UUID
	Label *string

	BlockSize           uint32
	FilesystemBlockSize uint32
	ProbedSize          uint64
}
