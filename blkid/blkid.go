// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package blkid detects the format stored on a block device or an image file.
//
// Detected names match the format types of the format package (ext4, xfs, swap, luks, mdmember, ...).
package blkid

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrFailedLock is returned when the disk is locked exclusively by another process.
var ErrFailedLock = errors.New("failed to acquire shared lock while probing blockdevice")

// Info is what Probe found out about a device or image.
type Info struct { //nolint:govet
	// DevNo is the device number, zero for image files.
	DevNo uint64

	// WholeDisk is true for disks, false for partitions and image files.
	WholeDisk bool

	// Size of the probed device (in bytes).
	Size uint64

	// Skipped is set if the contents were not probed, e.g. for an empty optical drive.
	Skipped string

	// ProbeResult is empty if nothing was recognized.
	ProbeResult
}

// ProbeResult is a result of probing a single filesystem.
type ProbeResult struct { //nolint:govet
	Name  string
	UUID  *uuid.UUID
	Label *string

	BlockSize           uint32
	FilesystemBlockSize uint32
	ProbedSize          uint64
}

// ProbeOptions is the options for probing.
type ProbeOptions struct {
	// Logger to use for logging.
	Logger *zap.Logger
	// SkipLocking blockdevices in shared mode.
	SkipLocking bool
}

// ProbeOption is an option for probing.
type ProbeOption func(*ProbeOptions)

// WithProbeLogger sets the logger for the probe.
func WithProbeLogger(logger *zap.Logger) ProbeOption {
	return func(o *ProbeOptions) {
		o.Logger = logger
	}
}

// WithSkipLocking skips locking blockdevices in shared mode.
func WithSkipLocking(skip bool) ProbeOption {
	return func(o *ProbeOptions) {
		o.SkipLocking = skip
	}
}

func applyProbeOptions(opts ...ProbeOption) ProbeOptions {
	o := ProbeOptions{
		Logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}
