// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package system implements the format facility and device backend on top of the running Linux system.
package system

import (
	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/encryption/luks"
)

// Runner executes an external command, feeding stdin, and returns its output.
type Runner = luks.Runner

// Options configures Facility and Backend.
type Options struct {
	Logger *zap.Logger
	Runner Runner

	// MapperDir is where device-mapper nodes appear.
	MapperDir string
	// PageSize is the system memory page size used to validate swap signatures.
	PageSize int
}

// Option is a functional option for Facility and Backend.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithRunner replaces the external command runner.
func WithRunner(runner Runner) Option {
	return func(o *Options) {
		o.Runner = runner
	}
}

// WithMapperDir sets the device-mapper node directory.
func WithMapperDir(dir string) Option {
	return func(o *Options) {
		o.MapperDir = dir
	}
}

// WithPageSize overrides the detected page size.
func WithPageSize(size int) Option {
	return func(o *Options) {
		o.PageSize = size
	}
}
