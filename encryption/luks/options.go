// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package luks

import (
	"bytes"
	"context"
	"time"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"go.uber.org/zap"
)

// Runner executes a command feeding stdin and returns its output.
type Runner func(ctx context.Context, stdin []byte, name string, args ...string) (string, error)

func runCommand(ctx context.Context, stdin []byte, name string, args ...string) (string, error) {
	return cmd.RunContext(cmd.WithStdin(ctx, bytes.NewReader(stdin)), name, args...)
}

// Option represents luks configuration callback.
type Option func(l *LUKS)

// WithIterTime sets iter-time parameter.
func WithIterTime(value time.Duration) Option {
	return func(l *LUKS) {
		l.iterTime = value
	}
}

// WithPBKDFMemory sets pbkdf-memory parameter.
func WithPBKDFMemory(value uint64) Option {
	return func(l *LUKS) {
		l.pbkdfMemory = value
	}
}

// WithKeySize sets generated key size.
func WithKeySize(value uint) Option {
	return func(l *LUKS) {
		l.keySize = value
	}
}

// WithPerfOptions enables encryption perf options.
func WithPerfOptions(options ...string) Option {
	return func(l *LUKS) {
		l.perfOptions = options
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *LUKS) {
		l.logger = logger
	}
}

// WithRunner replaces the cryptsetup command runner.
func WithRunner(runner Runner) Option {
	return func(l *LUKS) {
		l.runner = runner
	}
}

// WithMapperDir sets the directory holding mapped devices (defaults to /dev/mapper).
func WithMapperDir(dir string) Option {
	return func(l *LUKS) {
		l.mapperDir = dir
	}
}
