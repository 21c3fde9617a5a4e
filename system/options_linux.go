// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package system

import (
	"bytes"
	"context"
	"os"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/encryption/luks"
)

func runCommand(ctx context.Context, stdin []byte, name string, args ...string) (string, error) {
	return cmd.RunContext(cmd.WithStdin(ctx, bytes.NewReader(stdin)), name, args...)
}

func applyOptions(opts ...Option) Options {
	o := Options{
		Logger:    zap.NewNop(),
		Runner:    runCommand,
		MapperDir: luks.DefaultMapperDir,
		PageSize:  os.Getpagesize(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}
