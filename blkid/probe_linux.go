// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package blkid

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/blkid/internal/chain"
	"github.com/siderolabs/go-fsset/blkid/internal/utils"
)

// identify runs the probers whose magic matches the start of r.
//
// The first prober which recognizes the contents wins.
func (i *Info) identify(r io.ReaderAt, logger *zap.Logger) error {
	probers := chain.Default()

	// small images can't carry the far-away magics, read what is there
	magicReadSize := min(uint64(probers.MaxMagicSize()), i.Size)
	if magicReadSize == 0 {
		return nil
	}

	buf := make([]byte, magicReadSize)

	if err := utils.ReadFullAt(r, buf, 0); err != nil {
		return fmt.Errorf("error reading magic buffer: %w", err)
	}

	section := io.NewSectionReader(r, 0, int64(i.Size))

	for _, matched := range probers.MagicMatches(buf) {
		res, err := matched.Probe(section, matched.Magic)
		if err != nil {
			logger.Debug("prober failed", zap.String("prober", matched.Name()), zap.Error(err))

			continue
		}

		if res == nil {
			continue
		}

		i.ProbeResult = ProbeResult{
			Name:                matched.Name(),
			UUID:                res.UUID,
			Label:               res.Label,
			BlockSize:           res.BlockSize,
			FilesystemBlockSize: res.FilesystemBlockSize,
			ProbedSize:          res.ProbedSize,
		}

		if res.Name != "" {
			i.Name = res.Name
		}

		logger.Debug("format detected", zap.String("name", i.Name))

		return nil
	}

	return nil
}
