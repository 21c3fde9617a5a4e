// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package system

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/siderolabs/go-fsset/format"
)

const maxSwapPageSize = 0x10000

var suspendSignatures = [][]byte{
	[]byte("S1SUSPEND"),
	[]byte("S2SUSPEND"),
	[]byte("ULSUSPEND"),
	[]byte("LINHIB0001"),
}

// classifySwap inspects the swap signature of device and reports the swap
// areas swapon would refuse as *format.SwapError.
//
// Devices without a recognizable signature are left to swapon.
func classifySwap(device string, pageSize int) error {
	f, err := os.Open(device)
	if err != nil {
		return err
	}

	defer f.Close() //nolint:errcheck

	buf := make([]byte, maxSwapPageSize)

	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}

	buf = buf[:n]

	for ps := 0x1000; ps <= maxSwapPageSize; ps <<= 1 {
		if len(buf) < ps {
			break
		}

		sig := buf[ps-10 : ps]

		switch {
		case bytes.Equal(sig, []byte("SWAPSPACE2")):
			if ps != pageSize {
				return &format.SwapError{
					Device: device,
					Reason: format.SwapPageSize,
					Err:    fmt.Errorf("signature page size %d, system page size %d", ps, pageSize),
				}
			}

			return nil
		case bytes.Equal(sig, []byte("SWAP-SPACE")):
			return &format.SwapError{Device: device, Reason: format.SwapOld}
		}

		for _, suspend := range suspendSignatures {
			if bytes.HasPrefix(sig, suspend) {
				return &format.SwapError{Device: device, Reason: format.SwapSuspend}
			}
		}
	}

	return nil
}

// swapOnArgs translates fstab swap options into swapon flags.
func swapOnArgs(device, options string) []string {
	var args []string

	for _, option := range strings.Split(options, ",") {
		switch {
		case strings.HasPrefix(option, "pri="):
			args = append(args, "--priority", strings.TrimPrefix(option, "pri="))
		case option == "discard":
			args = append(args, "--discard")
		case strings.HasPrefix(option, "discard="):
			args = append(args, "--discard="+strings.TrimPrefix(option, "discard="))
		}
	}

	return append(args, device)
}
