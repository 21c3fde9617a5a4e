// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package main implements the fsset command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/twpayne/go-vfs/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-fsset/devicetree"
	"github.com/siderolabs/go-fsset/format"
	"github.com/siderolabs/go-fsset/fsset"
	"github.com/siderolabs/go-fsset/system"
)

var rootCmdFlags struct {
	tree         string
	sysroot      string
	physicalRoot string
	parse        string
	logLevel     string
	efi          bool
	debug        bool
}

var rootCmd = &cobra.Command{
	Use:   "fsset",
	Short: "Manage the filesystems of an installed system",
	Long: `fsset reads the fstab and crypttab of an installed system into a device tree,
mounts the resulting set of filesystems under a target root and writes
fstab, crypttab and mdadm.conf back out.

The device tree is described in YAML:

	devices:
	  - name: sda
	    kind: disk
	  - name: sda1
	    kind: partition
	    parents: [sda]
	    format: {type: ext4, uuid: 1111, mountpoint: /}
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// The system the commands act on.
var (
	targetFS vfs.FS = vfs.OSFS
	clock           = time.Now

	newFacility = func(logger *zap.Logger) format.Facility {
		return system.NewFacility(system.WithLogger(logger))
	}
	newBackend = func(logger *zap.Logger) devicetree.Backend {
		return system.NewBackend(system.WithLogger(logger))
	}
)

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(&rootCmdFlags.tree, "tree", "t", "", "YAML description of the device tree")
	flags.StringVar(&rootCmdFlags.sysroot, "sysroot", fsset.DefaultSysroot, "root the target system is mounted on")
	flags.StringVar(&rootCmdFlags.physicalRoot, "physical-root", fsset.DefaultPhysicalRoot, "root of the target system's physical storage")
	flags.StringVar(&rootCmdFlags.parse, "parse", "", "read the fstab of the system installed at this root into the tree")
	flags.StringVar(&rootCmdFlags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&rootCmdFlags.efi, "efi", false, "mount efivarfs with the pseudo filesystems")
	flags.BoolVar(&rootCmdFlags.debug, "debug", false, "human readable debug logging")

	rootCmd.AddCommand(fstabCmd, crypttabCmd, mdadmCmd, writeCmd, mountCmd, runCmd, swaponCmd, mkdevrootCmd)
}

func newLogger() (*zap.Logger, error) {
	if rootCmdFlags.debug {
		return zap.NewDevelopment()
	}

	level, err := zapcore.ParseLevel(rootCmdFlags.logLevel)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)

	return config.Build()
}

func loadTree(logger *zap.Logger, facility format.Facility, backend devicetree.Backend) (*devicetree.Tree, error) {
	if rootCmdFlags.tree == "" {
		return devicetree.NewTree(devicetree.WithLogger(logger)), nil
	}

	f, err := os.Open(rootCmdFlags.tree)
	if err != nil {
		return nil, err
	}

	defer f.Close() //nolint:errcheck

	tree, err := devicetree.LoadYAML(f,
		devicetree.LoadWithLogger(logger),
		devicetree.LoadWithFacility(facility),
		devicetree.LoadWithBackend(backend),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", rootCmdFlags.tree, err)
	}

	return tree, nil
}

// withFSSet builds the filesystem set from the flags and passes it to fn.
func withFSSet(ctx context.Context, fn func(ctx context.Context, logger *zap.Logger, s *fsset.FSSet) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	defer logger.Sync() //nolint:errcheck

	facility := newFacility(logger)
	backend := newBackend(logger)

	tree, err := loadTree(logger, facility, backend)
	if err != nil {
		return err
	}

	s := fsset.New(tree,
		fsset.WithLogger(logger),
		fsset.WithFS(targetFS),
		fsset.WithClock(clock),
		fsset.WithSysroot(rootCmdFlags.sysroot),
		fsset.WithPhysicalRoot(rootCmdFlags.physicalRoot),
		fsset.WithEFI(rootCmdFlags.efi),
		fsset.WithFacility(facility),
		fsset.WithBackend(backend),
	)

	if rootCmdFlags.parse != "" {
		if err = s.ParseFstab(ctx, rootCmdFlags.parse); err != nil {
			return err
		}
	}

	return fn(ctx, logger, s)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)

		stop()
		os.Exit(1) //nolint:gocritic
	}
}
