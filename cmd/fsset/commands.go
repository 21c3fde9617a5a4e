// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"

	gocmd "github.com/siderolabs/go-cmd/pkg/cmd"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/format"
	"github.com/siderolabs/go-fsset/fsset"
)

var fstabCmdFlags struct {
	swaps bool
}

var fstabCmd = &cobra.Command{
	Use:   "fstab",
	Short: "Print the fstab of the filesystem set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFSSet(cmd.Context(), func(_ context.Context, _ *zap.Logger, s *fsset.FSSet) error {
			if fstabCmdFlags.swaps {
				s.SetFstabSwaps(s.SwapDevices())
			}

			fmt.Fprint(cmd.OutOrStdout(), s.Fstab())

			return nil
		})
	},
}

var crypttabCmd = &cobra.Command{
	Use:   "crypttab",
	Short: "Print the crypttab of the filesystem set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFSSet(cmd.Context(), func(_ context.Context, _ *zap.Logger, s *fsset.FSSet) error {
			fmt.Fprint(cmd.OutOrStdout(), s.Crypttab())

			return nil
		})
	},
}

var mdadmCmd = &cobra.Command{
	Use:   "mdadm",
	Short: "Print the mdadm.conf of the filesystem set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFSSet(cmd.Context(), func(_ context.Context, _ *zap.Logger, s *fsset.FSSet) error {
			fmt.Fprint(cmd.OutOrStdout(), s.MdadmConf())

			return nil
		})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write fstab, crypttab and mdadm.conf to the sysroot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFSSet(cmd.Context(), func(_ context.Context, logger *zap.Logger, s *fsset.FSSet) error {
			s.SetFstabSwaps(s.SwapDevices())

			if err := s.Write(); err != nil {
				return err
			}

			logger.Info("configuration written", zap.String("sysroot", rootCmdFlags.sysroot))

			return nil
		})
	},
}

var mountCmdFlags struct {
	rootPath  string
	readOnly  bool
	skipRoot  bool
	keepGoing bool
	swap      bool
}

// mountPolicy escalates every failure unless asked to keep going.
func mountPolicy(logger *zap.Logger) fsset.ErrorPolicy {
	return fsset.ErrorPolicyFunc(func(err error) fsset.Decision {
		if mountCmdFlags.keepGoing || format.IsSwapError(err) {
			logger.Warn("continuing after error", zap.Error(err))

			return fsset.Continue
		}

		return fsset.Abort
	})
}

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the filesystem set under the sysroot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFSSet(cmd.Context(), func(ctx context.Context, logger *zap.Logger, s *fsset.FSSet) error {
			policy := mountPolicy(logger)

			var opts []fsset.MountOption

			if mountCmdFlags.rootPath != "" {
				opts = append(opts, fsset.WithRootPath(mountCmdFlags.rootPath))
			}

			if mountCmdFlags.readOnly {
				opts = append(opts, fsset.WithReadOnly("ro"))
			}

			if mountCmdFlags.skipRoot {
				opts = append(opts, fsset.WithSkipRoot())
			}

			if err := s.MountFilesystems(ctx, policy, opts...); err != nil {
				return err
			}

			if !mountCmdFlags.swap {
				return nil
			}

			return s.TurnOnSwap(ctx, policy, mountCmdFlags.rootPath)
		})
	},
}

var runCmdFlags struct {
	keepSwap bool
}

var runCmd = &cobra.Command{
	Use:   "run -- command [args...]",
	Short: "Mount the filesystem set, run a command chrooted into it and unmount it again",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFSSet(cmd.Context(), func(ctx context.Context, logger *zap.Logger, s *fsset.FSSet) (err error) {
			if err = s.MountFilesystems(ctx, mountPolicy(logger)); err != nil {
				return err
			}

			defer func() {
				var opts []fsset.UnmountOption

				if runCmdFlags.keepSwap {
					opts = append(opts, fsset.WithoutSwapOff())
				}

				if unmountErr := s.UnmountFilesystems(context.Background(), opts...); unmountErr != nil {
					logger.Error("error unmounting filesystems", zap.Error(unmountErr))

					if err == nil {
						err = unmountErr
					}
				}
			}()

			if err = s.TurnOnSwap(ctx, mountPolicy(logger), rootCmdFlags.sysroot); err != nil {
				return err
			}

			out, err := gocmd.RunContext(ctx, "chroot", append([]string{rootCmdFlags.sysroot}, args...)...)
			fmt.Fprint(cmd.OutOrStdout(), out)

			return err
		})
	},
}

var swaponCmdFlags struct {
	rootPath string
}

var swaponCmd = &cobra.Command{
	Use:   "swapon",
	Short: "Activate the swap devices of the filesystem set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFSSet(cmd.Context(), func(ctx context.Context, logger *zap.Logger, s *fsset.FSSet) error {
			return s.TurnOnSwap(ctx, mountPolicy(logger), swaponCmdFlags.rootPath)
		})
	},
}

var mkdevrootCmd = &cobra.Command{
	Use:   "mkdevroot",
	Short: "Create /dev/root for the root device under the sysroot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFSSet(cmd.Context(), func(_ context.Context, _ *zap.Logger, s *fsset.FSSet) error {
			return s.MkDevRoot()
		})
	},
}

func init() {
	fstabCmd.Flags().BoolVar(&fstabCmdFlags.swaps, "swaps", true, "include all swap devices")

	mountCmd.Flags().StringVar(&mountCmdFlags.rootPath, "root-path", "", "mount under this path instead of the sysroot")
	mountCmd.Flags().BoolVar(&mountCmdFlags.readOnly, "read-only", false, "mount all filesystems read-only")
	mountCmd.Flags().BoolVar(&mountCmdFlags.skipRoot, "skip-root", false, "don't mount the root filesystem")
	mountCmd.Flags().BoolVar(&mountCmdFlags.keepGoing, "keep-going", false, "continue after mount errors")
	mountCmd.Flags().BoolVar(&mountCmdFlags.swap, "swap", false, "activate swap after mounting")

	runCmd.Flags().BoolVar(&runCmdFlags.keepSwap, "keep-swap", false, "leave swap active")

	swaponCmd.Flags().StringVar(&swaponCmdFlags.rootPath, "root-path", "", "root swap files are looked up under")
}
