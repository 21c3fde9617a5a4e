// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package system

import (
	"strings"

	"golang.org/x/sys/unix"
)

type mountFlag struct {
	set   uintptr
	clear uintptr
}

var mountFlags = map[string]mountFlag{
	"defaults":    {},
	"ro":          {set: unix.MS_RDONLY},
	"rw":          {clear: unix.MS_RDONLY},
	"nosuid":      {set: unix.MS_NOSUID},
	"suid":        {clear: unix.MS_NOSUID},
	"nodev":       {set: unix.MS_NODEV},
	"dev":         {clear: unix.MS_NODEV},
	"noexec":      {set: unix.MS_NOEXEC},
	"exec":        {clear: unix.MS_NOEXEC},
	"sync":        {set: unix.MS_SYNCHRONOUS},
	"async":       {clear: unix.MS_SYNCHRONOUS},
	"dirsync":     {set: unix.MS_DIRSYNC},
	"noatime":     {set: unix.MS_NOATIME},
	"atime":       {clear: unix.MS_NOATIME},
	"nodiratime":  {set: unix.MS_NODIRATIME},
	"diratime":    {clear: unix.MS_NODIRATIME},
	"relatime":    {set: unix.MS_RELATIME},
	"norelatime":  {clear: unix.MS_RELATIME},
	"strictatime": {set: unix.MS_STRICTATIME},
	"lazytime":    {set: unix.MS_LAZYTIME},
	"bind":        {set: unix.MS_BIND},
	"rbind":       {set: unix.MS_BIND | unix.MS_REC},
	"remount":     {set: unix.MS_REMOUNT},
}

// options consumed by userspace (mount(8), systemd, fsck) and never passed to the kernel.
var userspaceOptions = map[string]struct{}{
	"auto":    {},
	"noauto":  {},
	"nofail":  {},
	"user":    {},
	"nouser":  {},
	"users":   {},
	"owner":   {},
	"group":   {},
	"_netdev": {},
}

// ParseMountOptions splits fstab options into mount(2) flags and filesystem data.
func ParseMountOptions(options string) (flags uintptr, data string) {
	var rest []string

	for _, option := range strings.Split(options, ",") {
		option = strings.TrimSpace(option)

		if option == "" {
			continue
		}

		if flag, ok := mountFlags[option]; ok {
			flags = (flags &^ flag.clear) | flag.set

			continue
		}

		if _, ok := userspaceOptions[option]; ok {
			continue
		}

		if strings.HasPrefix(option, "x-") || strings.HasPrefix(option, "comment=") {
			continue
		}

		rest = append(rest, option)
	}

	return flags, strings.Join(rest, ",")
}
