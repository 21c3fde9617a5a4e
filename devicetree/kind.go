// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package devicetree

import "fmt"

// Kind is a device kind.
type Kind int

// Device kinds.
const (
	KindDisk Kind = iota
	KindPartition
	KindLUKS
	KindMDArray
	KindMDContainer
	KindMultipath
	KindLVMLogicalVolume
	KindBtrfsVolume
	KindBtrfsSubvolume
	KindOptical
	KindLoop
	KindNFS
	KindISCSI
	KindFile
	KindDirectory
	KindNoDevice
)

var kindNames = map[Kind]string{
	KindDisk:             "disk",
	KindPartition:        "partition",
	KindLUKS:             "luks",
	KindMDArray:          "mdarray",
	KindMDContainer:      "mdcontainer",
	KindMultipath:        "multipath",
	KindLVMLogicalVolume: "lvmlv",
	KindBtrfsVolume:      "btrfs",
	KindBtrfsSubvolume:   "btrfs-subvolume",
	KindOptical:          "optical",
	KindLoop:             "loop",
	KindNFS:              "nfs",
	KindISCSI:            "iscsi",
	KindFile:             "file",
	KindDirectory:        "directory",
	KindNoDevice:         "nodevice",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses the kind name as returned by String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown device kind %q", s)
}
