// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package format

// Kind is a broad class of formats.
type Kind int

// Format kinds.
const (
	KindUnknown Kind = iota
	KindFilesystem
	KindSwap
	KindLUKS
	KindBind
	KindNoDev
	KindNetwork
	KindMember
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindFilesystem:
		return "filesystem"
	case KindSwap:
		return "swap"
	case KindLUKS:
		return "luks"
	case KindBind:
		return "bind"
	case KindNoDev:
		return "nodev"
	case KindNetwork:
		return "network"
	case KindMember:
		return "member"
	case KindUnknown:
		fallthrough
	default:
		return "unknown"
	}
}

// Format type names.
const (
	TypeExt2      = "ext2"
	TypeExt3      = "ext3"
	TypeExt4      = "ext4"
	TypeXFS       = "xfs"
	TypeBtrfs     = "btrfs"
	TypeVFAT      = "vfat"
	TypeEFI       = "efi"
	TypeISO9660   = "iso9660"
	TypeSwap      = "swap"
	TypeLUKS      = "luks"
	TypeMDMember  = "mdmember"
	TypeLVMPV     = "lvmpv"
	TypeBind      = "bind"
	TypeNFS       = "nfs"
	TypeNFS4      = "nfs4"
	TypeProc      = "proc"
	TypeSysfs     = "sysfs"
	TypeDevPts    = "devpts"
	TypeTmpfs     = "tmpfs"
	TypeUSBFS     = "usbfs"
	TypeSELinuxFS = "selinuxfs"
	TypeEFIVarFS  = "efivarfs"
)

// descriptor holds the compile-time capabilities of a format type.
type descriptor struct {
	kind      Kind
	mountType string
	check     bool
	dump      bool
	probe     bool
}

var registry = map[string]descriptor{
	TypeExt2:      {kind: KindFilesystem, check: true, dump: true, probe: true},
	TypeExt3:      {kind: KindFilesystem, check: true, dump: true, probe: true},
	TypeExt4:      {kind: KindFilesystem, check: true, dump: true, probe: true},
	TypeXFS:       {kind: KindFilesystem, probe: true},
	TypeBtrfs:     {kind: KindFilesystem, probe: true},
	TypeVFAT:      {kind: KindFilesystem, check: true, probe: true},
	TypeEFI:       {kind: KindFilesystem, mountType: TypeVFAT, check: true, probe: true},
	TypeISO9660:   {kind: KindFilesystem, probe: true},
	TypeSwap:      {kind: KindSwap},
	TypeLUKS:      {kind: KindLUKS},
	TypeMDMember:  {kind: KindMember},
	TypeLVMPV:     {kind: KindMember},
	TypeBind:      {kind: KindBind},
	TypeNFS:       {kind: KindNetwork},
	TypeNFS4:      {kind: KindNetwork},
	TypeProc:      {kind: KindNoDev},
	TypeSysfs:     {kind: KindNoDev},
	TypeDevPts:    {kind: KindNoDev},
	TypeTmpfs:     {kind: KindNoDev},
	TypeUSBFS:     {kind: KindNoDev},
	TypeSELinuxFS: {kind: KindNoDev},
	TypeEFIVarFS:  {kind: KindNoDev},
}

// Known returns true if the format type is registered.
func Known(typ string) bool {
	_, ok := registry[typ]

	return ok
}

// IsNoDev returns true if typ names a filesystem without a backing device.
func IsNoDev(typ string) bool {
	return registry[typ].kind == KindNoDev
}

// MountType returns the type passed to mount(2) for the format type.
//
// Unknown types are returned unchanged.
func MountType(typ string) string {
	if d, ok := registry[typ]; ok && d.mountType != "" {
		return d.mountType
	}

	return typ
}
