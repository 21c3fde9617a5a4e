// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package block

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// CD-ROM ioctls, see linux/cdrom.h.
const (
	cdromDriveStatus   = 0x5326
	cdromGetCapability = 0x5331

	cdsNoDisc   = 1
	cdsTrayOpen = 2
)

// ErrNoSlaves is returned by WholeDisk for a device-mapper partition without a backing device.
var ErrNoSlaves = errors.New("device-mapper partition has no backing device")

// NewFromPath opens the device node at path.
func NewFromPath(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	return &Device{
		f:         f,
		ownedFile: true,
	}, nil
}

// DevNo returns the device number.
func (d *Device) DevNo() (uint64, error) {
	if d.devNo == 0 {
		var st unix.Stat_t

		if err := unix.Fstat(int(d.f.Fd()), &st); err != nil {
			return 0, err
		}

		d.devNo = uint64(st.Rdev) //nolint:unconvert
	}

	return d.devNo, nil
}

// Size returns the device size in bytes.
func (d *Device) Size() (uint64, error) {
	var size uint64

	if err := d.ioctl(unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); err != nil {
		return 0, err
	}

	return size, nil
}

// Name returns the kernel name of the device, or the mapped name for device-mapper nodes.
func (d *Device) Name() (string, error) {
	devNo, err := d.DevNo()
	if err != nil {
		return "", err
	}

	return DeviceName(devNo)
}

// IsOptical returns true for CD-ROM drives.
func (d *Device) IsOptical() bool {
	return d.ioctl(cdromGetCapability, 0) == nil
}

// HasMedia returns false for an optical drive with no disc (or an open tray).
func (d *Device) HasMedia() bool {
	status, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), cdromDriveStatus, 0)

	return errno != 0 || (status != cdsNoDisc && status != cdsTrayOpen)
}

// IsWholeDisk returns false for partitions, including device-mapper partitions.
func (d *Device) IsWholeDisk() (bool, error) {
	if _, err := d.sysfsAttr("partition"); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	return !strings.HasPrefix(d.mapperUUID(), "part-"), nil
}

// IsLVMInternal returns true for LVM volumes which aren't meant to be used directly
// (thin pool data, snapshot origins), named LVM-<uuid>-<suffix> by device-mapper.
func (d *Device) IsLVMInternal() bool {
	rest, ok := strings.CutPrefix(d.mapperUUID(), "LVM-")
	if !ok {
		return false
	}

	return strings.Contains(rest, "-")
}

// WholeDisk opens the disk holding the partition.
//
// For whole disks a copy of d is returned. The result should be closed.
func (d *Device) WholeDisk() (*Device, error) {
	dir, err := d.sysfsDir()
	if err != nil {
		return nil, err
	}

	if _, err = os.Stat(filepath.Join(dir, "partition")); err == nil {
		// partitions live in the directory of their disk
		target, err := os.Readlink(dir)
		if err != nil {
			return nil, err
		}

		return NewFromPath(filepath.Join("/dev", filepath.Base(filepath.Dir(target))))
	}

	if !strings.HasPrefix(d.mapperUUID(), "part-") {
		return &Device{f: d.f, devNo: d.devNo}, nil
	}

	slaves, err := os.ReadDir(filepath.Join(dir, "slaves"))
	if err != nil {
		return nil, err
	}

	if len(slaves) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSlaves, d.f.Name())
	}

	return NewFromPath(filepath.Join("/dev", slaves[0].Name()))
}

// TryLockShared takes a shared lock, failing with EWOULDBLOCK if the device is locked exclusively.
func (d *Device) TryLockShared() error {
	return d.flock(unix.LOCK_SH | unix.LOCK_NB)
}

// TryLockExclusive takes an exclusive lock, failing with EWOULDBLOCK if the device is locked.
func (d *Device) TryLockExclusive() error {
	return d.flock(unix.LOCK_EX | unix.LOCK_NB)
}

// Unlock releases the lock.
func (d *Device) Unlock() error {
	return d.flock(unix.LOCK_UN)
}

func (d *Device) flock(how int) error {
	for {
		if err := unix.Flock(int(d.f.Fd()), how); !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func (d *Device) ioctl(req, arg uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, arg); errno != 0 {
		return errno
	}

	return nil
}

func (d *Device) sysfsDir() (string, error) {
	devNo, err := d.DevNo()
	if err != nil {
		return "", err
	}

	return sysFsDevPath(DefaultSysFS, devNo), nil
}

func (d *Device) sysfsAttr(name string) ([]byte, error) {
	dir, err := d.sysfsDir()
	if err != nil {
		return nil, err
	}

	return os.ReadFile(filepath.Join(dir, name))
}

// mapperUUID returns the device-mapper UUID, empty for other devices.
func (d *Device) mapperUUID() string {
	contents, err := d.sysfsAttr(filepath.Join("dm", "uuid"))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(contents))
}
