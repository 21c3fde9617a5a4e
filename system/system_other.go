// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package system

import (
	"context"
	"errors"

	"github.com/siderolabs/go-fsset/devicetree"
)

var errNotSupported = errors.New("not supported on this platform")

// Facility is not available outside Linux.
type Facility struct{}

// NewFacility returns a facility failing every call.
func NewFacility(...Option) *Facility { return &Facility{} }

// Mount implements format.Facility.
func (*Facility) Mount(context.Context, string, string, string, string) error { return errNotSupported }

// Unmount implements format.Facility.
func (*Facility) Unmount(context.Context, string) error { return errNotSupported }

// SwapOn implements format.Facility.
func (*Facility) SwapOn(context.Context, string, string) error { return errNotSupported }

// SwapOff implements format.Facility.
func (*Facility) SwapOff(context.Context, string) error { return errNotSupported }

// MkSwap implements format.Facility.
func (*Facility) MkSwap(context.Context, string, string, string) error { return errNotSupported }

// DeviceNumber implements format.Facility.
func (*Facility) DeviceNumber(string) (uint64, error) { return 0, errNotSupported }

// MakeNode implements format.Facility.
func (*Facility) MakeNode(string, uint64) error { return errNotSupported }

// Backend is not available outside Linux.
type Backend struct{}

// NewBackend returns a backend failing every call.
func NewBackend(...Option) *Backend { return &Backend{} }

// Setup implements devicetree.Backend.
func (*Backend) Setup(context.Context, *devicetree.Device) error { return errNotSupported }

// Teardown implements devicetree.Backend.
func (*Backend) Teardown(context.Context, *devicetree.Device) error { return errNotSupported }

// Create implements devicetree.Backend.
func (*Backend) Create(context.Context, *devicetree.Device) error { return errNotSupported }
