// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package test contains common test code for all tests in the module.
package test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/freddierice/go-losetup/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-fsset/devicetree"
)

// SkipIfNotRoot skips tests which need to manipulate block devices.
func SkipIfNotRoot(t *testing.T) {
	t.Helper()

	if os.Geteuid() != 0 {
		t.Skip("skipping test; must be root")
	}
}

// LoopDevice creates a sparse image of the given size, attaches it and returns the loop device path.
func LoopDevice(t *testing.T, size int64) string {
	t.Helper()

	rawImage := filepath.Join(t.TempDir(), "image.raw")

	f, err := os.Create(rawImage)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())

	return AttachLoopDevice(t, rawImage)
}

// AttachLoopDevice attaches an existing image and detaches it on cleanup.
func AttachLoopDevice(t *testing.T, image string) string {
	t.Helper()

	loDev, err := losetup.Attach(image, 0, false)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, loDev.Detach())
	})

	return loDev.Path()
}

// Facility records calls to the system facility.
//
// Errors are returned from the queues keyed by the call (e.g. "swapon /dev/sda2"),
// one error per call until the queue is drained.
type Facility struct {
	mu sync.Mutex

	Calls  []string
	Errors map[string][]error
	DevNos map[string]uint64
	Nodes  map[string]uint64
}

// NewFacility returns an empty recorder.
func NewFacility() *Facility {
	return &Facility{
		Errors: map[string][]error{},
		DevNos: map[string]uint64{},
		Nodes:  map[string]uint64{},
	}
}

// FailWith queues err for the call.
func (f *Facility) FailWith(call string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Errors[call] = append(f.Errors[call], errs...)
}

func (f *Facility) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, call)

	if queue := f.Errors[call]; len(queue) > 0 {
		f.Errors[call] = queue[1:]

		return queue[0]
	}

	return nil
}

// CallsWithPrefix returns the recorded calls starting with prefix.
func (f *Facility) CallsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var calls []string

	for _, call := range f.Calls {
		if strings.HasPrefix(call, prefix) {
			calls = append(calls, call)
		}
	}

	return calls
}

// Mount implements format.Facility.
func (f *Facility) Mount(_ context.Context, source, target, fstype, options string) error {
	return f.record(fmt.Sprintf("mount %s %s %s %s", source, target, fstype, options))
}

// Unmount implements format.Facility.
func (f *Facility) Unmount(_ context.Context, target string) error {
	return f.record("umount " + target)
}

// SwapOn implements format.Facility.
func (f *Facility) SwapOn(_ context.Context, device, _ string) error {
	return f.record("swapon " + device)
}

// SwapOff implements format.Facility.
func (f *Facility) SwapOff(_ context.Context, device string) error {
	return f.record("swapoff " + device)
}

// MkSwap implements format.Facility.
func (f *Facility) MkSwap(_ context.Context, device, _, _ string) error {
	return f.record("mkswap " + device)
}

// DeviceNumber implements format.Facility.
func (f *Facility) DeviceNumber(path string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	devNo, ok := f.DevNos[path]
	if !ok {
		return 0, os.ErrNotExist
	}

	return devNo, nil
}

// MakeNode implements format.Facility.
func (f *Facility) MakeNode(path string, devNo uint64) error {
	if err := f.record("mknod " + path); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Nodes[path] = devNo

	return nil
}

// Backend records device lifecycle calls.
type Backend struct {
	mu sync.Mutex

	Calls  []string
	Errors map[string][]error
}

// NewBackend returns an empty recorder.
func NewBackend() *Backend {
	return &Backend{
		Errors: map[string][]error{},
	}
}

// FailWith queues err for the call (e.g. "setup sda1").
func (b *Backend) FailWith(call string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Errors[call] = append(b.Errors[call], errs...)
}

func (b *Backend) record(call string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Calls = append(b.Calls, call)

	if queue := b.Errors[call]; len(queue) > 0 {
		b.Errors[call] = queue[1:]

		return queue[0]
	}

	return nil
}

// Setup implements devicetree.Backend.
func (b *Backend) Setup(_ context.Context, d *devicetree.Device) error {
	return b.record("setup " + d.Name)
}

// Teardown implements devicetree.Backend.
func (b *Backend) Teardown(_ context.Context, d *devicetree.Device) error {
	return b.record("teardown " + d.Name)
}

// Create implements devicetree.Backend.
func (b *Backend) Create(_ context.Context, d *devicetree.Device) error {
	return b.record("create " + d.Name)
}
