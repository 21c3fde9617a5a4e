// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package encryption defines the key material and errors shared by encryption providers.
package encryption

import "errors"

// ErrEncryptionKeyRejected triggered when encryption key does not match.
var ErrEncryptionKeyRejected = errors.New("encryption key rejected")

// ErrDeviceBusy returned when mapped device is still in use.
var ErrDeviceBusy = errors.New("mapped device is still in use")

// ErrNoKey is returned when neither a key file nor a passphrase is available.
var ErrNoKey = errors.New("no key material available")

// AnyKeyslot tells providers to pick any keyslot.
const AnyKeyslot = -1

// NoKeyFile is the crypttab key file value meaning "ask for a passphrase".
const NoKeyFile = "none"

// Key represents a single key.
//
// File takes precedence over Value.
type Key struct {
	File  string
	Value []byte
	Slot  int
}

// NewKey create a new key.
func NewKey(slot int, value []byte) *Key {
	return &Key{
		Value: value,
		Slot:  slot,
	}
}

// NewKeyFile creates a key read by the provider from the file.
func NewKeyFile(slot int, path string) *Key {
	return &Key{
		File: path,
		Slot: slot,
	}
}

// HasFile returns true if the key is read from a file.
func (k *Key) HasFile() bool {
	return k.File != "" && k.File != NoKeyFile
}

// Empty returns true if there is no key material at all.
func (k *Key) Empty() bool {
	return k == nil || (!k.HasFile() && len(k.Value) == 0)
}
