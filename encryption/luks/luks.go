// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package luks provides a way to call LUKS cryptsetup.
package luks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"go.uber.org/zap"

	"github.com/siderolabs/go-fsset/encryption"
)

// Cipher LUKS2 cipher type.
type Cipher int

const (
	// AESXTSPlain64Cipher represents aes-xts-plain64 encryption cipher.
	AESXTSPlain64Cipher Cipher = iota
	// XChaCha20Cipher represents xchacha20 encryption cipher.
	XChaCha20Cipher
)

const (
	// AESXTSPlain64CipherString string representation of aes-xts-plain64 cipher.
	AESXTSPlain64CipherString = "aes-xts-plain64"
	// XChaCha20String string representation of xchacha20 cipher.
	XChaCha20String = "xchacha20,aes-adiantum-plain64"
)

var keySizeDefaults = map[Cipher]uint{
	AESXTSPlain64Cipher: 512,
	XChaCha20Cipher:     256,
}

// String converts to command line string parameter value.
func (c Cipher) String() (string, error) {
	switch c {
	case AESXTSPlain64Cipher:
		return AESXTSPlain64CipherString, nil
	case XChaCha20Cipher:
		return XChaCha20String, nil
	default:
		return "", fmt.Errorf("unknown cipher kind %d", c)
	}
}

// ParseCipherKind converts cipher string into cipher type.
func ParseCipherKind(s string) (Cipher, error) {
	switch s {
	case "", AESXTSPlain64CipherString:
		return AESXTSPlain64Cipher, nil
	case XChaCha20String:
		return XChaCha20Cipher, nil
	default:
		return 0, fmt.Errorf("unknown cipher kind %s", s)
	}
}

// Perf options accepted by WithPerfOptions.
const (
	PerfNoReadWorkqueue  = "no_read_workqueue"
	PerfNoWriteWorkqueue = "no_write_workqueue"
	PerfSameCPUCrypt     = "same_cpu_crypt"
)

// crypttab options translated into cryptsetup flags on open.
var crypttabFlags = map[string]string{
	"discard":   "--allow-discards",
	"readonly":  "--readonly",
	"read-only": "--readonly",
}

// DefaultMapperDir is where device-mapper nodes appear.
const DefaultMapperDir = "/dev/mapper"

// LUKS drives cryptsetup.
type LUKS struct {
	logger    *zap.Logger
	runner    Runner
	mapperDir string

	perfOptions []string
	cipher      Cipher
	iterTime    time.Duration
	pbkdfMemory uint64
	keySize     uint
}

// New creates new LUKS provider.
func New(cipher Cipher, options ...Option) *LUKS {
	l := &LUKS{
		cipher:    cipher,
		logger:    zap.NewNop(),
		runner:    runCommand,
		mapperDir: DefaultMapperDir,
	}

	for _, option := range options {
		option(l)
	}

	if l.keySize == 0 {
		l.keySize = keySizeDefaults[cipher]
	}

	return l
}

// MappedPath returns the device node of an opened mapping.
func (l *LUKS) MappedPath(name string) string {
	return filepath.Join(l.mapperDir, name)
}

// IsOpen returns true if the mapping exists.
func (l *LUKS) IsOpen(name string) bool {
	_, err := os.Stat(l.MappedPath(name))

	return err == nil
}

// Open runs luksOpen on a device and returns mapped device path.
//
// Options are crypttab options: discard and readonly are honored, the rest is logged and skipped.
func (l *LUKS) Open(ctx context.Context, device, name string, key *encryption.Key, options []string) (string, error) {
	if key.Empty() {
		return "", fmt.Errorf("error opening %s: %w", device, encryption.ErrNoKey)
	}

	args := []string{"luksOpen", device, name}

	keyArgs, stdin := keyfileArgs(key)
	args = append(args, keyArgs...)
	args = append(args, keyslotArgs(key)...)

	for _, option := range options {
		option = strings.TrimSpace(option)

		if option == "" {
			continue
		}

		if flag, ok := crypttabFlags[option]; ok {
			args = append(args, flag)

			continue
		}

		l.logger.Debug("ignoring crypttab option", zap.String("device", device), zap.String("option", option))
	}

	args = append(args, l.perfArgs()...)

	if _, err := l.run(ctx, args, stdin); err != nil {
		return "", err
	}

	return l.MappedPath(name), nil
}

// Encrypt formats the device as LUKS2.
//
// If uuid is not empty, the header gets that UUID.
func (l *LUKS) Encrypt(ctx context.Context, device, uuid string, key *encryption.Key) error {
	if key.Empty() {
		return fmt.Errorf("error formatting %s: %w", device, encryption.ErrNoKey)
	}

	cipher, err := l.cipher.String()
	if err != nil {
		return err
	}

	args := []string{"luksFormat", "--type", "luks2", "-q", "-c", cipher}

	keyArgs, stdin := keyfileArgs(key)
	args = append(args, keyArgs...)
	args = append(args, l.argonArgs()...)
	args = append(args, keyslotArgs(key)...)
	args = append(args, l.encryptionArgs()...)

	if uuid != "" {
		args = append(args, "--uuid="+uuid)
	}

	args = append(args, device)

	_, err = l.run(ctx, args, stdin)

	return err
}

// Close removes the mapping.
func (l *LUKS) Close(ctx context.Context, name string) error {
	_, err := l.run(ctx, []string{"luksClose", name}, nil)

	return err
}

// CheckKey checks if the key is valid.
func (l *LUKS) CheckKey(ctx context.Context, device string, key *encryption.Key) (bool, error) {
	args := []string{"luksOpen", "--test-passphrase", device}

	keyArgs, stdin := keyfileArgs(key)
	args = append(args, keyArgs...)
	args = append(args, keyslotArgs(key)...)

	if _, err := l.run(ctx, args, stdin); err != nil {
		if errors.Is(err, encryption.ErrEncryptionKeyRejected) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// run executes cryptsetup with arguments.
func (l *LUKS) run(ctx context.Context, args []string, stdin []byte) (string, error) {
	l.logger.Debug("running cryptsetup", zap.Strings("args", args))

	stdout, err := l.runner(ctx, stdin, "cryptsetup", args...)
	if err != nil {
		var exitError *cmd.ExitError

		if errors.As(err, &exitError) {
			switch exitError.ExitCode {
			case 1:
				if strings.Contains(string(exitError.Output), "No usable keyslot is available.") {
					return "", encryption.ErrEncryptionKeyRejected
				}
			case 2:
				return "", encryption.ErrEncryptionKeyRejected
			case 5:
				return "", encryption.ErrDeviceBusy
			}
		}

		return "", fmt.Errorf("failed to call cryptsetup: %w", err)
	}

	return stdout, nil
}

func (l *LUKS) argonArgs() []string {
	args := []string{}

	if l.iterTime != 0 {
		args = append(args, fmt.Sprintf("--iter-time=%d", l.iterTime.Milliseconds()))
	}

	if l.pbkdfMemory != 0 {
		args = append(args, fmt.Sprintf("--pbkdf-memory=%d", l.pbkdfMemory))
	}

	return args
}

func (l *LUKS) perfArgs() []string {
	res := []string{}

	for _, o := range l.perfOptions {
		res = append(res, fmt.Sprintf("--perf-%s", o))
	}

	return res
}

func (l *LUKS) encryptionArgs() []string {
	res := []string{}

	if l.keySize != 0 {
		res = append(res, fmt.Sprintf("--key-size=%d", l.keySize))
	}

	return append(res, l.perfArgs()...)
}

func keyfileArgs(key *encryption.Key) ([]string, []byte) {
	if key.HasFile() {
		return []string{"--key-file=" + key.File}, nil
	}

	return []string{"--key-file=-"}, key.Value
}

func keyslotArgs(key *encryption.Key) []string {
	if key.Slot != encryption.AnyKeyslot {
		return []string{fmt.Sprintf("--key-slot=%d", key.Slot)}
	}

	return []string{}
}
