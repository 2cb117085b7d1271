// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/rigrun-desk/internal/util"
)

// Vault stores secrets by opaque key.
type Vault interface {
	// GetSecret reports ok=false for a missing key.
	GetSecret(key string) (value string, ok bool, err error)
	SetSecret(key, value string) error
	// DeleteSecret is a no-op for a missing key.
	DeleteSecret(key string) error
}

// =============================================================================
// MEMORY VAULT
// =============================================================================

// MemoryVault keeps secrets in process memory.
type MemoryVault struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryVault returns an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{secrets: make(map[string]string)}
}

func (v *MemoryVault) GetSecret(key string) (string, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.secrets[key]
	return s, ok, nil
}

func (v *MemoryVault) SetSecret(key, value string) error {
	v.mu.Lock()
	v.secrets[key] = value
	v.mu.Unlock()
	return nil
}

func (v *MemoryVault) DeleteSecret(key string) error {
	v.mu.Lock()
	delete(v.secrets, key)
	v.mu.Unlock()
	return nil
}

// =============================================================================
// FILE VAULT
// =============================================================================

const (
	vaultVersion = 1
	keySize      = 32
	saltSize     = 32

	// DefaultIterations is the PBKDF2-SHA-256 work factor.
	DefaultIterations = 600000

	// verifierPlaintext is sealed into every vault so a wrong passphrase is
	// detected at open time instead of on the first read.
	verifierPlaintext = "rigdesk-vault"
)

var (
	// ErrWrongPassphrase is returned when the passphrase does not open the vault.
	ErrWrongPassphrase = errors.New("vault: wrong passphrase")
	// ErrCorruptVault is returned for a vault file that cannot be parsed.
	ErrCorruptVault = errors.New("vault: corrupt file")
)

// vaultFile is the on-disk JSON document. Every value is
// base64(nonce || ciphertext || tag).
type vaultFile struct {
	Version    int               `json:"version"`
	Salt       string            `json:"salt"`
	Iterations int               `json:"iterations"`
	Verifier   string            `json:"verifier"`
	Secrets    map[string]string `json:"secrets"`
}

// FileVault is an AES-256-GCM encrypted secret file whose key is derived from
// a passphrase with PBKDF2-SHA-256. Every change rewrites the file atomically.
type FileVault struct {
	mu   sync.Mutex
	path string
	aead cipher.AEAD
	doc  vaultFile
}

// FileVaultOptions tunes OpenFileVault.
type FileVaultOptions struct {
	// Iterations for a newly created vault (default: DefaultIterations).
	// Existing vaults keep the count they were created with.
	Iterations int
}

// OpenFileVault opens the vault at path, creating it when missing.
func OpenFileVault(path, passphrase string, opts FileVaultOptions) (*FileVault, error) {
	if passphrase == "" {
		return nil, errors.New("vault: empty passphrase")
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}

	v := &FileVault{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := v.create(passphrase, opts.Iterations); err != nil {
			return nil, err
		}
		return v, nil
	case err != nil:
		return nil, fmt.Errorf("vault: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &v.doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVault, err)
	}
	if v.doc.Version != vaultVersion || v.doc.Iterations <= 0 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptVault, v.doc.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(v.doc.Salt)
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("%w: bad salt", ErrCorruptVault)
	}
	if v.doc.Secrets == nil {
		v.doc.Secrets = make(map[string]string)
	}

	if v.aead, err = newAEAD(passphrase, salt, v.doc.Iterations); err != nil {
		return nil, err
	}
	check, err := v.open(v.doc.Verifier, "")
	if err != nil || check != verifierPlaintext {
		return nil, ErrWrongPassphrase
	}
	return v, nil
}

func (v *FileVault) create(passphrase string, iterations int) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}

	aead, err := newAEAD(passphrase, salt, iterations)
	if err != nil {
		return err
	}
	v.aead = aead
	v.doc = vaultFile{
		Version:    vaultVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Iterations: iterations,
		Secrets:    make(map[string]string),
	}
	if v.doc.Verifier, err = v.seal(verifierPlaintext, ""); err != nil {
		return err
	}
	return v.save()
}

// GetSecret decrypts the value stored under key.
func (v *FileVault) GetSecret(key string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	sealed, ok := v.doc.Secrets[key]
	if !ok {
		return "", false, nil
	}
	value, err := v.open(sealed, key)
	if err != nil {
		return "", false, fmt.Errorf("vault: decrypt %q: %w", key, err)
	}
	return value, true, nil
}

// SetSecret encrypts value under key and persists the vault.
func (v *FileVault) SetSecret(key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	sealed, err := v.seal(value, key)
	if err != nil {
		return err
	}
	prev, had := v.doc.Secrets[key]
	v.doc.Secrets[key] = sealed
	if err := v.save(); err != nil {
		if had {
			v.doc.Secrets[key] = prev
		} else {
			delete(v.doc.Secrets, key)
		}
		return err
	}
	return nil
}

// DeleteSecret removes key and persists the vault.
func (v *FileVault) DeleteSecret(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev, ok := v.doc.Secrets[key]
	if !ok {
		return nil
	}
	delete(v.doc.Secrets, key)
	if err := v.save(); err != nil {
		v.doc.Secrets[key] = prev
		return err
	}
	return nil
}

// Path returns the vault file location.
func (v *FileVault) Path() string {
	return v.path
}

func (v *FileVault) save() error {
	data, err := json.MarshalIndent(v.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: encode: %w", err)
	}
	if err := util.AtomicWriteFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return nil
}

// seal encrypts plaintext. The key name is bound as additional data so a
// value cannot be moved to another key.
func (v *FileVault) seal(plaintext, key string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	out := v.aead.Seal(nonce, nonce, []byte(plaintext), []byte(key))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (v *FileVault) open(sealed, key string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptVault, err)
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCorruptVault)
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], []byte(key))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func newAEAD(passphrase string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create GCM cipher: %w", err)
	}
	return gcm, nil
}
