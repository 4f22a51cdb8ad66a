// Package keys provides versioned key management for the middleware layer.
//
// Signing and encryption secrets are never bare per-process randoms with no
// lifecycle: a Manager owns a master key per version, keeps every historical
// version resolvable, and derives purpose-scoped subkeys so that audit
// signatures and encrypted cache entries written before a rotation remain
// verifiable and decryptable after it.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the size of a master key in bytes.
const MasterKeySize = 32

// Key is a single versioned master key.
type Key struct {
	// Version is the monotonically increasing key version, starting at 1.
	Version uint32

	// Secret is the raw master key material.
	Secret []byte

	// CreatedAt is when this version was created.
	CreatedAt time.Time
}

// Manager is the key-management interface.
type Manager interface {
	// Current returns the active key version.
	Current() Key

	// Get returns the key for a specific version.
	Get(version uint32) (Key, bool)

	// Rotate creates and activates a new key version. Previous versions
	// remain resolvable through Get.
	Rotate() (Key, error)

	// DeriveFor derives a purpose-scoped subkey from the given key version
	// using HKDF-SHA256. The same (version, purpose) pair always yields the
	// same subkey.
	DeriveFor(purpose string, version uint32) ([]byte, error)
}

// memoryManager is an in-memory Manager with a random master key.
type memoryManager struct {
	mu       sync.RWMutex
	versions map[uint32]Key
	current  uint32
}

// NewRandomManager creates a Manager seeded with a single random master key.
// The key is process-lifetime unless persisted through a file manager.
func NewRandomManager() (Manager, error) {
	secret := make([]byte, MasterKeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}

	m := &memoryManager{
		versions: make(map[uint32]Key),
		current:  1,
	}
	m.versions[1] = Key{Version: 1, Secret: secret, CreatedAt: time.Now().UTC()}
	return m, nil
}

// NewStaticManager creates a Manager from caller-supplied key material.
// Intended for tests and for embedding applications that load keys from an
// external store.
func NewStaticManager(secret []byte) (Manager, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("master key too short: %d bytes", len(secret))
	}

	m := &memoryManager{
		versions: make(map[uint32]Key),
		current:  1,
	}
	m.versions[1] = Key{Version: 1, Secret: append([]byte(nil), secret...), CreatedAt: time.Now().UTC()}
	return m, nil
}

// Current implements Manager.
func (m *memoryManager) Current() Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[m.current]
}

// Get implements Manager.
func (m *memoryManager) Get(version uint32) (Key, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.versions[version]
	return k, ok
}

// Rotate implements Manager.
func (m *memoryManager) Rotate() (Key, error) {
	secret := make([]byte, MasterKeySize)
	if _, err := rand.Read(secret); err != nil {
		return Key{}, fmt.Errorf("failed to generate master key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current + 1
	k := Key{Version: next, Secret: secret, CreatedAt: time.Now().UTC()}
	m.versions[next] = k
	m.current = next
	return k, nil
}

// DeriveFor implements Manager.
func (m *memoryManager) DeriveFor(purpose string, version uint32) ([]byte, error) {
	m.mu.RLock()
	k, ok := m.versions[version]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown key version %d", version)
	}
	return derive(k.Secret, purpose)
}

// derive derives a 32-byte subkey from the master secret for a purpose.
func derive(secret []byte, purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	out := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to derive subkey: %w", err)
	}
	return out, nil
}
