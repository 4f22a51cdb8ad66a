package keys

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// fileManager persists key versions to a JSON file with 0600 permissions.
// It satisfies the load-from-store half of the key-management lifecycle;
// rotation writes the new version back before activating it.
type fileManager struct {
	path string

	mu       sync.RWMutex
	versions map[uint32]Key
	current  uint32
}

// storedKey is the on-disk representation of a key version.
type storedKey struct {
	Version   uint32    `json:"version"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"createdAt"`
}

// storedKeyring is the on-disk file format.
type storedKeyring struct {
	Current  uint32      `json:"current"`
	Versions []storedKey `json:"versions"`
}

// NewFileManager creates a Manager backed by the given file. If the file
// does not exist, a fresh random key is generated and persisted.
func NewFileManager(path string) (Manager, error) {
	m := &fileManager{
		path:     path,
		versions: make(map[uint32]Key),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted configuration
	switch {
	case err == nil:
		if err := m.load(data); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		if err := m.bootstrap(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	return m, nil
}

// load parses a persisted keyring.
func (m *fileManager) load(data []byte) error {
	var kr storedKeyring
	if err := json.Unmarshal(data, &kr); err != nil {
		return fmt.Errorf("failed to parse key file: %w", err)
	}
	if len(kr.Versions) == 0 {
		return fmt.Errorf("key file contains no versions")
	}

	for _, sk := range kr.Versions {
		secret, err := base64.StdEncoding.DecodeString(sk.Secret)
		if err != nil {
			return fmt.Errorf("failed to decode key version %d: %w", sk.Version, err)
		}
		m.versions[sk.Version] = Key{Version: sk.Version, Secret: secret, CreatedAt: sk.CreatedAt}
	}

	if _, ok := m.versions[kr.Current]; !ok {
		return fmt.Errorf("key file current version %d not present", kr.Current)
	}
	m.current = kr.Current
	return nil
}

// bootstrap generates and persists the first key version.
func (m *fileManager) bootstrap() error {
	mem, err := NewRandomManager()
	if err != nil {
		return err
	}
	k := mem.Current()
	m.versions[k.Version] = k
	m.current = k.Version
	return m.persistLocked()
}

// persistLocked writes the keyring to disk. Callers must hold the write
// lock except during bootstrap.
func (m *fileManager) persistLocked() error {
	kr := storedKeyring{Current: m.current}
	for _, k := range m.versions {
		kr.Versions = append(kr.Versions, storedKey{
			Version:   k.Version,
			Secret:    base64.StdEncoding.EncodeToString(k.Secret),
			CreatedAt: k.CreatedAt,
		})
	}

	data, err := json.MarshalIndent(kr, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode keyring: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// Current implements Manager.
func (m *fileManager) Current() Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[m.current]
}

// Get implements Manager.
func (m *fileManager) Get(version uint32) (Key, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.versions[version]
	return k, ok
}

// Rotate implements Manager. The new version is persisted before activation
// so a crash between the two steps never loses the active key.
func (m *fileManager) Rotate() (Key, error) {
	mem, err := NewRandomManager()
	if err != nil {
		return Key{}, err
	}
	fresh := mem.Current()

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current + 1
	k := Key{Version: next, Secret: fresh.Secret, CreatedAt: fresh.CreatedAt}
	m.versions[next] = k
	prev := m.current
	m.current = next

	if err := m.persistLocked(); err != nil {
		delete(m.versions, next)
		m.current = prev
		return Key{}, err
	}
	return k, nil
}

// DeriveFor implements Manager.
func (m *fileManager) DeriveFor(purpose string, version uint32) ([]byte, error) {
	m.mu.RLock()
	k, ok := m.versions[version]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown key version %d", version)
	}
	return derive(k.Secret, purpose)
}
