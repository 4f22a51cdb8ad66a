package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Derivation purposes and sizes.
const (
	lookupPurpose  = "cache-lookup"
	encryptPurpose = "cache-encryption"
	entryInfo      = "cache-entry"
	entrySaltSize  = 16
	entryKeySize   = 32
)

// sealedValue is an encrypted cache value: per-entry salt, AEAD nonce, and
// ciphertext with the authentication tag appended by GCM.
type sealedValue struct {
	salt       []byte
	nonce      []byte
	ciphertext []byte
}

// lookupKey derives the map key for a raw key and partition. With HMAC
// enabled the raw key never indexes the store directly.
func (c *SecureCache) lookupKey(key, partition string) string {
	material := fmt.Sprintf("v%d:%s:%s", c.keyVersion, partition, key)
	if c.config.KeyEntropy != "" {
		material += ":" + c.config.KeyEntropy
	}

	if !c.config.HMACKeys {
		return material
	}

	mac := hmac.New(sha256.New, c.lookupSecret)
	mac.Write([]byte(material))
	return hex.EncodeToString(mac.Sum(nil))
}

// seal encrypts a value with AES-GCM under a per-entry key derived from the
// master secret and a fresh random salt.
func (c *SecureCache) seal(value []byte) (*sealedValue, error) {
	salt := make([]byte, entrySaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate entry salt: %w", err)
	}

	aead, err := c.entryAEAD(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &sealedValue{
		salt:       salt,
		nonce:      nonce,
		ciphertext: aead.Seal(nil, nonce, value, nil),
	}, nil
}

// open decrypts a sealed value. An authentication failure is an integrity
// violation, not a transient error.
func (c *SecureCache) open(sv *sealedValue) ([]byte, error) {
	aead, err := c.entryAEAD(sv.salt)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, sv.nonce, sv.ciphertext, nil)
}

// entryAEAD builds the AES-GCM cipher for a per-entry salt.
func (c *SecureCache) entryAEAD(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, entryKeySize)
	r := hkdf.New(sha256.New, c.encryptSecret, salt, []byte(entryInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive entry key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// checksum computes the plaintext content checksum.
func checksum(value []byte) [sha256.Size]byte {
	return sha256.Sum256(value)
}

// bestEffortZero overwrites a byte slice before the reference is dropped.
// Hygiene only: the runtime may have copied the data elsewhere, so this is
// not a security property.
func bestEffortZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
