package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Sealer transforms token values before they reach the substrate.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
	Encrypted() bool
}

var (
	_ Sealer = PlainSealer{}
	_ Sealer = (*EncryptedSealer)(nil)
)

// PlainSealer stores values unchanged.
type PlainSealer struct{}

func (PlainSealer) Seal(s string) (string, error) { return s, nil }
func (PlainSealer) Open(s string) (string, error) { return s, nil }
func (PlainSealer) Encrypted() bool               { return false }

const (
	sealedPrefix = "enc:v1:"
	hkdfInfo     = "authsession token store v1"
	keySize      = 32
)

// ErrNotSealed is returned by EncryptedSealer.Open for values it did not produce.
var ErrNotSealed = errors.New("authsession/store: value is not sealed")

// EncryptedSealer encrypts values with AES-256-GCM under a key derived from
// master key material with HKDF-SHA256.
type EncryptedSealer struct {
	aead cipher.AEAD
}

// NewEncryptedSealer derives the cipher key from master.
func NewEncryptedSealer(master []byte) (*EncryptedSealer, error) {
	if len(master) == 0 {
		return nil, errors.New("authsession/store: empty key material")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("authsession/store: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("authsession/store: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("authsession/store: gcm: %w", err)
	}
	return &EncryptedSealer{aead: aead}, nil
}

func (s *EncryptedSealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("authsession/store: nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *EncryptedSealer) Open(sealed string) (string, error) {
	body, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrNotSealed
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("authsession/store: decode sealed value: %w", err)
	}

	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("authsession/store: sealed value too short")
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("authsession/store: open: %w", err)
	}
	return string(plain), nil
}

func (s *EncryptedSealer) Encrypted() bool { return true }

// LoadOrCreateKey reads key material from path, creating 32 random bytes with
// mode 0600 when the file does not exist yet.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != keySize {
			return nil, fmt.Errorf("authsession/store: key file %s has %d bytes, want %d", path, len(key), keySize)
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("authsession/store: read key: %w", err)
	}

	key = make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("authsession/store: generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("authsession/store: mkdir: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("authsession/store: write key: %w", err)
	}
	return key, nil
}
