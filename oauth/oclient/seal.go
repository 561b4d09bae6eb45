package oclient

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealSep = "|"

// Sealer encrypts token values before they reach a store.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// XChaChaSealer seals values as base64(nonce)|base64(ciphertext).
type XChaChaSealer struct {
	key []byte
}

// NewXChaChaSealer builds a sealer from a 32 byte key.
func NewXChaChaSealer(key []byte) (*XChaChaSealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrSealerKeyRequired
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &XChaChaSealer{key: k}, nil
}

// NewXChaChaSealerBase64 decodes a standard base64 key first.
func NewXChaChaSealerBase64(key string) (*XChaChaSealer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(key))
	if err != nil {
		return nil, fmt.Errorf("decode sealer key: %w", err)
	}
	return NewXChaChaSealer(raw)
}

// Seal leaves empty values empty so a disconnected link stays recognisable.
func (s *XChaChaSealer) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(plain), nil)
	return base64.RawURLEncoding.EncodeToString(nonce) + sealSep + base64.RawURLEncoding.EncodeToString(ct), nil
}

func (s *XChaChaSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	parts := strings.SplitN(sealed, sealSep, 2)
	if len(parts) != 2 {
		return "", errors.New("invalid sealed value format")
	}
	nonce, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", errors.New("invalid nonce size")
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plain), nil
}

// plainSealer is used when no key is configured.
type plainSealer struct{}

func (plainSealer) Seal(plain string) (string, error)  { return plain, nil }
func (plainSealer) Open(sealed string) (string, error) { return sealed, nil }

func sealerOrPlain(s Sealer) Sealer {
	if s == nil {
		return plainSealer{}
	}
	return s
}
