package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix marks a credential column written by seal.
const sealedPrefix = "enc:"

var ErrEncryptedCredentials = errors.New("integration credentials are encrypted; configure ENCRYPTION_KEY (or --encryption-key)")

// credentialAEAD builds the AES-256-GCM cipher for a base64 key. An empty key
// disables sealing.
func credentialAEAD(key string) (cipher.AEAD, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(key); err != nil {
			return nil, errors.New("encryption key is not valid base64")
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes (got %d)", len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts v when a key is configured. Empty values stay empty.
func (s *Store) seal(v string) (string, error) {
	if v == "" || s.aead == nil {
		return v, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(v), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// open reverses seal. Values written without a key pass through unchanged.
func (s *Store) open(v string) (string, error) {
	body, ok := strings.CutPrefix(v, sealedPrefix)
	if !ok {
		return v, nil
	}
	if s.aead == nil {
		return "", ErrEncryptedCredentials
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) < s.aead.NonceSize() {
		return "", errors.New("malformed sealed credential")
	}
	n := s.aead.NonceSize()
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", errors.New("sealed credential does not match ENCRYPTION_KEY")
	}
	return string(plain), nil
}
