package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// SettingsKeyEnv enables at-rest sealing of the api key when set.
const SettingsKeyEnv = "GEMCHAT_SETTINGS_KEY"

const sealedPrefix = "enc:"

var errInvalidCiphertext = errors.New("invalid api key ciphertext")

type keyCipher struct {
	aead cipher.AEAD
}

// newKeyCipherFromEnv returns nil without error when the env var is unset.
func newKeyCipherFromEnv() (*keyCipher, error) {
	raw := strings.TrimSpace(os.Getenv(SettingsKeyEnv))
	if raw == "" {
		return nil, nil
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", SettingsKeyEnv, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &keyCipher{aead: aead}, nil
}

// decodeKey takes a base64 encoded 32 byte key as is and stretches
// anything else, such as a passphrase, with sha256.
func decodeKey(raw string) ([]byte, error) {
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == 32 {
		return key, nil
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("key too short (%d chars)", len(raw))
	}
	sum := sha256.Sum256([]byte(raw))
	return sum[:], nil
}

func (c *keyCipher) seal(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plain), []byte(settingsKey))
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// open accepts unsealed legacy values unchanged.
func (c *keyCipher) open(input string) (string, error) {
	if !strings.HasPrefix(input, sealedPrefix) {
		return input, nil
	}
	if c == nil {
		return "", fmt.Errorf("api key is sealed but %s is not set", SettingsKeyEnv)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(input, sealedPrefix))
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], []byte(settingsKey))
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}
