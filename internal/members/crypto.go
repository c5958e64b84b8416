package members

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	standardPrefix      = "ENC:"
	deterministicPrefix = "DENC:"
)

// KeyFromHex parses a 64-hex-character AES-256 key. An empty input means
// decryption is disabled and returns a nil key with no error.
func KeyFromHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if len(s) != 64 {
		return nil, fmt.Errorf("encryption key must be 64 hex characters, got %d", len(s))
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	return key, nil
}

// DecryptAccount decrypts an account number stored as
// "ENC:iv:tag:ciphertext" or "DENC:iv:tag:ciphertext" (hex fields,
// AES-256-GCM). Values without a prefix, or that cannot be decrypted with
// the given key, are returned unchanged.
func DecryptAccount(encrypted string, key []byte) string {
	if encrypted == "" {
		return encrypted
	}

	var body string
	switch {
	case strings.HasPrefix(encrypted, deterministicPrefix):
		body = encrypted[len(deterministicPrefix):]
	case strings.HasPrefix(encrypted, standardPrefix):
		body = encrypted[len(standardPrefix):]
	default:
		return encrypted
	}

	if len(key) == 0 {
		return encrypted
	}

	parts := strings.Split(body, ":")
	if len(parts) != 3 {
		return encrypted
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return encrypted
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return encrypted
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return encrypted
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return encrypted
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return encrypted
	}

	// GCM expects the auth tag appended to the ciphertext.
	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return encrypted
	}

	return string(plaintext)
}

// NormalizeAccount decrypts (when needed) and strips whitespace from an
// account number so callers can compare values from different sources.
func NormalizeAccount(account string, key []byte) string {
	if account == "" {
		return ""
	}
	decrypted := DecryptAccount(account, key)
	return strings.ReplaceAll(strings.TrimSpace(decrypted), " ", "")
}
