package repository

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql/driver"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
)

// EncryptedString is a driver.Valuer/sql.Scanner wrapper applied to the
// body and error_message columns when encryption is enabled (metadata is
// stored as plain JSON). It follows
// the same Value()/Scan() shape used elsewhere in the pack for JSON columns,
// except the stored bytes are AES-GCM ciphertext rather than plain JSON.
type EncryptedString struct {
	Plaintext string
	key       []byte // 32-byte AES-256 key; nil means encryption is disabled
}

// NewEncryptedString binds a plaintext value to an encryption key. Pass a
// nil key to store the value as plain text (encryption disabled).
func NewEncryptedString(plaintext string, key []byte) EncryptedString {
	return EncryptedString{Plaintext: plaintext, key: key}
}

// Value implements driver.Valuer. With no key configured it stores the
// plaintext directly; a configured 32-byte key enables AES-GCM sealing.
func (e EncryptedString) Value() (driver.Value, error) {
	if len(e.key) == 0 {
		return e.Plaintext, nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct GCM mode")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}

	sealed := gcm.Seal(nonce, nonce, []byte(e.Plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Scan implements sql.Scanner. It decrypts using the key set via
// WithKey if one was configured, otherwise treats the column as plain text.
func (e *EncryptedString) Scan(value interface{}) error {
	if value == nil {
		e.Plaintext = ""
		return nil
	}

	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(bytes.Clone(v))
	default:
		return errors.New("unsupported type for EncryptedString.Scan")
	}

	if len(e.key) == 0 {
		e.Plaintext = raw
		return nil
	}

	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return errors.Wrap(err, "failed to base64-decode ciphertext")
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return errors.Wrap(err, "failed to construct AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return errors.Wrap(err, "failed to construct GCM mode")
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return errors.New("ciphertext shorter than nonce size")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return errors.Wrap(err, "failed to decrypt value")
	}
	e.Plaintext = string(plain)
	return nil
}

// WithKey returns a copy of e bound to key, used before Scan so the
// decrypting key is available on the destination value.
func (e EncryptedString) WithKey(key []byte) EncryptedString {
	e.key = key
	return e
}
