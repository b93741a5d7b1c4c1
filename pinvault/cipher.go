package pinvault

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	cipherVersionV1 = 1

	saltLength = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var errCipherFormat = errors.New("malformed pin record")

// sealPIN encrypts a PIN under a key derived from the master secret and a
// fresh per-entry salt. Layout: version | salt | nonce | ciphertext.
func sealPIN(master []byte, pin string) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey(master, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(salt)+len(nonce)+len(pin)+aead.Overhead())
	out = append(out, cipherVersionV1)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, []byte(pin), nil), nil
}

func openPIN(master, record []byte) (string, error) {
	if len(record) < 1 || record[0] != cipherVersionV1 {
		return "", errCipherFormat
	}
	record = record[1:]

	nonceSize := chacha20poly1305.NonceSizeX
	if len(record) < saltLength+nonceSize {
		return "", errCipherFormat
	}
	salt := record[:saltLength]
	nonce := record[saltLength : saltLength+nonceSize]
	ciphertext := record[saltLength+nonceSize:]

	key := argon2.IDKey(master, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errCipherFormat
	}
	return string(plain), nil
}
