// Package crypto derives purpose-bound keys from the server master key and
// produces the opaque tokens handed to clients.
//
// Every secret the server needs (the SQLCipher database key, the access
// token signing key) comes from one MASTER_KEY through HKDF-SHA256 with a
// distinct info label, so rotating the master key rotates all of them.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of every derived key in bytes (256 bits).
const KeySize = 32

// Purpose labels a derived key. Changing a label's version invalidates
// whatever was protected with the previous key.
type Purpose string

const (
	PurposeDatabase     Purpose = "notecase:database:v1"
	PurposeAccessTokens Purpose = "notecase:access-tokens:v1"
)

// DeriveKey derives a KeySize key for purpose from masterKey using HKDF-SHA256.
// It is deterministic: the same inputs always produce the same key.
func DeriveKey(masterKey []byte, purpose Purpose) []byte {
	// Salt is nil; the master key is already uniformly random.
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(purpose))

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		// HKDF-SHA256 can emit 255*32 bytes; 32 never fails.
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return key
}

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 of token as unpadded base64url. Only hashes
// of refresh, verification and reset tokens are stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
