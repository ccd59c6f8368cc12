// ABOUTME: Session token minting and hashing
// ABOUTME: Raw tokens are never stored; only a keyed BLAKE2b-256 digest is persisted

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashToken returns the hex digest stored for a raw token. pepper keys the
// hash; an empty pepper yields a plain BLAKE2b-256 digest.
func HashToken(pepper []byte, raw string) string {
	h, err := blake2b.New256(pepper)
	if err != nil {
		// only possible for keys longer than 64 bytes, rejected by config validation
		panic(fmt.Sprintf("auth: blake2b key: %v", err))
	}
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}

// randomToken returns n random bytes encoded as unpadded URL-safe base64.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
