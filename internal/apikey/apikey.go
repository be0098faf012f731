// Package apikey issues agent API keys and derives the hash stored in place
// of the key itself.
package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Prefix starts every issued key.
const Prefix = "swarm_"

const keyBytes = 24

// Hasher turns keys into stable lookup hashes with a server-side pepper.
type Hasher struct {
	key [32]byte
}

// New derives the HMAC key from the pepper via Argon2id. The salt is
// deterministic (SHA-256 of the pepper), so the same pepper always produces
// the same hashes across restarts.
func New(pepper string) *Hasher {
	salt := sha256.Sum256([]byte(pepper))
	key := argon2.IDKey([]byte(pepper), salt[:16], 1, 64*1024, 4, 32)

	h := &Hasher{}
	copy(h.key[:], key)
	return h
}

// Hash returns the hex HMAC-SHA256 of key.
func (h *Hasher) Hash(key string) string {
	mac := hmac.New(sha256.New, h.key[:])
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Generate returns a fresh random key.
func Generate() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return Prefix + hex.EncodeToString(b), nil
}

// WellFormed reports whether key looks like something Generate produced.
func WellFormed(key string) bool {
	rest, ok := strings.CutPrefix(key, Prefix)
	if !ok || len(rest) != keyBytes*2 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
