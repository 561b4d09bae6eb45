package oclient

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const pkceMethodS256 = "S256"

// pkcePair is the verifier kept server side and the challenge sent with the
// authorization request (RFC 7636).
type pkcePair struct {
	Verifier  string
	Challenge string
}

// newPKCEPair returns a fresh S256 pair. 48 random bytes encode to a
// 64 character verifier, inside the 43–128 range the RFC requires.
func newPKCEPair() (pkcePair, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return pkcePair{}, fmt.Errorf("pkce: generate verifier: %w", err)
	}
	v := base64.RawURLEncoding.EncodeToString(b)
	return pkcePair{Verifier: v, Challenge: s256Challenge(v)}, nil
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
