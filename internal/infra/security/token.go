package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const minTokenBytes = 24

// RandomTokenGenerator issues opaque URL-safe bearer tokens. A token carries
// no structure; the session store is the only authority on what it means.
type RandomTokenGenerator struct {
	// Size is the number of random bytes per token. Anything below
	// minTokenBytes is raised to 32.
	Size int
}

func (g RandomTokenGenerator) NewToken() (string, error) {
	n := g.Size
	if n < minTokenBytes {
		n = 32
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("security: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
