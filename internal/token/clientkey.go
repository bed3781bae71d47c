package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ClientKey derives the cache key for an (application, user) pair. userKey may be
// empty for tenant tokens. Each part is length-prefixed before hashing so that no two
// distinct triples produce the same input, and the secret never appears in the key.
func ClientKey(appID, appSecret, userKey string) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range [...]string{appID, appSecret, userKey} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// opaqueTokenBytes is the entropy of gateway-minted tokens.
const opaqueTokenBytes = 32

// NewOpaqueToken mints a random token string with the given prefix.
func NewOpaqueToken(prefix string) (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate opaque token: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}
