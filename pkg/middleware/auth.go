package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

// HeaderAPIKey carries a client's API key. The rate limiter also keys on it.
const HeaderAPIKey = "X-API-Key"

// KeySet holds the SHA-256 digests of the accepted admin keys.
type KeySet struct {
	hashes [][sha256.Size]byte
}

// NewKeySet accepts raw keys or, with a "sha256:" prefix, hex digests so
// configs need not carry the secrets themselves. Malformed digests are
// skipped.
func NewKeySet(keys ...string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		if hexDigest, ok := strings.CutPrefix(k, "sha256:"); ok {
			raw, err := hex.DecodeString(hexDigest)
			if err != nil || len(raw) != sha256.Size {
				continue
			}
			var h [sha256.Size]byte
			copy(h[:], raw)
			ks.hashes = append(ks.hashes, h)
			continue
		}
		if k != "" {
			ks.hashes = append(ks.hashes, sha256.Sum256([]byte(k)))
		}
	}
	return ks
}

// Len returns the number of accepted keys.
func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.hashes)
}

// Valid reports whether raw is one of the keys, comparing digests in
// constant time.
func (ks *KeySet) Valid(raw string) bool {
	if ks == nil || raw == "" {
		return false
	}
	sum := sha256.Sum256([]byte(raw))
	ok := 0
	for _, h := range ks.hashes {
		ok |= subtle.ConstantTimeCompare(sum[:], h[:])
	}
	return ok == 1
}

// RequireKey rejects requests without a valid key with 401. An empty or nil
// set disables the check.
func RequireKey(ks *KeySet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ks.Len() == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			if !ks.Valid(key) {
				writeJSONError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey reads the key from Authorization: Bearer, then X-API-Key.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get(HeaderAPIKey)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
