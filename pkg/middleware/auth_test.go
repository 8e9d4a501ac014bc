package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySet(t *testing.T) {
	digest := sha256.Sum256([]byte("hashed-secret"))
	ks := NewKeySet("plain-secret", "sha256:"+hex.EncodeToString(digest[:]), "sha256:zz", "")
	assert.Equal(t, 2, ks.Len())
	assert.True(t, ks.Valid("plain-secret"))
	assert.True(t, ks.Valid("hashed-secret"))
	assert.False(t, ks.Valid("other"))
	assert.False(t, ks.Valid(""))

	var nilSet *KeySet
	assert.Zero(t, nilSet.Len())
	assert.False(t, nilSet.Valid("plain-secret"))
}

func TestRequireKey(t *testing.T) {
	h := RequireKey(NewKeySet("s3cret"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(header, value string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/commit", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusUnauthorized, call("", ""))
	assert.Equal(t, http.StatusUnauthorized, call(HeaderAPIKey, "wrong"))
	assert.Equal(t, http.StatusNoContent, call(HeaderAPIKey, "s3cret"))
	assert.Equal(t, http.StatusNoContent, call("Authorization", "Bearer s3cret"))

	open := RequireKey(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := CORS(DefaultCORSConfig("https://app.example"))(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderAPIKey)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	CORS(DefaultCORSConfig())(next).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
