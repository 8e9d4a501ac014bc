package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("field num: %w", ErrValidation), http.StatusBadRequest},
		{"pattern", ErrInvalidPattern, http.StatusBadRequest},
		{"commit in progress", fmt.Errorf("commit: %w", ErrCommitInProgress), http.StatusConflict},
		{"read-only", fmt.Errorf("add: %w", ErrReadOnly), http.StatusConflict},
		{"released handle", ErrHandleReleased, http.StatusGone},
		{"closed", ErrClosed, http.StatusServiceUnavailable},
		{"app error wins", New(ErrValidation, http.StatusTeapot, "short and stout"), http.StatusTeapot},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrIndexBuild, http.StatusInternalServerError, "segment %d", 7)
	assert.ErrorIs(t, err, ErrIndexBuild)
	assert.Equal(t, "index build failed: segment 7", err.Error())
}
