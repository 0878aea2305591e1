package platform

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusNoContent},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"wrong key", "secret", "guess", http.StatusUnauthorized},
		{"match", "secret", "secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			APIKeyMiddleware(tt.key)(ok).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
