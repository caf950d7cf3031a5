package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/remind101/fieldcrypt/httpx"
	"github.com/stretchr/testify/assert"
)

func TestBasicAuth(t *testing.T) {
	ok := httpx.HandlerFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusOK)
		return nil
	})
	h := BasicAuth(ok, "admin", "secret", "fieldcrypt")

	tests := []struct {
		user, pass string
		set        bool
		status     int
	}{
		{"admin", "secret", true, http.StatusOK},
		{"admin", "wrong", true, http.StatusUnauthorized},
		{"other", "secret", true, http.StatusUnauthorized},
		{"", "", false, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest("GET", "/admin/keys", nil)
		if tt.set {
			req.SetBasicAuth(tt.user, tt.pass)
		}
		resp := httptest.NewRecorder()

		err := h.ServeHTTPContext(context.Background(), resp, req)
		assert.NoError(t, err)
		assert.Equal(t, tt.status, resp.Code)
		if tt.status == http.StatusUnauthorized {
			assert.Equal(t, `Basic realm="fieldcrypt"`, resp.Header().Get("WWW-Authenticate"))
		}
	}
}
