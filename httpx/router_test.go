package httpx_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/remind101/fieldcrypt/httpx"
	"github.com/stretchr/testify/assert"
)

func TestRouter(t *testing.T) {
	r := httpx.NewRouter()
	r.HandleFunc("/keys/{label}", func(ctx context.Context, w http.ResponseWriter, req *http.Request) error {
		io.WriteString(w, httpx.Vars(ctx)["label"])
		return nil
	}).Methods("GET")

	tests := []struct {
		method, path string
		code         int
		body         string
		template     string
	}{
		{"GET", "/keys/active", 200, "active", "/keys/{label}"},
		{"POST", "/keys/active", 405, "Method Not Allowed\n", "unknown"},
		{"GET", "/nope", 404, "404 page not found\n", "unknown"},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, tt.path, nil)
		resp := httptest.NewRecorder()

		err := r.ServeHTTPContext(context.Background(), resp, req)
		assert.NoError(t, err)
		assert.Equal(t, tt.code, resp.Code, tt.path)
		assert.Equal(t, tt.body, resp.Body.String(), tt.path)
		assert.Equal(t, tt.template, r.RouteTemplate(req), tt.path)
	}
}
