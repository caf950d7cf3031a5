package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/remind101/fieldcrypt/httpx"
	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	var called bool
	m := HandleError(
		httpx.HandlerFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return errors.New("boom")
		}),
		func(ctx context.Context, err error, w http.ResponseWriter, r *http.Request) {
			called = true
			assert.EqualError(t, err, "boom")
			w.WriteHeader(http.StatusTeapot)
		},
	)

	req, _ := http.NewRequest("GET", "/", nil)
	resp := httptest.NewRecorder()
	err := m.ServeHTTPContext(context.Background(), resp, req)

	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, resp.Code)
}

func TestError_Default(t *testing.T) {
	m := NewError(httpx.HandlerFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return errors.New("boom")
	}))

	req, _ := http.NewRequest("GET", "/", nil)
	resp := httptest.NewRecorder()
	err := m.ServeHTTPContext(context.Background(), resp, req)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestBasicRecover(t *testing.T) {
	m := BasicRecover(httpx.HandlerFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		panic("boom")
	}))

	req, _ := http.NewRequest("GET", "/", nil)
	err := m.ServeHTTPContext(context.Background(), httptest.NewRecorder(), req)
	assert.EqualError(t, err, "boom")
}
