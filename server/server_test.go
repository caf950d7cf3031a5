package server_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/cryptostate"
	"github.com/remind101/fieldcrypt/fieldcodec/fieldcodectest"
	"github.com/remind101/fieldcrypt/httpx"
	"github.com/remind101/fieldcrypt/keyregistry"
	"github.com/remind101/fieldcrypt/rotation"
	"github.com/remind101/fieldcrypt/server"
	"github.com/remind101/fieldcrypt/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	env    *fieldcodectest.Env
	repo   *txn.Repository
	srv    *httptest.Server
	client *server.Client
}

func newFixture(t *testing.T) *fixture {
	env := fieldcodectest.New(t)
	store := txn.NewMemoryStore()
	engine := rotation.New(rotation.Options{
		State:     env.State,
		Codec:     env.Codec,
		Rows:      store,
		Fields:    txn.Fields,
		BatchSize: 2,
	})

	s := server.New(server.Options{
		State:     env.State,
		Rotation:  engine,
		Keys:      env.Registry,
		AdminUser: "admin",
		AdminPass: "secret",
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.User = url.UserPassword("admin", "secret")

	return &fixture{
		env:    env,
		repo:   txn.NewRepository(store, env.Codec),
		srv:    srv,
		client: server.NewClient(u),
	}
}

func (f *fixture) insert(t *testing.T, n int) {
	for i := 0; i < n; i++ {
		desc := fmt.Sprintf("coffee %d", i)
		_, err := f.repo.Create(context.Background(), &txn.Transaction{
			AccountID:   "acct",
			AmountCents: 350,
			Currency:    "USD",
			PostedAt:    time.Now(),
			Description: &desc,
		})
		require.NoError(t, err)
	}
}

func statusCode(err error) int {
	var e *httpx.HTTPError
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	h, err := f.client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &server.Health{
		Status:      server.StatusOK,
		CryptoReady: true,
		CryptoMode:  "local",
		CryptoLabel: cryptostate.DefaultInitialLabel,
	}, h)
}

func TestHealth_Degraded(t *testing.T) {
	env := fieldcodectest.New(t)
	reg := keyregistry.NewMemoryRegistry()
	state := cryptostate.New(cryptostate.Options{Registry: reg, Settings: reg, Crypto: env.Crypto})

	tests := []struct {
		fatal  bool
		status int
	}{
		{false, http.StatusOK},
		{true, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		s := server.New(server.Options{State: state, Keys: reg, HealthFatal: tt.fatal})
		resp := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		s.Handler().ServeHTTP(resp, req)

		assert.Equal(t, tt.status, resp.Code)
		assert.Contains(t, resp.Body.String(), `"status":"degraded"`)
		assert.Contains(t, resp.Body.String(), `"crypto_ready":false`)
	}
}

func TestAdmin_RequiresAuth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/admin/keys")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	u, _ := url.Parse(f.srv.URL)
	u.User = url.UserPassword("admin", "wrong")
	_, err = server.NewClient(u).Keys(context.Background())
	assert.Equal(t, http.StatusUnauthorized, statusCode(err))
}

func TestAdmin_NotMountedWithoutCredentials(t *testing.T) {
	env := fieldcodectest.New(t)
	s := server.New(server.Options{State: env.State, Keys: env.Registry})

	resp := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin/keys", nil)
	s.Handler().ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAdmin_Rotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, 5)

	k, err := f.client.Begin(ctx, "rotating::1")
	require.NoError(t, err)
	assert.Equal(t, "rotating::1", k.Label)

	_, err = f.client.Begin(ctx, "rotating::1")
	assert.Equal(t, http.StatusConflict, statusCode(err))

	keys, err := f.client.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, "active", keys.WriteLabel)
	if assert.Len(t, keys.Keys, 2) {
		assert.Equal(t, "active", keys.Keys[0].Label)
		assert.Equal(t, "rotating::1", keys.Keys[1].Label)
	}

	res, err := f.client.Run(ctx, rotation.Request{Target: "rotating::1", MaxBatches: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Processed)
	assert.Equal(t, int64(3), res.Remaining)

	st, err := f.client.Status(ctx, "rotating::1")
	require.NoError(t, err)
	assert.Equal(t, &rotation.Status{
		WriteLabel: "active",
		Target:     "rotating::1",
		Active:     3,
		Rotating:   true,
		Done:       2,
		Total:      5,
	}, st)

	res, err = f.client.Run(ctx, rotation.Request{Target: "rotating::1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Processed)
	assert.Equal(t, int64(0), res.Remaining)

	fin, err := f.client.Finalize(ctx, "rotating::1")
	require.NoError(t, err)
	assert.Equal(t, &rotation.FinalizeResult{
		Previous:   "active",
		WriteLabel: "rotating::1",
		Rows:       5,
	}, fin)
	assert.Equal(t, "rotating::1", f.env.State.WriteLabel())

	_, err = f.client.Finalize(ctx, "rotating::1")
	assert.Equal(t, http.StatusConflict, statusCode(err))
}

func TestAdmin_RunErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.Run(ctx, rotation.Request{Target: "missing"})
	assert.Equal(t, http.StatusNotFound, statusCode(err))

	_, err = f.client.Run(ctx, rotation.Request{})
	assert.Equal(t, http.StatusBadRequest, statusCode(err))

	resp, err := http.Post(f.client.ParseURL("/admin/rotation/run"), "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
