package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/remind101/fieldcrypt/httpx"
)

type BasicAuther struct {
	User, Pass string
	Realm      string

	// The handler that will be called if the request is authorized.
	Handler httpx.Handler

	// The handler that will be called if the request is not authorized. The
	// zero value is DefaultUnauthorizedHandler
	UnauthorizedHandler httpx.Handler
}

func (a *BasicAuther) authenticated(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.User)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.Pass)) == 1
	return userOK && passOK
}

func DefaultUnauthorizedHandler(realm string) httpx.HandlerFunc {
	return httpx.HandlerFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
		return httpx.Encode(w, http.StatusUnauthorized, map[string]string{"error": http.StatusText(http.StatusUnauthorized)})
	})
}

func (a *BasicAuther) ServeHTTPContext(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if a.authenticated(r) {
		return a.Handler.ServeHTTPContext(ctx, w, r)
	}

	u := a.UnauthorizedHandler
	if u == nil {
		u = DefaultUnauthorizedHandler(a.Realm)
	}
	return u.ServeHTTPContext(ctx, w, r)
}

func BasicAuth(h httpx.Handler, user, pass, realm string) *BasicAuther {
	return &BasicAuther{
		User:    user,
		Pass:    pass,
		Realm:   realm,
		Handler: h,
	}
}
