// package httpx provides an extra layer of convenience over package http:
// handlers that receive a context.Context and return an error, and a router
// for them backed by gorilla/mux.
package httpx

// key used to store context values from within this package.
type key int

const (
	varsKey key = iota
	requestIDKey
)
