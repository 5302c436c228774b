// Package middleware provides net/http middleware for the webhook receiver.
package middleware

import "net/http"

// Chain wraps h so that mws run in the given order, the first one outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
