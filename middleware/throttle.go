package middleware

import (
	"net/http"

	"github.com/en9inerd/go-tgbot/httperrors"
)

// Throttle limits the number of updates handled at once. Requests over the limit get 429
// and Telegram delivers them again later. A limit of zero or less disables throttling.
func Throttle(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(h http.Handler) http.Handler { return h }
	}

	slots := make(chan struct{}, limit)

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
				h.ServeHTTP(w, r)
			default:
				httperrors.NewError(http.StatusTooManyRequests, "too many updates in flight").WriteJSON(w)
			}
		})
	}
}
