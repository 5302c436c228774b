package middleware

import (
	"net/http"

	"github.com/en9inerd/go-tgbot/httperrors"
)

// SizeLimit rejects update bodies larger than size bytes with 413.
// Bodies without a declared length are cut off at size while being read.
func SizeLimit(size int64) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > size {
				httperrors.NewError(http.StatusRequestEntityTooLarge, "update too large").WriteJSON(w)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, size)

			h.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
