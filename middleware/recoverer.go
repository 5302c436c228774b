package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/en9inerd/go-tgbot/httperrors"
)

// Recoverer recovers from panics in the update handler, logs them and replies 500 so
// Telegram redelivers the update. If includeStack is true, stack traces are logged.
func Recoverer(logger *slog.Logger, includeStack bool) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				attrs := []any{
					slog.Any("panic", rvr),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("request_id", RequestID(r.Context())),
				}
				if includeStack {
					attrs = append(attrs, slog.String("stack", string(debug.Stack())))
				}
				if logger != nil {
					logger.Error("panic recovered", attrs...)
				}

				httperrors.NewError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)).WriteJSON(w)
			}()
			h.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
