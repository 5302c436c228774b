package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"

	"github.com/en9inerd/go-tgbot/httperrors"
	"github.com/en9inerd/go-tgbot/realip"
)

// SecretTokenHeader is the header Telegram fills with the secret_token given to setWebhook
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// SecretToken rejects requests whose secret token header does not match token with 401.
// An empty token disables the check.
func SecretToken(token string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		if token == "" {
			return h
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(SecretTokenHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				httperrors.NewError(http.StatusUnauthorized, "invalid secret token").WriteJSON(w)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

// TelegramOnly rejects requests that do not come from Telegram's webhook networks with 403.
//
// Proxy headers are only consulted when trustProxy is set and the connection itself comes
// from a private address, i.e. from a reverse proxy in front of the server.
func TelegramOnly(trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			useHeaders := false
			if trustProxy {
				if remote, err := realip.Remote(r); err == nil {
					useHeaders = realip.IsPrivateIP(net.ParseIP(remote))
				}
			}

			if !realip.FromTelegram(r, useHeaders) {
				if logger != nil {
					logger.Warn("rejected webhook request from outside Telegram",
						"remote_addr", r.RemoteAddr,
						"request_id", RequestID(r.Context()),
					)
				}
				httperrors.NewError(http.StatusForbidden, "forbidden").WriteJSON(w)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}
