package middlewarectx

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
)

// AdminKeyHeader — заголовок с ключом административного API.
const AdminKeyHeader = "X-Admin-Api-Key"

// AdminKeyMiddleware пропускает запрос, только если заголовок AdminKeyHeader совпадает
// с настроенным ключом. Пустой ключ в конфигурации закрывает административный API.
func AdminKeyMiddleware(log *slog.Logger, apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminKeyHeader)
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				log.Warn("admin api key rejected", slog.String("remote", r.RemoteAddr))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid admin api key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
