package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const notifierKey contextKey = "notifierID"

const (
	notifierCookieName = "notify_id"
	notifierCookieTTL  = 365 * 24 * time.Hour
)

// Notifier гарантирует каждому клиенту идентификатор очереди уведомлений
// и добавляет его в контекст запроса. Идентификатор не привязан к сессии:
// уведомления нужны и на экране входа.
func Notifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string

		if cookie, err := r.Cookie(notifierCookieName); err == nil && cookie.Value != "" {
			id = cookie.Value
		} else {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     notifierCookieName,
				Value:    id,
				Path:     "/",
				Expires:  time.Now().Add(notifierCookieTTL),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), notifierKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetNotifierIDFromContext извлекает идентификатор очереди уведомлений из контекста.
func GetNotifierIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(notifierKey).(string)
	return id, ok
}
