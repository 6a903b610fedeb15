// Package middleware содержит HTTP middleware для сервиса лояльности.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const sessionKey contextKey = "session"

const (
	sessionCookieName = "session_token"
	sessionCookieTTL  = 24 * time.Hour

	flowCookieName = "login_flow"
	flowCookieTTL  = 15 * time.Minute
)

// Session описывает аутентифицированную сессию, переносимую в подписанном cookie.
// Токен выдан провайдером аутентификации и используется для вызова функции обмена.
type Session struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	AccessToken string `json:"access_token"`
}

// SessionManager выполняет проверку аутентификации пользователя по подписанному cookie.
type SessionManager struct {
	secretKey []byte
}

// NewSessionManager создаёт новый экземпляр SessionManager с указанным секретным ключом.
func NewSessionManager(secret string) *SessionManager {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SessionManager{
		secretKey: key,
	}
}

// Middleware проверяет cookie сессии и добавляет сессию в контекст запроса.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		session, ok := m.parseSession(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetSessionCookie устанавливает подписанный cookie сессии.
func (m *SessionManager) SetSessionCookie(w http.ResponseWriter, s Session) {
	payload, err := json.Marshal(s)
	if err != nil {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    m.sign(payload),
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie сбрасывает cookie сессии.
func (m *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromRequest извлекает сессию из cookie запроса вне цепочки middleware.
func (m *SessionManager) SessionFromRequest(r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return Session{}, false
	}
	return m.parseSession(cookie.Value)
}

// SetFlowCookie сохраняет состояние сценария входа в подписанном cookie.
func (m *SessionManager) SetFlowCookie(w http.ResponseWriter, encoded string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flowCookieName,
		Value:    m.sign([]byte(encoded)),
		Path:     "/",
		Expires:  time.Now().Add(flowCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// GetFlowCookie возвращает состояние сценария входа из cookie запроса.
func (m *SessionManager) GetFlowCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(flowCookieName)
	if err != nil {
		return "", false
	}

	payload, ok := m.verify(cookie.Value)
	if !ok {
		return "", false
	}

	return string(payload), true
}

// ClearFlowCookie сбрасывает cookie сценария входа.
func (m *SessionManager) ClearFlowCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     flowCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *SessionManager) sign(payload []byte) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write(payload)
	signature := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + hex.EncodeToString(signature)
}

func (m *SessionManager) verify(value string) ([]byte, bool) {
	parts := strings.Split(value, ".")
	if len(parts) != 2 {
		return nil, false
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, false
	}

	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(parts[1]), []byte(expected)) {
		return nil, false
	}

	return payload, true
}

func (m *SessionManager) parseSession(cookieValue string) (Session, bool) {
	payload, ok := m.verify(cookieValue)
	if !ok {
		return Session{}, false
	}

	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return Session{}, false
	}
	if s.UserID == "" || s.AccessToken == "" {
		return Session{}, false
	}

	return s, true
}

// GetSessionFromContext извлекает сессию из контекста запроса.
func GetSessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
