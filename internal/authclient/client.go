// Package authclient предоставляет клиент для внешнего провайдера аутентификации по одноразовым кодам.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured возвращается, если адрес провайдера аутентификации не задан.
var (
	ErrNotConfigured = errors.New("auth client not configured")
	// ErrNoAccount возвращается, если для email не заведена учётная запись.
	// Провайдер не создаёт новые учётные записи при входе.
	ErrNoAccount = errors.New("no account for email")
	// ErrCodeExpired возвращается при проверке просроченного кода.
	ErrCodeExpired = errors.New("code expired")
	// ErrCodeInvalid возвращается при проверке неизвестного или неверного кода.
	ErrCodeInvalid = errors.New("code invalid")
	// ErrSessionExpired возвращается, если токен сессии больше не действителен.
	ErrSessionExpired = errors.New("session expired")
)

// Session описывает сессию, выданную провайдером после проверки кода.
type Session struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
}

// User описывает учётную запись текущей сессии.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Client инкапсулирует HTTP-взаимодействие с провайдером аутентификации.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к провайдеру по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) endpoint(path string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return base + path, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body any, token string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	return resp, nil
}

func decodeError(resp *http.Response) string {
	var e errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		return ""
	}
	return e.Error
}

type otpRequest struct {
	Email      string `json:"email"`
	CreateUser bool   `json:"create_user"`
}

// RequestCode запрашивает отправку одноразового кода на email существующей учётной записи.
func (c *Client) RequestCode(ctx context.Context, email string) error {
	url, err := c.endpoint("/otp")
	if err != nil {
		return err
	}

	resp, err := c.postJSON(ctx, url, otpRequest{Email: email, CreateUser: false}, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrNoAccount
	}

	msg := decodeError(resp)
	if strings.Contains(strings.ToLower(msg), "signup") {
		return ErrNoAccount
	}
	if msg != "" {
		return fmt.Errorf("request code: %s", msg)
	}
	return fmt.Errorf("request code: unexpected status %d", resp.StatusCode)
}

type verifyRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// VerifyCode обменивает одноразовый код на сессию.
// Результат возвращается явно: просроченный и неверный коды различаются.
func (c *Client) VerifyCode(ctx context.Context, email, code string) (*Session, error) {
	url, err := c.endpoint("/verify")
	if err != nil {
		return nil, err
	}

	resp, err := c.postJSON(ctx, url, verifyRequest{Type: "email", Email: email, Token: code}, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := decodeError(resp)
		switch {
		case strings.Contains(msg, "expired"):
			return nil, ErrCodeExpired
		case strings.Contains(msg, "not found"):
			return nil, ErrCodeInvalid
		case msg != "":
			return nil, fmt.Errorf("verify code: %s", msg)
		}
		return nil, fmt.Errorf("verify code: unexpected status %d", resp.StatusCode)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.AccessToken == "" || s.UserID == "" {
		return nil, fmt.Errorf("verify code: incomplete session in response")
	}
	if s.Email == "" {
		s.Email = email
	}

	return &s, nil
}

// GetUser возвращает учётную запись, которой принадлежит токен сессии.
func (c *Client) GetUser(ctx context.Context, token string) (*User, error) {
	url, err := c.endpoint("/user")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get user: unexpected status %d", resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}

	return &u, nil
}

// SignOut отзывает токен сессии у провайдера.
func (c *Client) SignOut(ctx context.Context, token string) error {
	url, err := c.endpoint("/logout")
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sign out: unexpected status %d", resp.StatusCode)
	}

	return nil
}
