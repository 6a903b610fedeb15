// Package redemption предоставляет клиент для внешней функции обмена баллов.
// Сама транзакция (проверка баланса, списание, запись в журнал, выпуск кода)
// выполняется на стороне функции; здесь только классификация её ответов.
package redemption

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotConfigured возвращается, если адрес функции обмена не задан.
var (
	ErrNotConfigured = errors.New("redemption client not configured")
	// ErrInsufficientPoints возвращается, если баллов не хватает на вознаграждение.
	ErrInsufficientPoints = errors.New("not enough points")
	// ErrInvalidReward возвращается для неизвестного или неактивного вознаграждения.
	ErrInvalidReward = errors.New("invalid reward")
	// ErrSessionExpired возвращается при недействительном токене сессии.
	ErrSessionExpired = errors.New("session expired")
	// ErrMemberNotFound возвращается, если участник не найден на стороне функции.
	ErrMemberNotFound = errors.New("member not found")
	// ErrServerUnavailable возвращается при временном сбое функции. Повтор — вручную.
	ErrServerUnavailable = errors.New("redemption service unavailable")
	// ErrUnknown возвращается для не классифицированных ответов.
	ErrUnknown = errors.New("unknown redemption error")
)

// BadRequestError передаёт сообщение сервера для прочих ответов 400.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// Client инкапсулирует HTTP-взаимодействие с функцией обмена.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к функции обмена по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type redeemRequest struct {
	RewardID string `json:"reward_id"`
}

type redeemResponse struct {
	Code string `json:"code"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Redeem обменивает баллы на вознаграждение и возвращает код скидки.
// Каждая попытка несёт собственный ключ идемпотентности: повторная доставка
// того же намерения не должна приводить к двойному списанию.
func (c *Client) Redeem(ctx context.Context, token, rewardID string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", ErrNotConfigured
	}
	if token == "" {
		return "", ErrSessionExpired
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload, err := json.Marshal(redeemRequest{RewardID: rewardID})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/redeem", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result redeemResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if result.Code == "" {
			return "", fmt.Errorf("empty discount code in response")
		}
		return result.Code, nil

	case http.StatusBadRequest:
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		switch e.Error {
		case "Not enough points":
			return "", ErrInsufficientPoints
		case "Invalid reward":
			return "", ErrInvalidReward
		}
		if e.Error != "" {
			return "", &BadRequestError{Message: e.Error}
		}
		return "", ErrUnknown

	case http.StatusUnauthorized:
		return "", ErrSessionExpired

	case http.StatusNotFound:
		return "", ErrMemberNotFound

	case http.StatusInternalServerError, http.StatusBadGateway:
		return "", ErrServerUnavailable
	}

	return "", ErrUnknown
}
