// Package loginflow описывает двухшаговый сценарий входа: ввод email, затем ввод кода.
// Переходы заданы явно; других состояний нет. Ограничения на число попыток
// целиком на стороне провайдера аутентификации.
package loginflow

import (
	"errors"
	"strings"
)

// State описывает шаг сценария входа.
type State string

const (
	// StateEmail — ожидается ввод email.
	StateEmail State = "email"
	// StateCode — код отправлен, ожидается его ввод.
	StateCode State = "code"
)

// ErrInvalidTransition возвращается при действии, недопустимом в текущем состоянии.
var (
	ErrInvalidTransition = errors.New("invalid login flow transition")
	// ErrEmailMismatch возвращается, если код проверяется для другого email.
	ErrEmailMismatch = errors.New("email does not match pending flow")
)

// Flow хранит текущее состояние сценария входа.
type Flow struct {
	State State
	Email string
}

// New возвращает сценарий в начальном состоянии.
func New() Flow {
	return Flow{State: StateEmail}
}

// SubmitEmail фиксирует email и переводит сценарий к вводу кода.
func (f Flow) SubmitEmail(email string) (Flow, error) {
	if f.State != StateEmail {
		return f, ErrInvalidTransition
	}
	if email == "" {
		return f, errors.New("email is empty")
	}
	return Flow{State: StateCode, Email: email}, nil
}

// Back возвращает сценарий к вводу email.
func (f Flow) Back() Flow {
	return Flow{State: StateEmail}
}

// CanResend сообщает, допустима ли повторная отправка кода.
func (f Flow) CanResend() bool {
	return f.State == StateCode && f.Email != ""
}

// CheckVerify проверяет, что проверка кода допустима для указанного email.
func (f Flow) CheckVerify(email string) error {
	if f.State != StateCode {
		return ErrInvalidTransition
	}
	if f.Email != email {
		return ErrEmailMismatch
	}
	return nil
}

// Encode сериализует сценарий для переноса в cookie.
func (f Flow) Encode() string {
	return string(f.State) + "|" + f.Email
}

// Decode восстанавливает сценарий из строки cookie.
func Decode(s string) (Flow, bool) {
	state, email, ok := strings.Cut(s, "|")
	if !ok {
		return Flow{}, false
	}

	switch State(state) {
	case StateEmail:
		return Flow{State: StateEmail}, true
	case StateCode:
		if email == "" {
			return Flow{}, false
		}
		return Flow{State: StateCode, Email: email}, true
	}

	return Flow{}, false
}
