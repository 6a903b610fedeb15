// Package handler содержит HTTP-обработчики API сервиса лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-system/internal/authclient"
	"github.com/mmeshcher/loyalty-system/internal/loginflow"
	"github.com/mmeshcher/loyalty-system/internal/middleware"
	"github.com/mmeshcher/loyalty-system/internal/model"
	"github.com/mmeshcher/loyalty-system/internal/notify"
	"github.com/mmeshcher/loyalty-system/internal/reason"
	"github.com/mmeshcher/loyalty-system/internal/redemption"
	"github.com/mmeshcher/loyalty-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RequestCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) (*authclient.Session, error)
	ResendCode(ctx context.Context, email string) error
	SignOut(ctx context.Context, token string) error
	LoadDashboard(ctx context.Context, userID string) (*model.Dashboard, error)
	ListActiveRewards(ctx context.Context) ([]model.Reward, error)
	Redeem(ctx context.Context, userID, token, rewardID string) (string, error)
}

// Handler реализует HTTP-обработчики API сервиса лояльности.
type Handler struct {
	service       Service
	logger        *zap.Logger
	sessions      *middleware.SessionManager
	notifications *notify.Queue
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, sessions *middleware.SessionManager, notifications *notify.Queue) *Handler {
	return &Handler{
		service:       s,
		logger:        logger,
		sessions:      sessions,
		notifications: notifications,
	}
}

func (h *Handler) toast(ctx context.Context, kind notify.Kind, message string) {
	id, ok := middleware.GetNotifierIDFromContext(ctx)
	if !ok {
		return
	}
	h.notifications.Push(id, kind, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

type emailRequest struct {
	Email string `json:"email"`
}

// RequestCode запускает отправку одноразового кода на email.
// Новые учётные записи при этом не создаются: для неизвестного email вход невозможен.
func (h *Handler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if err := h.service.RequestCode(r.Context(), req.Email); err != nil {
		if errors.Is(err, authclient.ErrNoAccount) {
			// Полузалогиненное состояние недопустимо: сбрасываем всё локальное.
			h.sessions.ClearSessionCookie(w)
			h.sessions.ClearFlowCookie(w)
			h.toast(r.Context(), notify.KindError, "Email não tem pontos ainda")
			writeError(w, http.StatusUnprocessableEntity, "Email não tem pontos ainda")
			return
		}
		h.logger.Error("request code error", zap.Error(err))
		h.toast(r.Context(), notify.KindError, "Erro ao enviar código")
		writeError(w, http.StatusBadGateway, "Erro ao enviar código")
		return
	}

	flow, err := loginflow.New().SubmitEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}
	h.sessions.SetFlowCookie(w, flow.Encode())

	h.toast(r.Context(), notify.KindSuccess, "Código enviado para seu email")
	w.WriteHeader(http.StatusOK)
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type verifyCodeResponse struct {
	Email  string `json:"email"`
	UserID string `json:"user_id"`
}

// VerifyCode обменивает одноразовый код на сессию и устанавливает cookie.
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if len(req.Code) != 6 {
		writeError(w, http.StatusBadRequest, "Código inválido")
		return
	}

	encoded, ok := h.sessions.GetFlowCookie(r)
	if !ok {
		writeError(w, http.StatusConflict, "Solicite um código primeiro")
		return
	}
	flow, ok := loginflow.Decode(encoded)
	if !ok || flow.CheckVerify(req.Email) != nil {
		writeError(w, http.StatusConflict, "Solicite um código primeiro")
		return
	}

	session, err := h.service.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, authclient.ErrCodeExpired):
			h.toast(r.Context(), notify.KindError, "Código expirado. Solicite um novo código")
			writeError(w, http.StatusUnauthorized, "Código expirado. Solicite um novo código")
		case errors.Is(err, authclient.ErrCodeInvalid):
			h.toast(r.Context(), notify.KindError, "Código inválido")
			writeError(w, http.StatusUnauthorized, "Código inválido")
		default:
			h.logger.Error("verify code error", zap.Error(err))
			h.toast(r.Context(), notify.KindError, "Erro ao verificar código")
			writeError(w, http.StatusBadGateway, "Erro ao verificar código")
		}
		return
	}

	h.sessions.ClearFlowCookie(w)
	h.sessions.SetSessionCookie(w, middleware.Session{
		UserID:      session.UserID,
		Email:       session.Email,
		AccessToken: session.AccessToken,
	})

	writeJSON(w, http.StatusOK, verifyCodeResponse{
		Email:  session.Email,
		UserID: session.UserID,
	})
}

// ResendCode повторно отправляет код для email из текущего сценария входа.
func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	encoded, ok := h.sessions.GetFlowCookie(r)
	if !ok {
		writeError(w, http.StatusConflict, "Solicite um código primeiro")
		return
	}
	flow, ok := loginflow.Decode(encoded)
	if !ok || !flow.CanResend() {
		writeError(w, http.StatusConflict, "Solicite um código primeiro")
		return
	}

	if err := h.service.ResendCode(r.Context(), flow.Email); err != nil {
		h.logger.Error("resend code error", zap.Error(err))
		h.toast(r.Context(), notify.KindError, "Erro ao reenviar código")
		writeError(w, http.StatusBadGateway, "Erro ao reenviar código")
		return
	}

	h.toast(r.Context(), notify.KindSuccess, "Novo código enviado")
	w.WriteHeader(http.StatusOK)
}

// Logout отзывает сессию у провайдера и сбрасывает локальные cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if session, ok := h.sessions.SessionFromRequest(r); ok {
		if err := h.service.SignOut(r.Context(), session.AccessToken); err != nil {
			h.logger.Warn("sign out error", zap.Error(err))
		}
	}

	h.sessions.ClearSessionCookie(w)
	h.sessions.ClearFlowCookie(w)
	w.WriteHeader(http.StatusOK)
}

type memberResponse struct {
	Email       string `json:"email"`
	MemberSince string `json:"member_since"`
}

type historyEntryResponse struct {
	ID          string `json:"id"`
	DeltaPoints int64  `json:"delta_points"`
	Reason      string `json:"reason"`
	Label       string `json:"label"`
	CreatedAt   string `json:"created_at"`
}

type redemptionRewardResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CostPoints int64  `json:"cost_points"`
}

type redemptionEntryResponse struct {
	ID        string                   `json:"id"`
	Code      string                   `json:"code"`
	Status    string                   `json:"status"`
	CreatedAt string                   `json:"created_at"`
	Reward    redemptionRewardResponse `json:"reward"`
}

type dashboardResponse struct {
	Member      memberResponse            `json:"member"`
	Points      int64                     `json:"points"`
	History     []historyEntryResponse    `json:"history"`
	Redemptions []redemptionEntryResponse `json:"redemptions"`
}

// GetDashboard возвращает агрегированные данные участника.
// Повторный вызов — штатный способ обновить экран после любого действия.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	dash, err := h.service.LoadDashboard(r.Context(), session.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMemberNotProvisioned):
			// Аутентифицирован, но не заведён в программе: принудительный выход.
			h.sessions.ClearSessionCookie(w)
			h.toast(r.Context(), notify.KindError, "Email não tem pontos ainda")
			writeError(w, http.StatusForbidden, "Email não tem pontos ainda")
		case errors.Is(err, service.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
		default:
			h.logger.Error("load dashboard error", zap.Error(err), zap.String("userID", session.UserID))
			h.toast(r.Context(), notify.KindError, "Erro ao carregar dados")
			writeError(w, http.StatusBadGateway, "Erro ao carregar dados")
		}
		return
	}

	if r.URL.Query().Get("refresh") == "1" {
		h.toast(r.Context(), notify.KindInfo, "Dados atualizados")
	}

	resp := dashboardResponse{
		Member: memberResponse{
			Email:       dash.Member.Email,
			MemberSince: dash.Member.CreatedAt.Format(time.RFC3339),
		},
		Points:      dash.Points,
		History:     make([]historyEntryResponse, 0, len(dash.History)),
		Redemptions: make([]redemptionEntryResponse, 0, len(dash.Redemptions)),
	}

	for _, e := range dash.History {
		resp.History = append(resp.History, historyEntryResponse{
			ID:          e.ID,
			DeltaPoints: e.DeltaPoints,
			Reason:      e.Reason,
			Label:       reason.Label(e.Reason),
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}

	for _, rd := range dash.Redemptions {
		resp.Redemptions = append(resp.Redemptions, redemptionEntryResponse{
			ID:        rd.ID,
			Code:      rd.DiscountCode,
			Status:    string(rd.Status),
			CreatedAt: rd.CreatedAt.Format(time.RFC3339),
			Reward: redemptionRewardResponse{
				ID:         rd.Reward.ID,
				Name:       rd.Reward.Name,
				CostPoints: rd.Reward.CostPoints,
			},
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type rewardResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CostPoints    int64   `json:"cost_points"`
	DiscountType  string  `json:"discount_type"`
	DiscountValue float64 `json:"discount_value"`
	DiscountLabel string  `json:"discount_label"`
}

func formatDiscount(rw model.Reward) string {
	if rw.DiscountType == model.DiscountPercentage {
		return fmt.Sprintf("%g%% OFF", rw.DiscountValue)
	}
	return fmt.Sprintf("R$ %.2f OFF", rw.DiscountValue)
}

// GetRewards возвращает активные вознаграждения по возрастанию стоимости.
// Ошибка чтения каталога не блокирует экран: список просто пуст.
func (h *Handler) GetRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ListActiveRewards(r.Context())
	if err != nil {
		h.logger.Error("list rewards error", zap.Error(err))
		h.toast(r.Context(), notify.KindError, "Erro ao carregar recompensas")
		writeJSON(w, http.StatusOK, []rewardResponse{})
		return
	}

	resp := make([]rewardResponse, 0, len(rewards))
	for _, rw := range rewards {
		resp = append(resp, rewardResponse{
			ID:            rw.ID,
			Name:          rw.Name,
			CostPoints:    rw.CostPoints,
			DiscountType:  string(rw.DiscountType),
			DiscountValue: rw.DiscountValue,
			DiscountLabel: formatDiscount(rw),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type redeemRequest struct {
	RewardID string `json:"reward_id"`
}

type redeemResponse struct {
	Code string `json:"code"`
}

// Redeem обменивает баллы на вознаграждение и возвращает код скидки.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RewardID == "" {
		writeError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	code, err := h.service.Redeem(r.Context(), session.UserID, session.AccessToken, req.RewardID)
	if err != nil {
		var badRequest *redemption.BadRequestError

		switch {
		case errors.Is(err, redemption.ErrInsufficientPoints):
			h.toast(r.Context(), notify.KindError, "Pontos insuficientes para esta recompensa")
			writeError(w, http.StatusBadRequest, "Pontos insuficientes para esta recompensa")
		case errors.Is(err, redemption.ErrInvalidReward):
			h.toast(r.Context(), notify.KindError, "Recompensa inválida")
			writeError(w, http.StatusBadRequest, "Recompensa inválida")
		case errors.As(err, &badRequest):
			h.toast(r.Context(), notify.KindError, badRequest.Message)
			writeError(w, http.StatusBadRequest, badRequest.Message)
		case errors.Is(err, redemption.ErrSessionExpired):
			h.sessions.ClearSessionCookie(w)
			h.toast(r.Context(), notify.KindError, "Sessão expirada. Faça login novamente")
			writeError(w, http.StatusUnauthorized, "Sessão expirada. Faça login novamente")
		case errors.Is(err, redemption.ErrMemberNotFound):
			h.toast(r.Context(), notify.KindError, "Membro não encontrado. Entre em contato com o suporte")
			writeError(w, http.StatusNotFound, "Membro não encontrado. Entre em contato com o suporte")
		case errors.Is(err, redemption.ErrServerUnavailable):
			h.toast(r.Context(), notify.KindError, "Erro interno. Tente novamente mais tarde")
			writeError(w, http.StatusBadGateway, "Erro interno. Tente novamente mais tarde")
		case errors.Is(err, service.ErrRedeemInFlight):
			writeError(w, http.StatusConflict, "Resgate em andamento")
		case errors.Is(err, redemption.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
		default:
			h.logger.Error("redeem error", zap.Error(err), zap.String("rewardID", req.RewardID))
			h.toast(r.Context(), notify.KindError, "Erro desconhecido")
			writeError(w, http.StatusInternalServerError, "Erro desconhecido")
		}
		return
	}

	h.toast(r.Context(), notify.KindSuccess, "Recompensa resgatada com sucesso!")
	writeJSON(w, http.StatusOK, redeemResponse{Code: code})
}

// GetNotifications забирает накопленные уведомления клиента.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetNotifierIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, []notify.Notification{})
		return
	}

	list := h.notifications.Pull(id)
	if list == nil {
		list = []notify.Notification{}
	}

	writeJSON(w, http.StatusOK, list)
}
