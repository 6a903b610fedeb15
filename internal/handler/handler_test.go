package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-system/internal/authclient"
	"github.com/mmeshcher/loyalty-system/internal/loginflow"
	"github.com/mmeshcher/loyalty-system/internal/middleware"
	"github.com/mmeshcher/loyalty-system/internal/model"
	"github.com/mmeshcher/loyalty-system/internal/notify"
	"github.com/mmeshcher/loyalty-system/internal/redemption"
	"github.com/mmeshcher/loyalty-system/internal/service"
)

type stubService struct {
	requestCodeErr error

	verifySession *authclient.Session
	verifyErr     error

	resendErr error

	signOutErr error

	dashboard    *model.Dashboard
	dashboardErr error

	rewards    []model.Reward
	rewardsErr error

	redeemCode string
	redeemErr  error
}

func (s *stubService) RequestCode(ctx context.Context, email string) error {
	return s.requestCodeErr
}

func (s *stubService) VerifyCode(ctx context.Context, email, code string) (*authclient.Session, error) {
	return s.verifySession, s.verifyErr
}

func (s *stubService) ResendCode(ctx context.Context, email string) error {
	return s.resendErr
}

func (s *stubService) SignOut(ctx context.Context, token string) error {
	return s.signOutErr
}

func (s *stubService) LoadDashboard(ctx context.Context, userID string) (*model.Dashboard, error) {
	return s.dashboard, s.dashboardErr
}

func (s *stubService) ListActiveRewards(ctx context.Context) ([]model.Reward, error) {
	return s.rewards, s.rewardsErr
}

func (s *stubService) Redeem(ctx context.Context, userID, token, rewardID string) (string, error) {
	return s.redeemCode, s.redeemErr
}

type testEnv struct {
	handler  *Handler
	sessions *middleware.SessionManager
	router   http.Handler
}

func newTestEnv(t *testing.T, svc Service) *testEnv {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	sessions := middleware.NewSessionManager("test-secret")
	h := NewHandler(svc, logger, sessions, notify.NewQueue())

	return &testEnv{
		handler:  h,
		sessions: sessions,
		router:   h.SetupRouter(),
	}
}

func (e *testEnv) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	e.sessions.SetSessionCookie(rec, middleware.Session{
		UserID:      "user-1",
		Email:       "user@example.com",
		AccessToken: "token-abc",
	})
	return rec.Result().Cookies()[0]
}

func (e *testEnv) flowCookie(t *testing.T, email string) *http.Cookie {
	t.Helper()

	flow, err := loginflow.New().SubmitEmail(email)
	if err != nil {
		t.Fatalf("submit email: %v", err)
	}

	rec := httptest.NewRecorder()
	e.sessions.SetFlowCookie(rec, flow.Encode())
	return rec.Result().Cookies()[0]
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()

	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(body)
}

func findCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRequestCode_NoAccount(t *testing.T) {
	env := newTestEnv(t, &stubService{requestCodeErr: authclient.ErrNoAccount})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/otp", jsonBody(t, emailRequest{Email: "unknown@example.com"}))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}

	var body errorBody
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Email não tem pontos ainda" {
		t.Fatalf("error = %q", body.Error)
	}

	// Сессия принудительно сброшена, активной сессии не остаётся.
	session := findCookie(res, "session_token")
	if session == nil || session.Value != "" {
		t.Fatalf("session cookie must be cleared, got %+v", session)
	}
}

func TestRequestCode_SuccessSetsFlow(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/otp", jsonBody(t, emailRequest{Email: "user@example.com"}))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if findCookie(res, "login_flow") == nil {
		t.Fatalf("login flow cookie must be set")
	}

	// Уведомление об отправке кода попадает в очередь клиента.
	notifyCookie := findCookie(res, "notify_id")
	if notifyCookie == nil {
		t.Fatalf("notify cookie must be set")
	}

	nreq := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	nreq.AddCookie(notifyCookie)
	nrec := httptest.NewRecorder()
	env.router.ServeHTTP(nrec, nreq)

	var notifications []notify.Notification
	if err := json.NewDecoder(nrec.Result().Body).Decode(&notifications); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(notifications) != 1 || notifications[0].Message != "Código enviado para seu email" {
		t.Fatalf("unexpected notifications: %+v", notifications)
	}
}

func TestVerifyCode_RequiresFlow(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify",
		jsonBody(t, verifyCodeRequest{Email: "user@example.com", Code: "123456"}))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestVerifyCode_ShortCode(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify",
		jsonBody(t, verifyCodeRequest{Email: "user@example.com", Code: "123"}))
	req.AddCookie(env.flowCookie(t, "user@example.com"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestVerifyCode_Success(t *testing.T) {
	env := newTestEnv(t, &stubService{
		verifySession: &authclient.Session{
			AccessToken: "token-abc",
			UserID:      "user-1",
			Email:       "user@example.com",
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify",
		jsonBody(t, verifyCodeRequest{Email: "user@example.com", Code: "123456"}))
	req.AddCookie(env.flowCookie(t, "user@example.com"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	session := findCookie(res, "session_token")
	if session == nil || session.Value == "" {
		t.Fatalf("session cookie must be set")
	}

	var body verifyCodeResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != "user-1" || body.Email != "user@example.com" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestVerifyCode_Expired(t *testing.T) {
	env := newTestEnv(t, &stubService{verifyErr: authclient.ErrCodeExpired})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify",
		jsonBody(t, verifyCodeRequest{Email: "user@example.com", Code: "123456"}))
	req.AddCookie(env.flowCookie(t, "user@example.com"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	var body errorBody
	_ = json.NewDecoder(res.Body).Decode(&body)
	if body.Error != "Código expirado. Solicite um novo código" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestVerifyCode_Invalid(t *testing.T) {
	env := newTestEnv(t, &stubService{verifyErr: authclient.ErrCodeInvalid})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify",
		jsonBody(t, verifyCodeRequest{Email: "user@example.com", Code: "000000"}))
	req.AddCookie(env.flowCookie(t, "user@example.com"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	var body errorBody
	_ = json.NewDecoder(res.Body).Decode(&body)
	if body.Error != "Código inválido" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestResendCode_RequiresFlow(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/resend", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestResendCode_OK(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/resend", nil)
	req.AddCookie(env.flowCookie(t, "user@example.com"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
}

func TestGetDashboard_Unauthorized(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetDashboard_OK(t *testing.T) {
	created := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	env := newTestEnv(t, &stubService{
		dashboard: &model.Dashboard{
			Member: model.Member{
				ID:        "member-1",
				Email:     "user@example.com",
				UserID:    "user-1",
				CreatedAt: created,
			},
			Points: 500,
			History: []model.LedgerEntry{
				{ID: "le-1", MemberID: "member-1", DeltaPoints: 500, Reason: "order:123", CreatedAt: created},
			},
			Redemptions: []model.Redemption{
				{
					ID:           "rd-1",
					MemberID:     "member-1",
					RewardID:     "rw-1",
					DiscountCode: "DESC-10",
					Status:       model.RedemptionActive,
					CreatedAt:    created,
					Reward:       model.RewardSummary{ID: "rw-1", Name: "10% OFF", CostPoints: 300},
				},
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.AddCookie(env.sessionCookie(t))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var body dashboardResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if body.Points != 500 {
		t.Fatalf("points = %d, want 500", body.Points)
	}
	if len(body.History) != 1 || body.History[0].Label != "Compra realizada" {
		t.Fatalf("unexpected history: %+v", body.History)
	}
	if len(body.Redemptions) != 1 || body.Redemptions[0].Code != "DESC-10" {
		t.Fatalf("unexpected redemptions: %+v", body.Redemptions)
	}
	if body.Redemptions[0].Reward.Name != "10% OFF" {
		t.Fatalf("unexpected reward: %+v", body.Redemptions[0].Reward)
	}
}

func TestGetDashboard_MemberNotProvisioned(t *testing.T) {
	env := newTestEnv(t, &stubService{dashboardErr: service.ErrMemberNotProvisioned})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.AddCookie(env.sessionCookie(t))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}

	// Принудительный выход: cookie сессии сброшен.
	session := findCookie(res, "session_token")
	if session == nil || session.Value != "" {
		t.Fatalf("session cookie must be cleared, got %+v", session)
	}
}

func TestGetRewards_ErrorDegradesToEmptyList(t *testing.T) {
	env := newTestEnv(t, &stubService{rewardsErr: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodGet, "/api/rewards", nil)
	req.AddCookie(env.sessionCookie(t))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var body []rewardResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("rewards must be empty, got %+v", body)
	}
}

func TestGetRewards_OK(t *testing.T) {
	env := newTestEnv(t, &stubService{
		rewards: []model.Reward{
			{ID: "rw-1", Name: "Frete grátis", CostPoints: 100, DiscountType: model.DiscountFixed, DiscountValue: 15, Active: true},
			{ID: "rw-2", Name: "Desconto", CostPoints: 300, DiscountType: model.DiscountPercentage, DiscountValue: 10, Active: true},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/rewards", nil)
	req.AddCookie(env.sessionCookie(t))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var body []rewardResponse
	if err := json.NewDecoder(rec.Result().Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 2 {
		t.Fatalf("rewards = %d, want 2", len(body))
	}
	if body[0].DiscountLabel != "R$ 15.00 OFF" {
		t.Fatalf("fixed label = %q", body[0].DiscountLabel)
	}
	if body[1].DiscountLabel != "10% OFF" {
		t.Fatalf("percentage label = %q", body[1].DiscountLabel)
	}
}

func TestRedeem_Success(t *testing.T) {
	env := newTestEnv(t, &stubService{redeemCode: "DESC-42"})

	req := httptest.NewRequest(http.MethodPost, "/api/redeem", jsonBody(t, redeemRequest{RewardID: "rw-1"}))
	req.AddCookie(env.sessionCookie(t))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var body redeemResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "DESC-42" {
		t.Fatalf("code = %q, want DESC-42", body.Code)
	}
}

func TestRedeem_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "insufficient points",
			err:        redemption.ErrInsufficientPoints,
			wantStatus: http.StatusBadRequest,
			wantError:  "Pontos insuficientes para esta recompensa",
		},
		{
			name:       "invalid reward",
			err:        redemption.ErrInvalidReward,
			wantStatus: http.StatusBadRequest,
			wantError:  "Recompensa inválida",
		},
		{
			name:       "pass-through bad request",
			err:        &redemption.BadRequestError{Message: "Reward temporarily disabled"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Reward temporarily disabled",
		},
		{
			name:       "session expired",
			err:        redemption.ErrSessionExpired,
			wantStatus: http.StatusUnauthorized,
			wantError:  "Sessão expirada. Faça login novamente",
		},
		{
			name:       "member missing",
			err:        redemption.ErrMemberNotFound,
			wantStatus: http.StatusNotFound,
			wantError:  "Membro não encontrado. Entre em contato com o suporte",
		},
		{
			name:       "server fault",
			err:        redemption.ErrServerUnavailable,
			wantStatus: http.StatusBadGateway,
			wantError:  "Erro interno. Tente novamente mais tarde",
		},
		{
			name:       "in flight",
			err:        service.ErrRedeemInFlight,
			wantStatus: http.StatusConflict,
			wantError:  "Resgate em andamento",
		},
		{
			name:       "unknown",
			err:        redemption.ErrUnknown,
			wantStatus: http.StatusInternalServerError,
			wantError:  "Erro desconhecido",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &stubService{redeemErr: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/redeem", jsonBody(t, redeemRequest{RewardID: "rw-1"}))
			req.AddCookie(env.sessionCookie(t))
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)

			res := rec.Result()
			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}

			var body errorBody
			_ = json.NewDecoder(res.Body).Decode(&body)
			if body.Error != tt.wantError {
				t.Fatalf("error = %q, want %q", body.Error, tt.wantError)
			}
		})
	}
}

func TestNotifications_DrainOnce(t *testing.T) {
	env := newTestEnv(t, &stubService{requestCodeErr: authclient.ErrNoAccount})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/otp", jsonBody(t, emailRequest{Email: "unknown@example.com"}))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	notifyCookie := findCookie(rec.Result(), "notify_id")
	if notifyCookie == nil {
		t.Fatalf("notify cookie must be set")
	}

	pull := func() []notify.Notification {
		nreq := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		nreq.AddCookie(notifyCookie)
		nrec := httptest.NewRecorder()
		env.router.ServeHTTP(nrec, nreq)

		var list []notify.Notification
		if err := json.NewDecoder(nrec.Result().Body).Decode(&list); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return list
	}

	if first := pull(); len(first) != 1 {
		t.Fatalf("first pull = %d, want 1", len(first))
	}
	if second := pull(); len(second) != 0 {
		t.Fatalf("second pull = %d, want 0", len(second))
	}
}

func TestLogout_ClearsCookies(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(env.sessionCookie(t))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	session := findCookie(res, "session_token")
	if session == nil || session.Value != "" || session.MaxAge >= 0 {
		t.Fatalf("session cookie must be cleared, got %+v", session)
	}
}
