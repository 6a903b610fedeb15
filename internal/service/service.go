// Package service реализует бизнес-логику сервиса лояльности.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/loyalty-system/internal/authclient"
	"github.com/mmeshcher/loyalty-system/internal/model"
	"github.com/mmeshcher/loyalty-system/internal/redemption"
	"github.com/mmeshcher/loyalty-system/internal/repository"
)

// historyLimit ограничивает число записей журнала и обменов на экране.
const historyLimit = 50

// ErrNotConfigured возвращается, если хранилище данных не настроено.
var (
	ErrNotConfigured = errors.New("data store not configured")
	// ErrMemberNotProvisioned возвращается, если для учётной записи не заведён участник.
	// Состояние терминально для сессии: показывать такому пользователю нечего.
	ErrMemberNotProvisioned = errors.New("member not provisioned")
	// ErrRedeemInFlight возвращается при повторном обмене того же вознаграждения,
	// пока не завершился предыдущий вызов.
	ErrRedeemInFlight = errors.New("redemption already in flight")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetMemberByUserID(ctx context.Context, userID string) (*model.Member, error)
	GetBalance(ctx context.Context, memberID string) (int64, error)
	GetLedgerByMember(ctx context.Context, memberID string, limit int) ([]model.LedgerEntry, error)
	GetActiveRewards(ctx context.Context) ([]model.Reward, error)
	GetRedemptionsByMember(ctx context.Context, memberID string, limit int) ([]model.Redemption, error)
}

// AuthProvider описывает контракт провайдера аутентификации.
type AuthProvider interface {
	RequestCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) (*authclient.Session, error)
	GetUser(ctx context.Context, token string) (*authclient.User, error)
	SignOut(ctx context.Context, token string) error
}

// Redeemer описывает контракт функции обмена баллов.
type Redeemer interface {
	Redeem(ctx context.Context, token, rewardID string) (string, error)
}

// Service содержит бизнес-логику сервиса лояльности.
type Service struct {
	repo     Repository
	auth     AuthProvider
	redeemer Redeemer
	logger   *zap.Logger

	mu          sync.Mutex
	generations map[string]uint64
	snapshots   map[string]*model.Dashboard
	inflight    map[string]struct{}
}

// NewService создаёт сервис с указанным репозиторием и клиентами внешних систем.
func NewService(repo Repository, auth AuthProvider, redeemer Redeemer, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		auth:        auth,
		redeemer:    redeemer,
		logger:      logger,
		generations: make(map[string]uint64),
		snapshots:   make(map[string]*model.Dashboard),
		inflight:    make(map[string]struct{}),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RequestCode запрашивает одноразовый код для существующей учётной записи.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	if s.auth == nil {
		return authclient.ErrNotConfigured
	}
	return s.auth.RequestCode(ctx, email)
}

// VerifyCode обменивает код на сессию. Результат возвращается явно,
// без глобального события смены состояния аутентификации.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (*authclient.Session, error) {
	if s.auth == nil {
		return nil, authclient.ErrNotConfigured
	}
	return s.auth.VerifyCode(ctx, email, code)
}

// ResendCode повторно отправляет код без создания учётной записи.
func (s *Service) ResendCode(ctx context.Context, email string) error {
	if s.auth == nil {
		return authclient.ErrNotConfigured
	}
	return s.auth.RequestCode(ctx, email)
}

// SignOut отзывает токен сессии у провайдера аутентификации.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if s.auth == nil {
		return authclient.ErrNotConfigured
	}
	return s.auth.SignOut(ctx, token)
}

// beginLoad выдаёт номер поколения для загрузки данных участника.
func (s *Service) beginLoad(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generations[userID]++
	return s.generations[userID]
}

// completeLoad сохраняет снимок, только если с начала загрузки не стартовала более новая.
// Так опоздавший ответ не перетирает более свежие данные.
func (s *Service) completeLoad(userID string, generation uint64, d *model.Dashboard) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generations[userID] {
		return false
	}

	s.snapshots[userID] = d
	return true
}

// Snapshot возвращает последний сохранённый снимок данных участника.
func (s *Service) Snapshot(userID string) (*model.Dashboard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.snapshots[userID]
	return d, ok
}

// LoadDashboard загружает данные участника целиком: участник, баланс, журнал, обмены.
// Загрузка идемпотентна и безопасна при любом триггере обновления.
// Журнал и обмены читаются параллельно после разрешения участника;
// их ошибки изолированы и деградируют до пустых списков.
func (s *Service) LoadDashboard(ctx context.Context, userID string) (*model.Dashboard, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}

	generation := s.beginLoad(userID)

	member, err := s.repo.GetMemberByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, ErrMemberNotProvisioned
		}
		return nil, fmt.Errorf("load member: %w", err)
	}

	points, err := s.repo.GetBalance(ctx, member.ID)
	if err != nil {
		s.logger.Warn("load balance failed, using zero", zap.Error(err), zap.String("memberID", member.ID))
		points = 0
	}

	dash := &model.Dashboard{
		Member: *member,
		Points: points,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		history, err := s.repo.GetLedgerByMember(gctx, member.ID, historyLimit)
		if err != nil {
			s.logger.Warn("load history failed", zap.Error(err), zap.String("memberID", member.ID))
			return nil
		}
		dash.History = history
		return nil
	})

	g.Go(func() error {
		redemptions, err := s.repo.GetRedemptionsByMember(gctx, member.ID, historyLimit)
		if err != nil {
			s.logger.Warn("load redemptions failed", zap.Error(err), zap.String("memberID", member.ID))
			return nil
		}
		dash.Redemptions = redemptions
		return nil
	})

	_ = g.Wait()

	s.completeLoad(userID, generation, dash)

	return dash, nil
}

// ListActiveRewards возвращает активные вознаграждения по возрастанию стоимости.
func (s *Service) ListActiveRewards(ctx context.Context) ([]model.Reward, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}
	return s.repo.GetActiveRewards(ctx)
}

// Redeem обменивает баллы на вознаграждение и возвращает код скидки.
// Повторный вызов для того же вознаграждения блокируется до завершения текущего;
// обмен другого вознаграждения при этом не блокируется.
func (s *Service) Redeem(ctx context.Context, userID, token, rewardID string) (string, error) {
	if s.redeemer == nil {
		return "", redemption.ErrNotConfigured
	}

	key := userID + "/" + rewardID

	s.mu.Lock()
	if _, busy := s.inflight[key]; busy {
		s.mu.Unlock()
		return "", ErrRedeemInFlight
	}
	s.inflight[key] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	code, err := s.redeemer.Redeem(ctx, token, rewardID)
	if err != nil {
		return "", err
	}

	// После успешного обмена данные перечитываются целиком: баланс, журнал, обмены.
	if _, err := s.LoadDashboard(ctx, userID); err != nil {
		s.logger.Warn("reload after redeem failed", zap.Error(err), zap.String("userID", userID))
	}

	return code, nil
}
