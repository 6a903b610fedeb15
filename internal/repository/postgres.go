// Package repository содержит реализацию доступа к данным в PostgreSQL.
// Сервис лояльности только читает эти таблицы: записи выполняют внешние системы.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/loyalty-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrMemberNotFound возвращается, если для учётной записи не заведён участник программы.
var ErrMemberNotFound = errors.New("member not found")

// fallbackRewardName используется, когда вознаграждение обмена не удалось присоединить.
const fallbackRewardName = "Recompensa"

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет запрос при временных сбоях.
// Все запросы репозитория — чтения, поэтому повтор безопасен.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isTransientError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransientError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}

	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetMemberByUserID возвращает участника программы по идентификатору учётной записи.
func (r *PostgresRepository) GetMemberByUserID(ctx context.Context, userID string) (*model.Member, error) {
	var m model.Member

	err := r.withRetry(ctx, func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx,
			`SELECT id, email, user_id, created_at FROM loyalty_members WHERE user_id = $1`,
			userID,
		)
		return row.Scan(&m.ID, &m.Email, &m.UserID, &m.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}

	return &m, nil
}

// GetBalance возвращает баланс баллов участника.
// Отсутствие строки баланса не ошибка: до первой операции её может не быть.
func (r *PostgresRepository) GetBalance(ctx context.Context, memberID string) (int64, error) {
	var points int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx,
			`SELECT points FROM member_balances WHERE member_id = $1`,
			memberID,
		)
		return row.Scan(&points)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}

	return points, nil
}

// GetLedgerByMember возвращает последние записи журнала начислений, новые первыми.
func (r *PostgresRepository) GetLedgerByMember(ctx context.Context, memberID string, limit int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry

	err := r.withRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, member_id, delta_points, reason, created_at
			 FROM points_ledger
			 WHERE member_id = $1
			 ORDER BY created_at DESC
			 LIMIT $2`,
			memberID, limit,
		)
		if err != nil {
			return fmt.Errorf("select ledger: %w", err)
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			var e model.LedgerEntry
			if err := rows.Scan(&e.ID, &e.MemberID, &e.DeltaPoints, &e.Reason, &e.CreatedAt); err != nil {
				return fmt.Errorf("scan ledger entry: %w", err)
			}
			entries = append(entries, e)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// GetActiveRewards возвращает активные вознаграждения по возрастанию стоимости.
func (r *PostgresRepository) GetActiveRewards(ctx context.Context) ([]model.Reward, error) {
	var rewards []model.Reward

	err := r.withRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, name, cost_points, discount_type, discount_value, active
			 FROM rewards
			 WHERE active = true
			 ORDER BY cost_points ASC`,
		)
		if err != nil {
			return fmt.Errorf("select rewards: %w", err)
		}
		defer rows.Close()

		rewards = rewards[:0]
		for rows.Next() {
			var (
				rw           model.Reward
				discountType string
			)
			if err := rows.Scan(&rw.ID, &rw.Name, &rw.CostPoints, &discountType, &rw.DiscountValue, &rw.Active); err != nil {
				return fmt.Errorf("scan reward: %w", err)
			}
			rw.DiscountType = model.DiscountType(discountType)
			rewards = append(rewards, rw)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return rewards, nil
}

// GetRedemptionsByMember возвращает последние обмены участника, новые первыми.
// Вознаграждение присоединяется при чтении; отсутствующее заменяется заглушкой.
func (r *PostgresRepository) GetRedemptionsByMember(ctx context.Context, memberID string, limit int) ([]model.Redemption, error) {
	var redemptions []model.Redemption

	err := r.withRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx,
			`SELECT rd.id, rd.member_id, rd.reward_id, rd.discount_code, rd.status, rd.created_at,
			        rw.id, rw.name, rw.cost_points
			 FROM redemptions rd
			 LEFT JOIN rewards rw ON rw.id = rd.reward_id
			 WHERE rd.member_id = $1
			 ORDER BY rd.created_at DESC
			 LIMIT $2`,
			memberID, limit,
		)
		if err != nil {
			return fmt.Errorf("select redemptions: %w", err)
		}
		defer rows.Close()

		redemptions = redemptions[:0]
		for rows.Next() {
			var (
				rd         model.Redemption
				status     string
				rewardID   *string
				rewardName *string
				rewardCost *int64
			)
			if err := rows.Scan(
				&rd.ID, &rd.MemberID, &rd.RewardID, &rd.DiscountCode, &status, &rd.CreatedAt,
				&rewardID, &rewardName, &rewardCost,
			); err != nil {
				return fmt.Errorf("scan redemption: %w", err)
			}

			rd.Status = model.RedemptionStatus(status)

			if rewardID != nil && rewardName != nil {
				rd.Reward = model.RewardSummary{ID: *rewardID, Name: *rewardName}
				if rewardCost != nil {
					rd.Reward.CostPoints = *rewardCost
				}
			} else {
				rd.Reward = model.RewardSummary{ID: rd.RewardID, Name: fallbackRewardName}
			}

			redemptions = append(redemptions, rd)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return redemptions, nil
}
