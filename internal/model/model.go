// Package model содержит доменные сущности сервиса лояльности.
package model

import "time"

// Member представляет участника программы лояльности, связанного 1:1 с учётной записью.
type Member struct {
	ID        string
	Email     string
	UserID    string
	CreatedAt time.Time
}

// Balance содержит баланс баллов участника.
// Авторитетное значение живёт на стороне хранилища, здесь — снимок на момент чтения.
type Balance struct {
	MemberID string
	Points   int64
}

// LedgerEntry описывает одно изменение баланса в журнале начислений.
type LedgerEntry struct {
	ID          string
	MemberID    string
	DeltaPoints int64
	Reason      string
	CreatedAt   time.Time
}

// DiscountType описывает тип скидки вознаграждения.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed_amount"
)

// Reward описывает вознаграждение из каталога, доступное за баллы.
type Reward struct {
	ID            string
	Name          string
	CostPoints    int64
	DiscountType  DiscountType
	DiscountValue float64
	Active        bool
}

// RedemptionStatus описывает статус выданного кода скидки.
type RedemptionStatus string

const (
	RedemptionActive  RedemptionStatus = "active"
	RedemptionUsed    RedemptionStatus = "used"
	RedemptionExpired RedemptionStatus = "expired"
)

// RewardSummary содержит сведения о вознаграждении, присоединённые к обмену при чтении.
type RewardSummary struct {
	ID         string
	Name       string
	CostPoints int64
}

// Redemption описывает совершённый обмен баллов на вознаграждение.
type Redemption struct {
	ID           string
	MemberID     string
	RewardID     string
	DiscountCode string
	Status       RedemptionStatus
	CreatedAt    time.Time
	Reward       RewardSummary
}

// Dashboard агрегирует данные участника для главного экрана.
type Dashboard struct {
	Member      Member
	Points      int64
	History     []LedgerEntry
	Redemptions []Redemption
}
