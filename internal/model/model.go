// Package model содержит доменные сущности сервиса учёта баллов.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// User представляет пользователя бота, идентифицируемого по Telegram ID.
type User struct {
	ID              int64      `json:"id"`
	TelegramID      int64      `json:"telegramId"`
	Username        *string    `json:"username,omitempty"`
	FirstName       string     `json:"firstName"`
	LastName        *string    `json:"lastName,omitempty"`
	Points          Points     `json:"points"`
	AffiliateCode   string     `json:"affiliateCode"`
	ReferredBy      *int64     `json:"referredBy,omitempty"`
	IsBanned        bool       `json:"isBanned"`
	IsAdmin         bool       `json:"isAdmin"`
	LastInteraction *time.Time `json:"lastInteraction,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// NewUser содержит данные для регистрации пользователя.
type NewUser struct {
	TelegramID int64
	Username   *string
	FirstName  string
	LastName   *string
	ReferredBy *int64
}

// BetStatus описывает состояние отчёта о ставке.
type BetStatus string

const (
	BetStatusPending  BetStatus = "pending"
	BetStatusApproved BetStatus = "approved"
)

// Bet описывает отчёт пользователя об игровой сессии.
type Bet struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"userId"`
	Platform        string     `json:"platform"`
	Game            string     `json:"game"`
	BetAmount       Points     `json:"betAmount"`
	WinAmount       *Points    `json:"winAmount,omitempty"`
	LossAmount      *Points    `json:"lossAmount,omitempty"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         time.Time  `json:"endTime"`
	DurationSeconds int64      `json:"durationSeconds"`
	ProofImage      *string    `json:"proofImage,omitempty"`
	BetType         string     `json:"betType"`
	IsApproved      bool       `json:"isApproved"`
	ApprovedBy      *int64     `json:"approvedBy,omitempty"`
	ApprovalDate    *time.Time `json:"approvalDate,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Status возвращает текущее состояние отчёта.
func (b Bet) Status() BetStatus {
	if b.IsApproved {
		return BetStatusApproved
	}
	return BetStatusPending
}

// MarshalJSON добавляет к отчёту вычисляемое поле status.
func (b Bet) MarshalJSON() ([]byte, error) {
	type plain Bet
	return json.Marshal(struct {
		plain
		Status BetStatus `json:"status"`
	}{plain: plain(b), Status: b.Status()})
}

// Reward описывает одноразовый код начисления баллов.
type Reward struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	Points    Points     `json:"points"`
	UserID    *int64     `json:"userId,omitempty"`
	IsUsed    bool       `json:"isUsed"`
	Reason    *string    `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Expired сообщает, истёк ли срок действия кода к моменту now.
func (r Reward) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// NewReward содержит параметры создания кода награды.
type NewReward struct {
	Code      string
	Points    Points
	Reason    *string
	ExpiresAt *time.Time
}

// Setting описывает системную настройку ключ-значение.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AnalysisPeriod описывает доступный для выбора период анализа.
type AnalysisPeriod struct {
	ID             int64           `json:"id"`
	PeriodMinutes  int             `json:"periodMinutes"`
	CostMultiplier decimal.Decimal `json:"costMultiplier"`
	IsActive       bool            `json:"isActive"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// AnalysisPeriodPatch содержит изменяемые поля периода анализа.
type AnalysisPeriodPatch struct {
	PeriodMinutes  *int
	CostMultiplier *decimal.Decimal
	IsActive       *bool
}

// EntryKind задаёт тип операции в журнале баллов.
type EntryKind string

const (
	EntryBetApproved        EntryKind = "bet_approved"
	EntryRewardRedeemed     EntryKind = "reward_redeemed"
	EntryIndividualAnalysis EntryKind = "analysis_individual"
	EntryGroupAnalysis      EntryKind = "analysis_group"
	EntryAdjustment         EntryKind = "adjustment"
)

// LedgerEntry описывает запись журнала об изменении баланса.
type LedgerEntry struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	Amount       Points    `json:"amount"`
	Kind         EntryKind `json:"kind"`
	Reference    string    `json:"reference"`
	BalanceAfter Points    `json:"balanceAfter"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Stats содержит агрегаты, которые отдаёт журнал.
type Stats struct {
	TotalUsers  int64  `json:"totalUsers"`
	PendingBets int64  `json:"pendingBets"`
	TotalPoints Points `json:"totalPoints"`
}
