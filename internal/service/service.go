// Package service реализует журнал баллов: одобрение отчётов о ставках,
// активацию кодов наград и покупки анализа.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointsledger/internal/model"
	"github.com/mmeshcher/pointsledger/internal/repository"
)

// Store описывает контракт хранилища, используемый сервисом.
type Store interface {
	Close() error
	WithinTx(ctx context.Context, fn repository.TxFunc) error

	CreateUser(ctx context.Context, u model.NewUser, affiliateCode string) (*model.User, bool, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]model.User, error)
	SetUserBanned(ctx context.Context, userID int64, banned bool) error
	SetUserAdmin(ctx context.Context, userID int64, admin bool) error

	ListPendingBets(ctx context.Context) ([]model.Bet, error)
	GetBetsByUser(ctx context.Context, userID int64) ([]model.Bet, error)
	ListActiveRewards(ctx context.Context, now time.Time) ([]model.Reward, error)
	GetTransactions(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)

	GetSetting(ctx context.Context, key string) (*model.Setting, error)
	UpsertSetting(ctx context.Context, key, value string) (*model.Setting, error)
	ListSettings(ctx context.Context) ([]model.Setting, error)

	ListAnalysisPeriods(ctx context.Context, activeOnly bool) ([]model.AnalysisPeriod, error)
	GetAnalysisPeriod(ctx context.Context, id int64) (*model.AnalysisPeriod, error)
	CreateAnalysisPeriod(ctx context.Context, minutes int, multiplier decimal.Decimal) (*model.AnalysisPeriod, error)
	UpdateAnalysisPeriod(ctx context.Context, id int64, patch model.AnalysisPeriodPatch) error

	Stats(ctx context.Context) (*model.Stats, error)
}

// Policy задаёт настраиваемые правила журнала.
type Policy struct {
	IndividualAnalysisCost model.Points
	GroupAnalysisCost      model.Points
	// AllowOverdraft разрешает покупкам уводить баланс ниже нуля.
	AllowOverdraft bool
	Credit         CreditPolicy
}

// DefaultPolicy возвращает правила по умолчанию: анализ за 25 и 500 баллов,
// без овердрафта, начисление по чистому результату ставки.
func DefaultPolicy() Policy {
	return Policy{
		IndividualAnalysisCost: model.PointsFromInt(25),
		GroupAnalysisCost:      model.PointsFromInt(500),
		Credit:                 NetOutcome{},
	}
}

// LogoVerifier проверяет, что ссылка на логотип действительно отдаёт изображение.
type LogoVerifier interface {
	VerifyLogo(ctx context.Context, logoURL string) error
}

// Service содержит бизнес-логику журнала баллов.
type Service struct {
	store   Store
	policy  Policy
	logger  *zap.Logger
	logos   LogoVerifier
	now     func() time.Time
	newCode func() string
}

// NewService создаёт сервис поверх указанного хранилища.
func NewService(store Store, policy Policy, logger *zap.Logger) *Service {
	if policy.Credit == nil {
		policy.Credit = NetOutcome{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
		newCode: randomCode,
	}
}

// SetLogoVerifier включает сетевую проверку ссылки на логотип.
func (s *Service) SetLogoVerifier(v LogoVerifier) {
	s.logos = v
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func randomCode() string {
	return uuid.NewString()
}

// storageErr пропускает доменные ошибки как есть, а всё остальное
// помечает как сбой хранилища.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if model.IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorage, err)
}

// applyDelta является единственным путём изменения баланса: атомарное приращение
// в хранилище и запись журнала в той же транзакции.
func (s *Service) applyDelta(ctx context.Context, tx repository.Tx, userID int64, delta model.Points, kind model.EntryKind, ref string) (model.Points, error) {
	balance, err := tx.AdjustBalance(ctx, userID, delta)
	if err != nil {
		return 0, err
	}

	entry := &model.LedgerEntry{
		UserID:       userID,
		Amount:       delta,
		Kind:         kind,
		Reference:    ref,
		BalanceAfter: balance,
	}
	if err := tx.AddLedgerEntry(ctx, entry); err != nil {
		return 0, err
	}

	return balance, nil
}

// AdjustBalance вручную изменяет баланс пользователя на delta.
func (s *Service) AdjustBalance(ctx context.Context, userID int64, delta model.Points, reason string) (model.Points, error) {
	if delta == 0 {
		return 0, model.Invalidf("delta must be non-zero")
	}

	var balance model.Points
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		balance, err = s.applyDelta(ctx, tx, userID, delta, model.EntryAdjustment, reason)
		return err
	})
	if err != nil {
		return 0, storageErr("adjust balance", err)
	}

	s.logger.Info("balance adjusted",
		zap.Int64("userID", userID),
		zap.Stringer("delta", delta),
		zap.Stringer("balance", balance),
	)
	return balance, nil
}

// GetBalance возвращает текущий баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (model.Points, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, storageErr("get balance", err)
	}
	return u.Points, nil
}

// GetHistory возвращает отчёты о ставках пользователя, новые первыми.
func (s *Service) GetHistory(ctx context.Context, userID int64) ([]model.Bet, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, storageErr("get history", err)
	}
	bets, err := s.store.GetBetsByUser(ctx, userID)
	if err != nil {
		return nil, storageErr("get history", err)
	}
	return bets, nil
}

const maxTransactionsLimit = 100

// GetTransactions возвращает последние записи журнала баллов пользователя.
func (s *Service) GetTransactions(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > maxTransactionsLimit {
		limit = maxTransactionsLimit
	}
	entries, err := s.store.GetTransactions(ctx, userID, limit)
	if err != nil {
		return nil, storageErr("get transactions", err)
	}
	return entries, nil
}
