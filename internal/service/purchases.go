package service

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointsledger/internal/model"
	"github.com/mmeshcher/pointsledger/internal/repository"
)

// PurchaseIndividualAnalysis списывает стоимость индивидуального анализа.
func (s *Service) PurchaseIndividualAnalysis(ctx context.Context, userID int64, periodMinutes int) (model.Points, error) {
	return s.purchase(ctx, userID, periodMinutes, s.policy.IndividualAnalysisCost, model.EntryIndividualAnalysis)
}

// PurchaseGroupAnalysis списывает стоимость группового анализа.
func (s *Service) PurchaseGroupAnalysis(ctx context.Context, userID int64, periodMinutes int) (model.Points, error) {
	return s.purchase(ctx, userID, periodMinutes, s.policy.GroupAnalysisCost, model.EntryGroupAnalysis)
}

// purchase блокирует строку пользователя, проверяет баланс (если овердрафт
// запрещён) и списывает cost в одной транзакции.
func (s *Service) purchase(ctx context.Context, userID int64, periodMinutes int, cost model.Points, kind model.EntryKind) (model.Points, error) {
	if periodMinutes < 0 {
		return 0, model.Invalidf("period must not be negative")
	}

	var balance model.Points
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !s.policy.AllowOverdraft && u.Points < cost {
			return model.ErrInsufficientBalance
		}

		balance, err = s.applyDelta(ctx, tx, userID, -cost, kind, strconv.Itoa(periodMinutes))
		return err
	})
	if err != nil {
		return 0, storageErr("purchase analysis", err)
	}

	s.logger.Info("analysis purchased",
		zap.Int64("userID", userID),
		zap.String("kind", string(kind)),
		zap.Stringer("cost", cost),
		zap.Stringer("balance", balance),
	)
	return balance, nil
}
