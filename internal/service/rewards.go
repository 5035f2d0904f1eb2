package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointsledger/internal/model"
	"github.com/mmeshcher/pointsledger/internal/repository"
	"github.com/mmeshcher/pointsledger/internal/validation"
)

// CreateReward создаёт неиспользованный код награды. Пустой код генерируется.
func (s *Service) CreateReward(ctx context.Context, in model.NewReward) (*model.Reward, error) {
	if in.Points <= 0 {
		return nil, model.Invalidf("reward points must be positive")
	}

	code := in.Code
	if strings.TrimSpace(code) == "" {
		code = validation.CodeFromUUID(s.newCode())
	}
	code, ok := validation.NormalizeRewardCode(code)
	if !ok {
		return nil, model.Invalidf("reward code %q is malformed", in.Code)
	}

	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, model.Invalidf("expiry must be in the future")
	}

	reward := &model.Reward{
		Code:      code,
		Points:    in.Points,
		Reason:    in.Reason,
		ExpiresAt: in.ExpiresAt,
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertReward(ctx, reward)
	})
	if err != nil {
		return nil, storageErr("create reward", err)
	}

	s.logger.Info("reward code created",
		zap.String("code", reward.Code),
		zap.Stringer("points", reward.Points),
	)
	return reward, nil
}

// RedeemReward активирует код для пользователя. Штатные отказы (код неизвестен,
// уже использован, истёк) возвращают false и ошибку, оборачивающую model.ErrRedemption.
// Отметка об использовании, привязка владельца и начисление выполняются атомарно.
func (s *Service) RedeemReward(ctx context.Context, code string, userID int64) (bool, model.Points, error) {
	normalized, ok := validation.NormalizeRewardCode(code)
	if !ok {
		return false, 0, model.ErrCodeUnknown
	}

	var balance model.Points
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetUserForUpdate(ctx, userID); err != nil {
			return err
		}

		reward, err := tx.GetRewardForUpdate(ctx, normalized)
		if err != nil {
			return err
		}
		switch {
		case reward.IsUsed:
			return model.ErrCodeUsed
		case reward.Expired(s.now()):
			return model.ErrCodeExpired
		}

		if err := tx.MarkRewardUsed(ctx, reward.ID, userID); err != nil {
			return err
		}

		balance, err = s.applyDelta(ctx, tx, userID, reward.Points, model.EntryRewardRedeemed, reward.Code)
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrRedemption) {
			s.logger.Debug("reward redemption rejected",
				zap.String("code", normalized),
				zap.Int64("userID", userID),
				zap.Error(err),
			)
		}
		return false, 0, storageErr("redeem reward", err)
	}

	s.logger.Info("reward code redeemed",
		zap.String("code", normalized),
		zap.Int64("userID", userID),
		zap.Stringer("balance", balance),
	)
	return true, balance, nil
}

// ListActiveRewards возвращает неиспользованные и не истёкшие коды.
func (s *Service) ListActiveRewards(ctx context.Context) ([]model.Reward, error) {
	rewards, err := s.store.ListActiveRewards(ctx, s.now())
	if err != nil {
		return nil, storageErr("list active rewards", err)
	}
	return rewards, nil
}
