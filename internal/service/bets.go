package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointsledger/internal/model"
	"github.com/mmeshcher/pointsledger/internal/repository"
)

// CreditPolicy вычисляет изменение баланса при одобрении отчёта.
type CreditPolicy interface {
	Delta(b model.Bet) model.Points
}

// NetOutcome начисляет выигрыш минус проигрыш.
type NetOutcome struct{}

// Delta реализует CreditPolicy.
func (NetOutcome) Delta(b model.Bet) model.Points {
	var delta model.Points
	if b.WinAmount != nil {
		delta += *b.WinAmount
	}
	if b.LossAmount != nil {
		delta -= *b.LossAmount
	}
	return delta
}

// FixedCredit начисляет фиксированную сумму за каждый одобренный отчёт.
type FixedCredit model.Points

// Delta реализует CreditPolicy.
func (f FixedCredit) Delta(model.Bet) model.Points {
	return model.Points(f)
}

// durationTolerance задаёт допустимое расхождение заявленной длительности с end-start.
const durationTolerance = time.Minute

func normalizeBet(b *model.Bet) error {
	b.Platform = strings.TrimSpace(b.Platform)
	b.Game = strings.TrimSpace(b.Game)
	b.BetType = strings.TrimSpace(b.BetType)

	switch {
	case b.UserID <= 0:
		return model.Invalidf("user id is required")
	case b.Platform == "":
		return model.Invalidf("platform is required")
	case b.Game == "":
		return model.Invalidf("game is required")
	case b.BetType == "":
		return model.Invalidf("bet type is required")
	case b.BetAmount < 0:
		return model.Invalidf("bet amount must not be negative")
	case b.WinAmount != nil && *b.WinAmount < 0:
		return model.Invalidf("win amount must not be negative")
	case b.LossAmount != nil && *b.LossAmount < 0:
		return model.Invalidf("loss amount must not be negative")
	case b.StartTime.IsZero() || b.EndTime.IsZero():
		return model.Invalidf("start and end time are required")
	case !b.StartTime.Before(b.EndTime):
		return model.Invalidf("start time must be before end time")
	}

	actual := b.EndTime.Sub(b.StartTime)
	if b.DurationSeconds != 0 {
		declared := time.Duration(b.DurationSeconds) * time.Second
		diff := declared - actual
		if diff < 0 {
			diff = -diff
		}
		if diff > durationTolerance {
			return model.Invalidf("duration %s does not match session length %s", declared, actual.Truncate(time.Second))
		}
	}
	b.DurationSeconds = int64(actual / time.Second)

	if b.ProofImage != nil {
		proof := strings.TrimSpace(*b.ProofImage)
		if proof == "" {
			b.ProofImage = nil
		} else {
			b.ProofImage = &proof
		}
	}

	return nil
}

// SubmitBet сохраняет отчёт о ставке в статусе pending. Баланс не меняется.
func (s *Service) SubmitBet(ctx context.Context, report model.Bet) (*model.Bet, error) {
	if err := normalizeBet(&report); err != nil {
		return nil, err
	}
	report.IsApproved = false
	report.ApprovedBy = nil
	report.ApprovalDate = nil

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetUserForUpdate(ctx, report.UserID); err != nil {
			return err
		}
		return tx.InsertBet(ctx, &report)
	})
	if err != nil {
		return nil, storageErr("submit bet", err)
	}

	s.logger.Info("bet report submitted",
		zap.Int64("betID", report.ID),
		zap.Int64("userID", report.UserID),
		zap.String("platform", report.Platform),
	)
	return &report, nil
}

// ListPendingBets возвращает очередь отчётов на проверку.
func (s *Service) ListPendingBets(ctx context.Context) ([]model.Bet, error) {
	bets, err := s.store.ListPendingBets(ctx)
	if err != nil {
		return nil, storageErr("list pending bets", err)
	}
	return bets, nil
}

// ApproveBet одобряет отчёт и начисляет владельцу результат ровно один раз.
// Повторное одобрение возвращает model.ErrBetNotFound и баланс не трогает.
func (s *Service) ApproveBet(ctx context.Context, betID, adminID int64) (*model.Bet, model.Points, error) {
	var (
		approved model.Bet
		balance  model.Points
	)

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		bet, err := tx.GetBetForUpdate(ctx, betID)
		if err != nil {
			return err
		}
		if bet.IsApproved {
			return model.ErrBetNotFound
		}

		delta := s.policy.Credit.Delta(*bet)
		balance, err = s.applyDelta(ctx, tx, bet.UserID, delta, model.EntryBetApproved, strconv.FormatInt(bet.ID, 10))
		if err != nil {
			return err
		}

		at := s.now()
		if err := tx.MarkBetApproved(ctx, bet.ID, adminID, at); err != nil {
			return err
		}

		approved = *bet
		approved.IsApproved = true
		approved.ApprovedBy = &adminID
		approved.ApprovalDate = &at
		return nil
	})
	if err != nil {
		return nil, 0, storageErr("approve bet", err)
	}

	s.logger.Info("bet report approved",
		zap.Int64("betID", betID),
		zap.Int64("adminID", adminID),
		zap.Int64("userID", approved.UserID),
		zap.Stringer("balance", balance),
	)
	return &approved, balance, nil
}

// RejectBet удаляет ожидающий отчёт. Одобренные отчёты неизменяемы.
func (s *Service) RejectBet(ctx context.Context, betID int64) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeletePendingBet(ctx, betID)
	})
	if err != nil {
		return storageErr("reject bet", err)
	}

	s.logger.Info("bet report rejected", zap.Int64("betID", betID))
	return nil
}
