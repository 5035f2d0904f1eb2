package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointsledger/internal/model"
	"github.com/mmeshcher/pointsledger/internal/validation"
)

const maxUsersPage = 200

// RegisterUser регистрирует пользователя по Telegram ID. Повторная регистрация
// возвращает существующего пользователя без изменений.
func (s *Service) RegisterUser(ctx context.Context, in model.NewUser) (*model.User, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	switch {
	case in.TelegramID <= 0:
		return nil, model.Invalidf("telegram id is required")
	case in.FirstName == "":
		return nil, model.Invalidf("first name is required")
	case in.ReferredBy != nil && *in.ReferredBy == in.TelegramID:
		return nil, model.Invalidf("user cannot refer themselves")
	}

	u, created, err := s.store.CreateUser(ctx, in, validation.CodeFromUUID(s.newCode()))
	if err != nil {
		return nil, storageErr("register user", err)
	}

	if created {
		s.logger.Info("user registered", zap.Int64("userID", u.ID), zap.Int64("telegramID", u.TelegramID))
	}
	return u, nil
}

// GetUser возвращает пользователя по внутреннему идентификатору.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return u, nil
}

// GetUserByTelegramID возвращает пользователя по Telegram ID.
func (s *Service) GetUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	u, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, storageErr("get user by telegram id", err)
	}
	return u, nil
}

// ListUsers возвращает страницу пользователей.
func (s *Service) ListUsers(ctx context.Context, offset, limit int) ([]model.User, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxUsersPage {
		limit = 50
	}
	users, err := s.store.ListUsers(ctx, offset, limit)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}

// BanUser блокирует пользователя.
func (s *Service) BanUser(ctx context.Context, userID int64) error {
	if err := s.store.SetUserBanned(ctx, userID, true); err != nil {
		return storageErr("ban user", err)
	}
	s.logger.Info("user banned", zap.Int64("userID", userID))
	return nil
}

// UnbanUser снимает блокировку.
func (s *Service) UnbanUser(ctx context.Context, userID int64) error {
	if err := s.store.SetUserBanned(ctx, userID, false); err != nil {
		return storageErr("unban user", err)
	}
	s.logger.Info("user unbanned", zap.Int64("userID", userID))
	return nil
}

// PromoteUser выдаёт пользователю права администратора.
func (s *Service) PromoteUser(ctx context.Context, telegramID int64) (*model.User, error) {
	u, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, storageErr("promote user", err)
	}
	if err := s.store.SetUserAdmin(ctx, u.ID, true); err != nil {
		return nil, storageErr("promote user", err)
	}
	u.IsAdmin = true

	s.logger.Info("user promoted to admin", zap.Int64("userID", u.ID))
	return u, nil
}

// Stats возвращает агрегаты журнала.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	return st, nil
}
