package model

import (
	"errors"
	"fmt"
)

// Базовые категории ошибок. Конкретные ошибки оборачивают одну из них,
// поэтому вызывающая сторона проверяет категорию через errors.Is.
var (
	// ErrValidation: некорректные входные данные.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound: запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrConflict: нарушение уникальности.
	ErrConflict = errors.New("conflict")
	// ErrRedemption: штатный отказ в активации кода награды.
	ErrRedemption = errors.New("redemption rejected")
	// ErrInsufficientBalance возвращается при покупке без достаточного баланса.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrStorage: сбой хранилища или транзакции.
	ErrStorage = errors.New("storage failure")
)

var (
	ErrUserNotFound   = fmt.Errorf("user %w", ErrNotFound)
	ErrBetNotFound    = fmt.Errorf("pending bet report %w", ErrNotFound)
	ErrPeriodNotFound = fmt.Errorf("analysis period %w", ErrNotFound)
	ErrSettingMissing = fmt.Errorf("setting %w", ErrNotFound)

	ErrRewardCodeExists = fmt.Errorf("reward code already exists: %w", ErrConflict)

	ErrCodeUnknown = fmt.Errorf("%w: unknown code", ErrRedemption)
	ErrCodeUsed    = fmt.Errorf("%w: code already used", ErrRedemption)
	ErrCodeExpired = fmt.Errorf("%w: code expired", ErrRedemption)
)

// Invalidf создаёт ошибку валидации с пояснением.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsDomainError сообщает, относится ли ошибка к бизнес-правилам, а не к сбою инфраструктуры.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrRedemption) ||
		errors.Is(err, ErrInsufficientBalance)
}
