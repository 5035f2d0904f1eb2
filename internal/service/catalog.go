package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pointsledger/internal/model"
	"github.com/mmeshcher/pointsledger/internal/validation"
)

// BotLogoKey хранит ссылку на логотип бота среди настроек.
const BotLogoKey = "bot_logo_url"

var maxCostMultiplier = decimal.NewFromInt(1000)

// GetSetting возвращает значение настройки.
func (s *Service) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	setting, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return nil, storageErr("get setting", err)
	}
	return setting, nil
}

// SetSetting создаёт или обновляет настройку.
func (s *Service) SetSetting(ctx context.Context, key, value string) (*model.Setting, error) {
	if !validation.IsValidSettingKey(key) {
		return nil, model.Invalidf("setting key %q is malformed", key)
	}
	if key == BotLogoKey {
		var err error
		if value, err = s.checkLogo(ctx, value); err != nil {
			return nil, err
		}
	}
	setting, err := s.store.UpsertSetting(ctx, key, value)
	if err != nil {
		return nil, storageErr("set setting", err)
	}
	return setting, nil
}

// ListSettings возвращает все настройки.
func (s *Service) ListSettings(ctx context.Context) ([]model.Setting, error) {
	settings, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, storageErr("list settings", err)
	}
	return settings, nil
}

// GetBotLogo возвращает ссылку на логотип или пустую строку, если она не задана.
func (s *Service) GetBotLogo(ctx context.Context) (string, error) {
	setting, err := s.store.GetSetting(ctx, BotLogoKey)
	if err != nil {
		if errors.Is(err, model.ErrSettingMissing) {
			return "", nil
		}
		return "", storageErr("get bot logo", err)
	}
	return setting.Value, nil
}

// SetBotLogo сохраняет ссылку на логотип бота.
func (s *Service) SetBotLogo(ctx context.Context, logoURL string) error {
	_, err := s.SetSetting(ctx, BotLogoKey, logoURL)
	return err
}

// checkLogo нормализует ссылку на логотип и проверяет её, в том числе сетевым
// запросом, если задан LogoVerifier.
func (s *Service) checkLogo(ctx context.Context, logoURL string) (string, error) {
	logoURL = strings.TrimSpace(logoURL)
	if !validation.IsValidURL(logoURL) {
		return "", model.Invalidf("logo url must be an absolute http(s) url")
	}
	if s.logos != nil {
		if err := s.logos.VerifyLogo(ctx, logoURL); err != nil {
			return "", err
		}
	}
	return logoURL, nil
}

func validatePeriod(minutes *int, multiplier *decimal.Decimal) error {
	if minutes != nil && *minutes <= 0 {
		return model.Invalidf("period minutes must be positive")
	}
	if multiplier != nil {
		if !multiplier.IsPositive() || multiplier.GreaterThanOrEqual(maxCostMultiplier) {
			return model.Invalidf("cost multiplier must be in (0, %s)", maxCostMultiplier)
		}
		if !multiplier.Round(2).Equal(*multiplier) {
			return model.Invalidf("cost multiplier allows at most two decimal places")
		}
	}
	return nil
}

// ListAnalysisPeriods возвращает активные периоды анализа.
func (s *Service) ListAnalysisPeriods(ctx context.Context) ([]model.AnalysisPeriod, error) {
	periods, err := s.store.ListAnalysisPeriods(ctx, true)
	if err != nil {
		return nil, storageErr("list analysis periods", err)
	}
	return periods, nil
}

// CreateAnalysisPeriod добавляет период анализа.
func (s *Service) CreateAnalysisPeriod(ctx context.Context, minutes int, multiplier decimal.Decimal) (*model.AnalysisPeriod, error) {
	if err := validatePeriod(&minutes, &multiplier); err != nil {
		return nil, err
	}
	p, err := s.store.CreateAnalysisPeriod(ctx, minutes, multiplier)
	if err != nil {
		return nil, storageErr("create analysis period", err)
	}
	return p, nil
}

// UpdateAnalysisPeriod изменяет переданные поля периода.
func (s *Service) UpdateAnalysisPeriod(ctx context.Context, id int64, patch model.AnalysisPeriodPatch) (*model.AnalysisPeriod, error) {
	if err := validatePeriod(patch.PeriodMinutes, patch.CostMultiplier); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAnalysisPeriod(ctx, id, patch); err != nil {
		return nil, storageErr("update analysis period", err)
	}
	p, err := s.store.GetAnalysisPeriod(ctx, id)
	if err != nil {
		return nil, storageErr("update analysis period", err)
	}
	return p, nil
}

// DeleteAnalysisPeriod деактивирует период, сохраняя его для истории.
func (s *Service) DeleteAnalysisPeriod(ctx context.Context, id int64) error {
	inactive := false
	if err := s.store.UpdateAnalysisPeriod(ctx, id, model.AnalysisPeriodPatch{IsActive: &inactive}); err != nil {
		return storageErr("delete analysis period", err)
	}
	return nil
}
