package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pointsledger/internal/model"
)

func TestSettings(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	_, err := svc.GetSetting(ctx, "welcome_text")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = svc.SetSetting(ctx, "welcome_text", "hello")
	require.NoError(t, err)
	updated, err := svc.SetSetting(ctx, "welcome_text", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "hi there", updated.Value)

	got, err := svc.GetSetting(ctx, "welcome_text")
	require.NoError(t, err)
	assert.Equal(t, "hi there", got.Value)

	_, err = svc.SetSetting(ctx, "Bad Key", "x")
	assert.True(t, errors.Is(err, model.ErrValidation))

	all, err := svc.ListSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBotLogo(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	logo, err := svc.GetBotLogo(ctx)
	require.NoError(t, err)
	assert.Empty(t, logo)

	assert.True(t, errors.Is(svc.SetBotLogo(ctx, "not a url"), model.ErrValidation))
	assert.True(t, errors.Is(svc.SetBotLogo(ctx, "ftp://cdn.example.com/logo.png"), model.ErrValidation))

	require.NoError(t, svc.SetBotLogo(ctx, " https://cdn.example.com/logo.png "))
	logo, err = svc.GetBotLogo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/logo.png", logo)
}

func TestAnalysisPeriods(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	hour, err := svc.CreateAnalysisPeriod(ctx, 60, decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.True(t, hour.IsActive)

	day, err := svc.CreateAnalysisPeriod(ctx, 1440, decimal.NewFromInt(3))
	require.NoError(t, err)

	tests := []struct {
		name       string
		minutes    int
		multiplier string
	}{
		{name: "zero minutes", minutes: 0, multiplier: "1"},
		{name: "zero multiplier", minutes: 10, multiplier: "0"},
		{name: "negative multiplier", minutes: 10, multiplier: "-2"},
		{name: "too precise", minutes: 10, multiplier: "1.005"},
		{name: "too large", minutes: 10, multiplier: "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateAnalysisPeriod(ctx, tt.minutes, decimal.RequireFromString(tt.multiplier))
			assert.True(t, errors.Is(err, model.ErrValidation), "got %v", err)
		})
	}

	multiplier := decimal.RequireFromString("2.25")
	patched, err := svc.UpdateAnalysisPeriod(ctx, hour.ID, model.AnalysisPeriodPatch{CostMultiplier: &multiplier})
	require.NoError(t, err)
	assert.Equal(t, 60, patched.PeriodMinutes)
	assert.True(t, patched.CostMultiplier.Equal(multiplier))

	_, err = svc.UpdateAnalysisPeriod(ctx, 999, model.AnalysisPeriodPatch{CostMultiplier: &multiplier})
	assert.True(t, errors.Is(err, model.ErrNotFound))

	require.NoError(t, svc.DeleteAnalysisPeriod(ctx, day.ID))

	active, err := svc.ListAnalysisPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, hour.ID, active[0].ID)
}

func TestRegisterUser(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	username := "trader"
	u, err := svc.RegisterUser(ctx, model.NewUser{TelegramID: 42, FirstName: " Ann ", Username: &username})
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.FirstName)
	assert.Len(t, u.AffiliateCode, 12)
	assert.Equal(t, model.Points(0), u.Points)

	again, err := svc.RegisterUser(ctx, model.NewUser{TelegramID: 42, FirstName: "Other"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "Ann", again.FirstName)

	self := int64(77)
	_, err = svc.RegisterUser(ctx, model.NewUser{TelegramID: 77, FirstName: "Loop", ReferredBy: &self})
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = svc.RegisterUser(ctx, model.NewUser{TelegramID: 0, FirstName: "Nobody"})
	assert.True(t, errors.Is(err, model.ErrValidation))

	byTelegram, err := svc.GetUserByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byTelegram.ID)
}

func TestAdminUserManagement(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	alice := newUser(t, svc, 1001, model.PointsFromInt(40))
	newUser(t, svc, 1002, model.PointsFromInt(2))

	promoted, err := svc.PromoteUser(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, promoted.IsAdmin)

	_, err = svc.PromoteUser(ctx, 5555)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	require.NoError(t, svc.BanUser(ctx, alice.ID))
	got, err := svc.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBanned)
	assert.True(t, got.IsAdmin)

	require.NoError(t, svc.UnbanUser(ctx, alice.ID))
	got, err = svc.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBanned)

	assert.True(t, errors.Is(svc.BanUser(ctx, 404), model.ErrNotFound))

	users, err := svc.ListUsers(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = svc.ListUsers(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(0), stats.PendingBets)
	assert.Equal(t, model.PointsFromInt(42), stats.TotalPoints)
}

func TestGetHistory_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())

	_, err := svc.GetHistory(context.Background(), 404)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = svc.GetBalance(context.Background(), 404)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

type logoVerifierFunc func(ctx context.Context, logoURL string) error

func (f logoVerifierFunc) VerifyLogo(ctx context.Context, logoURL string) error {
	return f(ctx, logoURL)
}

func TestBotLogo_Verified(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	var checked string
	svc.SetLogoVerifier(logoVerifierFunc(func(_ context.Context, logoURL string) error {
		checked = logoURL
		if logoURL == "https://cdn.example.com/page.html" {
			return model.Invalidf("not an image")
		}
		return nil
	}))

	err := svc.SetBotLogo(ctx, "https://cdn.example.com/page.html")
	assert.True(t, errors.Is(err, model.ErrValidation))

	logo, err := svc.GetBotLogo(ctx)
	require.NoError(t, err)
	assert.Empty(t, logo)

	require.NoError(t, svc.SetBotLogo(ctx, "https://cdn.example.com/logo.png"))
	assert.Equal(t, "https://cdn.example.com/logo.png", checked)
}

func TestSetSetting_BotLogoKeyChecked(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	var verified []string
	svc.SetLogoVerifier(logoVerifierFunc(func(_ context.Context, logoURL string) error {
		verified = append(verified, logoURL)
		return nil
	}))

	for _, value := range []string{"javascript:alert(1)", "", "//cdn.example.com/logo.png"} {
		_, err := svc.SetSetting(ctx, BotLogoKey, value)
		assert.True(t, errors.Is(err, model.ErrValidation), "value %q: got %v", value, err)
	}
	assert.Empty(t, verified)

	logo, err := svc.GetBotLogo(ctx)
	require.NoError(t, err)
	assert.Empty(t, logo)

	setting, err := svc.SetSetting(ctx, BotLogoKey, " https://cdn.example.com/logo.png ")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/logo.png", setting.Value)
	assert.Equal(t, []string{"https://cdn.example.com/logo.png"}, verified)

	_, err = svc.SetSetting(ctx, "welcome_text", "javascript is fine here")
	require.NoError(t, err)
}
