package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointsledger/internal/model"
)

// ListPendingBets возвращает отчёты, ожидающие модерации.
func (h *Handler) ListPendingBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.service.ListPendingBets(r.Context())
	if err != nil {
		h.writeError(w, "list pending bets", err)
		return
	}
	if len(bets) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

type approveResponse struct {
	Bet     *model.Bet   `json:"bet"`
	Balance model.Points `json:"balance"`
}

// ApproveBet одобряет отчёт и начисляет баллы владельцу.
func (h *Handler) ApproveBet(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	betID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	var (
		bet     *model.Bet
		balance model.Points
	)
	err := h.withRetry(r.Context(), func() error {
		var err error
		bet, balance, err = h.service.ApproveBet(r.Context(), betID, adminID)
		return err
	})
	if err != nil {
		h.writeError(w, "approve bet", err, zap.Int64("betID", betID), zap.Int64("adminID", adminID))
		return
	}

	writeJSON(w, http.StatusOK, approveResponse{Bet: bet, Balance: balance})
}

// RejectBet удаляет отчёт, ожидающий модерации.
func (h *Handler) RejectBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	err := h.withRetry(r.Context(), func() error {
		return h.service.RejectBet(r.Context(), betID)
	})
	if err != nil {
		h.writeError(w, "reject bet", err, zap.Int64("betID", betID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createRewardRequest struct {
	Code      string       `json:"code"`
	Points    model.Points `json:"points"`
	Reason    *string      `json:"reason"`
	ExpiresAt *time.Time   `json:"expiresAt"`
}

// CreateReward создаёт код награды.
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req createRewardRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var reward *model.Reward
	err := h.withRetry(r.Context(), func() error {
		var err error
		reward, err = h.service.CreateReward(r.Context(), model.NewReward{
			Code:      req.Code,
			Points:    req.Points,
			Reason:    req.Reason,
			ExpiresAt: req.ExpiresAt,
		})
		return err
	})
	if err != nil {
		h.writeError(w, "create reward", err, zap.String("code", req.Code))
		return
	}

	writeJSON(w, http.StatusCreated, reward)
}

// ListActiveRewards возвращает неиспользованные и не истёкшие коды.
func (h *Handler) ListActiveRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ListActiveRewards(r.Context())
	if err != nil {
		h.writeError(w, "list rewards", err)
		return
	}
	if len(rewards) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rewards)
}

type adjustRequest struct {
	Delta  model.Points `json:"delta"`
	Reason string       `json:"reason"`
}

// AdjustPoints вручную меняет баланс пользователя, найденного по Telegram ID.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := pathInt64(w, r, "telegramID")
	if !ok {
		return
	}

	var req adjustRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.GetUserByTelegramID(r.Context(), telegramID)
	if err != nil {
		h.writeError(w, "adjust points", err, zap.Int64("telegramID", telegramID))
		return
	}

	var balance model.Points
	err = h.withRetry(r.Context(), func() error {
		var err error
		balance, err = h.service.AdjustBalance(r.Context(), u.ID, req.Delta, req.Reason)
		return err
	})
	if err != nil {
		h.writeError(w, "adjust points", err, zap.Int64("userID", u.ID))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{UserID: u.ID, Points: balance})
}

// ListUsers возвращает страницу пользователей.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	users, err := h.service.ListUsers(r.Context(), offset, limit)
	if err != nil {
		h.writeError(w, "list users", err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type promoteRequest struct {
	TelegramID int64 `json:"telegramId"`
}

// PromoteUser выдаёт права администратора.
func (h *Handler) PromoteUser(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.PromoteUser(r.Context(), req.TelegramID)
	if err != nil {
		h.writeError(w, "promote user", err, zap.Int64("telegramID", req.TelegramID))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// BanUser блокирует пользователя.
func (h *Handler) BanUser(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, true)
}

// UnbanUser снимает блокировку.
func (h *Handler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, false)
}

func (h *Handler) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	telegramID, ok := pathInt64(w, r, "telegramID")
	if !ok {
		return
	}

	u, err := h.service.GetUserByTelegramID(r.Context(), telegramID)
	if err != nil {
		h.writeError(w, "set banned", err, zap.Int64("telegramID", telegramID))
		return
	}

	if banned {
		err = h.service.BanUser(r.Context(), u.ID)
	} else {
		err = h.service.UnbanUser(r.Context(), u.ID)
	}
	if err != nil {
		h.writeError(w, "set banned", err, zap.Int64("userID", u.ID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSettings возвращает все системные настройки.
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.ListSettings(r.Context())
	if err != nil {
		h.writeError(w, "list settings", err)
		return
	}
	if settings == nil {
		settings = []model.Setting{}
	}
	writeJSON(w, http.StatusOK, settings)
}

type settingRequest struct {
	Value string `json:"value"`
}

// SetSetting создаёт или обновляет настройку.
func (h *Handler) SetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req settingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	setting, err := h.service.SetSetting(r.Context(), key, req.Value)
	if err != nil {
		h.writeError(w, "set setting", err, zap.String("key", key))
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// SetBotLogo сохраняет ссылку на логотип бота.
func (h *Handler) SetBotLogo(w http.ResponseWriter, r *http.Request) {
	var req logoResponse
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SetBotLogo(r.Context(), req.LogoURL); err != nil {
		h.writeError(w, "set bot logo", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type periodRequest struct {
	PeriodMinutes  *int             `json:"periodMinutes"`
	CostMultiplier *decimal.Decimal `json:"costMultiplier"`
	IsActive       *bool            `json:"isActive"`
}

// CreateAnalysisPeriod добавляет период анализа.
func (h *Handler) CreateAnalysisPeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PeriodMinutes == nil || req.CostMultiplier == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.CreateAnalysisPeriod(r.Context(), *req.PeriodMinutes, *req.CostMultiplier)
	if err != nil {
		h.writeError(w, "create analysis period", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateAnalysisPeriod изменяет переданные поля периода.
func (h *Handler) UpdateAnalysisPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	var req periodRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateAnalysisPeriod(r.Context(), id, model.AnalysisPeriodPatch{
		PeriodMinutes:  req.PeriodMinutes,
		CostMultiplier: req.CostMultiplier,
		IsActive:       req.IsActive,
	})
	if err != nil {
		h.writeError(w, "update analysis period", err, zap.Int64("periodID", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteAnalysisPeriod деактивирует период.
func (h *Handler) DeleteAnalysisPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteAnalysisPeriod(r.Context(), id); err != nil {
		h.writeError(w, "delete analysis period", err, zap.Int64("periodID", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats возвращает агрегаты журнала.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
