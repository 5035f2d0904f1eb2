// Package handler содержит HTTP-обработчики API журнала баллов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointsledger/internal/middleware"
	"github.com/mmeshcher/pointsledger/internal/model"
	"github.com/mmeshcher/pointsledger/internal/repository"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, in model.NewUser) (*model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]model.User, error)
	BanUser(ctx context.Context, userID int64) error
	UnbanUser(ctx context.Context, userID int64) error
	PromoteUser(ctx context.Context, telegramID int64) (*model.User, error)
	Stats(ctx context.Context) (*model.Stats, error)

	GetBalance(ctx context.Context, userID int64) (model.Points, error)
	GetHistory(ctx context.Context, userID int64) ([]model.Bet, error)
	GetTransactions(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)
	AdjustBalance(ctx context.Context, userID int64, delta model.Points, reason string) (model.Points, error)

	SubmitBet(ctx context.Context, report model.Bet) (*model.Bet, error)
	ListPendingBets(ctx context.Context) ([]model.Bet, error)
	ApproveBet(ctx context.Context, betID, adminID int64) (*model.Bet, model.Points, error)
	RejectBet(ctx context.Context, betID int64) error

	CreateReward(ctx context.Context, in model.NewReward) (*model.Reward, error)
	RedeemReward(ctx context.Context, code string, userID int64) (bool, model.Points, error)
	ListActiveRewards(ctx context.Context) ([]model.Reward, error)

	PurchaseIndividualAnalysis(ctx context.Context, userID int64, periodMinutes int) (model.Points, error)
	PurchaseGroupAnalysis(ctx context.Context, userID int64, periodMinutes int) (model.Points, error)

	ListSettings(ctx context.Context) ([]model.Setting, error)
	SetSetting(ctx context.Context, key, value string) (*model.Setting, error)
	GetBotLogo(ctx context.Context) (string, error)
	SetBotLogo(ctx context.Context, logoURL string) error

	ListAnalysisPeriods(ctx context.Context) ([]model.AnalysisPeriod, error)
	CreateAnalysisPeriod(ctx context.Context, minutes int, multiplier decimal.Decimal) (*model.AnalysisPeriod, error)
	UpdateAnalysisPeriod(ctx context.Context, id int64, patch model.AnalysisPeriodPatch) (*model.AnalysisPeriod, error)
	DeleteAnalysisPeriod(ctx context.Context, id int64) error
}

// Handler реализует HTTP-обработчики API журнала баллов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware

	isTransient func(error) bool
	retryDelays []time.Duration
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		isTransient:    repository.IsTransient,
		retryDelays:    []time.Duration{50 * time.Millisecond, 200 * time.Millisecond},
	}
}

// withRetry повторяет fn при временных сбоях хранилища: не больше трёх попыток всего.
func (h *Handler) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(h.retryDelays); i++ {
		err = fn()
		if err == nil || !h.isTransient(err) || i == len(h.retryDelays) {
			return err
		}

		h.logger.Warn("transient storage failure, retrying", zap.Error(err), zap.Int("attempt", i+1))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(h.retryDelays[i]):
		}
	}
	return err
}

// writeError переводит доменную ошибку в HTTP-статус. Всё, что не распознано,
// логируется и отдаётся как 500.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	var code int
	switch {
	case errors.Is(err, model.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, model.ErrInsufficientBalance):
		code = http.StatusPaymentRequired
	default:
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		code = http.StatusInternalServerError
	}
	http.Error(w, http.StatusText(code), code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func currentUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}
	return id.UserID, true
}

// requireUser пропускает запрос, только если пользователь из токена существует
// и не заблокирован. С admin = true дополнительно требует is_admin.
func (h *Handler) requireUser(admin bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := currentUserID(w, r)
			if !ok {
				return
			}

			u, err := h.service.GetUser(r.Context(), userID)
			if err != nil {
				if errors.Is(err, model.ErrNotFound) {
					http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
					return
				}
				h.logger.Error("load current user error", zap.Error(err), zap.Int64("userID", userID))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if u.IsBanned || (admin && !u.IsAdmin) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type registerRequest struct {
	TelegramID int64   `json:"telegramId"`
	Username   *string `json:"username"`
	FirstName  string  `json:"firstName"`
	LastName   *string `json:"lastName"`
	ReferredBy *int64  `json:"referredBy"`
}

type registerResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// Register регистрирует пользователя по Telegram ID и выдаёт токен доступа.
// Повторный вызов возвращает существующего пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var u *model.User
	err := h.withRetry(r.Context(), func() error {
		var err error
		u, err = h.service.RegisterUser(r.Context(), model.NewUser{
			TelegramID: req.TelegramID,
			Username:   req.Username,
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			ReferredBy: req.ReferredBy,
		})
		return err
	})
	if err != nil {
		h.writeError(w, "register user", err, zap.Int64("telegramID", req.TelegramID))
		return
	}

	token, err := h.authMiddleware.IssueToken(middleware.Identity{UserID: u.ID, TelegramID: u.TelegramID})
	if err != nil {
		h.writeError(w, "issue token", err, zap.Int64("userID", u.ID))
		return
	}

	h.authMiddleware.SetAuthCookie(w, token)
	writeJSON(w, http.StatusOK, registerResponse{User: u, Token: token})
}

type balanceResponse struct {
	UserID int64        `json:"userId"`
	Points model.Points `json:"points"`
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get balance", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, Points: balance})
}

// GetHistory возвращает отчёты о ставках текущего пользователя.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	bets, err := h.service.GetHistory(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get history", err, zap.Int64("userID", userID))
		return
	}

	if len(bets) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetTransactions возвращает последние записи журнала баллов текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.GetTransactions(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, "get transactions", err, zap.Int64("userID", userID))
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type betRequest struct {
	Platform        string        `json:"platform"`
	Game            string        `json:"game"`
	BetAmount       model.Points  `json:"betAmount"`
	WinAmount       *model.Points `json:"winAmount"`
	LossAmount      *model.Points `json:"lossAmount"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	DurationSeconds int64         `json:"durationSeconds"`
	ProofImage      *string       `json:"proofImage"`
	BetType         string        `json:"betType"`
}

// SubmitBet принимает отчёт о ставке на модерацию.
func (h *Handler) SubmitBet(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req betRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var bet *model.Bet
	err := h.withRetry(r.Context(), func() error {
		var err error
		bet, err = h.service.SubmitBet(r.Context(), model.Bet{
			UserID:          userID,
			Platform:        req.Platform,
			Game:            req.Game,
			BetAmount:       req.BetAmount,
			WinAmount:       req.WinAmount,
			LossAmount:      req.LossAmount,
			StartTime:       req.StartTime,
			EndTime:         req.EndTime,
			DurationSeconds: req.DurationSeconds,
			ProofImage:      req.ProofImage,
			BetType:         req.BetType,
		})
		return err
	})
	if err != nil {
		h.writeError(w, "submit bet", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusCreated, bet)
}

type redeemRequest struct {
	Code string `json:"code"`
}

type redeemResponse struct {
	Success bool          `json:"success"`
	Points  *model.Points `json:"points,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// RedeemReward активирует код награды. Штатный отказ отдаётся как 200 с success = false.
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		redeemed bool
		balance  model.Points
	)
	err := h.withRetry(r.Context(), func() error {
		var err error
		redeemed, balance, err = h.service.RedeemReward(r.Context(), req.Code, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrRedemption) {
			writeJSON(w, http.StatusOK, redeemResponse{Success: false, Reason: redemptionReason(err)})
			return
		}
		h.writeError(w, "redeem reward", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, redeemResponse{Success: redeemed, Points: &balance})
}

func redemptionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrCodeUsed):
		return "used"
	case errors.Is(err, model.ErrCodeExpired):
		return "expired"
	default:
		return "unknown"
	}
}

type analyzeRequest struct {
	Period int `json:"period"`
}

type analyzeResponse struct {
	Success bool         `json:"success"`
	Points  model.Points `json:"points"`
}

// AnalyzeIndividual покупает индивидуальный анализ.
func (h *Handler) AnalyzeIndividual(w http.ResponseWriter, r *http.Request) {
	h.analyze(w, r, "purchase individual analysis", h.service.PurchaseIndividualAnalysis)
}

// AnalyzeGroup покупает групповой анализ.
func (h *Handler) AnalyzeGroup(w http.ResponseWriter, r *http.Request) {
	h.analyze(w, r, "purchase group analysis", h.service.PurchaseGroupAnalysis)
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request, op string,
	purchase func(ctx context.Context, userID int64, periodMinutes int) (model.Points, error),
) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var balance model.Points
	err := h.withRetry(r.Context(), func() error {
		var err error
		balance, err = purchase(r.Context(), userID, req.Period)
		return err
	})
	if err != nil {
		h.writeError(w, op, err, zap.Int64("userID", userID), zap.Int("period", req.Period))
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{Success: true, Points: balance})
}

// ListAnalysisPeriods возвращает активные периоды анализа.
func (h *Handler) ListAnalysisPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.service.ListAnalysisPeriods(r.Context())
	if err != nil {
		h.writeError(w, "list analysis periods", err)
		return
	}
	if periods == nil {
		periods = []model.AnalysisPeriod{}
	}
	writeJSON(w, http.StatusOK, periods)
}

type logoResponse struct {
	LogoURL string `json:"logoUrl"`
}

// GetBotLogo возвращает ссылку на логотип бота.
func (h *Handler) GetBotLogo(w http.ResponseWriter, r *http.Request) {
	logo, err := h.service.GetBotLogo(r.Context())
	if err != nil {
		h.writeError(w, "get bot logo", err)
		return
	}
	writeJSON(w, http.StatusOK, logoResponse{LogoURL: logo})
}
