package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/pointsledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware журнала баллов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(h.requireUser(false))

			r.Get("/user/balance", h.GetBalance)
			r.Get("/user/history", h.GetHistory)
			r.Get("/user/transactions", h.GetTransactions)

			r.Post("/bets", h.SubmitBet)
			r.Post("/rewards/redeem", h.RedeemReward)

			r.Post("/analyze", h.AnalyzeIndividual)
			r.Post("/analyze_all", h.AnalyzeGroup)
			r.Get("/analysis-periods", h.ListAnalysisPeriods)

			r.Get("/bot/logo", h.GetBotLogo)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(h.requireUser(true))

			r.Post("/bot/logo", h.SetBotLogo)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/bets/pending", h.ListPendingBets)
				r.Post("/bets/{id}/approve", h.ApproveBet)
				r.Post("/bets/{id}/reject", h.RejectBet)

				r.Post("/rewards", h.CreateReward)
				r.Get("/rewards", h.ListActiveRewards)

				r.Get("/users", h.ListUsers)
				r.Post("/users/promote", h.PromoteUser)
				r.Post("/users/{telegramID}/points", h.AdjustPoints)
				r.Post("/users/{telegramID}/ban", h.BanUser)
				r.Post("/users/{telegramID}/unban", h.UnbanUser)

				r.Get("/settings", h.ListSettings)
				r.Put("/settings/{key}", h.SetSetting)

				r.Post("/analysis-periods", h.CreateAnalysisPeriod)
				r.Put("/analysis-periods/{id}", h.UpdateAnalysisPeriod)
				r.Delete("/analysis-periods/{id}", h.DeleteAnalysisPeriod)

				r.Get("/stats", h.Stats)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
