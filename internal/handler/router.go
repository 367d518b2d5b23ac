package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/piggybag/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса PiggyBag.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5, "application/json"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", h.ListProjects)
		r.Get("/projects/trending", h.TrendingProjects)
		r.Get("/projects/search", h.SearchProjects)
		r.Get("/projects/near-goal", h.NearGoalProjects)
		r.Get("/projects/{appID}", h.GetProject)
		r.Get("/projects/{appID}/deposits", h.ListDeposits)
		r.Get("/projects/{appID}/donors", h.ListDonors)
		r.Get("/projects/{appID}/withdrawals", h.ListWithdrawals)
		r.Get("/projects/{appID}/rewards", h.ListRewards)
		r.Get("/rewards/{rewardID}/distributions", h.ListDistributions)
		r.Get("/donors/{address}/deposits", h.ListDonorDeposits)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)

			r.Post("/projects", h.CreateProject)
			r.Patch("/projects/{appID}", h.UpdateProject)
			r.Post("/projects/{appID}/deposits", h.RecordDeposit)
			r.Post("/projects/{appID}/withdrawals", h.RecordWithdrawal)
			r.Post("/projects/{appID}/rewards", h.CreateReward)
			r.Post("/rewards/{rewardID}/distribute", h.DistributeReward)
			r.Post("/rewards/{rewardID}/payouts/resolve", h.ResolvePayout)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: http.StatusText(http.StatusNotFound)})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed", Message: http.StatusText(http.StatusMethodNotAllowed)})
	})

	return r
}
