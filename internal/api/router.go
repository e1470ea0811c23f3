/**
 * @description
 * This file sets up the HTTP router for the tontine-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes creates and returns a new router for the tontine service.
func Routes(h *Handlers, jwtSecret, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-Api-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Gateway webhook: service-to-service auth, not user auth.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/internal/charge-events", h.ChargeWebhookHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		// Wallet endpoints
		r.Get("/wallet", h.GetWalletHandler)
		r.Post("/wallet/deposits", h.InitiateDepositHandler)
		r.Get("/wallet/deposits/{intentID}", h.DepositStatusHandler)
		r.Post("/wallet/withdrawals", h.WithdrawHandler)
		r.Post("/wallet/transfers", h.TransferHandler)
		r.Get("/wallet/ledger", h.ListLedgerHandler)
		r.Get("/wallet/summary", h.FinancialSummaryHandler)
		r.Get("/wallet/reconciliation", h.ReconcileWalletHandler)

		// Group lifecycle and membership endpoints
		r.Post("/groups", h.CreateGroupHandler)
		r.Get("/groups", h.ListGroupsHandler)
		r.Get("/groups/{groupID}", h.GetGroupHandler)
		r.Post("/groups/{groupID}/invitations", h.InviteHandler)
		r.Post("/groups/{groupID}/join", h.JoinGroupHandler)
		r.Post("/groups/{groupID}/leave", h.LeaveGroupHandler)
		r.Delete("/groups/{groupID}/members/{memberID}", h.RemoveMemberHandler)
		r.Post("/groups/{groupID}/activate", h.ActivateGroupHandler)
		r.Post("/groups/{groupID}/cancel", h.CancelGroupHandler)
		r.Post("/groups/{groupID}/defaults", h.ReportDefaultHandler)
		r.Get("/groups/{groupID}/refunds", h.PendingRefundsHandler)

		// Invitation endpoints addressed by code
		r.Post("/invitations/{code}/accept", h.AcceptInvitationHandler)
		r.Post("/invitations/{code}/decline", h.DeclineInvitationHandler)

		// Turn and contribution endpoints
		r.Get("/groups/{groupID}/turns", h.ListTurnsHandler)
		r.Get("/groups/{groupID}/turns/open", h.GetOpenTurnHandler)
		r.Post("/groups/{groupID}/contributions", h.RecordContributionHandler)
	})

	return r
}
