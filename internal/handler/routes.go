package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes groups the handlers mounted on the API router.
type Routes struct {
	Index         *Handler
	Health        *HealthHandler
	Accounts      *AccountHandler
	Links         *LinkHandler
	Credit        *CreditHandler
	Subscriptions *SubscriptionHandler
	Payments      *PaymentHandler
	Admin         *AdminHandler

	// AdminAuth guards /api/admin. Admin routes are not mounted without it.
	AdminAuth func(http.Handler) http.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Register mounts every route on r.
func (rt Routes) Register(r chi.Router) {
	r.Get("/", rt.Index.Index)
	r.Get("/healthz", rt.Health.Healthz)
	r.Get("/readyz", rt.Health.Readyz)
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/auth", rt.Accounts.Authenticate)
		r.Post("/users/disable", rt.Accounts.Disable)

		r.Post("/urls", rt.Links.Create)
		r.Get("/user/{email}/links", rt.Links.Dashboard)
		r.Get("/user/{email}/response-times", rt.Links.ResponseTimes)
		r.Delete("/links/{id}", rt.Links.Delete)
		r.Get("/links/{id}/pings", rt.Links.Pings)

		r.Get("/credit/{email}", rt.Credit.Balance)
		r.Post("/credit/add", rt.Credit.Add)

		r.Get("/user/{email}/plan", rt.Subscriptions.Plan)
		r.Route("/subscription", func(r chi.Router) {
			r.Post("/cancel", rt.Subscriptions.Cancel)
			r.Post("/reactivate", rt.Subscriptions.Reactivate)
			r.Post("/pause", rt.Subscriptions.Pause)
			r.Post("/resume", rt.Subscriptions.Resume)
		})

		r.Post("/payment/create-subscription", rt.Payments.CreateSubscription)
		r.Post("/payment/webhook", rt.Payments.Webhook)

		if rt.AdminAuth != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(rt.AdminAuth)
				r.Post("/credit/grant", rt.Admin.GrantCredit)
			})
		}
	})

	r.NotFound(rt.Index.NotFound)
	r.MethodNotAllowed(rt.Index.MethodNotAllowed)
}
