package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/proconfianza/server/internal/http/handlers"
	"github.com/proconfianza/server/internal/middleware"
)

// Handlers bundles the route handlers.
type Handlers struct {
	Registration *handlers.RegistrationHandler
	Users        *handlers.UserHandler
	Admin        *handlers.AdminHandler
	Health       *handlers.HealthHandler
}

// Limits holds the per-IP limiters applied as route middleware.
type Limits struct {
	SendPerIP   *middleware.RateLimiter
	VerifyPerIP *middleware.RateLimiter
}

// NewRouter creates a new HTTP router with all routes configured. Admin
// routes are only mounted when adminKey is set.
func NewRouter(h Handlers, limits Limits, adminKey string, log logrus.FieldLogger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health.ServeHTTP)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/check-invitation", h.Registration.HandleCheckInvitation)
			r.With(middleware.RateLimitMiddleware(limits.SendPerIP, middleware.GetIPKey)).
				Post("/send-verification", h.Registration.HandleSendVerification)
			r.With(middleware.RateLimitMiddleware(limits.VerifyPerIP, middleware.GetIPKey)).
				Post("/verify-code", h.Registration.HandleVerifyCode)
			r.Post("/login", h.Registration.HandleLogin)
		})

		r.Get("/users/{phone}", h.Users.HandleGetUser)

		if adminKey != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminKey(adminKey))
				r.Post("/invitations", h.Admin.HandleCreateInvitation)
			})
		}
	})

	return r
}
