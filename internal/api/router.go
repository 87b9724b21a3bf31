package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component probe made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Health and scraping (no auth required)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Session endpoints authenticate through the request body
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Get("/auth/elements/{key}", s.handleCheckElement)
			r.Put("/auth/password", s.handleChangePassword)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Route("/menus", func(r chi.Router) {
					r.Get("/", s.handleListMenus)
					r.Post("/", s.handleCreateMenu)
					r.Patch("/{id}", s.handleUpdateMenu)
					r.Delete("/{id}", s.handleDeleteMenu)
					r.Put("/{id}/roles", s.handleSetMenuRoles)
				})

				r.Route("/users", func(r chi.Router) {
					r.Get("/", s.handleListUsers)
					r.Post("/", s.handleCreateUser)
					r.Put("/{id}/roles", s.handleSetUserRoles)
					r.Put("/{id}/elements", s.handleSetUserElements)
				})

				r.Get("/roles", s.handleListRoles)
				r.Get("/elements", s.handleListElements)
				r.Get("/audit", s.handleListAuditLogs)
				r.Get("/system", s.handleSystemStatus)
			})
		})
	})

	return r
}

// handleHealth reports the server version and the state of each
// registered component. Only a failing database makes the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.health))

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()

		if err == nil {
			components[name] = "ok"
			continue
		}
		components[name] = "unavailable"
		s.logger.Warn("health check failed", "component", name, "error", err)
		if name == "database" {
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else if status == "ok" {
			status = "degraded"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
