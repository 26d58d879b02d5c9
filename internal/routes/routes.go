package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/kiviatgo/kiviatgo-backend/internal/handlers"
)

func SetupRoutes(r *chi.Mux) {
	// Auth routes
	r.Post("/api/auth/signup", handlers.Signup)
	r.Post("/api/auth/signin", handlers.Signin)
	r.Post("/api/auth/signout", handlers.Signout)
	r.Get("/api/auth/me", handlers.GetMe)

	// Profile routes
	r.Get("/api/profile", handlers.GetProfile)
	r.Patch("/api/profile", handlers.UpdateProfile)
	r.Put("/api/profile/targets", handlers.UpdateTargets)
	r.Post("/api/profile/onboarding-complete", handlers.CompleteOnboarding)

	// Strava routes (token exchange is the only unauthenticated one;
	// it's the server-side bridge holding the client secret)
	r.Post("/api/strava/token-exchange", handlers.StravaTokenExchange)
	r.Get("/api/strava/connect-url", handlers.StravaConnectURL)
	r.Post("/api/strava/sync", handlers.StravaSyncNow)
	r.Delete("/api/strava", handlers.StravaDisconnect)

	// Meal routes
	r.Post("/api/meals/analyze", handlers.AnalyzeMealPhoto)
	r.Post("/api/meals", handlers.CreateMeal)
	r.Get("/api/meals", handlers.GetMeals)

	// Progress routes (chart history)
	r.Post("/api/progress", handlers.CreateProgress)
	r.Get("/api/progress", handlers.GetProgress)

	// WebSocket endpoint for live reconciled profile snapshots
	r.Get("/ws/profile", handlers.ProfileWebSocket)
}
