package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/kiviatgo/kiviatgo-backend/internal/config"
	"github.com/kiviatgo/kiviatgo-backend/internal/services"
)

// Package-level services, wired once from main. Handlers never touch the
// databases directly except for the Postgres account queries in auth.go.
var (
	profileStore      services.ProfileStore
	reconciler        *services.Reconciler
	stravaService     *services.StravaService
	profileHub        *services.ProfileHub
	cloudinaryService *services.CloudinaryService
	visionService     *services.MealVisionService
	cacheService      = &services.CacheService{}
)

// Init wires the handler package. visionService and cloudinaryService may
// be nil when their credentials are absent; the endpoints that need them
// return 500 in that case.
func Init(store services.ProfileStore, rec *services.Reconciler, strava *services.StravaService, hub *services.ProfileHub) {
	profileStore = store
	reconciler = rec
	stravaService = strava
	profileHub = hub
}

func InitCloudinaryService(cfg *config.Config) error {
	service, err := services.NewCloudinaryService(
		cfg.CloudinaryName,
		cfg.CloudinaryAPIKey,
		cfg.CloudinaryAPISecret,
	)
	if err != nil {
		return err
	}
	cloudinaryService = service
	return nil
}

func InitMealVision(service *services.MealVisionService) {
	visionService = service
}

// extractBearerToken pulls the token out of an Authorization header.
func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return header
}

// requireAuth validates the session and returns the authenticated user's
// ID. Returns ("", false) if not authenticated. Each authenticated
// request slides the session expiry forward, so active users stay
// signed in and only idle sessions age out.
func requireAuth(r *http.Request) (string, bool) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return "", false
	}
	userID, ok, err := services.ValidateSession(token)
	if err != nil || !ok {
		return "", false
	}
	if err := services.RefreshSession(token); err != nil {
		log.Printf("auth: refreshing session for %s: %v", userID, err)
	}
	return userID.String(), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, success bool, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": success,
		"message": message,
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeMessage(w, http.StatusUnauthorized, false, "Authentication required")
}
