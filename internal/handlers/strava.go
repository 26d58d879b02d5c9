package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/kiviatgo/kiviatgo-backend/internal/services"
)

type tokenExchangeRequest struct {
	Code         string `json:"code"`
	RefreshToken string `json:"refreshToken"`
}

type stravaErrorResponse struct {
	Error string `json:"error"`
}

// StravaTokenExchange bridges clients to Strava's OAuth token endpoint.
// Body is {"code": ...} for a first-time authorization or
// {"refreshToken": ...} for a renewal; code takes precedence when both
// are present. Returns {"totalCalories", "lastSync", "refreshToken"}.
//
// If the caller is authenticated, the result is also persisted into their
// profile document so the reconciler picks it up on the next snapshot.
func StravaTokenExchange(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil || r.ContentLength == 0 {
		writeJSON(w, http.StatusBadRequest, stravaErrorResponse{Error: "Missing body"})
		return
	}

	var req tokenExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, stravaErrorResponse{Error: "Missing body"})
		return
	}

	if !stravaService.Configured() {
		writeJSON(w, http.StatusInternalServerError, stravaErrorResponse{Error: "Strava credentials not configured on server"})
		return
	}

	var result *services.StravaSync
	var err error
	switch {
	case req.Code != "":
		result, err = stravaService.ExchangeCode(r.Context(), req.Code)
	case req.RefreshToken != "":
		result, err = stravaService.Refresh(r.Context(), req.RefreshToken)
	default:
		writeJSON(w, http.StatusBadRequest, stravaErrorResponse{Error: "Missing code or refreshToken"})
		return
	}

	if err != nil {
		var upstream *services.StravaUpstreamError
		switch {
		case errors.As(err, &upstream):
			writeJSON(w, http.StatusBadRequest, stravaErrorResponse{Error: upstream.Message})
		case errors.Is(err, services.ErrStravaNotConfigured):
			writeJSON(w, http.StatusInternalServerError, stravaErrorResponse{Error: err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, stravaErrorResponse{Error: err.Error()})
		}
		return
	}

	// Store the rotated token and aggregate for signed-in callers.
	if userID, ok := requireAuth(r); ok {
		if err := profileStore.SetStravaSync(r.Context(), userID, result); err != nil {
			log.Printf("strava exchange: persisting sync for %s: %v", userID, err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// StravaConnectURL returns the authorize URL for the "Connect with
// Strava" button.
func StravaConnectURL(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAuth(r); !ok {
		writeUnauthorized(w)
		return
	}
	if !stravaService.Configured() {
		writeMessage(w, http.StatusInternalServerError, false, "Strava credentials not configured on server")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"url":     stravaService.ConnectURL(),
	})
}

// StravaSyncNow is the manual "Resync" action. Shares the in-flight guard
// with the background sync, so it no-ops while one is running.
func StravaSyncNow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	if err := reconciler.SyncNow(r.Context(), userID); err != nil {
		// The reconciler already evicted the token on a rejection; either
		// way the UI keeps showing the last cached aggregate.
		writeMessage(w, http.StatusBadGateway, false, "Strava sync failed: "+err.Error())
		return
	}

	writeMessage(w, http.StatusOK, true, "Strava sync complete")
}

// StravaDisconnect removes the stored refresh token.
func StravaDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	if err := profileStore.ClearStravaToken(r.Context(), userID); err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to disconnect Strava")
		return
	}

	writeMessage(w, http.StatusOK, true, "Strava disconnected")
}
