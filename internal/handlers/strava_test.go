package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiviatgo/kiviatgo-backend/internal/config"
	"github.com/kiviatgo/kiviatgo-backend/internal/services"
)

func withStravaService(t *testing.T, svc *services.StravaService) {
	t.Helper()
	prev := stravaService
	stravaService = svc
	t.Cleanup(func() { stravaService = prev })
}

func decodeError(t *testing.T, body *httptest.ResponseRecorder) string {
	t.Helper()
	var resp stravaErrorResponse
	require.NoError(t, json.Unmarshal(body.Body.Bytes(), &resp))
	return resp.Error
}

func TestTokenExchangeMissingBody(t *testing.T) {
	withStravaService(t, services.NewStravaService(&config.Config{
		StravaClientID:     "12345",
		StravaClientSecret: "secret",
	}))

	for _, body := range []string{"", "not json"} {
		req := httptest.NewRequest(http.MethodPost, "/api/strava/token-exchange", strings.NewReader(body))
		w := httptest.NewRecorder()

		StravaTokenExchange(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Missing body", decodeError(t, w))
	}
}

func TestTokenExchangeNotConfigured(t *testing.T) {
	withStravaService(t, services.NewStravaService(&config.Config{}))

	req := httptest.NewRequest(http.MethodPost, "/api/strava/token-exchange", strings.NewReader(`{"code":"abc"}`))
	w := httptest.NewRecorder()

	StravaTokenExchange(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Strava credentials not configured on server", decodeError(t, w))
}

// A body with neither field is rejected before anything leaves the server.
// The exact message distinguishes this from an upstream rejection.
func TestTokenExchangeMissingCodeAndRefreshToken(t *testing.T) {
	withStravaService(t, services.NewStravaService(&config.Config{
		StravaClientID:     "12345",
		StravaClientSecret: "secret",
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/strava/token-exchange", strings.NewReader(`{"athlete":"ignored"}`))
	w := httptest.NewRecorder()

	StravaTokenExchange(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing code or refreshToken", decodeError(t, w))
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("abc"))
	assert.Equal(t, "", extractBearerToken(""))
	assert.Equal(t, "", extractBearerToken("   "))
}
