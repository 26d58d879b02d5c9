package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stravaStub struct {
	srv *httptest.Server

	tokenCalls    int64
	activityCalls int64

	tokenStatus  int
	tokenBody    string
	refreshToken string

	activities   string
	gotAfter     string
	gotAuth      string
	gotGrantType string
}

func newStravaStub(t *testing.T) *stravaStub {
	t.Helper()
	s := &stravaStub{
		tokenStatus:  http.StatusOK,
		refreshToken: "rotated-refresh-token",
		activities:   "[]",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		s.gotGrantType = r.PostFormValue("grant_type")

		w.Header().Set("Content-Type", "application/json")
		if s.tokenStatus != http.StatusOK {
			w.WriteHeader(s.tokenStatus)
			w.Write([]byte(s.tokenBody))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-token",
			"refresh_token": s.refreshToken,
			"token_type":    "Bearer",
			"expires_in":    21600,
		})
	})
	mux.HandleFunc("/api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.activityCalls, 1)
		s.gotAfter = r.URL.Query().Get("after")
		s.gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(s.activities))
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stravaStub) service(now time.Time) *StravaService {
	return &StravaService{
		clientID:     "12345",
		clientSecret: "secret",
		redirectURI:  "https://app.example.com/strava-auth",
		authorizeURL: s.srv.URL + "/oauth/authorize",
		tokenURL:     s.srv.URL + "/oauth/token",
		apiBase:      s.srv.URL + "/api/v3",
		httpClient:   s.srv.Client(),
		now:          func() time.Time { return now },
	}
}

func TestExchangeCodeAggregatesCalories(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	stub := newStravaStub(t)
	stub.activities = `[
		{"calories": 100.4, "start_date": "2025-06-15T06:00:00Z"},
		{"calories": 250.2, "start_date": "2025-06-15T09:30:00Z"},
		{"start_date": "2025-06-14T20:00:00Z"}
	]`
	svc := stub.service(now)

	result, err := svc.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)

	// 100.4 + 250.2 + 0 for the activity with no calories field
	assert.Equal(t, 351, result.TotalCalories)
	assert.Equal(t, "2025-06-15T09:30:00Z", result.LastSync)
	assert.Equal(t, "rotated-refresh-token", result.RefreshToken)

	assert.Equal(t, "Bearer access-token", stub.gotAuth)
	assert.Equal(t, strconv.FormatInt(now.Add(-24*time.Hour).Unix(), 10), stub.gotAfter)
}

func TestExchangeCodeEmptyActivityWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	stub := newStravaStub(t)
	svc := stub.service(now)

	result, err := svc.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)

	assert.Equal(t, 0, result.TotalCalories)
	assert.Equal(t, now.Format(time.RFC3339), result.LastSync)
}

func TestRefreshRotatesToken(t *testing.T) {
	stub := newStravaStub(t)
	stub.refreshToken = "next-refresh-token"
	svc := stub.service(time.Now())

	result, err := svc.Refresh(context.Background(), "old-refresh-token")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", stub.gotGrantType)
	assert.Equal(t, "next-refresh-token", result.RefreshToken)
}

func TestExchangeCodePassesThroughUpstreamMessage(t *testing.T) {
	stub := newStravaStub(t)
	stub.tokenStatus = http.StatusBadRequest
	stub.tokenBody = `{"message":"Bad Request","errors":[{"resource":"AuthorizationCode","field":"code","code":"invalid"}]}`
	svc := stub.service(time.Now())

	_, err := svc.ExchangeCode(context.Background(), "used-code")
	require.Error(t, err)

	var upstream *StravaUpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "Strava token error: Bad Request", upstream.Message)
	assert.EqualValues(t, 0, atomic.LoadInt64(&stub.activityCalls))
}

func TestRefreshRejectionPrefix(t *testing.T) {
	stub := newStravaStub(t)
	stub.tokenStatus = http.StatusBadRequest
	stub.tokenBody = `{"message":"Bad Request","errors":[{"resource":"RefreshToken","field":"refresh_token","code":"invalid"}]}`
	svc := stub.service(time.Now())

	_, err := svc.Refresh(context.Background(), "revoked-token")
	require.Error(t, err)

	var upstream *StravaUpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "Strava refresh token error: Bad Request", upstream.Message)
}

func TestNotConfigured(t *testing.T) {
	svc := &StravaService{}
	assert.False(t, svc.Configured())

	_, err := svc.ExchangeCode(context.Background(), "code")
	assert.ErrorIs(t, err, ErrStravaNotConfigured)

	_, err = svc.Refresh(context.Background(), "token")
	assert.ErrorIs(t, err, ErrStravaNotConfigured)
}

func TestConnectURL(t *testing.T) {
	stub := newStravaStub(t)
	svc := stub.service(time.Now())

	u, err := url.Parse(svc.ConnectURL())
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "12345", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://app.example.com/strava-auth", q.Get("redirect_uri"))
	assert.Equal(t, "auto", q.Get("approval_prompt"))
	assert.Equal(t, "activity:read", q.Get("scope"))
}

func TestAggregateRoundsSummedCalories(t *testing.T) {
	for _, tc := range []struct {
		calories []float64
		want     int
	}{
		{[]float64{0.4, 0.4}, 1},
		{[]float64{100.5}, 101},
		{[]float64{}, 0},
	} {
		stub := newStravaStub(t)
		acts := make([]map[string]interface{}, len(tc.calories))
		for i, c := range tc.calories {
			acts[i] = map[string]interface{}{"calories": c, "start_date": "2025-06-15T06:00:00Z"}
		}
		body, err := json.Marshal(acts)
		require.NoError(t, err)
		stub.activities = string(body)

		svc := stub.service(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
		result, err := svc.Refresh(context.Background(), "token")
		require.NoError(t, err)
		assert.Equal(t, tc.want, result.TotalCalories, fmt.Sprintf("calories %v", tc.calories))
	}
}
