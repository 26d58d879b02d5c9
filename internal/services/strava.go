package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kiviatgo/kiviatgo-backend/internal/config"
)

const (
	stravaAuthorizeURL = "https://www.strava.com/oauth/authorize"
	stravaTokenURL     = "https://www.strava.com/oauth/token"
	stravaAPIBase      = "https://www.strava.com/api/v3"
	stravaScope        = "activity:read"
)

// ErrStravaNotConfigured means the OAuth client id/secret are missing on
// the server. Handlers map it to a 500.
var ErrStravaNotConfigured = errors.New("Strava credentials not configured on server")

// StravaUpstreamError is a rejection from Strava's token endpoint (bad
// code, bad or revoked refresh token, expired grant). Handlers map it to
// a 400 with the upstream message passed through.
type StravaUpstreamError struct {
	Message string
}

func (e *StravaUpstreamError) Error() string {
	return e.Message
}

// StravaSync is the result of one exchange: the aggregated calories from
// the last 24h of activities, the start time of the most recent activity
// (or "now" when the window is empty), and the rotated refresh token.
type StravaSync struct {
	TotalCalories int    `json:"totalCalories"`
	LastSync      string `json:"lastSync"`
	RefreshToken  string `json:"refreshToken"`
}

// StravaService bridges clients (which cannot hold the client secret) to
// Strava's OAuth token endpoint and activity list. It is stateless; every
// failure is terminal for that invocation, no retries.
type StravaService struct {
	clientID     string
	clientSecret string
	redirectURI  string

	// overridable in tests
	authorizeURL string
	tokenURL     string
	apiBase      string
	httpClient   *http.Client
	now          func() time.Time
}

func NewStravaService(cfg *config.Config) *StravaService {
	return &StravaService{
		clientID:     cfg.StravaClientID,
		clientSecret: cfg.StravaClientSecret,
		redirectURI:  cfg.StravaRedirectURI,
		authorizeURL: stravaAuthorizeURL,
		tokenURL:     stravaTokenURL,
		apiBase:      stravaAPIBase,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		now:          time.Now,
	}
}

// Configured reports whether the server-side OAuth credentials are present.
func (s *StravaService) Configured() bool {
	return s.clientID != "" && s.clientSecret != ""
}

// ConnectURL builds the authorize URL the front-end sends the user to.
func (s *StravaService) ConnectURL() string {
	q := url.Values{}
	q.Set("client_id", s.clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", s.redirectURI)
	q.Set("approval_prompt", "auto")
	q.Set("scope", stravaScope)
	return s.authorizeURL + "?" + q.Encode()
}

func (s *StravaService) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		RedirectURL:  s.redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams, // Strava wants client_id/secret in the form body
		},
	}
}

// ExchangeCode trades a first-time authorization code for tokens, then
// fetches and aggregates the last 24h of activities. Codes are single-use
// upstream: calling this twice with the same code fails the second time.
func (s *StravaService) ExchangeCode(ctx context.Context, code string) (*StravaSync, error) {
	if !s.Configured() {
		return nil, ErrStravaNotConfigured
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	tok, err := s.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return nil, upstreamError("Strava token error", err)
	}

	return s.fetchAndAggregate(ctx, tok)
}

// Refresh renews the access token from a stored refresh token and fetches
// the activity aggregate. Strava rotates refresh tokens on every use; the
// returned StravaSync carries the replacement, which the caller must persist.
func (s *StravaService) Refresh(ctx context.Context, refreshToken string) (*StravaSync, error) {
	if !s.Configured() {
		return nil, ErrStravaNotConfigured
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	ts := s.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, upstreamError("Strava refresh token error", err)
	}

	return s.fetchAndAggregate(ctx, tok)
}

type stravaActivity struct {
	Calories  float64   `json:"calories"` // absent on some activity types, decodes to 0
	StartDate time.Time `json:"start_date"`
}

func (s *StravaService) fetchAndAggregate(ctx context.Context, tok *oauth2.Token) (*StravaSync, error) {
	after := s.now().Add(-24 * time.Hour).Unix()
	reqURL := fmt.Sprintf("%s/athlete/activities?after=%d", s.apiBase, after)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching Strava activities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("Failed to fetch Strava activities")
	}

	var activities []stravaActivity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, fmt.Errorf("decoding Strava activities: %w", err)
	}

	var total float64
	var latest time.Time
	for _, a := range activities {
		total += a.Calories
		if a.StartDate.After(latest) {
			latest = a.StartDate
		}
	}

	lastSync := s.now().UTC()
	if !latest.IsZero() {
		lastSync = latest.UTC()
	}

	return &StravaSync{
		TotalCalories: int(math.Round(total)),
		LastSync:      lastSync.Format(time.RFC3339),
		RefreshToken:  tok.RefreshToken,
	}, nil
}

// upstreamError converts an oauth2 token-endpoint rejection into a
// StravaUpstreamError carrying the upstream message. Transport errors are
// returned as-is.
func upstreamError(prefix string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}

	msg := re.ErrorDescription
	if msg == "" {
		// Strava errors look like {"message":"Bad Request","errors":[...]}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(re.Body, &payload) == nil && payload.Message != "" {
			msg = payload.Message
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(http.StatusText(re.Response.StatusCode))
	}
	if msg == "" {
		msg = "Bad Request"
	}

	return &StravaUpstreamError{Message: prefix + ": " + msg}
}
