package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.True(t, (&Config{Environment: " Production "}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
	assert.False(t, (&Config{}).IsProduction())
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "FRONTEND_URL", "ALLOWED_ORIGINS", "STRAVA_REDIRECT_URI"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.NotEmpty(t, cfg.AllowedOrigins)
	// Redirect URI defaults to the front-end's OAuth landing route.
	assert.Equal(t, cfg.FrontendURL+"/strava-auth", cfg.StravaRedirectURI)
}

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t,
		[]string{"https://app.example.com", "http://localhost:5173"},
		parseOrigins(" https://app.example.com, http://localhost:5173 ,"),
	)
}
