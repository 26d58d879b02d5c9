package config

import (
	"os"
	"strings"
)

type Config struct {
	MongoURI       string
	PostgresURI    string
	RedisURI       string
	EncryptionKey  string
	Port           string
	FrontendURL    string
	AllowedOrigins []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL(s)
	Environment    string   // ENV: production, development, etc.

	// Strava OAuth app credentials. The browser never sees the client
	// secret; all token exchanges go through this backend.
	StravaClientID     string
	StravaClientSecret string
	StravaRedirectURI  string // must match the redirect URI registered with Strava exactly

	CloudinaryName      string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	GeminiAPIKey string
	GeminiModel  string
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))
	frontendURL := getEnv("FRONTEND_URL", "http://localhost:5173")

	// CORS: allow multiple origins so the deployed PWA and local dev both work
	allowedOrigins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		for _, u := range []string{frontendURL, getEnv("FRONTEND_URL_2", "")} {
			u = strings.TrimSpace(u)
			if u != "" {
				allowedOrigins = append(allowedOrigins, u)
			}
		}
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173"}
	}

	redirectURI := getEnv("STRAVA_REDIRECT_URI", "")
	if redirectURI == "" {
		redirectURI = strings.TrimRight(frontendURL, "/") + "/strava-auth"
	}

	return &Config{
		MongoURI:       getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/kiviatgo")),
		PostgresURI:    getEnv("POSTGRES_URI", "postgres://localhost:5432/kiviatgo?sslmode=disable"),
		RedisURI:       getEnv("REDIS_URI", "redis://localhost:6379/0"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		Environment:    env,
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    frontendURL,
		AllowedOrigins: allowedOrigins,

		StravaClientID:     getEnv("STRAVA_CLIENT_ID", ""),
		StravaClientSecret: getEnv("STRAVA_CLIENT_SECRET", ""),
		StravaRedirectURI:  redirectURI,

		CloudinaryName:      getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
	}
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
