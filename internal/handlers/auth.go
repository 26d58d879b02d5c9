package handlers

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiviatgo/kiviatgo-backend/internal/database"
	"github.com/kiviatgo/kiviatgo-backend/internal/models"
	"github.com/kiviatgo/kiviatgo-backend/internal/services"
	"github.com/kiviatgo/kiviatgo-backend/pkg/utils"
)

type SignupRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`

	// Optional onboarding data collected before account creation
	Age        int     `json:"age,omitempty"`
	Height     float64 `json:"height,omitempty"`
	Weight     float64 `json:"weight,omitempty"`
	BodyFat    float64 `json:"bodyFat,omitempty"`
	MuscleMass float64 `json:"muscleMass,omitempty"`
	BoneMass   float64 `json:"boneMass,omitempty"`
}

type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	User    *models.UserProfile `json:"user,omitempty"`
	Token   string              `json:"token,omitempty"`
}

// Signup handles user registration: a Postgres account row for the
// credentials plus a zeroed Mongo profile document.
func Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, false, "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, false, "Email and password are required")
		return
	}
	if len(req.Password) < 6 {
		writeMessage(w, http.StatusBadRequest, false, "Password must be at least 6 characters")
		return
	}

	// Check if account already exists
	var existingEmail string
	err := database.PostgresDB.QueryRow("SELECT email FROM accounts WHERE LOWER(email) = $1", req.Email).Scan(&existingEmail)
	if err == nil {
		writeMessage(w, http.StatusConflict, false, "An account with this email already exists")
		return
	} else if err != sql.ErrNoRows {
		writeMessage(w, http.StatusInternalServerError, false, "Database error")
		return
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to hash password")
		return
	}

	userID := uuid.New()
	_, err = database.PostgresDB.Exec(`
		INSERT INTO accounts (id, email, password_hash, first_name, last_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, req.Email, hashedPassword, req.FirstName, req.LastName, time.Now())
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to create account")
		return
	}

	// Seed the profile document. If this fails the reconciler will seed a
	// minimal one on first subscription, so it's non-fatal.
	today := time.Now().Format("2006-01-02")
	profile := models.NewMinimalProfile(userID.String(), req.FirstName, req.LastName, req.Email, today)
	profile.Age = req.Age
	profile.Height = req.Height
	profile.Weight = req.Weight
	profile.BodyFat = req.BodyFat
	profile.MuscleMass = req.MuscleMass
	profile.BoneMass = req.BoneMass
	if err := profileStore.EnsureExists(r.Context(), profile); err != nil {
		log.Printf("signup: seeding profile for %s: %v", userID, err)
	}

	token, err := services.CreateSession(userID)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to create session")
		return
	}

	reconciler.Subscribe(userID.String())

	writeJSON(w, http.StatusCreated, AuthResponse{
		Success: true,
		Message: "Account created successfully",
		User:    profile,
		Token:   token,
	})
}

// Signin handles user login and opens the reconciliation session.
func Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, false, "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, false, "Email and password are required")
		return
	}

	var userID uuid.UUID
	var passwordHash string
	var isActive bool
	err := database.PostgresDB.QueryRow(`
		SELECT id, password_hash, is_active FROM accounts WHERE LOWER(email) = $1
	`, req.Email).Scan(&userID, &passwordHash, &isActive)
	if err != nil {
		if err == sql.ErrNoRows {
			writeMessage(w, http.StatusUnauthorized, false, "Invalid email or password")
		} else {
			writeMessage(w, http.StatusInternalServerError, false, "Database error")
		}
		return
	}
	if !isActive {
		writeMessage(w, http.StatusForbidden, false, "Account is disabled")
		return
	}

	valid, err := utils.VerifyPassword(req.Password, passwordHash)
	if err != nil || !valid {
		writeMessage(w, http.StatusUnauthorized, false, "Invalid email or password")
		return
	}

	token, err := services.CreateSession(userID)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to create session")
		return
	}

	reconciler.Subscribe(userID.String())

	profile := reconciler.Current(userID.String())
	if profile == nil {
		// The subscription is still warming up; serve the stored document.
		if p, err := profileStore.Get(r.Context(), userID.String()); err == nil {
			profile = p
		}
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Signed in successfully",
		User:    profile,
		Token:   token,
	})
}

// Signout invalidates the session and tears down the reconciliation
// session; any in-flight background sync result is discarded.
func Signout(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	userID, ok, _ := services.ValidateSession(token)
	if ok {
		reconciler.Unsubscribe(userID.String())
	}
	if err := services.InvalidateSession(token); err != nil {
		log.Printf("signout: invalidating session: %v", err)
	}

	writeMessage(w, http.StatusOK, true, "Signed out")
}

// GetMe returns the current reconciled profile.
func GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	// Session tokens outlive server restarts (they live in Redis);
	// re-open the reconciliation session lazily if needed.
	reconciler.EnsureSubscribed(userID)

	profile := reconciler.Current(userID)
	if profile == nil {
		p, err := profileStore.Get(r.Context(), userID)
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, false, "Failed to load profile")
			return
		}
		profile = p
	}

	writeJSON(w, http.StatusOK, AuthResponse{Success: true, Message: "OK", User: profile})
}
