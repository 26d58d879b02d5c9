package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kiviatgo/kiviatgo-backend/internal/models"
)

type ProfileResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	User    *models.UserProfile `json:"user,omitempty"`
}

// UpdateProfileRequest carries identity and physical-metric edits.
// Pointers distinguish "not sent" from zero.
type UpdateProfileRequest struct {
	FirstName        *string  `json:"firstName,omitempty"`
	LastName         *string  `json:"lastName,omitempty"`
	Age              *int     `json:"age,omitempty"`
	Height           *float64 `json:"height,omitempty"`
	Weight           *float64 `json:"weight,omitempty"`
	BodyFat          *float64 `json:"bodyFat,omitempty"`
	MuscleMass       *float64 `json:"muscleMass,omitempty"`
	BoneMass         *float64 `json:"boneMass,omitempty"`
	CalibrationPhoto *string  `json:"calibrationPhoto,omitempty"`
}

type UpdateTargetsRequest struct {
	CaloriesTarget *int     `json:"caloriesTarget,omitempty"`
	ProteinTarget  *int     `json:"proteinTarget,omitempty"`
	TargetWeight   *float64 `json:"targetWeight,omitempty"`
}

// GetProfile returns the stored profile document, normalized.
func GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	profile, err := profileStore.Get(r.Context(), userID)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{Success: true, User: profile})
}

// UpdateProfile applies a partial update to identity and physical
// metrics. The change flows back through the reconciler's subscription.
func UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, false, "Invalid request body")
		return
	}

	fields := map[string]interface{}{}
	if req.FirstName != nil {
		fields["firstName"] = *req.FirstName
	}
	if req.LastName != nil {
		fields["lastName"] = *req.LastName
	}
	if req.Age != nil {
		fields["age"] = *req.Age
	}
	if req.Height != nil {
		fields["height"] = *req.Height
	}
	if req.Weight != nil {
		fields["weight"] = *req.Weight
	}
	if req.BodyFat != nil {
		fields["bodyFat"] = *req.BodyFat
	}
	if req.MuscleMass != nil {
		fields["muscleMass"] = *req.MuscleMass
	}
	if req.BoneMass != nil {
		fields["boneMass"] = *req.BoneMass
	}
	if req.CalibrationPhoto != nil {
		fields["calibrationPhoto"] = *req.CalibrationPhoto
	}

	if len(fields) == 0 {
		writeMessage(w, http.StatusBadRequest, false, "No fields to update")
		return
	}

	if err := profileStore.Patch(r.Context(), userID, fields); err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to update profile")
		return
	}

	writeMessage(w, http.StatusOK, true, "Profile updated")
}

// UpdateTargets sets the daily goals. Targets live in daily.* (canonical
// location) and are written with a dotted partial update so counters and
// the Strava link are untouched.
func UpdateTargets(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req UpdateTargetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, false, "Invalid request body")
		return
	}

	fields := map[string]interface{}{}
	if req.CaloriesTarget != nil {
		fields["caloriesTarget"] = *req.CaloriesTarget
	}
	if req.ProteinTarget != nil {
		fields["proteinTarget"] = *req.ProteinTarget
	}
	if req.TargetWeight != nil {
		fields["targetWeight"] = *req.TargetWeight
	}

	if len(fields) == 0 {
		writeMessage(w, http.StatusBadRequest, false, "No fields to update")
		return
	}

	if err := profileStore.PatchDaily(r.Context(), userID, fields); err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to update targets")
		return
	}

	writeMessage(w, http.StatusOK, true, "Targets updated")
}

// CompleteOnboarding marks the onboarding wizard as finished.
func CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	if err := profileStore.Patch(r.Context(), userID, map[string]interface{}{"isOnboardingComplete": true}); err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to update profile")
		return
	}

	writeMessage(w, http.StatusOK, true, "Onboarding complete")
}
