package models

import (
	"errors"
	"time"
)

// ErrProfileNotFound is returned when no profile document exists for a user.
var ErrProfileNotFound = errors.New("profile not found")

// DailyState is the per-day portion of a user's profile document. The
// consumption counters are zeroed by the reconciler on the first snapshot
// of each calendar day; targets and the Strava link survive the reset.
type DailyState struct {
	CaloriesConsumed int    `bson:"caloriesConsumed" json:"caloriesConsumed"`
	ProteinConsumed  int    `bson:"proteinConsumed" json:"proteinConsumed"`
	PhotosCount      int    `bson:"photosCount" json:"photosCount"`
	PhotosDate       string `bson:"photosDate,omitempty" json:"photosDate,omitempty"`
	LastResetDate    string `bson:"lastResetDate,omitempty" json:"lastResetDate,omitempty"`

	CaloriesTarget int     `bson:"caloriesTarget,omitempty" json:"caloriesTarget,omitempty"`
	ProteinTarget  int     `bson:"proteinTarget,omitempty" json:"proteinTarget,omitempty"`
	TargetWeight   float64 `bson:"targetWeight,omitempty" json:"targetWeight,omitempty"`

	// StravaRefreshToken is encrypted at rest and never serialized to
	// clients. Its presence is the sole authority on "Strava connected".
	StravaRefreshToken   string `bson:"stravaRefreshToken,omitempty" json:"-"`
	StravaRecentCalories int    `bson:"stravaRecentCalories,omitempty" json:"stravaRecentCalories"`
	StravaLastSync       string `bson:"stravaLastSync,omitempty" json:"stravaLastSync,omitempty"`
}

// StravaConnected reports whether a refresh token is stored. A lastSync
// date alone is not enough: it can be left over from a revoked connection.
func (d *DailyState) StravaConnected() bool {
	return d.StravaRefreshToken != ""
}

// PhotosUsedToday returns the effective photo counter for today. A counter
// stamped with another date is treated as 0 regardless of its value.
func (d *DailyState) PhotosUsedToday(today string) int {
	if d.PhotosDate != today {
		return 0
	}
	return d.PhotosCount
}

// UserProfile is the per-user MongoDB document, keyed by the Postgres
// account UUID. It is the single source of truth for everything except
// credentials.
type UserProfile struct {
	ID        string `bson:"_id" json:"id"`
	FirstName string `bson:"firstName" json:"firstName"`
	LastName  string `bson:"lastName" json:"lastName"`
	Email     string `bson:"email" json:"email"`

	Age        int     `bson:"age,omitempty" json:"age,omitempty"`
	Height     float64 `bson:"height,omitempty" json:"height,omitempty"`
	Weight     float64 `bson:"weight,omitempty" json:"weight,omitempty"`
	BodyFat    float64 `bson:"bodyFat,omitempty" json:"bodyFat,omitempty"`
	MuscleMass float64 `bson:"muscleMass,omitempty" json:"muscleMass,omitempty"`
	BoneMass   float64 `bson:"boneMass,omitempty" json:"boneMass,omitempty"`

	CalibrationPhoto     string `bson:"calibrationPhoto,omitempty" json:"calibrationPhoto,omitempty"`
	IsOnboardingComplete bool   `bson:"isOnboardingComplete" json:"isOnboardingComplete"`

	// LegacyTargetWeight is the old root-level location of the target
	// weight. Normalize migrates it into Daily; new writes go to Daily only.
	LegacyTargetWeight float64 `bson:"targetWeight,omitempty" json:"-"`

	Daily DailyState `bson:"daily" json:"daily"`

	// StravaConnected is derived for clients; the token itself stays server-side.
	StravaConnected bool `bson:"-" json:"stravaConnected"`

	CreatedAt time.Time `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// Normalize repairs a profile read from the store into a fully-defaulted
// value. Older documents kept targetWeight at the document root; the
// canonical location is daily.targetWeight.
func (p *UserProfile) Normalize() {
	if p.Daily.TargetWeight == 0 && p.LegacyTargetWeight != 0 {
		p.Daily.TargetWeight = p.LegacyTargetWeight
	}
	p.StravaConnected = p.Daily.StravaConnected()
}

// NewMinimalProfile builds the zeroed profile document written at
// registration, and used as an in-memory fallback when the store is
// unreachable.
func NewMinimalProfile(id, firstName, lastName, email, today string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		ID:        id,
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Daily: DailyState{
			PhotosDate:    today,
			LastResetDate: today,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
