package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMigratesLegacyTargetWeight(t *testing.T) {
	p := UserProfile{LegacyTargetWeight: 78.5}
	p.Normalize()
	assert.Equal(t, 78.5, p.Daily.TargetWeight)

	// An existing daily value wins over the legacy root field.
	p = UserProfile{
		LegacyTargetWeight: 78.5,
		Daily:              DailyState{TargetWeight: 81},
	}
	p.Normalize()
	assert.Equal(t, float64(81), p.Daily.TargetWeight)
}

func TestNormalizeDerivesStravaConnected(t *testing.T) {
	p := UserProfile{Daily: DailyState{StravaLastSync: "2025-06-14T18:00:00Z"}}
	p.Normalize()
	assert.False(t, p.StravaConnected, "a leftover lastSync alone does not mean connected")

	p = UserProfile{Daily: DailyState{StravaRefreshToken: "rt"}}
	p.Normalize()
	assert.True(t, p.StravaConnected)
}

func TestPhotosUsedToday(t *testing.T) {
	d := DailyState{PhotosCount: 7, PhotosDate: "2025-06-14"}
	assert.Equal(t, 0, d.PhotosUsedToday("2025-06-15"))
	assert.Equal(t, 7, d.PhotosUsedToday("2025-06-14"))

	d = DailyState{PhotosCount: 3}
	assert.Equal(t, 0, d.PhotosUsedToday("2025-06-15"))
}
