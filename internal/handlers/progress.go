package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kiviatgo/kiviatgo-backend/internal/database"
	"github.com/kiviatgo/kiviatgo-backend/internal/models"
)

const progressCollection = "progress"

type CreateProgressRequest struct {
	Weight     float64    `json:"weight"`
	BodyFat    float64    `json:"body_fat,omitempty"`
	MuscleMass float64    `json:"muscle_mass,omitempty"`
	Date       *time.Time `json:"date,omitempty"`
}

type ProgressListResponse struct {
	Success bool                   `json:"success"`
	Entries []models.ProgressEntry `json:"entries"`
}

func progressCacheKey(userID string) string {
	return "progress:" + userID
}

// CreateProgress records a body-metric data point for the charts.
func CreateProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req CreateProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, false, "Invalid request body")
		return
	}
	if req.Weight <= 0 {
		writeMessage(w, http.StatusBadRequest, false, "Weight is required")
		return
	}

	now := time.Now()
	date := now
	if req.Date != nil {
		date = *req.Date
	}

	entry := models.ProgressEntry{
		ID:         primitive.NewObjectID(),
		UserID:     userID,
		Weight:     req.Weight,
		BodyFat:    req.BodyFat,
		MuscleMass: req.MuscleMass,
		Date:       date,
		CreatedAt:  now,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := database.DB.Collection(progressCollection).InsertOne(ctx, entry); err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to save progress")
		return
	}

	// Keep the weight on the profile document in step with the history.
	if err := profileStore.Patch(ctx, userID, map[string]interface{}{"weight": req.Weight}); err != nil {
		log.Printf("progress create: updating profile weight for %s: %v", userID, err)
	}

	if err := cacheService.Delete(progressCacheKey(userID)); err != nil {
		log.Printf("progress create: invalidating cache for %s: %v", userID, err)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Progress saved",
		"entry":   entry,
	})
}

// GetProgress returns the user's body-metric history, ascending by date,
// cached in Redis.
func GetProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var entries []models.ProgressEntry
	if hit, err := cacheService.Get(progressCacheKey(userID), &entries); err == nil && hit {
		writeJSON(w, http.StatusOK, ProgressListResponse{Success: true, Entries: entries})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cursor, err := database.DB.Collection(progressCollection).Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}),
	)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to load progress")
		return
	}
	defer cursor.Close(ctx)

	entries = []models.ProgressEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to decode progress")
		return
	}

	if err := cacheService.Set(progressCacheKey(userID), entries); err != nil {
		log.Printf("progress list: caching for %s: %v", userID, err)
	}

	writeJSON(w, http.StatusOK, ProgressListResponse{Success: true, Entries: entries})
}
