package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kiviatgo/kiviatgo-backend/internal/database"
	"github.com/kiviatgo/kiviatgo-backend/internal/models"
	"github.com/kiviatgo/kiviatgo-backend/internal/services"
)

// MaxDailyPhotos limits meal-photo analyses per user per calendar day.
const MaxDailyPhotos = 15

const mealsCollection = "meals"

type AnalyzeMealResponse struct {
	Success    bool                   `json:"success"`
	Message    string                 `json:"message,omitempty"`
	PhotoURL   string                 `json:"photo_url,omitempty"`
	Analysis   *services.MealAnalysis `json:"analysis,omitempty"`
	PhotosUsed int                    `json:"photos_used"`
}

type CreateMealRequest struct {
	PhotoURL string        `json:"photo_url,omitempty"`
	Foods    []models.Food `json:"foods"`
}

type MealResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Meal    *models.Meal `json:"meal,omitempty"`
}

type MealListResponse struct {
	Success bool          `json:"success"`
	Meals   []models.Meal `json:"meals"`
}

// AnalyzeMealPhoto uploads a meal photo and runs the AI food analysis.
// Enforces the daily photo limit tracked in daily.photosCount/photosDate.
func AnalyzeMealPhoto(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	if visionService == nil {
		writeMessage(w, http.StatusInternalServerError, false, "Meal analysis service not initialized")
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil { // 10MB
		writeMessage(w, http.StatusBadRequest, false, "Failed to parse form: "+err.Error())
		return
	}

	file, fileHeader, err := r.FormFile("photo")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, false, "No photo provided")
		return
	}
	defer file.Close()

	profile, err := profileStore.Get(r.Context(), userID)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to load profile")
		return
	}

	today := time.Now().Format("2006-01-02")
	used := profile.Daily.PhotosUsedToday(today)
	if used >= MaxDailyPhotos {
		writeJSON(w, http.StatusTooManyRequests, AnalyzeMealResponse{
			Success:    false,
			Message:    "Daily photo limit reached",
			PhotosUsed: used,
		})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, 10<<20))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, false, "Failed to read photo")
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	// Upload first so the photo is kept even if analysis fails later.
	var photoURL string
	if cloudinaryService != nil {
		photoURL, err = cloudinaryService.UploadBytes(r.Context(), data, "kiviatgo/meals/"+userID)
		if err != nil {
			log.Printf("meal analyze: cloudinary upload for %s: %v", userID, err)
		}
	}

	analysis, err := visionService.AnalyzePhoto(r.Context(), data, mimeType)
	if err != nil {
		writeMessage(w, http.StatusBadGateway, false, "Meal analysis failed: "+err.Error())
		return
	}

	// Count the photo against today's limit; dotted patch so sibling
	// daily fields stay intact.
	if err := profileStore.PatchDaily(r.Context(), userID, map[string]interface{}{
		"photosCount": used + 1,
		"photosDate":  today,
	}); err != nil {
		log.Printf("meal analyze: incrementing photo count for %s: %v", userID, err)
	}

	writeJSON(w, http.StatusOK, AnalyzeMealResponse{
		Success:    true,
		PhotoURL:   photoURL,
		Analysis:   analysis,
		PhotosUsed: used + 1,
	})
}

// CreateMeal saves a confirmed meal and adds its totals to today's
// consumption counters.
func CreateMeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req CreateMealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, false, "Invalid request body")
		return
	}
	if len(req.Foods) == 0 {
		writeMessage(w, http.StatusBadRequest, false, "At least one food item is required")
		return
	}

	calories, protein, carbs, fat := models.Totals(req.Foods)
	now := time.Now()
	today := now.Format("2006-01-02")

	meal := models.Meal{
		ID:            primitive.NewObjectID(),
		UserID:        userID,
		PhotoURL:      req.PhotoURL,
		Foods:         req.Foods,
		TotalCalories: calories,
		TotalProtein:  protein,
		TotalCarbs:    carbs,
		TotalFat:      fat,
		Date:          today,
		CreatedAt:     now,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := database.DB.Collection(mealsCollection).InsertOne(ctx, meal); err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to save meal")
		return
	}

	// Add to today's counters. Reconcile locally first so a meal logged
	// just after midnight doesn't land on yesterday's totals.
	profile, err := profileStore.Get(ctx, userID)
	if err == nil {
		daily, reset := services.ReconcileDaily(profile.Daily, today)
		fields := map[string]interface{}{
			"caloriesConsumed": daily.CaloriesConsumed + int(math.Round(calories)),
			"proteinConsumed":  daily.ProteinConsumed + int(math.Round(protein)),
		}
		if reset {
			fields["photosCount"] = daily.PhotosCount
			fields["photosDate"] = daily.PhotosDate
			fields["lastResetDate"] = daily.LastResetDate
		}
		if err := profileStore.PatchDaily(ctx, userID, fields); err != nil {
			log.Printf("meal create: updating daily totals for %s: %v", userID, err)
		}
	} else {
		log.Printf("meal create: loading profile for %s: %v", userID, err)
	}

	writeJSON(w, http.StatusCreated, MealResponse{Success: true, Message: "Meal saved", Meal: &meal})
}

// GetMeals lists meals for one calendar day (default: today).
func GetMeals(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireAuth(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cursor, err := database.DB.Collection(mealsCollection).Find(ctx,
		bson.M{"user_id": userID, "date": date},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to load meals")
		return
	}
	defer cursor.Close(ctx)

	meals := []models.Meal{}
	if err := cursor.All(ctx, &meals); err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "Failed to decode meals")
		return
	}

	writeJSON(w, http.StatusOK, MealListResponse{Success: true, Meals: meals})
}
