package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kiviatgo/kiviatgo-backend/internal/models"
)

// MealAnalysis is the structured result of analyzing one meal photo.
type MealAnalysis struct {
	IsMeal bool          `json:"isMeal"`
	Foods  []models.Food `json:"foods"`
	Notes  string        `json:"notes,omitempty"`
}

const mealAnalysisPrompt = `Analyze this photo of a plate and return a strict JSON object (JSON ONLY) with this schema:
{
  "isMeal": true|false,
  "foods": [ { "name": "string", "quantity": number, "unit": "g"|"piece"|"serving", "calories": number, "protein": number, "carbs": number, "fat": number } ],
  "notes": "string (optional)"
}
If the photo is not a meal (random objects, etc.), return {"isMeal": false, "notes": "reason"}.
Respond with the requested JSON object only.`

// MealVisionService turns meal photos into food items with macro
// estimates, via the Gemini API.
type MealVisionService struct {
	client *genai.Client
	model  string
}

func NewMealVisionService(ctx context.Context, apiKey, model string) (*MealVisionService, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}

	return &MealVisionService{client: client, model: model}, nil
}

// AnalyzePhoto sends the photo plus the analysis prompt to the model and
// parses the JSON reply.
func (s *MealVisionService) AnalyzePhoto(ctx context.Context, data []byte, mimeType string) (*MealAnalysis, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(mealAnalysisPrompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("meal analysis request failed: %w", err)
	}

	text := stripJSONFences(resp.Text())
	if text == "" {
		return nil, errors.New("meal analysis returned an empty response")
	}

	var analysis MealAnalysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return nil, fmt.Errorf("meal analysis returned invalid JSON: %w", err)
	}

	return &analysis, nil
}

// stripJSONFences removes markdown code fences models sometimes wrap
// around JSON despite instructions.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
