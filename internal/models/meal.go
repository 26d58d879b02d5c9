package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Food is one detected item on a meal photo, as returned by the photo
// analysis service.
type Food struct {
	Name     string  `bson:"name" json:"name"`
	Quantity float64 `bson:"quantity" json:"quantity"`
	Unit     string  `bson:"unit" json:"unit"` // "g", "piece", "serving", ...
	Calories float64 `bson:"calories" json:"calories"`
	Protein  float64 `bson:"protein" json:"protein"`
	Carbs    float64 `bson:"carbs" json:"carbs"`
	Fat      float64 `bson:"fat" json:"fat"`
}

type Meal struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID string             `bson:"user_id" json:"user_id"`

	PhotoURL string `bson:"photo_url,omitempty" json:"photo_url,omitempty"`
	Foods    []Food `bson:"foods" json:"foods"`

	TotalCalories float64 `bson:"total_calories" json:"total_calories"`
	TotalProtein  float64 `bson:"total_protein" json:"total_protein"`
	TotalCarbs    float64 `bson:"total_carbs" json:"total_carbs"`
	TotalFat      float64 `bson:"total_fat" json:"total_fat"`

	Date      string    `bson:"date" json:"date"` // local calendar date, YYYY-MM-DD
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Totals sums the macro fields across foods.
func Totals(foods []Food) (calories, protein, carbs, fat float64) {
	for _, f := range foods {
		calories += f.Calories
		protein += f.Protein
		carbs += f.Carbs
		fat += f.Fat
	}
	return
}
