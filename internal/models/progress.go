package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProgressEntry is one point of body-metric history, plotted by the
// front-end charts.
type ProgressEntry struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	Weight     float64            `bson:"weight" json:"weight"`
	BodyFat    float64            `bson:"body_fat,omitempty" json:"body_fat,omitempty"`
	MuscleMass float64            `bson:"muscle_mass,omitempty" json:"muscle_mass,omitempty"`
	Date       time.Time          `bson:"date" json:"date"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}
