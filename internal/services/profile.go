package services

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kiviatgo/kiviatgo-backend/internal/database"
	"github.com/kiviatgo/kiviatgo-backend/internal/models"
	"github.com/kiviatgo/kiviatgo-backend/pkg/utils"
)

const usersCollection = "users"

// ProfileStore is the document-store boundary for user profiles. The
// reconciler and handlers only see fully-defaulted models.UserProfile
// values; raw document access stays behind this interface.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*models.UserProfile, error)
	EnsureExists(ctx context.Context, seed *models.UserProfile) error
	Patch(ctx context.Context, userID string, fields map[string]interface{}) error
	SetDaily(ctx context.Context, userID string, daily models.DailyState) error
	PatchDaily(ctx context.Context, userID string, fields map[string]interface{}) error
	SetStravaSync(ctx context.Context, userID string, sync *StravaSync) error
	ClearStravaToken(ctx context.Context, userID string) error
	Watch(ctx context.Context, userID string) (<-chan *models.UserProfile, error)
}

// MongoProfileStore stores one document per user in the users collection,
// keyed by the account UUID.
type MongoProfileStore struct{}

func NewMongoProfileStore() *MongoProfileStore {
	return &MongoProfileStore{}
}

func (s *MongoProfileStore) col() *mongo.Collection {
	return database.DB.Collection(usersCollection)
}

func (s *MongoProfileStore) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.col().FindOne(ctx, bson.M{"_id": userID}).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrProfileNotFound
		}
		return nil, err
	}

	decryptStravaToken(&profile.Daily)
	profile.Normalize()
	return &profile, nil
}

// EnsureExists creates the profile document if it is absent. Existing
// documents are left untouched.
func (s *MongoProfileStore) EnsureExists(ctx context.Context, seed *models.UserProfile) error {
	doc := *seed
	encryptStravaToken(&doc.Daily)

	_, err := s.col().UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

// Patch applies a root-level partial update ($set) plus updatedAt.
func (s *MongoProfileStore) Patch(ctx context.Context, userID string, fields map[string]interface{}) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range fields {
		set[k] = v
	}
	_, err := s.col().UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	return err
}

// SetDaily overwrites the whole daily subdocument. Used by the daily
// reset, which is built from the previous snapshot so targets and the
// Strava link ride along unchanged.
func (s *MongoProfileStore) SetDaily(ctx context.Context, userID string, daily models.DailyState) error {
	encryptStravaToken(&daily)
	_, err := s.col().UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"daily": daily, "updatedAt": time.Now().UTC()}},
	)
	return err
}

// PatchDaily applies a partial update to daily.* fields using dotted
// paths, so sibling daily fields are never clobbered.
func (s *MongoProfileStore) PatchDaily(ctx context.Context, userID string, fields map[string]interface{}) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range fields {
		if k == "stravaRefreshToken" {
			if tok, ok := v.(string); ok && tok != "" {
				if enc, err := utils.Encrypt(tok); err == nil {
					v = enc
				}
			}
		}
		set["daily."+k] = v
	}
	_, err := s.col().UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	return err
}

// SetStravaSync merges a successful exchange result into daily without
// touching sibling fields.
func (s *MongoProfileStore) SetStravaSync(ctx context.Context, userID string, sync *StravaSync) error {
	return s.PatchDaily(ctx, userID, map[string]interface{}{
		"stravaRecentCalories": sync.TotalCalories,
		"stravaLastSync":       sync.LastSync,
		"stravaRefreshToken":   sync.RefreshToken,
	})
}

// ClearStravaToken degrades the account to "disconnected". The cached
// aggregate stays so the UI can keep showing the last known value.
func (s *MongoProfileStore) ClearStravaToken(ctx context.Context, userID string) error {
	_, err := s.col().UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$unset": bson.M{"daily.stravaRefreshToken": ""},
			"$set":   bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	return err
}

// Watch opens a change stream on the user's document and delivers each
// new state as a snapshot. The channel closes when ctx is cancelled or
// the stream breaks.
func (s *MongoProfileStore) Watch(ctx context.Context, userID string) (<-chan *models.UserProfile, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: userID}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := s.col().Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, err
	}

	ch := make(chan *models.UserProfile)
	go func() {
		defer close(ch)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var event struct {
				FullDocument models.UserProfile `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				log.Printf("profile watch: decode event for %s: %v", userID, err)
				continue
			}
			if event.FullDocument.ID == "" {
				// delete/invalidate events carry no full document
				continue
			}

			profile := event.FullDocument
			decryptStravaToken(&profile.Daily)
			profile.Normalize()

			select {
			case ch <- &profile:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			log.Printf("profile watch: stream error for %s: %v", userID, err)
		}
	}()

	return ch, nil
}

// encryptStravaToken / decryptStravaToken protect the long-lived refresh
// token at rest. When no ENCRYPTION_KEY is configured the token is stored
// as-is (same degradation the rest of the app uses for missing keys).
func encryptStravaToken(d *models.DailyState) {
	if d.StravaRefreshToken == "" {
		return
	}
	if enc, err := utils.Encrypt(d.StravaRefreshToken); err == nil {
		d.StravaRefreshToken = enc
	}
}

func decryptStravaToken(d *models.DailyState) {
	if d.StravaRefreshToken == "" {
		return
	}
	if dec, err := utils.Decrypt(d.StravaRefreshToken); err == nil && dec != "" {
		d.StravaRefreshToken = dec
	}
}
