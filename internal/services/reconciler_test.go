package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiviatgo/kiviatgo-backend/internal/models"
)

type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*models.UserProfile
	watchCh  chan *models.UserProfile
	watchErr error

	dailyWrites []models.DailyState
	syncWrites  []*StravaSync
	cleared     int
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		profiles: make(map[string]*models.UserProfile),
		watchCh:  make(chan *models.UserProfile),
	}
}

func (s *fakeProfileStore) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, models.ErrProfileNotFound
	}
	cp := *p
	cp.Normalize()
	return &cp, nil
}

func (s *fakeProfileStore) EnsureExists(ctx context.Context, seed *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[seed.ID]; !ok {
		s.profiles[seed.ID] = seed
	}
	return nil
}

func (s *fakeProfileStore) Patch(ctx context.Context, userID string, fields map[string]interface{}) error {
	return nil
}

func (s *fakeProfileStore) SetDaily(ctx context.Context, userID string, daily models.DailyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[userID]; ok {
		p.Daily = daily
	}
	s.dailyWrites = append(s.dailyWrites, daily)
	return nil
}

func (s *fakeProfileStore) PatchDaily(ctx context.Context, userID string, fields map[string]interface{}) error {
	return nil
}

func (s *fakeProfileStore) SetStravaSync(ctx context.Context, userID string, sync *StravaSync) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncWrites = append(s.syncWrites, sync)
	return nil
}

func (s *fakeProfileStore) ClearStravaToken(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	if p, ok := s.profiles[userID]; ok {
		p.Daily.StravaRefreshToken = ""
	}
	return nil
}

func (s *fakeProfileStore) Watch(ctx context.Context, userID string) (<-chan *models.UserProfile, error) {
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	out := make(chan *models.UserProfile)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-s.watchCh:
				if !ok {
					return
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *fakeProfileStore) syncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.syncWrites)
}

func (s *fakeProfileStore) clearedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

type fakeRefresher struct {
	mu     sync.Mutex
	calls  int
	result *StravaSync
	err    error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*StravaSync, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHub struct {
	ch chan *models.UserProfile
}

func newFakeHub() *fakeHub {
	return &fakeHub{ch: make(chan *models.UserProfile, 16)}
}

func (h *fakeHub) Publish(userID string, profile *models.UserProfile) {
	select {
	case h.ch <- profile:
	default:
	}
}

func (h *fakeHub) next(t *testing.T) *models.UserProfile {
	t.Helper()
	select {
	case p := <-h.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published snapshot")
		return nil
	}
}

func TestReconcileDailyResetsOnNewDay(t *testing.T) {
	daily := models.DailyState{
		CaloriesConsumed:     1800,
		ProteinConsumed:      120,
		PhotosCount:          5,
		PhotosDate:           "2025-06-14",
		LastResetDate:        "2025-06-14",
		CaloriesTarget:       2200,
		ProteinTarget:        150,
		TargetWeight:         80.5,
		StravaRefreshToken:   "rt",
		StravaRecentCalories: 400,
		StravaLastSync:       "2025-06-14T18:00:00Z",
	}

	got, reset := ReconcileDaily(daily, "2025-06-15")
	require.True(t, reset)

	assert.Equal(t, 0, got.CaloriesConsumed)
	assert.Equal(t, 0, got.ProteinConsumed)
	assert.Equal(t, 0, got.PhotosCount)
	assert.Equal(t, "2025-06-15", got.PhotosDate)
	assert.Equal(t, "2025-06-15", got.LastResetDate)

	// Targets and the Strava link survive the reset.
	assert.Equal(t, 2200, got.CaloriesTarget)
	assert.Equal(t, 150, got.ProteinTarget)
	assert.Equal(t, 80.5, got.TargetWeight)
	assert.Equal(t, "rt", got.StravaRefreshToken)
	assert.Equal(t, 400, got.StravaRecentCalories)
	assert.Equal(t, "2025-06-14T18:00:00Z", got.StravaLastSync)
}

func TestReconcileDailyIdempotent(t *testing.T) {
	daily := models.DailyState{
		CaloriesConsumed: 900,
		LastResetDate:    "2025-06-14",
	}

	first, reset := ReconcileDaily(daily, "2025-06-15")
	require.True(t, reset)

	second, reset := ReconcileDaily(first, "2025-06-15")
	assert.False(t, reset)
	assert.Equal(t, first, second)
}

func TestReconcileDailySameDayKeepsCounters(t *testing.T) {
	daily := models.DailyState{
		CaloriesConsumed: 900,
		ProteinConsumed:  60,
		PhotosCount:      3,
		PhotosDate:       "2025-06-15",
		LastResetDate:    "2025-06-15",
	}

	got, reset := ReconcileDaily(daily, "2025-06-15")
	assert.False(t, reset)
	assert.Equal(t, daily, got)
}

func TestReconcileDailyStampsMissingPhotosDate(t *testing.T) {
	daily := models.DailyState{LastResetDate: "2025-06-15"}

	got, reset := ReconcileDaily(daily, "2025-06-15")
	assert.False(t, reset)
	assert.Equal(t, "2025-06-15", got.PhotosDate)
}

func TestNeedsStravaSync(t *testing.T) {
	today := "2025-06-15"
	todayStamp := time.Date(2025, 6, 15, 8, 0, 0, 0, time.Local).Format(time.RFC3339)

	tests := []struct {
		name  string
		daily models.DailyState
		want  bool
	}{
		{"not connected", models.DailyState{StravaLastSync: "2025-06-01T00:00:00Z"}, false},
		{"synced today", models.DailyState{StravaRefreshToken: "rt", StravaLastSync: todayStamp}, false},
		{"synced yesterday", models.DailyState{StravaRefreshToken: "rt", StravaLastSync: "2025-06-14T22:00:00Z"}, true},
		{"never synced", models.DailyState{StravaRefreshToken: "rt"}, true},
		{"unparseable stamp", models.DailyState{StravaRefreshToken: "rt", StravaLastSync: "not-a-date"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NeedsStravaSync(tc.daily, today))
		})
	}
}

func TestSyncDate(t *testing.T) {
	stamp := time.Date(2025, 6, 15, 8, 0, 0, 0, time.Local)
	assert.Equal(t, "2025-06-15", syncDate(stamp.Format(time.RFC3339)))
	assert.Equal(t, "2025-06-15", syncDate("2025-06-15 08:00:00"))
	assert.Equal(t, epochDate, syncDate(""))
	assert.Equal(t, epochDate, syncDate("garbage"))
	assert.Equal(t, epochDate, syncDate("short"))
}

func TestSyncStravaEvictsRejectedToken(t *testing.T) {
	store := newFakeProfileStore()
	store.profiles["u1"] = &models.UserProfile{
		ID:    "u1",
		Daily: models.DailyState{StravaRefreshToken: "revoked"},
	}
	refresher := &fakeRefresher{err: &StravaUpstreamError{Message: "Strava refresh token error: Bad Request"}}
	rec := NewReconciler(store, refresher, newFakeHub())

	err := rec.syncStrava(context.Background(), "u1", "revoked")
	require.Error(t, err)

	assert.Equal(t, 1, store.clearedCount())
	assert.Equal(t, 0, store.syncCount())
	assert.Empty(t, store.profiles["u1"].Daily.StravaRefreshToken)
}

func TestSyncStravaKeepsTokenOnTransientError(t *testing.T) {
	store := newFakeProfileStore()
	refresher := &fakeRefresher{err: errors.New("connection refused")}
	rec := NewReconciler(store, refresher, newFakeHub())

	err := rec.syncStrava(context.Background(), "u1", "rt")
	require.Error(t, err)

	assert.Equal(t, 0, store.clearedCount())
	assert.Equal(t, 0, store.syncCount())
}

func TestSyncStravaDiscardsResultAfterCancel(t *testing.T) {
	store := newFakeProfileStore()
	refresher := &fakeRefresher{result: &StravaSync{TotalCalories: 500, RefreshToken: "next"}}
	rec := NewReconciler(store, refresher, newFakeHub())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rec.syncStrava(ctx, "u1", "rt")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.syncCount())
}

func TestSubscribeResetsAndSyncsOnce(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, time.Local)
	today := now.Format("2006-01-02")

	store := newFakeProfileStore()
	store.profiles["u1"] = &models.UserProfile{
		ID: "u1",
		Daily: models.DailyState{
			CaloriesConsumed:   1500,
			ProteinConsumed:    90,
			LastResetDate:      "2025-06-14",
			CaloriesTarget:     2000,
			StravaRefreshToken: "rt",
			StravaLastSync:     "2025-06-14T20:00:00Z",
		},
	}
	refresher := &fakeRefresher{result: &StravaSync{
		TotalCalories: 320,
		LastSync:      now.UTC().Format(time.RFC3339),
		RefreshToken:  "rt2",
	}}
	hub := newFakeHub()

	rec := NewReconciler(store, refresher, hub)
	rec.now = func() time.Time { return now }

	rec.Subscribe("u1")
	defer rec.Unsubscribe("u1")

	snapshot := hub.next(t)
	assert.Equal(t, 0, snapshot.Daily.CaloriesConsumed)
	assert.Equal(t, 0, snapshot.Daily.ProteinConsumed)
	assert.Equal(t, today, snapshot.Daily.LastResetDate)
	assert.Equal(t, 2000, snapshot.Daily.CaloriesTarget)
	assert.True(t, snapshot.StravaConnected)

	// Reset was written back, and the stale lastSync triggered one sync.
	require.Eventually(t, func() bool { return store.syncCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, refresher.callCount())

	// A later snapshot on the same day with a fresh lastSync does not sync again.
	store.mu.Lock()
	updated := *store.profiles["u1"]
	store.mu.Unlock()
	updated.Daily.StravaLastSync = now.UTC().Format(time.RFC3339)
	updated.Daily.LastResetDate = today
	store.watchCh <- &updated

	hub.next(t)
	assert.Equal(t, 1, refresher.callCount())
	require.NotEmpty(t, store.dailyWrites)
	assert.Equal(t, today, store.dailyWrites[0].LastResetDate)
}

func TestSubscribeSeedsMissingProfile(t *testing.T) {
	store := newFakeProfileStore()
	hub := newFakeHub()
	rec := NewReconciler(store, &fakeRefresher{}, hub)

	rec.Subscribe("new-user")
	defer rec.Unsubscribe("new-user")

	snapshot := hub.next(t)
	assert.Equal(t, "new-user", snapshot.ID)
	assert.False(t, snapshot.StravaConnected)

	store.mu.Lock()
	_, seeded := store.profiles["new-user"]
	store.mu.Unlock()
	assert.True(t, seeded)
}

func TestUnsubscribeTearsDownSession(t *testing.T) {
	store := newFakeProfileStore()
	store.profiles["u1"] = &models.UserProfile{
		ID:    "u1",
		Daily: models.DailyState{LastResetDate: time.Now().Format("2006-01-02")},
	}
	hub := newFakeHub()
	rec := NewReconciler(store, &fakeRefresher{}, hub)

	rec.Subscribe("u1")
	hub.next(t)
	require.Eventually(t, func() bool { return rec.State("u1") == StateSynced }, 2*time.Second, 10*time.Millisecond)

	rec.Unsubscribe("u1")
	assert.Equal(t, StateSignedOut, rec.State("u1"))
	assert.Nil(t, rec.Current("u1"))
}

func TestSyncNowRequiresConnection(t *testing.T) {
	store := newFakeProfileStore()
	store.profiles["u1"] = &models.UserProfile{ID: "u1"}
	rec := NewReconciler(store, &fakeRefresher{}, newFakeHub())

	err := rec.SyncNow(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Strava connection")
}

func TestSyncNowPersistsResult(t *testing.T) {
	store := newFakeProfileStore()
	store.profiles["u1"] = &models.UserProfile{
		ID:    "u1",
		Daily: models.DailyState{StravaRefreshToken: "rt"},
	}
	refresher := &fakeRefresher{result: &StravaSync{TotalCalories: 210, RefreshToken: "rt2"}}
	rec := NewReconciler(store, refresher, newFakeHub())

	require.NoError(t, rec.SyncNow(context.Background(), "u1"))
	require.Equal(t, 1, store.syncCount())
	assert.Equal(t, 210, store.syncWrites[0].TotalCalories)
	assert.Equal(t, "rt2", store.syncWrites[0].RefreshToken)
}
