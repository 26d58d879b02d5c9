package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/kiviatgo/kiviatgo-backend/internal/models"
)

// SessionState is the lifecycle of one user's reconciliation session.
type SessionState string

const (
	StateSignedOut   SessionState = "signed_out"
	StateSubscribing SessionState = "subscribing"
	StateSynced      SessionState = "synced"
	StateError       SessionState = "error"
)

// epochDate is the fallback when a stored stravaLastSync can't be parsed:
// it compares unequal to any real day, so a sync is attempted.
const epochDate = "1970-01-01"

const localDateLayout = "2006-01-02"

// StravaRefresher is the slice of StravaService the reconciler needs.
type StravaRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*StravaSync, error)
}

// SnapshotPublisher receives every reconciled profile snapshot.
type SnapshotPublisher interface {
	Publish(userID string, profile *models.UserProfile)
}

// Reconciler keeps each signed-in user's profile document consistent:
// it subscribes to the document, zeroes the daily counters on the first
// snapshot of a new calendar day, and fires the at-most-once-daily
// background Strava sync. Every failure in here is logged and degraded,
// never fatal.
type Reconciler struct {
	store  ProfileStore
	strava StravaRefresher
	hub    SnapshotPublisher
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*profileSession
}

type profileSession struct {
	userID string
	cancel context.CancelFunc

	mu           sync.Mutex
	state        SessionState
	syncInFlight bool
	current      *models.UserProfile // last reconciled snapshot, in-memory fallback
}

func NewReconciler(store ProfileStore, strava StravaRefresher, hub SnapshotPublisher) *Reconciler {
	return &Reconciler{
		store:    store,
		strava:   strava,
		hub:      hub,
		now:      time.Now,
		sessions: make(map[string]*profileSession),
	}
}

// Subscribe opens a reconciliation session for the user, replacing any
// existing one. Replacing cancels the old session's context, so a
// background sync spawned by the old session discards its result.
func (r *Reconciler) Subscribe(userID string) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &profileSession{userID: userID, cancel: cancel, state: StateSubscribing}

	r.mu.Lock()
	if old, ok := r.sessions[userID]; ok {
		old.cancel()
	}
	r.sessions[userID] = sess
	r.mu.Unlock()

	go r.run(ctx, sess)
}

// EnsureSubscribed subscribes only if no session exists, e.g. when a
// still-valid session token arrives after a server restart.
func (r *Reconciler) EnsureSubscribed(userID string) {
	r.mu.Lock()
	_, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		r.Subscribe(userID)
	}
}

// Unsubscribe tears the session down on sign-out. In-flight background
// work is cancelled; a sync completing after this point is discarded.
func (r *Reconciler) Unsubscribe(userID string) {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()

	if ok {
		sess.cancel()
		sess.setState(StateSignedOut)
	}
}

// State returns the session state, StateSignedOut when no session exists.
func (r *Reconciler) State(userID string) SessionState {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return StateSignedOut
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// Current returns the last reconciled snapshot for the user, if any.
func (r *Reconciler) Current(userID string) *models.UserProfile {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.current
}

func (r *Reconciler) run(ctx context.Context, sess *profileSession) {
	userID := sess.userID
	today := r.today()

	profile, err := r.store.Get(ctx, userID)
	if errors.Is(err, models.ErrProfileNotFound) {
		// First sign-in from an account with no document yet: seed a
		// minimal one. If even that fails we still serve the in-memory
		// fallback so the UI stays usable.
		seed := models.NewMinimalProfile(userID, "", "", "", today)
		if err := r.store.EnsureExists(ctx, seed); err != nil {
			log.Printf("reconciler: seeding profile for %s: %v", userID, err)
		}
		profile = seed
	} else if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("reconciler: loading profile for %s: %v", userID, err)
		sess.setState(StateError)
		fallback := models.NewMinimalProfile(userID, "", "", "", today)
		sess.setCurrent(fallback)
		r.hub.Publish(userID, fallback)
		return
	}

	r.handleSnapshot(ctx, sess, profile)

	snapshots, err := r.store.Watch(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// No realtime updates, but the initial snapshot already went out.
		log.Printf("reconciler: watch failed for %s: %v", userID, err)
		sess.setState(StateError)
		return
	}

	sess.setState(StateSynced)
	for snapshot := range snapshots {
		r.handleSnapshot(ctx, sess, snapshot)
	}

	if ctx.Err() == nil {
		sess.setState(StateError)
	}
}

// handleSnapshot runs the synchronous reconciliation pass for one
// delivery of the document state.
func (r *Reconciler) handleSnapshot(ctx context.Context, sess *profileSession, profile *models.UserProfile) {
	today := r.today()

	daily, reset := ReconcileDaily(profile.Daily, today)
	// Update the in-memory view optimistically; if the write below fails
	// the UI still sees zeroed counters for the new day.
	profile.Daily = daily
	profile.Normalize()

	if reset {
		if err := r.store.SetDaily(ctx, sess.userID, daily); err != nil && ctx.Err() == nil {
			log.Printf("reconciler: daily reset write failed for %s: %v", sess.userID, err)
		}
	}

	if NeedsStravaSync(daily, today) && sess.beginSync() {
		go func(token string) {
			defer sess.endSync()
			r.syncStrava(ctx, sess.userID, token)
		}(daily.StravaRefreshToken)
	}

	sess.setCurrent(profile)
	r.hub.Publish(sess.userID, profile)
}

// SyncNow is the manual "Resync" action. It shares the in-flight guard
// with the background path, so a running sync makes this a no-op.
func (r *Reconciler) SyncNow(ctx context.Context, userID string) error {
	profile := r.Current(userID)
	if profile == nil {
		p, err := r.store.Get(ctx, userID)
		if err != nil {
			return err
		}
		profile = p
	}
	if !profile.Daily.StravaConnected() {
		return errors.New("no Strava connection")
	}

	r.mu.Lock()
	sess, ok := r.sessions[userID]
	r.mu.Unlock()
	if ok {
		if !sess.beginSync() {
			return nil // already syncing
		}
		defer sess.endSync()
	}

	return r.syncStrava(ctx, userID, profile.Daily.StravaRefreshToken)
}

// syncStrava performs one refresh-token exchange and merges the result
// into the profile document. On a token rejection the stored credential
// is evicted so the account degrades to "disconnected" instead of
// retrying in a loop.
func (r *Reconciler) syncStrava(ctx context.Context, userID, refreshToken string) error {
	result, err := r.strava.Refresh(ctx, refreshToken)
	if err != nil {
		var upstream *StravaUpstreamError
		if errors.As(err, &upstream) && strings.Contains(strings.ToLower(upstream.Message), "refresh token") {
			log.Printf("reconciler: Strava refresh token rejected for %s, disconnecting", userID)
			if clearErr := r.store.ClearStravaToken(ctx, userID); clearErr != nil && ctx.Err() == nil {
				log.Printf("reconciler: clearing Strava token for %s: %v", userID, clearErr)
			}
			return err
		}
		if ctx.Err() == nil {
			log.Printf("reconciler: Strava sync failed for %s: %v", userID, err)
		}
		return err
	}

	if ctx.Err() != nil {
		// Signed out while the exchange was in flight: discard the result.
		return ctx.Err()
	}

	if err := r.store.SetStravaSync(ctx, userID, result); err != nil {
		log.Printf("reconciler: persisting Strava sync for %s: %v", userID, err)
		return err
	}
	return nil
}

func (r *Reconciler) today() string {
	return r.now().Format(localDateLayout)
}

// ReconcileDaily is the pure daily-reset step. On a new calendar day the
// consumption and photo counters are zeroed and the day stamped; targets
// and the Strava link are preserved. Re-running it on an already-reset
// state is a no-op, so repeated application (and racing tabs) converge.
func ReconcileDaily(daily models.DailyState, today string) (models.DailyState, bool) {
	if daily.LastResetDate != today {
		daily.CaloriesConsumed = 0
		daily.ProteinConsumed = 0
		daily.PhotosCount = 0
		daily.PhotosDate = today
		daily.LastResetDate = today
		return daily, true
	}

	if daily.PhotosDate == "" {
		daily.PhotosDate = today
	}
	return daily, false
}

// NeedsStravaSync reports whether the at-most-once-daily background sync
// should fire: a refresh token is stored and the last sync was not today.
func NeedsStravaSync(daily models.DailyState, today string) bool {
	if !daily.StravaConnected() {
		return false
	}
	return syncDate(daily.StravaLastSync) != today
}

// syncDate reduces a stored lastSync value to a calendar date, falling
// back to the epoch when it is missing or unparseable.
func syncDate(lastSync string) string {
	if lastSync == "" {
		return epochDate
	}
	if t, err := time.Parse(time.RFC3339, lastSync); err == nil {
		return t.Local().Format(localDateLayout)
	}
	if len(lastSync) >= len(localDateLayout) {
		if t, err := time.Parse(localDateLayout, lastSync[:len(localDateLayout)]); err == nil {
			return t.Format(localDateLayout)
		}
	}
	return epochDate
}

func (s *profileSession) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *profileSession) setCurrent(p *models.UserProfile) {
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
}

func (s *profileSession) beginSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInFlight {
		return false
	}
	s.syncInFlight = true
	return true
}

func (s *profileSession) endSync() {
	s.mu.Lock()
	s.syncInFlight = false
	s.mu.Unlock()
}
