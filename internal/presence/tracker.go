// Package presence turns connection count edges into online/offline
// transitions.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"convohub/internal/keylock"
	"convohub/internal/models"
	"convohub/internal/observability"
)

// UserStore persists the derived online flag.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error
}

// Broadcaster delivers presence events to every connection but the subject's.
type Broadcaster interface {
	Global(exceptUserID string, env models.Envelope)
}

// ConnCounter reports the live connections of a user on this node.
type ConnCounter interface {
	Count(userID string) int
}

// Mirror publishes presence to a shared cache.
type Mirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

// Sessions counts, across every node, the nodes holding at least one
// connection of a user. Acquire and Release return the count after the change.
type Sessions interface {
	Acquire(ctx context.Context, userID string) (int64, error)
	Release(ctx context.Context, userID string) (int64, error)
	Sessions(ctx context.Context, userID string) (int64, error)
}

type Tracker struct {
	store    UserStore
	hub      Broadcaster
	conns    ConnCounter
	mirror   Mirror
	sessions Sessions
	grace  time.Duration
	log    *zap.Logger
	now    func() time.Time
	locks  *keylock.Locker

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewTracker builds a tracker. A positive grace defers the offline
// transition; a reconnect inside the window cancels it.
func NewTracker(store UserStore, hub Broadcaster, conns ConnCounter, grace time.Duration, log *zap.Logger) *Tracker {
	return &Tracker{
		store:   store,
		hub:     hub,
		conns:   conns,
		grace:   grace,
		log:     log,
		now:     time.Now,
		locks:   keylock.New(),
		pending: make(map[string]*time.Timer),
	}
}

func (t *Tracker) SetMirror(m Mirror) {
	t.mirror = m
}

// SetSessions makes transitions cluster-wide: a user goes online on the
// first node to admit them and offline when the last node releases them.
func (t *Tracker) SetSessions(s Sessions) {
	t.sessions = s
}

// Connected handles an admission. Only the first connection of a user
// transitions them online.
func (t *Tracker) Connected(ctx context.Context, userID string, first bool) {
	if !first {
		return
	}
	// The node-level session was never released.
	if t.cancelPending(userID) {
		observability.IncPresenceTransition("reconnect")
		return
	}
	if t.sessions != nil {
		n, err := t.sessions.Acquire(ctx, userID)
		if err != nil {
			t.log.Warn("presence acquire session", zap.String("user_id", userID), zap.Error(err))
		} else if n > 1 {
			observability.IncPresenceTransition("other_node")
			return
		}
	}
	t.goOnline(ctx, userID)
}

// Disconnected handles a closed connection. Only the last one counts.
func (t *Tracker) Disconnected(ctx context.Context, userID string, last bool) {
	if !last {
		return
	}
	if t.grace <= 0 {
		t.release(ctx, userID)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.pending[userID]; ok {
		timer.Stop()
	}
	t.pending[userID] = time.AfterFunc(t.grace, func() { t.expire(userID) })
}

// Close stops pending offline timers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for userID, timer := range t.pending {
		timer.Stop()
		delete(t.pending, userID)
	}
}

func (t *Tracker) cancelPending(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.pending[userID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.pending, userID)
	return true
}

func (t *Tracker) expire(userID string) {
	t.mu.Lock()
	_, ok := t.pending[userID]
	delete(t.pending, userID)
	t.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	t.release(ctx, userID)
}

// release gives up this node's session and goes offline if it was the last.
func (t *Tracker) release(ctx context.Context, userID string) {
	if t.sessions != nil {
		n, err := t.sessions.Release(ctx, userID)
		if err != nil {
			t.log.Warn("presence release session", zap.String("user_id", userID), zap.Error(err))
		} else if n > 0 {
			return
		}
	}
	t.goOffline(ctx, userID)
}

func (t *Tracker) goOnline(ctx context.Context, userID string) {
	unlock := t.locks.Lock(userID)
	defer unlock()
	if t.conns.Count(userID) == 0 {
		return
	}

	if err := t.store.SetOnline(ctx, userID, true, nil); err != nil {
		t.log.Error("presence set online", zap.String("user_id", userID), zap.Error(err))
	}
	if t.mirror != nil {
		if err := t.mirror.SetOnline(ctx, userID); err != nil {
			t.log.Warn("presence mirror online", zap.String("user_id", userID), zap.Error(err))
		}
	}
	user := t.summary(ctx, userID)
	user.IsOnline = true
	t.hub.Global(userID, models.MustEnvelope(models.EventUserOnline, models.PresenceEvent{UserID: userID, User: user}))
	observability.IncPresenceTransition("online")
}

// goOffline skips users that reconnected while the transition was queued,
// on this node or another.
func (t *Tracker) goOffline(ctx context.Context, userID string) {
	unlock := t.locks.Lock(userID)
	defer unlock()
	if t.conns.Count(userID) > 0 {
		return
	}
	if t.sessions != nil {
		if n, err := t.sessions.Sessions(ctx, userID); err == nil && n > 0 {
			return
		}
	}

	lastSeen := t.now().UTC()
	if err := t.store.SetOnline(ctx, userID, false, &lastSeen); err != nil {
		t.log.Error("presence set offline", zap.String("user_id", userID), zap.Error(err))
	}
	if t.mirror != nil {
		if err := t.mirror.SetOffline(ctx, userID, lastSeen); err != nil {
			t.log.Warn("presence mirror offline", zap.String("user_id", userID), zap.Error(err))
		}
	}
	user := t.summary(ctx, userID)
	user.IsOnline = false
	user.LastSeen = &lastSeen
	t.hub.Global(userID, models.MustEnvelope(models.EventUserOffline, models.PresenceEvent{UserID: userID, User: user, LastSeen: &lastSeen}))
	observability.IncPresenceTransition("offline")
}

func (t *Tracker) summary(ctx context.Context, userID string) models.UserSummary {
	user, err := t.store.GetUser(ctx, userID)
	if err != nil {
		return models.UnknownUser(userID)
	}
	return user.Summary()
}
