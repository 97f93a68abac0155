// Package cache mirrors presence into Redis so other services can read it
// without a socket connection.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PresenceRecord is the JSON value stored under a presence key.
type PresenceRecord struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

type PresenceMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPresenceMirror stores online keys with ttl so a crashed node does not
// leave users online forever. Offline keys do not expire.
func NewPresenceMirror(client *redis.Client, prefix string, ttl time.Duration) *PresenceMirror {
	return &PresenceMirror{client: client, prefix: prefix, ttl: ttl}
}

func (m *PresenceMirror) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", m.prefix, userID)
}

func (m *PresenceMirror) sessionsKey(userID string) string {
	return m.key(userID) + ":conns"
}

// sessionTTL bounds how long a count left behind by a crashed node survives.
const sessionTTL = 24 * time.Hour

var releaseScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
return n
`)

// Acquire records that this node holds a session for userID and returns the
// number of nodes holding one.
func (m *PresenceMirror) Acquire(ctx context.Context, userID string) (int64, error) {
	var incr *redis.IntCmd
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, m.sessionsKey(userID))
		pipe.Expire(ctx, m.sessionsKey(userID), sessionTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("acquire session %s: %w", userID, err)
	}
	return incr.Val(), nil
}

// Release drops this node's session and returns how many remain. The key is
// removed at zero so it never goes negative.
func (m *PresenceMirror) Release(ctx context.Context, userID string) (int64, error) {
	n, err := releaseScript.Run(ctx, m.client, []string{m.sessionsKey(userID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("release session %s: %w", userID, err)
	}
	return n, nil
}

func (m *PresenceMirror) Sessions(ctx context.Context, userID string) (int64, error) {
	n, err := m.client.Get(ctx, m.sessionsKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count sessions %s: %w", userID, err)
	}
	return n, nil
}

func (m *PresenceMirror) SetOnline(ctx context.Context, userID string) error {
	return m.set(ctx, userID, PresenceRecord{Status: StatusOnline}, m.ttl)
}

func (m *PresenceMirror) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	return m.set(ctx, userID, PresenceRecord{Status: StatusOffline, LastSeen: lastSeen.Unix()}, 0)
}

// Get returns the mirrored record; redis.Nil when the user was never seen.
func (m *PresenceMirror) Get(ctx context.Context, userID string) (PresenceRecord, error) {
	var rec PresenceRecord
	raw, err := m.client.Get(ctx, m.key(userID)).Bytes()
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(raw, &rec)
	return rec, err
}

func (m *PresenceMirror) set(ctx context.Context, userID string, rec PresenceRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.key(userID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("mirror presence %s: %w", userID, err)
	}
	return nil
}
