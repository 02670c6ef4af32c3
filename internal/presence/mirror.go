package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/internal/domain"
)

// Mirror publishes presence transitions for other instances and for the read
// API. The local Registry stays authoritative for this instance's sockets.
type Mirror interface {
	Online(ctx context.Context, p domain.Presence) error
	Offline(ctx context.Context, userID string, lastSeen time.Time) error
	Lookup(ctx context.Context, userID string) (*domain.Presence, error)
	Close() error
}

// Redis key patterns:
// presence:user:{user_id}   HASH  status, custom_status, connections, last_seen, instance
// presence:online           SET<user_id>

const onlineSetKey = "presence:online"

func userKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

type redisMirror struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
}

// NewRedisMirror mirrors presence into Redis. A zero ttl keeps online
// records until the matching Offline.
func NewRedisMirror(client *redis.Client, instanceID string, ttl time.Duration) Mirror {
	return &redisMirror{client: client, instanceID: instanceID, ttl: ttl}
}

func (m *redisMirror) Online(ctx context.Context, p domain.Presence) error {
	key := userKey(p.UserID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(p.Status),
		"custom_status", p.CustomStatus,
		"connections", p.Connections,
		"last_seen", p.LastSeen.UnixMilli(),
		"instance", m.instanceID,
	)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	pipe.SAdd(ctx, onlineSetKey, p.UserID)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *redisMirror) Offline(ctx context.Context, userID string, lastSeen time.Time) error {
	key := userKey(userID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(domain.StatusOffline),
		"custom_status", "",
		"connections", 0,
		"last_seen", lastSeen.UnixMilli(),
	)
	pipe.Persist(ctx, key)
	pipe.SRem(ctx, onlineSetKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *redisMirror) Lookup(ctx context.Context, userID string) (*domain.Presence, error) {
	vals, err := m.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	p := &domain.Presence{
		UserID:       userID,
		Status:       domain.Status(vals["status"]),
		CustomStatus: vals["custom_status"],
	}
	p.Connections, _ = strconv.Atoi(vals["connections"])
	if ms, err := strconv.ParseInt(vals["last_seen"], 10, 64); err == nil {
		p.LastSeen = time.UnixMilli(ms).UTC()
	}
	p.Online = p.Status != domain.StatusOffline && p.Connections > 0
	return p, nil
}

func (m *redisMirror) Close() error {
	return m.client.Close()
}

type noopMirror struct{}

// NewNoopMirror returns a Mirror that records nothing.
func NewNoopMirror() Mirror { return noopMirror{} }

func (noopMirror) Online(context.Context, domain.Presence) error            { return nil }
func (noopMirror) Offline(context.Context, string, time.Time) error         { return nil }
func (noopMirror) Lookup(context.Context, string) (*domain.Presence, error) { return nil, nil }
func (noopMirror) Close() error                                             { return nil }
