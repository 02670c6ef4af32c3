// Package dedup suppresses retransmitted messages inside a sliding window.
package dedup

import (
	"context"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// DefaultWindow is the retransmission window.
const DefaultWindow = 5 * time.Second

// Window remembers fingerprints for a fixed duration.
type Window interface {
	// Seen records fp and reports whether it was already present.
	Seen(ctx context.Context, fp string) (bool, error)
	// Forget removes fp so a failed send can be retried.
	Forget(ctx context.Context, fp string) error
}

// Fingerprint hashes the parts of a message that identify a retransmission.
// Attachment keys are order-insensitive.
func Fingerprint(senderID, room, content string, attachmentKeys []string) string {
	keys := append([]string(nil), attachmentKeys...)
	sort.Strings(keys)

	h, _ := blake2b.New256(nil)
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(senderID)
	write(room)
	write(content)
	for _, k := range keys {
		write(k)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type memoryWindow struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
	lastGC  time.Time
}

// NewMemoryWindow keeps fingerprints in process memory.
func NewMemoryWindow(ttl time.Duration) Window {
	if ttl <= 0 {
		ttl = DefaultWindow
	}
	return &memoryWindow{ttl: ttl, entries: make(map[string]time.Time), now: time.Now}
}

func (w *memoryWindow) Seen(_ context.Context, fp string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if now.Sub(w.lastGC) > w.ttl {
		for k, exp := range w.entries {
			if !now.Before(exp) {
				delete(w.entries, k)
			}
		}
		w.lastGC = now
	}
	if exp, ok := w.entries[fp]; ok && now.Before(exp) {
		return true, nil
	}
	w.entries[fp] = now.Add(w.ttl)
	return false, nil
}

func (w *memoryWindow) Forget(_ context.Context, fp string) error {
	w.mu.Lock()
	delete(w.entries, fp)
	w.mu.Unlock()
	return nil
}

type redisWindow struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisWindow shares the window between instances with SET NX PX.
func NewRedisWindow(client *redis.Client, prefix string, ttl time.Duration) Window {
	if ttl <= 0 {
		ttl = DefaultWindow
	}
	if prefix == "" {
		prefix = "dedup:"
	}
	return &redisWindow{client: client, prefix: prefix, ttl: ttl}
}

func (w *redisWindow) Seen(ctx context.Context, fp string) (bool, error) {
	ok, err := w.client.SetNX(ctx, w.prefix+fp, 1, w.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (w *redisWindow) Forget(ctx context.Context, fp string) error {
	return w.client.Del(ctx, w.prefix+fp).Err()
}
