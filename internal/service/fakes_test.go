package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/weiawesome/wes-io-live/internal/client"
	"github.com/weiawesome/wes-io-live/internal/config"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/internal/membership"
	"github.com/weiawesome/wes-io-live/internal/presence"
	"github.com/weiawesome/wes-io-live/internal/scheduler"
	"github.com/weiawesome/wes-io-live/internal/store"
)

var errStoreDown = errors.New("store down")

// fakeStore is an in-memory store.Store. Setting a fail* field makes the
// matching call return it.
type fakeStore struct {
	mu            sync.Mutex
	roles         map[string]map[string]string // group -> user -> role
	todos         map[string]string
	messages      map[string]domain.Message
	reactions     map[string]bool
	reads         map[string]time.Time
	notifications []domain.Notification
	calls         map[string]domain.CallSession

	failGroups        error
	failCreateMessage error

	// One-shot hooks run after the call has read its result, outside mu.
	onAuthorizedGroups  func()
	onIsGroupAuthorized func()
	onGetMessage        func()
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:     make(map[string]map[string]string),
		todos:     make(map[string]string),
		messages:  make(map[string]domain.Message),
		reactions: make(map[string]bool),
		reads:     make(map[string]time.Time),
		calls:     make(map[string]domain.CallSession),
	}
}

func (s *fakeStore) addMember(groupID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[groupID] == nil {
		s.roles[groupID] = make(map[string]string)
	}
	s.roles[groupID][userID] = role
}

func (s *fakeStore) removeMember(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles[groupID], userID)
}

// arm installs a one-shot hook.
func (s *fakeStore) arm(hook *func(), fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*hook = fn
}

// takeHook clears and returns *hook. Callers hold mu.
func takeHook(hook *func()) func() {
	h := *hook
	*hook = nil
	if h == nil {
		return func() {}
	}
	return h
}

func (s *fakeStore) addTodo(todoID, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos[todoID] = groupID
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeStore) message(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok
}

func (s *fakeStore) notificationsFor(userID string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (s *fakeStore) call(id string) (domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	return c, ok
}

func (s *fakeStore) AuthorizedGroups(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	if s.failGroups != nil {
		s.mu.Unlock()
		return nil, s.failGroups
	}
	var out []string
	for g, users := range s.roles {
		if _, ok := users[userID]; ok {
			out = append(out, g)
		}
	}
	hook := takeHook(&s.onAuthorizedGroups)
	s.mu.Unlock()
	hook()
	sort.Strings(out)
	return out, nil
}

func (s *fakeStore) IsGroupAuthorized(_ context.Context, userID, groupID string) (bool, error) {
	s.mu.Lock()
	_, ok := s.roles[groupID][userID]
	hook := takeHook(&s.onIsGroupAuthorized)
	s.mu.Unlock()
	hook()
	return ok, nil
}

func (s *fakeStore) GroupRole(_ context.Context, userID, groupID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[groupID][userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return role, nil
}

func (s *fakeStore) ResourceGroup(_ context.Context, todoID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.todos[todoID]
	if !ok {
		return "", store.ErrNotFound
	}
	return g, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateMessage != nil {
		return s.failCreateMessage
	}
	s.messages[msg.ID] = *msg
	return nil
}

func (s *fakeStore) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	m, ok := s.messages[id]
	hook := takeHook(&s.onGetMessage)
	s.mu.Unlock()
	hook()
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *fakeStore) UpdateMessageContent(_ context.Context, id, content string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return store.ErrNotFound
	}
	m.Content = content
	m.EditedAt = &editedAt
	s.messages[id] = m
	return nil
}

func (s *fakeStore) SoftDeleteMessage(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return false, nil
	}
	m.Deleted = true
	m.DeletedAt = &at
	m.Content = ""
	m.Attachments = nil
	s.messages[id] = m
	return true, nil
}

func (s *fakeStore) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted || m.State != domain.MessagePending {
		return false, nil
	}
	m.State = domain.MessageSent
	m.DeliveredAt = &at
	s.messages[id] = m
	return true, nil
}

func (s *fakeStore) PendingScheduled(context.Context) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for _, m := range s.messages {
		if m.State == domain.MessagePending && !m.Deleted && m.ScheduledAt != nil {
			m := m
			out = append(out, &m)
		}
	}
	return out, nil
}

func (s *fakeStore) PendingSelfDestruct(context.Context) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for _, m := range s.messages {
		if !m.Deleted && m.SelfDestructAt != nil {
			m := m
			out = append(out, &m)
		}
	}
	return out, nil
}

func (s *fakeStore) AddReaction(_ context.Context, r *domain.Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := r.MessageID + "|" + r.UserID + "|" + r.Emoji
	if s.reactions[k] {
		return false, nil
	}
	s.reactions[k] = true
	return true, nil
}

func (s *fakeStore) RemoveReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := messageID + "|" + userID + "|" + emoji
	if !s.reactions[k] {
		return false, nil
	}
	delete(s.reactions, k)
	return true, nil
}

func (s *fakeStore) MarkRead(_ context.Context, userID string, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.reads[id+"|"+userID] = at
	}
	return nil
}

func (s *fakeStore) CreateNotification(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *fakeStore) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Notification
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := s.notifications[i]
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, &n)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateCall(_ context.Context, c *domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[c.ID] = *c
	return nil
}

func (s *fakeStore) UpdateCall(_ context.Context, c *domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[c.ID] = *c
	return nil
}

func (s *fakeStore) GetCall(_ context.Context, id string) (*domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *fakeStore) ExpireStaleCalls(_ context.Context, before, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.calls {
		if c.State == domain.CallInitiating && c.CreatedAt.Before(before) {
			c.End("", domain.EndReasonTimeout, at)
			s.calls[id] = c
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

// fakeValidator accepts "tok-<user>" tokens.
type fakeValidator struct{}

func (fakeValidator) ValidateToken(_ context.Context, token string) (*client.AuthResult, error) {
	user, ok := strings.CutPrefix(token, "tok-")
	if !ok || user == "" {
		return &client.AuthResult{Error: "invalid token"}, nil
	}
	return &client.AuthResult{Valid: true, UserID: user, Username: "name-" + user}, nil
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}
}

func newTestEngine(t *testing.T, st *fakeStore, cfg Config) *engine {
	t.Helper()
	if cfg.TypingExpiry == 0 {
		cfg.TypingExpiry = time.Minute
	}
	if cfg.OfferTimeout == 0 {
		cfg.OfferTimeout = time.Minute
	}
	e := newEngine(Deps{
		Hub:       hub.NewHub(testWSConfig()),
		Auth:      fakeValidator{},
		Store:     st,
		Index:     membership.NewIndex(),
		Presence:  presence.NewRegistry(),
		Scheduler: scheduler.New(),
	}, cfg)
	t.Cleanup(func() {
		e.scheduler.Shutdown(context.Background())
		e.tasks.Wait()
	})
	return e
}

// connect registers and authenticates a socketless client, then discards
// the frames it received while doing so.
func connect(t *testing.T, e *engine, connID, userID string) *hub.Client {
	t.Helper()
	c := hub.NewClient(connID, e.hub, nil, testWSConfig())
	e.hub.Register(c)
	if err := e.HandleAuthenticate(context.Background(), c, &domain.AuthenticateMessage{Token: "tok-" + userID}); err != nil {
		t.Fatalf("authenticate %s: %v", userID, err)
	}
	drain(c)
	return c
}

type frame map[string]any

func (f frame) str(key string) string {
	s, _ := f[key].(string)
	return s
}

// drain returns every frame queued for c.
func drain(c *hub.Client) []frame {
	var out []frame
	for {
		select {
		case data := <-c.Send:
			var f frame
			json.Unmarshal(data, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

func framesOfType(frames []frame, typ string) []frame {
	var out []frame
	for _, f := range frames {
		if f.str("type") == typ {
			out = append(out, f)
		}
	}
	return out
}

// waitFrame blocks until c receives a frame of typ, discarding others.
func waitFrame(t *testing.T, c *hub.Client, typ string) frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.Send:
			var f frame
			json.Unmarshal(data, &f)
			if f.str("type") == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("%s: no %s frame", c.ID, typ)
			return nil
		}
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	if !domain.HasCode(err, code) {
		t.Fatalf("err = %v, want code %s", err, code)
	}
}
