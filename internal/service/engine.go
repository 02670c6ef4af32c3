package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/internal/audit"
	"github.com/weiawesome/wes-io-live/internal/client"
	"github.com/weiawesome/wes-io-live/internal/dedup"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/internal/kafka"
	"github.com/weiawesome/wes-io-live/internal/membership"
	"github.com/weiawesome/wes-io-live/internal/metrics"
	"github.com/weiawesome/wes-io-live/internal/presence"
	"github.com/weiawesome/wes-io-live/internal/scheduler"
	"github.com/weiawesome/wes-io-live/internal/store"
	"github.com/weiawesome/wes-io-live/internal/typing"
	"github.com/weiawesome/wes-io-live/pkg/idgen"
	"github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/pkg/storage"
	"github.com/weiawesome/wes-io-live/pkg/telemetry"
)

// Config tunes the engine.
type Config struct {
	MaxContentLength  int
	MaxAttachments    int
	VerifyAttachments bool
	TypingExpiry      time.Duration
	OfferTimeout      time.Duration
	RoomLockStripes   int
	EventsChannel     string
}

// Deps are the collaborators of the engine. Mirror, Dedup, Producer,
// Storage and Subscriber are optional.
type Deps struct {
	Hub        *hub.Hub
	Auth       client.TokenValidator
	Store      store.Store
	Index      *membership.Index
	Presence   *presence.Registry
	Mirror     presence.Mirror
	Dedup      dedup.Window
	Scheduler  *scheduler.Scheduler
	Producer   kafka.EventProducer
	Storage    storage.Storage
	IDs        idgen.Generator
	Subscriber pubsub.Subscriber
}

type engine struct {
	hub        *hub.Hub
	auth       client.TokenValidator
	store      store.Store
	index      *membership.Index
	presence   *presence.Registry
	mirror     presence.Mirror
	dedup      dedup.Window
	scheduler  *scheduler.Scheduler
	producer   kafka.EventProducer
	storage    storage.Storage
	ids        idgen.Generator
	subscriber pubsub.Subscriber
	typing     *typing.Tracker
	cfg        Config

	// roomLocks serialize persist and broadcast per room so every member
	// sees one room's messages in receipt order.
	roomLocks []sync.Mutex

	// todoGroups caches todo -> owning group; a todo never changes group.
	todoGroups sync.Map
	lookups    singleflight.Group

	calls sync.Map // callID -> *callEntry

	// revocations is bumped per user stripe before a revocation scans the
	// user's connections. See confirmAccess.
	revocations [256]atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	tasks  sync.WaitGroup // notification fan-out
	now    func() time.Time
}

func NewEngine(d Deps, cfg Config) Engine {
	return newEngine(d, cfg)
}

func newEngine(d Deps, cfg Config) *engine {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4000
	}
	if cfg.MaxAttachments <= 0 {
		cfg.MaxAttachments = 10
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = 30 * time.Second
	}
	if cfg.RoomLockStripes <= 0 {
		cfg.RoomLockStripes = 256
	}
	if cfg.EventsChannel == "" {
		cfg.EventsChannel = pubsub.ChannelServerEvents
	}
	if d.Mirror == nil {
		d.Mirror = presence.NewNoopMirror()
	}
	if d.Dedup == nil {
		d.Dedup = dedup.NewMemoryWindow(dedup.DefaultWindow)
	}
	if d.Producer == nil {
		d.Producer = kafka.NewNoopProducer()
	}
	if d.Scheduler == nil {
		d.Scheduler = scheduler.New()
	}
	if d.IDs == nil {
		d.IDs = idgen.ULID{}
	}

	e := &engine{
		hub:        d.Hub,
		auth:       d.Auth,
		store:      d.Store,
		index:      d.Index,
		presence:   d.Presence,
		mirror:     d.Mirror,
		dedup:      d.Dedup,
		scheduler:  d.Scheduler,
		producer:   d.Producer,
		storage:    d.Storage,
		ids:        d.IDs,
		subscriber: d.Subscriber,
		cfg:        cfg,
		roomLocks:  make([]sync.Mutex, cfg.RoomLockStripes),
		now:        func() time.Time { return time.Now().UTC() },
	}
	e.typing = typing.NewTracker(cfg.TypingExpiry, e.onTypingExpired)
	return e
}

var tracer = telemetry.Tracer("github.com/weiawesome/wes-io-live/internal/service")

func (e *engine) lockRoom(room domain.RoomKey) func() {
	mu := &e.roomLocks[xxhash.Sum64String(room.String())%uint64(len(e.roomLocks))]
	mu.Lock()
	return mu.Unlock
}

func (e *engine) newID() (string, error) {
	id, err := e.ids.Generate()
	if err != nil {
		return "", domain.Internal(err, "failed to generate id")
	}
	return id, nil
}

// broadcastRoom delivers v to every connection in room except exclude.
func (e *engine) broadcastRoom(room domain.RoomKey, v interface{}, exclude string) int {
	data, err := json.Marshal(v)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoom, room.String()).Msg("failed to encode broadcast")
		return 0
	}
	n := e.hub.BroadcastRaw(e.index.Members(room), data, exclude)
	metrics.BroadcastFanout.Observe(float64(n))
	return n
}

// broadcastRooms delivers v once to every connection found in any of rooms.
func (e *engine) broadcastRooms(rooms []domain.RoomKey, v interface{}, exclude string) int {
	if len(rooms) == 0 {
		return 0
	}
	data, err := json.Marshal(v)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Msg("failed to encode broadcast")
		return 0
	}
	seen := make(map[string]struct{})
	var targets []string
	for _, room := range rooms {
		for _, id := range e.index.Members(room) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, id)
		}
	}
	return e.hub.BroadcastRaw(targets, data, exclude)
}

// sendToUser delivers v to every live connection of userID through the
// user's invitation room.
func (e *engine) sendToUser(userID string, v interface{}) int {
	return e.broadcastRoom(domain.InvitationRoom(userID), v, "")
}

// groupRoomsOf returns the group rooms the user's connections are in.
func (e *engine) groupRoomsOf(userID string) []domain.RoomKey {
	seen := make(map[domain.RoomKey]struct{})
	var out []domain.RoomKey
	for _, conn := range e.presence.Connections(userID) {
		for _, room := range e.index.RoomsOf(conn) {
			if room.Kind != domain.RoomGroup {
				continue
			}
			if _, ok := seen[room]; ok {
				continue
			}
			seen[room] = struct{}{}
			out = append(out, room)
		}
	}
	return out
}

// resourceGroup resolves the owning group of todoID, collapsing concurrent
// lookups for the same todo.
func (e *engine) resourceGroup(ctx context.Context, todoID string) (string, error) {
	if v, ok := e.todoGroups.Load(todoID); ok {
		return v.(string), nil
	}
	v, err, _ := e.lookups.Do(todoID, func() (interface{}, error) {
		groupID, err := e.store.ResourceGroup(ctx, todoID)
		if err != nil {
			return "", err
		}
		e.todoGroups.Store(todoID, groupID)
		return groupID, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", domain.NotFound("todo %s not found", todoID)
		}
		return "", domain.Persistence(err, "failed to resolve todo")
	}
	return v.(string), nil
}

// authorizedFor reports whether the connection's user may use groupID. The
// index is consulted first since it mirrors the store for seeded groups.
func (e *engine) authorizedFor(ctx context.Context, c *hub.Client, groupID string) error {
	if e.index.Contains(domain.GroupRoom(groupID), c.ID) {
		return nil
	}
	ok, err := e.store.IsGroupAuthorized(ctx, c.Session.GetUserID(), groupID)
	if err != nil {
		return domain.Persistence(err, "failed to check group membership")
	}
	if !ok {
		return domain.AccessDenied("not a member of group %s", groupID)
	}
	return nil
}

// resolveRoom authorizes c for room and returns the owning group.
func (e *engine) resolveRoom(ctx context.Context, c *hub.Client, room domain.RoomKey) (string, error) {
	switch room.Kind {
	case domain.RoomGroup:
		return room.ID, e.authorizedFor(ctx, c, room.ID)
	case domain.RoomResource:
		groupID, err := e.resourceGroup(ctx, room.ID)
		if err != nil {
			return "", err
		}
		return groupID, e.authorizedFor(ctx, c, groupID)
	default:
		return "", domain.BadRequest("unsupported room %s", room)
	}
}

func (e *engine) revocationMark(userID string) uint64 {
	return e.revocations[xxhash.Sum64String(userID)%uint64(len(e.revocations))].Load()
}

func (e *engine) markRevoked(userID string) {
	e.revocations[xxhash.Sum64String(userID)%uint64(len(e.revocations))].Add(1)
}

// confirmAccess closes the window between an authorization read and the
// join that follows it. mark is revocationMark taken before the read and
// the join has already happened. If a revocation started since, groupID is
// checked again and the connection is pulled back out when access is gone.
func (e *engine) confirmAccess(ctx context.Context, connID, userID, groupID string, mark uint64) error {
	if e.revocationMark(userID) == mark {
		return nil
	}
	ok, err := e.store.IsGroupAuthorized(ctx, userID, groupID)
	if err == nil && ok {
		return nil
	}
	e.clearTyping(userID, "", e.revokeConn(ctx, connID, groupID))
	if err != nil {
		return domain.Persistence(err, "failed to check group membership")
	}
	audit.LogTarget(ctx, audit.ActionAccessDenied, userID, groupID, "access revoked while joining")
	return domain.AccessDenied("not a member of group %s", groupID)
}

// revokeConn removes connID from groupID's room and the todo rooms it owns.
// It returns the rooms left.
func (e *engine) revokeConn(ctx context.Context, connID, groupID string) []domain.RoomKey {
	group := domain.GroupRoom(groupID)
	var left []domain.RoomKey
	if e.index.Leave(connID, group) {
		left = append(left, group)
	}
	for _, room := range e.index.RoomsOf(connID) {
		if room.Kind != domain.RoomResource {
			continue
		}
		owner, err := e.resourceGroup(ctx, room.ID)
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldRoom, room.String()).Msg("failed to resolve todo during revocation")
			continue
		}
		if owner == groupID && e.index.Leave(connID, room) {
			left = append(left, room)
		}
	}
	return left
}

// propagate adds every connection of the owning group room to the todo room.
// The caller holds the todo room's lock. A connection revoked from the group
// after the snapshot is skipped.
func (e *engine) propagate(todo domain.RoomKey, groupID string) {
	group := domain.GroupRoom(groupID)
	added := 0
	for _, conn := range e.index.Members(group) {
		ok, err := e.index.JoinVia(conn, group, todo)
		if err == nil && ok {
			added++
		}
	}
	if added > 0 {
		metrics.PropagatedMembers.Add(float64(added))
	}
}

func requireAuth(c *hub.Client) error {
	if !c.Session.IsAuthenticated() {
		return domain.Unauthorized()
	}
	return nil
}

func storeError(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound("%s not found", what)
	}
	return domain.Persistence(err, "failed to load "+what)
}

// schedule arms a deferred task that runs on the scheduler's context with
// ctx's logger.
func (e *engine) schedule(ctx context.Context, id string, at time.Time, fn func(context.Context)) {
	logger := log.Ctx(ctx)
	e.scheduler.Schedule(id, at, func(taskCtx context.Context) {
		fn(log.WithLogger(taskCtx, logger))
	})
	metrics.ScheduledPending.Set(float64(e.scheduler.Pending()))
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func (e *engine) produce(ctx context.Context, eventType, key string, data interface{}) {
	ev := &kafka.LifecycleEvent{Type: eventType, Key: key, Data: data, Timestamp: e.now()}
	if err := e.producer.Produce(ctx, ev); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("event_type", eventType).Msg("failed to produce lifecycle event")
	}
}

func (e *engine) GetPresence(ctx context.Context, userID string) (*domain.Presence, error) {
	p := e.presence.Get(userID)
	if p.Online {
		return &p, nil
	}
	mirrored, err := e.mirror.Lookup(ctx, userID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("presence mirror lookup failed")
		return &p, nil
	}
	if mirrored != nil {
		return mirrored, nil
	}
	return &p, nil
}

func (e *engine) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	out, err := e.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, domain.Persistence(err, "failed to list notifications")
	}
	return out, nil
}

// Start resumes deferred work persisted before the last shutdown and begins
// consuming server events.
func (e *engine) Start(ctx context.Context) error {
	if err := e.resume(ctx); err != nil {
		return err
	}
	if e.subscriber == nil {
		return nil
	}
	events, err := e.subscriber.Subscribe(ctx, e.cfg.EventsChannel)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(log.Detach(ctx))
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := e.HandleServerEvent(runCtx, ev); err != nil {
					l := log.Ctx(runCtx)
					l.Warn().Err(err).Str("event_type", ev.Type).Msg("server event rejected")
				}
			}
		}
	}()
	l := log.Ctx(ctx)
	l.Info().Str("channel", e.cfg.EventsChannel).Msg("consuming server events")
	return nil
}

// Stop halts ingress and deferred tasks. Pending messages stay pending in the
// store and are resumed by the next Start.
func (e *engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.subscriber != nil {
		if err := e.subscriber.Unsubscribe(ctx, e.cfg.EventsChannel); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("failed to unsubscribe server events")
		}
	}
	e.wg.Wait()

	dropped := e.scheduler.Shutdown(ctx)
	l := log.Ctx(ctx)
	l.Info().Int("deferred", len(dropped)).Msg("deferred tasks left for resumption")
	e.tasks.Wait()

	if err := e.producer.Close(); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to close event producer")
	}
	return nil
}
