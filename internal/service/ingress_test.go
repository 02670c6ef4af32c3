package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
)

func serverEvent(t *testing.T, typ string, payload interface{}) *pubsub.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return &pubsub.Event{Type: typ, Payload: data}
}

// chanSubscriber hands out one channel per subscription.
type chanSubscriber struct {
	mu     sync.Mutex
	events chan *pubsub.Event
	unsub  []string
}

func (s *chanSubscriber) Subscribe(_ context.Context, channel string) (<-chan *pubsub.Event, error) {
	return s.events, nil
}

func (s *chanSubscriber) Unsubscribe(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsub = append(s.unsub, channel)
	return nil
}

func TestStartConsumesServerEvents(t *testing.T) {
	e, _ := twoMembers(t, Config{})
	sub := &chanSubscriber{events: make(chan *pubsub.Event, 1)}
	e.subscriber = sub
	b := connect(t, e, "b1", "B")

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	sub.events <- serverEvent(t, pubsub.EventTodoCompleted, pubsub.TodoCompletedPayload{TodoID: "10", GroupID: "1", UserID: "A", Completed: true})
	waitFrame(t, b, domain.MsgTypeTodoCompleted)

	if err := e.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.unsub) != 1 || sub.unsub[0] != pubsub.ChannelServerEvents {
		t.Errorf("unsubscribed = %v", sub.unsub)
	}
}

func TestInvitationNotifiesInvitee(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{})
	b := connect(t, e, "b1", "B")

	ev := serverEvent(t, pubsub.EventNewInvitation, pubsub.InvitationPayload{
		InvitationID: "inv-1",
		GroupID:      "7",
		GroupName:    "Physics",
		InviterID:    "A",
		InviterName:  "Alice",
		InviteeID:    "B",
	})
	if err := e.HandleServerEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	f := waitFrame(t, b, domain.MsgTypeNewInvitation)
	if data, _ := f["data"].(map[string]any); data["invitationId"] != "inv-1" {
		t.Errorf("frame = %v", f)
	}
	got := st.notificationsFor("B")
	if len(got) != 1 || got[0].Type != domain.NotificationInvitation || got[0].Message != "Alice invited you to Physics" {
		t.Errorf("notifications = %+v", got)
	}
}

func TestAcceptedInvitationJoinsGroupRoom(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{})
	a := connect(t, e, "a1", "A")
	b1 := connect(t, e, "b1", "B")
	b2 := connect(t, e, "b2", "B")

	ev := serverEvent(t, pubsub.EventInvitationResponse, pubsub.InvitationResponsePayload{
		InvitationID: "inv-1",
		GroupID:      "7",
		InviterID:    "A",
		InviteeID:    "B",
		Accepted:     true,
	})
	if err := e.HandleServerEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	waitFrame(t, a, domain.MsgTypeInvitationResponse)
	for _, c := range []string{b1.ID, b2.ID} {
		if !e.index.Contains(domain.GroupRoom("7"), c) {
			t.Errorf("%s not joined to group 7", c)
		}
	}
}

func TestMemberRemovedRevokesRooms(t *testing.T) {
	e, _ := twoMembers(t, Config{})
	ctx := context.Background()
	a := connect(t, e, "a1", "A")
	if err := e.HandleJoinResource(ctx, a, "10", ""); err != nil {
		t.Fatal(err)
	}

	ev := serverEvent(t, pubsub.EventMemberRemoved, pubsub.MemberRemovedPayload{GroupID: "1", UserID: "A"})
	if err := e.HandleServerEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if e.index.Contains(domain.GroupRoom("1"), a.ID) || e.index.Contains(domain.ResourceRoom("10"), a.ID) {
		t.Error("revoked user still in group rooms")
	}
	if !e.index.Contains(domain.InvitationRoom("A"), a.ID) {
		t.Error("invitation room must survive revocation")
	}
	waitFrame(t, a, pubsub.EventMemberRemoved)
}

func TestTodoCompletedReachesGroup(t *testing.T) {
	e, _ := twoMembers(t, Config{})
	b := connect(t, e, "b1", "B")

	ev := serverEvent(t, pubsub.EventTodoCompleted, pubsub.TodoCompletedPayload{TodoID: "10", GroupID: "1", UserID: "A", Completed: true})
	if err := e.HandleServerEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	waitFrame(t, b, domain.MsgTypeTodoCompleted)
}

func TestAssignmentAndUnknownEvents(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{})
	ctx := context.Background()

	ev := serverEvent(t, pubsub.EventNewAssignment, pubsub.AssignmentPayload{TodoID: "10", GroupID: "1", AssigneeID: "B", AssignerID: "A"})
	if err := e.HandleServerEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if got := st.notificationsFor("B"); len(got) != 1 || got[0].Type != domain.NotificationAssignment {
		t.Errorf("notifications = %+v", got)
	}

	requireCode(t, e.HandleServerEvent(ctx, serverEvent(t, "bogus", struct{}{})), domain.ErrCodeBadRequest)
	requireCode(t, e.HandleServerEvent(ctx, serverEvent(t, pubsub.EventNewAssignment, struct{}{})), domain.ErrCodeValidation)
}

func TestNotificationAddressedByTarget(t *testing.T) {
	e := newTestEngine(t, newFakeStore(), Config{})
	b := connect(t, e, "b1", "B")

	ev := serverEvent(t, pubsub.EventNotification, pubsub.NotificationPayload{Type: "reminder", Title: "Study time"})
	ev.Target = "B"
	if err := e.HandleServerEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if f := waitFrame(t, b, domain.MsgTypeNotification); f.str("title") != "Study time" {
		t.Errorf("frame = %v", f)
	}

	ev.Target = ""
	requireCode(t, e.HandleServerEvent(context.Background(), ev), domain.ErrCodeValidation)
}
