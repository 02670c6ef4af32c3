package service

import (
	"context"
	"testing"
	"time"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
)

func TestAuthenticateSeedsRooms(t *testing.T) {
	st := newFakeStore()
	st.addMember("1", "A", domain.GroupRoleMember)
	st.addMember("2", "A", domain.GroupRoleMember)
	st.addMember("3", "B", domain.GroupRoleMember)
	e := newTestEngine(t, st, Config{})

	c := hub.NewClient("c1", e.hub, nil, testWSConfig())
	e.hub.Register(c)
	if err := e.HandleAuthenticate(context.Background(), c, &domain.AuthenticateMessage{Token: "tok-A", Status: domain.StatusBusy}); err != nil {
		t.Fatal(err)
	}

	f := waitFrame(t, c, domain.MsgTypeAuthenticated)
	if f.str("userId") != "A" || f.str("status") != string(domain.StatusBusy) {
		t.Errorf("authenticated = %v", f)
	}
	for _, room := range []domain.RoomKey{domain.GroupRoom("1"), domain.GroupRoom("2"), domain.InvitationRoom("A")} {
		if !e.index.Contains(room, c.ID) {
			t.Errorf("not seeded into %s", room)
		}
	}
	if e.index.Contains(domain.GroupRoom("3"), c.ID) {
		t.Error("seeded into an unauthorized group")
	}
	if !e.presence.IsOnline("A") {
		t.Error("presence not recorded")
	}
}

func TestRevocationDuringAuthenticateIsHonored(t *testing.T) {
	st := newFakeStore()
	st.addMember("1", "B", domain.GroupRoleMember)
	st.addMember("2", "B", domain.GroupRoleMember)
	e := newTestEngine(t, st, Config{})
	ctx := context.Background()

	// The revocation lands after the groups were read but before the
	// connection is visible to presence.
	st.arm(&st.onAuthorizedGroups, func() {
		st.removeMember("1", "B")
		ev := serverEvent(t, pubsub.EventMemberRemoved, pubsub.MemberRemovedPayload{GroupID: "1", UserID: "B"})
		if err := e.HandleServerEvent(ctx, ev); err != nil {
			t.Error(err)
		}
	})
	c := hub.NewClient("b1", e.hub, nil, testWSConfig())
	e.hub.Register(c)
	if err := e.HandleAuthenticate(ctx, c, &domain.AuthenticateMessage{Token: "tok-B"}); err != nil {
		t.Fatal(err)
	}

	if e.index.Contains(domain.GroupRoom("1"), c.ID) {
		t.Error("still in revoked group room")
	}
	if !e.index.Contains(domain.GroupRoom("2"), c.ID) {
		t.Error("dropped from a group that was not revoked")
	}
	f := waitFrame(t, c, domain.MsgTypeAuthenticated)
	if groups, _ := f["groups"].([]any); len(groups) != 1 || groups[0] != "2" {
		t.Errorf("groups = %v", f["groups"])
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	e := newTestEngine(t, newFakeStore(), Config{})
	c := hub.NewClient("c1", e.hub, nil, testWSConfig())

	err := e.HandleAuthenticate(context.Background(), c, &domain.AuthenticateMessage{Token: "garbage"})
	requireCode(t, err, domain.ErrCodeAuthFailed)
	if !domain.AsError(err).Fatal() {
		t.Error("auth failure should close the connection")
	}
	if c.Session.IsAuthenticated() {
		t.Error("session authenticated")
	}
	if len(e.index.RoomsOf(c.ID)) != 0 {
		t.Error("rooms seeded for rejected connection")
	}
}

func TestAuthenticateStoreFailureLeavesConnectionUnauthenticated(t *testing.T) {
	st := newFakeStore()
	st.failGroups = errStoreDown
	e := newTestEngine(t, st, Config{})
	c := hub.NewClient("c1", e.hub, nil, testWSConfig())

	err := e.HandleAuthenticate(context.Background(), c, &domain.AuthenticateMessage{Token: "tok-A"})
	requireCode(t, err, domain.ErrCodePersistence)
	if c.Session.IsAuthenticated() || e.presence.IsOnline("A") {
		t.Error("connection should stay unauthenticated")
	}
}

func TestReauthenticateAsOtherUserFails(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{})
	c := connect(t, e, "c1", "A")

	err := e.HandleAuthenticate(context.Background(), c, &domain.AuthenticateMessage{Token: "tok-B"})
	requireCode(t, err, domain.ErrCodeAuthFailed)
	if c.Session.GetUserID() != "A" {
		t.Errorf("user = %s", c.Session.GetUserID())
	}
}

func TestUnauthenticatedEventsRejected(t *testing.T) {
	e := newTestEngine(t, newFakeStore(), Config{})
	c := hub.NewClient("c1", e.hub, nil, testWSConfig())

	err := e.HandleJoinGroup(context.Background(), c, "1")
	requireCode(t, err, domain.ErrCodeUnauthorized)
	err = e.HandleSendMessage(context.Background(), c, domain.RoomGroup, &domain.SendMessageRequest{RoomID: "1", Content: "hi"})
	requireCode(t, err, domain.ErrCodeUnauthorized)
}

func TestOnlineAnnouncedOnFirstConnectionOnly(t *testing.T) {
	st := newFakeStore()
	st.addMember("1", "A", domain.GroupRoleMember)
	st.addMember("1", "B", domain.GroupRoleMember)
	e := newTestEngine(t, st, Config{})

	b := connect(t, e, "b1", "B")
	connect(t, e, "a1", "A")
	if got := framesOfType(drain(b), domain.MsgTypeUserOnline); len(got) != 1 || got[0].str("userId") != "A" {
		t.Fatalf("user_online frames = %v", got)
	}

	connect(t, e, "a2", "A")
	if got := framesOfType(drain(b), domain.MsgTypeUserOnline); len(got) != 0 {
		t.Errorf("second connection announced again: %v", got)
	}
}

func TestPresenceUpdateReachesOtherDevices(t *testing.T) {
	st := newFakeStore()
	st.addMember("1", "A", domain.GroupRoleMember)
	st.addMember("1", "B", domain.GroupRoleMember)
	e := newTestEngine(t, st, Config{})
	b := connect(t, e, "b1", "B")
	a1 := connect(t, e, "a1", "A")
	a2 := connect(t, e, "a2", "A")
	drain(b)
	drain(a1)

	err := e.HandlePresenceUpdate(context.Background(), a1, &domain.PresenceUpdateMessage{Status: domain.StatusAway, CustomStatus: "lunch"})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []*hub.Client{b, a2} {
		f := waitFrame(t, c, domain.MsgTypePresenceChanged)
		if f.str("status") != string(domain.StatusAway) || f.str("customStatus") != "lunch" {
			t.Errorf("%s got %v", c.ID, f)
		}
	}
	if got := drain(a1); len(got) != 0 {
		t.Errorf("originator echoed: %v", got)
	}

	err = e.HandlePresenceUpdate(context.Background(), a1, &domain.PresenceUpdateMessage{Status: "sleeping"})
	requireCode(t, err, domain.ErrCodeValidation)
}

func TestOfflineStatusCannotBeChosen(t *testing.T) {
	st := newFakeStore()
	st.addMember("1", "A", domain.GroupRoleMember)
	st.addMember("1", "B", domain.GroupRoleMember)
	e := newTestEngine(t, st, Config{})
	ctx := context.Background()
	b := connect(t, e, "b1", "B")
	a := connect(t, e, "a1", "A")
	drain(b)

	err := e.HandlePresenceUpdate(ctx, a, &domain.PresenceUpdateMessage{Status: domain.StatusOffline})
	requireCode(t, err, domain.ErrCodeValidation)
	if p := e.presence.Get("A"); !p.Online || p.Status != domain.StatusOnline {
		t.Errorf("presence = %+v", p)
	}
	if got := framesOfType(drain(b), domain.MsgTypePresenceChanged); len(got) != 0 {
		t.Errorf("rejected update broadcast: %v", got)
	}

	c := hub.NewClient("c1", e.hub, nil, testWSConfig())
	e.hub.Register(c)
	err = e.HandleAuthenticate(ctx, c, &domain.AuthenticateMessage{Token: "tok-C", Status: domain.StatusOffline})
	requireCode(t, err, domain.ErrCodeValidation)
	if c.Session.IsAuthenticated() {
		t.Error("authenticated with offline status")
	}
}

func TestDisconnectLastConnectionGoesOffline(t *testing.T) {
	st := newFakeStore()
	st.addMember("1", "A", domain.GroupRoleMember)
	st.addMember("1", "B", domain.GroupRoleMember)
	e := newTestEngine(t, st, Config{})
	b := connect(t, e, "b1", "B")
	a1 := connect(t, e, "a1", "A")
	a2 := connect(t, e, "a2", "A")
	drain(b)

	ctx := context.Background()
	if err := e.HandleTyping(ctx, a1, domain.GroupRoom("1"), true); err != nil {
		t.Fatal(err)
	}
	waitFrame(t, b, domain.MsgTypeUserTyping)

	if err := e.HandleDisconnect(ctx, a1); err != nil {
		t.Fatal(err)
	}
	frames := drain(b)
	if len(framesOfType(frames, domain.MsgTypeUserStoppedTyping)) != 1 {
		t.Errorf("want one stopped typing, got %v", frames)
	}
	if len(framesOfType(frames, domain.MsgTypeUserOffline)) != 0 {
		t.Error("offline announced while a2 is still connected")
	}

	if err := e.HandleDisconnect(ctx, a2); err != nil {
		t.Fatal(err)
	}
	f := waitFrame(t, b, domain.MsgTypeUserOffline)
	if f.str("userId") != "A" {
		t.Errorf("offline = %v", f)
	}
	if e.presence.IsOnline("A") {
		t.Error("A still online")
	}
	if e.index.Contains(domain.GroupRoom("1"), a2.ID) || e.index.Contains(domain.InvitationRoom("A"), a2.ID) {
		t.Error("connection left in an index")
	}
}

func TestJoinAfterDisconnectIsRejected(t *testing.T) {
	st := newFakeStore()
	st.addMember("1", "A", domain.GroupRoleMember)
	st.addTodo("10", "1")
	e := newTestEngine(t, st, Config{})
	a := connect(t, e, "a1", "A")

	ctx := context.Background()
	if err := e.HandleDisconnect(ctx, a); err != nil {
		t.Fatal(err)
	}
	err := e.HandleJoinResource(ctx, a, "10", "")
	requireCode(t, err, domain.ErrCodeValidation)
	if e.index.Size(domain.ResourceRoom("10")) != 0 {
		t.Error("closed connection resurrected in todo room")
	}
}

func TestGetPresence(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{})
	connect(t, e, "a1", "A")
	connect(t, e, "a2", "A")

	p, err := e.GetPresence(context.Background(), "A")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Online || p.Connections != 2 {
		t.Errorf("presence = %+v", p)
	}
	p, err = e.GetPresence(context.Background(), "nobody")
	if err != nil || p.Online {
		t.Errorf("presence = %+v err = %v", p, err)
	}
}

func TestTypingExpires(t *testing.T) {
	st := newFakeStore()
	st.addMember("1", "A", domain.GroupRoleMember)
	st.addMember("1", "B", domain.GroupRoleMember)
	e := newTestEngine(t, st, Config{TypingExpiry: 20 * time.Millisecond})
	b := connect(t, e, "b1", "B")
	a := connect(t, e, "a1", "A")
	drain(b)

	if err := e.HandleTyping(context.Background(), a, domain.GroupRoom("1"), true); err != nil {
		t.Fatal(err)
	}
	waitFrame(t, b, domain.MsgTypeUserTyping)
	f := waitFrame(t, b, domain.MsgTypeUserStoppedTyping)
	if f.str("userId") != "A" || f.str("roomId") != "1" {
		t.Errorf("stopped = %v", f)
	}
}
