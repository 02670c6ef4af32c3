package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRoomKeyRoundTrip(t *testing.T) {
	keys := []RoomKey{GroupRoom("g1"), ResourceRoom("t1"), InvitationRoom("u1")}
	for _, k := range keys {
		got, err := ParseRoomKey(k.String())
		if err != nil {
			t.Fatalf("ParseRoomKey(%q): %v", k, err)
		}
		if got != k {
			t.Errorf("ParseRoomKey(%q) = %v, want %v", k, got, k)
		}
	}

	for _, bad := range []string{"", "group", "group:", "room:1"} {
		if _, err := ParseRoomKey(bad); err == nil {
			t.Errorf("ParseRoomKey(%q) succeeded", bad)
		}
	}
}

func TestRoomKeysAreDistinctAcrossKinds(t *testing.T) {
	m := map[RoomKey]int{GroupRoom("1"): 1, ResourceRoom("1"): 2, InvitationRoom("1"): 3}
	if len(m) != 3 {
		t.Fatalf("room kinds with the same id collided: %v", m)
	}
}

func TestIDUnmarshal(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"x1","b":42,"c":null}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != "x1" || v.B != "42" || v.C != "" {
		t.Errorf("got %+v", v)
	}

	if err := json.Unmarshal([]byte(`{"a":1.5}`), &v); err == nil {
		t.Error("fractional id accepted")
	}
	if err := json.Unmarshal([]byte(`{"a":true}`), &v); err == nil {
		t.Error("boolean id accepted")
	}
}

func TestIDs(t *testing.T) {
	got := IDs([]ID{"a", "", "b", "a"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("IDs = %v", got)
	}
}

func TestStatusSettable(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusOnline:  true,
		StatusAway:    true,
		StatusBusy:    true,
		StatusOffline: false,
		"sleeping":    false,
		"":            false,
	} {
		if got := s.Settable(); got != want {
			t.Errorf("%q.Settable() = %v, want %v", s, got, want)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	cause := errors.New("db down")
	err := Persistence(cause, "save message")
	if !errors.Is(err, cause) {
		t.Error("Persistence does not unwrap to cause")
	}
	if !HasCode(err, ErrCodePersistence) {
		t.Error("HasCode mismatch")
	}
	if err.Fatal() {
		t.Error("persistence failure must not be fatal")
	}
	if !AuthFailed("bad token").Fatal() {
		t.Error("auth failure must be fatal")
	}
	if got := AsError(cause); got.Code != ErrCodeInternalError {
		t.Errorf("AsError(plain) code = %s", got.Code)
	}
}

func TestCallSessionEnd(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	answered := start.Add(5 * time.Second)
	c := &CallSession{
		ID:           "c1",
		InitiatorID:  "a",
		CalleeID:     "b",
		Participants: []string{"a", "b"},
		State:        CallConnected,
		CreatedAt:    start,
		AnsweredAt:   &answered,
	}
	if !c.Active() {
		t.Fatal("connected call not active")
	}
	if peers := c.Peers("a"); len(peers) != 1 || peers[0] != "b" {
		t.Errorf("Peers(a) = %v", peers)
	}

	c.End("a", EndReasonHangup, answered.Add(90*time.Second))
	if c.Active() || c.State != CallEnded {
		t.Errorf("state = %s", c.State)
	}
	if c.Duration != 90*time.Second {
		t.Errorf("duration = %v", c.Duration)
	}
	if c.EndedAt == nil || c.EndedBy != "a" {
		t.Errorf("end not stamped: %+v", c)
	}
}

func TestCallSessionEndUnanswered(t *testing.T) {
	c := &CallSession{State: CallInitiating, CreatedAt: time.Now()}
	c.End("", EndReasonTimeout, time.Now())
	if c.Duration != 0 {
		t.Errorf("unanswered call duration = %v", c.Duration)
	}
}

func TestMessagePayloadRoomFields(t *testing.T) {
	m := &Message{ID: "m1", Room: ResourceRoom("t1"), GroupID: "g1", Content: "hi", Type: MessageTypeText}
	p := NewMessagePayload(MsgTypeNewTodoMessage, m)
	if p.TodoID != "t1" || p.RoomID != "" || p.RoomType != "todo" {
		t.Errorf("payload room fields = %q %q %q", p.RoomType, p.RoomID, p.TodoID)
	}
	if p.Attachments == nil {
		t.Error("attachments must encode as an empty array")
	}
}

func TestMessageModelConversion(t *testing.T) {
	m := &Message{
		ID:          "m1",
		Room:        GroupRoom("g1"),
		GroupID:     "g1",
		SenderID:    "u1",
		Content:     "hello",
		Type:        MessageTypeText,
		Attachments: []Attachment{{Key: "k1", Name: "a.png"}},
		Mentions:    []string{"u2"},
		State:       MessageSent,
	}
	got := MessageToModel(m).ToDomain()
	if got.Room != m.Room || got.Attachments[0].Key != "k1" || got.Mentions[0] != "u2" || got.State != MessageSent {
		t.Errorf("conversion lost data: %+v", got)
	}
}
