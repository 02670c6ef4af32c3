package pubsub

import "testing"

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"member-removed","target":"u1","payload":{"groupId":"g1","userId":"u1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventMemberRemoved || ev.Target != "u1" {
		t.Errorf("event = %+v", ev)
	}
	var p MemberRemovedPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		t.Fatal(err)
	}
	if p.GroupID != "g1" || p.UserID != "u1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestParseEventRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"target":"u1","payload":{}}`,
		`[]`,
	} {
		if _, err := ParseEvent([]byte(in)); err == nil {
			t.Errorf("ParseEvent(%s) succeeded", in)
		}
	}

	ev, err := ParseEvent([]byte(`{"type":"notification"}`))
	if err != nil {
		t.Fatal(err)
	}
	var p NotificationPayload
	if err := ev.UnmarshalPayload(&p); err == nil {
		t.Error("empty payload decoded")
	}
}
