package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/weiawesome/wes-io-live/internal/domain"
)

const testSDP = "v=0\r\no=- 4596489990601351948 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func sdp(t *testing.T, typ string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]string{"type": typ, "sdp": testSDP})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCallOfferToOfflineUserFailsFast(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{})
	a := connect(t, e, "a1", "A")

	err := e.HandleCallOffer(context.Background(), a, &domain.CallOfferMessage{TargetUserID: "B", Offer: sdp(t, "offer")})
	if err != nil {
		t.Fatal(err)
	}
	f := waitFrame(t, a, domain.MsgTypeCallFailed)
	if f.str("reason") != CallFailedTargetOffline || f.str("targetUserId") != "B" {
		t.Errorf("failed = %v", f)
	}
	if len(st.calls) != 0 {
		t.Error("call session created for offline target")
	}
}

func TestCallOfferValidation(t *testing.T) {
	e := newTestEngine(t, newFakeStore(), Config{})
	a := connect(t, e, "a1", "A")
	connect(t, e, "b1", "B")
	ctx := context.Background()

	requireCode(t, e.HandleCallOffer(ctx, a, &domain.CallOfferMessage{TargetUserID: "A", Offer: sdp(t, "offer")}), domain.ErrCodeValidation)
	requireCode(t, e.HandleCallOffer(ctx, a, &domain.CallOfferMessage{TargetUserID: "B", Offer: sdp(t, "answer")}), domain.ErrCodeValidation)
	requireCode(t, e.HandleCallOffer(ctx, a, &domain.CallOfferMessage{TargetUserID: "B", Offer: json.RawMessage(`{"type":"offer","sdp":"nonsense"}`)}), domain.ErrCodeValidation)
	requireCode(t, e.HandleCallOffer(ctx, a, &domain.CallOfferMessage{TargetUserID: "B", CallType: "hologram", Offer: sdp(t, "offer")}), domain.ErrCodeValidation)
}

func TestUnansweredCallTimesOut(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{OfferTimeout: 30 * time.Millisecond})
	a := connect(t, e, "a1", "A")
	b := connect(t, e, "b1", "B")

	if err := e.HandleCallOffer(context.Background(), a, &domain.CallOfferMessage{TargetUserID: "B", CallType: domain.CallTypeVideo, Offer: sdp(t, "offer")}); err != nil {
		t.Fatal(err)
	}
	id := waitFrame(t, a, domain.MsgTypeCallInitiated).str("callId")
	offer := waitFrame(t, b, domain.MsgTypeCallOffer)
	if offer.str("callId") != id || offer.str("fromUserId") != "A" || offer.str("callType") != domain.CallTypeVideo {
		t.Errorf("offer = %v", offer)
	}

	f := waitFrame(t, a, domain.MsgTypeCallFailed)
	if f.str("callId") != id || f.str("reason") != CallFailedTimeout {
		t.Errorf("failed = %v", f)
	}
	s, _ := st.call(id)
	if s.State != domain.CallEnded || s.EndReason != domain.EndReasonTimeout {
		t.Errorf("stored call = %+v", s)
	}
	if got := drain(b); len(got) != 0 {
		t.Errorf("callee got frames after timeout: %v", got)
	}
	requireCode(t, e.HandleCallAnswer(context.Background(), b, &domain.CallAnswerMessage{CallID: id, Answer: sdp(t, "answer")}), domain.ErrCodeNotFound)
}

func TestCallAnswerRelayAndEnd(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{})
	a := connect(t, e, "a1", "A")
	b := connect(t, e, "b1", "B")
	ctx := context.Background()

	if err := e.HandleCallOffer(ctx, a, &domain.CallOfferMessage{TargetUserID: "B", Offer: sdp(t, "offer")}); err != nil {
		t.Fatal(err)
	}
	id := waitFrame(t, b, domain.MsgTypeCallOffer).str("callId")

	requireCode(t, e.HandleCallAnswer(ctx, a, &domain.CallAnswerMessage{CallID: id, Answer: sdp(t, "answer")}), domain.ErrCodeAccessDenied)
	if err := e.HandleCallAnswer(ctx, b, &domain.CallAnswerMessage{CallID: id, Answer: sdp(t, "answer")}); err != nil {
		t.Fatal(err)
	}
	waitFrame(t, a, domain.MsgTypeCallAnswer)

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	if err := e.HandleCallICECandidate(ctx, a, &domain.CallICECandidateMessage{CallID: id, Candidate: candidate}); err != nil {
		t.Fatal(err)
	}
	waitFrame(t, b, domain.MsgTypeCallICECandidate)
	requireCode(t, e.HandleCallICECandidate(ctx, a, &domain.CallICECandidateMessage{CallID: id, Candidate: json.RawMessage(`{}`)}), domain.ErrCodeValidation)

	c := connect(t, e, "c1", "C")
	requireCode(t, e.HandleCallEnd(ctx, c, &domain.CallEndMessage{CallID: id}), domain.ErrCodeAccessDenied)

	if err := e.HandleCallEnd(ctx, a, &domain.CallEndMessage{CallID: id}); err != nil {
		t.Fatal(err)
	}
	for _, cl := range []string{"a1", "b1"} {
		client, _ := e.hub.Get(cl)
		f := waitFrame(t, client, domain.MsgTypeCallEnd)
		if f.str("reason") != domain.EndReasonHangup || f.str("endedBy") != "A" {
			t.Errorf("%s got %v", cl, f)
		}
	}
	s, _ := st.call(id)
	if s.State != domain.CallEnded || s.AnsweredAt == nil {
		t.Errorf("stored call = %+v", s)
	}
}

func TestCalleeEndingInitiatingCallDeclines(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{})
	a := connect(t, e, "a1", "A")
	b := connect(t, e, "b1", "B")
	ctx := context.Background()

	if err := e.HandleCallOffer(ctx, a, &domain.CallOfferMessage{TargetUserID: "B", Offer: sdp(t, "offer")}); err != nil {
		t.Fatal(err)
	}
	id := waitFrame(t, b, domain.MsgTypeCallOffer).str("callId")
	if err := e.HandleCallEnd(ctx, b, &domain.CallEndMessage{CallID: id}); err != nil {
		t.Fatal(err)
	}
	if f := waitFrame(t, a, domain.MsgTypeCallEnd); f.str("reason") != domain.EndReasonDeclined {
		t.Errorf("end = %v", f)
	}
}

func TestLastDisconnectEndsCalls(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st, Config{})
	a := connect(t, e, "a1", "A")
	b := connect(t, e, "b1", "B")
	ctx := context.Background()

	if err := e.HandleCallOffer(ctx, a, &domain.CallOfferMessage{TargetUserID: "B", Offer: sdp(t, "offer")}); err != nil {
		t.Fatal(err)
	}
	id := waitFrame(t, b, domain.MsgTypeCallOffer).str("callId")
	if err := e.HandleDisconnect(ctx, b); err != nil {
		t.Fatal(err)
	}
	if f := waitFrame(t, a, domain.MsgTypeCallEnd); f.str("callId") != id || f.str("reason") != domain.EndReasonDisconnected {
		t.Errorf("end = %v", f)
	}
}
