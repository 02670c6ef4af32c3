package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/weiawesome/wes-io-live/internal/audit"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/internal/kafka"
	"github.com/weiawesome/wes-io-live/internal/metrics"
	"github.com/weiawesome/wes-io-live/internal/scheduler"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

// Reasons carried by call_failed.
const (
	CallFailedTargetOffline = "target_offline"
	CallFailedTimeout       = "timeout"
)

type callEntry struct {
	mu      sync.Mutex
	session *domain.CallSession
}

func (e *engine) HandleCallOffer(ctx context.Context, c *hub.Client, msg *domain.CallOfferMessage) error {
	ctx, span := tracer.Start(ctx, "realtime.call_offer")
	defer span.End()

	if err := requireAuth(c); err != nil {
		return err
	}
	userID := c.Session.GetUserID()
	target := string(msg.TargetUserID)
	if target == "" {
		return domain.Validation("targetUserId is required")
	}
	if target == userID {
		return domain.Validation("cannot call yourself")
	}
	callType := msg.CallType
	if callType == "" {
		callType = domain.CallTypeAudio
	}
	if callType != domain.CallTypeAudio && callType != domain.CallTypeVideo {
		return domain.Validation("unknown call type %q", msg.CallType)
	}
	if err := validateSDP(msg.Offer, webrtc.SDPTypeOffer); err != nil {
		return err
	}

	if !e.presence.IsOnline(target) {
		metrics.CallsTotal.WithLabelValues(CallFailedTargetOffline).Inc()
		return c.SendMessage(&domain.CallFailedMessage{
			Type:         domain.MsgTypeCallFailed,
			TargetUserID: target,
			Reason:       CallFailedTargetOffline,
		})
	}

	id, err := e.newID()
	if err != nil {
		return err
	}
	session := &domain.CallSession{
		ID:           id,
		InitiatorID:  userID,
		CalleeID:     target,
		CallType:     callType,
		Participants: []string{userID, target},
		State:        domain.CallInitiating,
		CreatedAt:    e.now(),
	}
	if err := e.store.CreateCall(ctx, session); err != nil {
		return domain.Persistence(err, "failed to create call")
	}
	e.calls.Store(id, &callEntry{session: session})
	metrics.CallsActive.Inc()

	e.schedule(ctx, scheduler.PrefixCallTimeout+id, session.CreatedAt.Add(e.cfg.OfferTimeout), func(ctx context.Context) {
		e.timeoutCall(ctx, id)
	})

	e.sendToUser(target, &domain.CallSignalMessage{
		Type:         domain.MsgTypeCallOffer,
		CallID:       id,
		FromUserID:   userID,
		FromUsername: c.Session.GetUsername(),
		CallType:     callType,
		Offer:        msg.Offer,
	})
	audit.LogTarget(ctx, audit.ActionCallStart, userID, target, "call offered")
	return c.SendMessage(&domain.CallInitiatedMessage{
		Type:         domain.MsgTypeCallInitiated,
		CallID:       id,
		TargetUserID: target,
		CallType:     callType,
	})
}

func (e *engine) HandleCallAnswer(ctx context.Context, c *hub.Client, msg *domain.CallAnswerMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if err := validateSDP(msg.Answer, webrtc.SDPTypeAnswer); err != nil {
		return err
	}
	entry, err := e.call(msg.CallID)
	if err != nil {
		return err
	}
	userID := c.Session.GetUserID()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	s := entry.session
	if s.CalleeID != userID {
		return domain.AccessDenied("only the callee may answer")
	}
	if s.State != domain.CallInitiating {
		return domain.BadRequest("call %s is %s", s.ID, s.State)
	}

	updated := *s
	now := e.now()
	updated.State = domain.CallConnected
	updated.AnsweredAt = &now
	if err := e.store.UpdateCall(ctx, &updated); err != nil {
		return domain.Persistence(err, "failed to update call")
	}
	entry.session = &updated
	e.scheduler.Cancel(scheduler.PrefixCallTimeout + s.ID)

	e.sendToUser(s.InitiatorID, &domain.CallSignalMessage{
		Type:         domain.MsgTypeCallAnswer,
		CallID:       s.ID,
		FromUserID:   userID,
		FromUsername: c.Session.GetUsername(),
		Answer:       msg.Answer,
	})
	return nil
}

func (e *engine) HandleCallICECandidate(ctx context.Context, c *hub.Client, msg *domain.CallICECandidateMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &candidate); err != nil || candidate.Candidate == "" {
		return domain.Validation("invalid ICE candidate")
	}
	entry, err := e.call(msg.CallID)
	if err != nil {
		return err
	}
	userID := c.Session.GetUserID()

	entry.mu.Lock()
	s := entry.session
	if !s.Active() || !s.HasParticipant(userID) {
		entry.mu.Unlock()
		return domain.AccessDenied("not a participant of call %s", msg.CallID)
	}
	peers := s.Peers(userID)
	entry.mu.Unlock()

	signal := &domain.CallSignalMessage{
		Type:       domain.MsgTypeCallICECandidate,
		CallID:     s.ID,
		FromUserID: userID,
		Candidate:  msg.Candidate,
	}
	for _, peer := range peers {
		e.sendToUser(peer, signal)
	}
	return nil
}

func (e *engine) HandleCallEnd(ctx context.Context, c *hub.Client, msg *domain.CallEndMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	entry, err := e.call(msg.CallID)
	if err != nil {
		return err
	}
	userID := c.Session.GetUserID()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	s := entry.session
	if !s.Active() || !s.HasParticipant(userID) {
		return domain.AccessDenied("not a participant of call %s", msg.CallID)
	}
	reason := domain.EndReasonHangup
	if s.State == domain.CallInitiating && userID == s.CalleeID {
		reason = domain.EndReasonDeclined
	}

	updated := *s
	updated.End(userID, reason, e.now())
	if err := e.store.UpdateCall(ctx, &updated); err != nil {
		return domain.Persistence(err, "failed to end call")
	}
	entry.session = &updated
	e.finishCall(ctx, &updated)
	audit.LogTarget(ctx, audit.ActionCallEnd, userID, s.ID, "call ended")
	return nil
}

// timeoutCall ends a call nobody answered and tells the initiator.
func (e *engine) timeoutCall(ctx context.Context, id string) {
	entry, err := e.call(id)
	if err != nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	s := entry.session
	if s.State != domain.CallInitiating {
		return
	}
	s.End("", domain.EndReasonTimeout, e.now())
	if err := e.store.UpdateCall(ctx, s); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldCallID, id).Msg("failed to persist call timeout")
	}
	e.removeCall(s)
	e.sendToUser(s.InitiatorID, &domain.CallFailedMessage{
		Type:         domain.MsgTypeCallFailed,
		CallID:       s.ID,
		TargetUserID: s.CalleeID,
		Reason:       CallFailedTimeout,
	})
	e.produce(ctx, kafka.EventCallEnded, s.ID, callEnded(s))
}

// endCallsOf ends every active call userID takes part in.
func (e *engine) endCallsOf(ctx context.Context, userID string) {
	e.calls.Range(func(_, v any) bool {
		entry := v.(*callEntry)
		entry.mu.Lock()
		s := entry.session
		if s.Active() && s.HasParticipant(userID) {
			s.End(userID, domain.EndReasonDisconnected, e.now())
			if err := e.store.UpdateCall(ctx, s); err != nil {
				l := log.Ctx(ctx)
				l.Error().Err(err).Str(log.FieldCallID, s.ID).Msg("failed to persist call end")
			}
			e.finishCall(ctx, s)
		}
		entry.mu.Unlock()
		return true
	})
}

// finishCall announces an ended call to every participant. The caller holds
// the entry lock.
func (e *engine) finishCall(ctx context.Context, s *domain.CallSession) {
	e.removeCall(s)
	ev := callEnded(s)
	for _, p := range s.Participants {
		e.sendToUser(p, ev)
	}
	e.produce(ctx, kafka.EventCallEnded, s.ID, ev)
}

func (e *engine) removeCall(s *domain.CallSession) {
	if _, ok := e.calls.LoadAndDelete(s.ID); ok {
		metrics.CallsActive.Dec()
	}
	e.scheduler.Cancel(scheduler.PrefixCallTimeout + s.ID)
	metrics.CallsTotal.WithLabelValues(s.EndReason).Inc()
}

func (e *engine) call(id string) (*callEntry, error) {
	if id == "" {
		return nil, domain.Validation("callId is required")
	}
	v, ok := e.calls.Load(id)
	if !ok {
		return nil, domain.NotFound("call %s not found", id)
	}
	return v.(*callEntry), nil
}

func callEnded(s *domain.CallSession) *domain.CallEndedMessage {
	return &domain.CallEndedMessage{
		Type:     domain.MsgTypeCallEnd,
		CallID:   s.ID,
		EndedBy:  s.EndedBy,
		Reason:   s.EndReason,
		EndedAt:  s.EndedAt,
		Duration: int64(s.Duration.Seconds()),
	}
}

// validateSDP checks that raw is a session description of the wanted type
// with a parseable SDP body.
func validateSDP(raw json.RawMessage, want webrtc.SDPType) error {
	if len(raw) == 0 {
		return domain.Validation("%s is required", want)
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return domain.Validation("invalid %s: %v", want, err)
	}
	if sd.Type != want {
		return domain.Validation("expected %s, got %s", want, sd.Type)
	}
	if _, err := sd.Unmarshal(); err != nil {
		return domain.Validation("invalid %s SDP: %v", want, err)
	}
	return nil
}
