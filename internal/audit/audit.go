package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/pkg/log"
)

// Audit actions for the realtime engine.
const (
	ActionAuth          = "realtime.auth"
	ActionAuthFailed    = "realtime.auth_failed"
	ActionJoinRoom      = "realtime.join_room"
	ActionLeaveRoom     = "realtime.leave_room"
	ActionAccessDenied  = "realtime.access_denied"
	ActionSendMessage   = "realtime.send_message"
	ActionEditMessage   = "realtime.edit_message"
	ActionDeleteMessage = "realtime.delete_message"
	ActionCallStart     = "realtime.call_start"
	ActionCallEnd       = "realtime.call_end"
	ActionRevoke        = "realtime.revoke"
	ActionDisconnect    = "realtime.disconnect"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogTarget emits an audit entry about an object, such as a room or message.
func LogTarget(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
