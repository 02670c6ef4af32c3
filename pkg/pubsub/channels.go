package pubsub

// ChannelServerEvents carries events published by the REST API that must
// reach live connections: invitations, assignments, todo status changes and
// membership revocations.
const ChannelServerEvents = "realtime:server_events"

// Server event types.
const (
	EventNotification       = "notification"
	EventNewInvitation      = "new-invitation"
	EventInvitationResponse = "invitation-response"
	EventNewAssignment      = "new-assignment"
	EventTodoCompleted      = "todoCompleted"
	EventMemberRemoved      = "member-removed"
)

// NotificationPayload is a notification the REST API already persisted.
type NotificationPayload struct {
	UserID  string                 `json:"userId"`
	Type    string                 `json:"type"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// InvitationPayload announces a new group invitation.
type InvitationPayload struct {
	InvitationID string `json:"invitationId"`
	GroupID      string `json:"groupId"`
	GroupName    string `json:"groupName,omitempty"`
	InviterID    string `json:"inviterId"`
	InviterName  string `json:"inviterName,omitempty"`
	InviteeID    string `json:"inviteeId"`
}

// InvitationResponsePayload reports the invitee's answer.
type InvitationResponsePayload struct {
	InvitationID string `json:"invitationId"`
	GroupID      string `json:"groupId"`
	InviterID    string `json:"inviterId"`
	InviteeID    string `json:"inviteeId"`
	InviteeName  string `json:"inviteeName,omitempty"`
	Accepted     bool   `json:"accepted"`
}

// AssignmentPayload announces that a todo was assigned to a user.
type AssignmentPayload struct {
	TodoID       string `json:"todoId"`
	TodoTitle    string `json:"todoTitle,omitempty"`
	GroupID      string `json:"groupId"`
	AssigneeID   string `json:"assigneeId"`
	AssignerID   string `json:"assignerId"`
	AssignerName string `json:"assignerName,omitempty"`
}

// TodoCompletedPayload announces a todo status change.
type TodoCompletedPayload struct {
	TodoID    string `json:"todoId"`
	GroupID   string `json:"groupId"`
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	Completed bool   `json:"completed"`
}

// MemberRemovedPayload revokes a user's access to a group.
type MemberRemovedPayload struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}
