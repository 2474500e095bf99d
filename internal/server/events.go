package server

import "encoding/json"

// Inbound event names accepted over the realtime connection.
const (
	eventJoinRoom        = "join-room"
	eventLeaveRoom       = "leave-room"
	eventLeaveAllRooms   = "leave-all-rooms"
	eventCallStart       = "call-start"
	eventCallEnd         = "call-end"
	eventCallInvite      = "call-invite"
	eventSignal          = "signal"
	eventChatMessage     = "chat-message"
	eventTaskboardUpdate = "taskboard-update"
	eventWhiteboardLine  = "whiteboard-line"
	eventWhiteboardClear = "whiteboard-clear"
	eventWhiteboardUndo  = "whiteboard-undo"
	eventDocSubscribe    = "doc-subscribe"
	eventDocUpdate       = "doc-update"
)

// Outbound event names pushed to clients.
const (
	eventCallStarted = "call-started"
	eventCallEnded   = "call-ended"
)

// Notification type tags.
const (
	notificationWorkspaceJoin   = "workspace_join"
	notificationNewMessage      = "new_message"
	notificationVideoCallInvite = "video_call_invite"
)

const chatPreviewLimit = 50

// Envelope frames every realtime message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type leaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type callPayload struct {
	WorkspaceID string `json:"workspaceId"`
}

type callInvitePayload struct {
	ToUserID     string `json:"toUserId"`
	FromUserName string `json:"fromUserName"`
	WorkspaceID  string `json:"workspaceId"`
}

type callStartedPayload struct {
	StartedBy string `json:"startedBy"`
	Timestamp int64  `json:"timestamp"`
}

type signalPayload struct {
	To     string          `json:"to"`
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type signalForwardPayload struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type chatMessagePayload struct {
	WorkspaceID string          `json:"workspaceId"`
	Message     json.RawMessage `json:"message"`
	SenderID    string          `json:"senderId"`
	SenderName  string          `json:"senderName"`
}

type taskboardUpdatePayload struct {
	WorkspaceID string          `json:"workspaceId"`
	Lists       json.RawMessage `json:"lists"`
}

type whiteboardLinePayload struct {
	WorkspaceID string          `json:"workspaceId"`
	Line        json.RawMessage `json:"line"`
}

type whiteboardRoomPayload struct {
	WorkspaceID string `json:"workspaceId"`
}

type docSubscribePayload struct {
	DocID       string `json:"docId"`
	WorkspaceID string `json:"workspaceId"`
}

type docUpdatePayload struct {
	DocID     string `json:"docId"`
	UpdateB64 string `json:"updateB64"`
}

type joinNotificationData struct {
	Message     string `json:"message"`
	WorkspaceID string `json:"workspaceId"`
	UserName    string `json:"userName"`
}

type messageNotificationData struct {
	Message        string `json:"message"`
	WorkspaceID    string `json:"workspaceId"`
	SenderName     string `json:"senderName"`
	MessagePreview string `json:"messagePreview"`
}

type inviteNotificationData struct {
	Message      string `json:"message"`
	WorkspaceID  string `json:"workspaceId"`
	FromUserName string `json:"fromUserName"`
}
