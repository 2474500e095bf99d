package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collabflexify/backend/internal/calls"
	"github.com/collabflexify/backend/internal/docsync"
	"github.com/collabflexify/backend/internal/notify"
	"github.com/collabflexify/backend/internal/presence"
)

var (
	errMissingRegistry    = errors.New("connection registry dependency required")
	errMissingDirectory   = errors.New("identity directory dependency required")
	errMissingCoordinator = errors.New("call coordinator dependency required")
	errMissingDispatcher  = errors.New("notification dispatcher dependency required")
	errMissingEngine      = errors.New("document engine dependency required")
	errMissingHub         = errors.New("connection hub dependency required")
)

// SocketConfig describes the dependencies of the realtime endpoint.
type SocketConfig struct {
	Registry    *presence.Registry
	Directory   *presence.Directory
	Coordinator *calls.Coordinator
	Dispatcher  *notify.Dispatcher
	Engine      *docsync.Engine
	Hub         *Hub
	Tokens      TokenValidator
	Logger      *zap.Logger
}

// SocketServer owns the websocket endpoint and orchestrates the presence,
// call, notification and document components per inbound event.
type SocketServer struct {
	registry    *presence.Registry
	directory   *presence.Directory
	coordinator *calls.Coordinator
	dispatcher  *notify.Dispatcher
	engine      *docsync.Engine
	hub         *Hub
	tokens      TokenValidator
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

// NewSocketServer constructs the realtime endpoint.
func NewSocketServer(cfg SocketConfig) (*SocketServer, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	if cfg.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	if cfg.Hub == nil {
		return nil, errMissingHub
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SocketServer{
		registry:    cfg.Registry,
		directory:   cfg.Directory,
		coordinator: cfg.Coordinator,
		dispatcher:  cfg.Dispatcher,
		engine:      cfg.Engine,
		hub:         cfg.Hub,
		tokens:      cfg.Tokens,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}, nil
}

// HandleConnection upgrades the request and runs the connection's read loop.
// A valid bearer token in the token query parameter binds the durable
// identity; anything else yields an anonymous connection.
func (s *SocketServer) HandleConnection(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	userID := ""
	if token := strings.TrimSpace(c.Query("token")); token != "" && s.tokens != nil {
		subject, err := s.tokens.ValidateToken(token)
		if err != nil {
			s.logger.Debug("connection token rejected", zap.Error(err))
		} else {
			userID = subject
		}
	}

	client := newClient(uuid.NewString(), userID, conn, s.logger)
	s.hub.Register(client)
	if userID != "" {
		s.directory.Register(userID, client.ID())
	}
	s.logger.Info("client connected",
		zap.String("connection_id", client.ID()),
		zap.String("user_id", userID))

	go client.writePump()
	s.readLoop(client)
	s.disconnect(client)
}

func (s *SocketServer) readLoop(client *Client) {
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			s.logger.Debug("discarding malformed frame",
				zap.String("connection_id", client.ID()),
				zap.Error(err))
			continue
		}
		s.handleEvent(client, envelope)
	}
}

func (s *SocketServer) handleEvent(client *Client, envelope Envelope) {
	switch envelope.Event {
	case eventJoinRoom:
		var payload joinRoomPayload
		if s.bindPayload(client, envelope, &payload) && payload.RoomID != "" {
			s.handleJoinRoom(client, payload)
		}
	case eventLeaveRoom:
		var payload leaveRoomPayload
		if s.bindPayload(client, envelope, &payload) && payload.RoomID != "" {
			s.handleLeaveRoom(client, payload.RoomID)
		}
	case eventLeaveAllRooms:
		s.handleLeaveAll(client)
	case eventCallStart:
		var payload callPayload
		if s.bindPayload(client, envelope, &payload) && payload.WorkspaceID != "" {
			s.handleCallStart(client, payload.WorkspaceID)
		}
	case eventCallEnd:
		var payload callPayload
		if s.bindPayload(client, envelope, &payload) && payload.WorkspaceID != "" {
			s.endCallIfInitiator(client, payload.WorkspaceID)
		}
	case eventCallInvite:
		var payload callInvitePayload
		if s.bindPayload(client, envelope, &payload) && payload.ToUserID != "" {
			s.handleCallInvite(client, payload)
		}
	case eventSignal:
		var payload signalPayload
		if s.bindPayload(client, envelope, &payload) && payload.To != "" {
			s.handleSignal(payload)
		}
	case eventChatMessage:
		var payload chatMessagePayload
		if s.bindPayload(client, envelope, &payload) && payload.WorkspaceID != "" {
			s.handleChatMessage(client, payload)
		}
	case eventTaskboardUpdate:
		var payload taskboardUpdatePayload
		if s.bindPayload(client, envelope, &payload) && payload.WorkspaceID != "" {
			s.registry.Broadcast(payload.WorkspaceID, client.ID(), eventTaskboardUpdate, payload.Lists)
		}
	case eventWhiteboardLine:
		var payload whiteboardLinePayload
		if s.bindPayload(client, envelope, &payload) && payload.WorkspaceID != "" {
			s.registry.Broadcast(payload.WorkspaceID, client.ID(), eventWhiteboardLine, payload.Line)
		}
	case eventWhiteboardClear, eventWhiteboardUndo:
		var payload whiteboardRoomPayload
		if s.bindPayload(client, envelope, &payload) && payload.WorkspaceID != "" {
			s.registry.Broadcast(payload.WorkspaceID, client.ID(), envelope.Event, nil)
		}
	case eventDocSubscribe:
		var payload docSubscribePayload
		if s.bindPayload(client, envelope, &payload) && payload.DocID != "" {
			s.handleDocSubscribe(client, payload)
		}
	case eventDocUpdate:
		var payload docUpdatePayload
		if s.bindPayload(client, envelope, &payload) && payload.DocID != "" {
			s.handleDocUpdate(client, payload)
		}
	default:
		s.logger.Debug("ignoring unknown event",
			zap.String("connection_id", client.ID()),
			zap.String("event", envelope.Event))
	}
}

func (s *SocketServer) bindPayload(client *Client, envelope Envelope, out interface{}) bool {
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		s.logger.Debug("discarding event with malformed payload",
			zap.String("connection_id", client.ID()),
			zap.String("event", envelope.Event),
			zap.Error(err))
		return false
	}
	return true
}

func (s *SocketServer) handleJoinRoom(client *Client, payload joinRoomPayload) {
	roster := s.registry.Join(client, payload.RoomID, payload.UserName)

	if err := client.SendEvent(presence.EventAllUsers, roster); err != nil {
		s.logger.Warn("failed to deliver membership snapshot",
			zap.String("connection_id", client.ID()),
			zap.Error(err))
	}

	if session, active := s.coordinator.Active(payload.RoomID); active {
		_ = client.SendEvent(eventCallStarted, callStartedPayload{
			StartedBy: session.InitiatorID,
			Timestamp: session.StartedAt.UnixMilli(),
		})
	}

	data, err := json.Marshal(joinNotificationData{
		Message:     fmt.Sprintf("%s joined the workspace", payload.UserName),
		WorkspaceID: payload.RoomID,
		UserName:    payload.UserName,
	})
	if err != nil {
		return
	}
	for _, member := range roster {
		identity, ok := s.directory.IdentityFor(member.ConnectionID)
		if !ok {
			continue
		}
		if err := s.dispatcher.Notify(context.Background(), identity, notificationWorkspaceJoin, data); err != nil {
			s.logger.Error("join notification failed",
				zap.String("recipient", identity),
				zap.Error(err))
		}
	}
}

func (s *SocketServer) handleLeaveRoom(client *Client, room string) {
	if s.registry.Leave(client, room) {
		s.endCallIfInitiator(client, room)
	}
}

func (s *SocketServer) handleLeaveAll(client *Client) {
	for _, room := range s.registry.LeaveAll(client) {
		s.endCallIfInitiator(client, room)
	}
}

func (s *SocketServer) handleCallStart(client *Client, room string) {
	session, started := s.coordinator.Start(room, client.ID())
	if !started {
		return
	}
	s.registry.Broadcast(room, "", eventCallStarted, callStartedPayload{
		StartedBy: session.InitiatorID,
		Timestamp: session.StartedAt.UnixMilli(),
	})
}

// endCallIfInitiator ends the room's call when this connection started it and
// tells everyone still in the room.
func (s *SocketServer) endCallIfInitiator(client *Client, room string) {
	if s.coordinator.End(room, client.ID()) {
		s.registry.Broadcast(room, "", eventCallEnded, nil)
	}
}

func (s *SocketServer) handleCallInvite(client *Client, payload callInvitePayload) {
	data, err := json.Marshal(inviteNotificationData{
		Message:      fmt.Sprintf("%s is calling you", payload.FromUserName),
		WorkspaceID:  payload.WorkspaceID,
		FromUserName: payload.FromUserName,
	})
	if err != nil {
		return
	}
	if err := s.dispatcher.Notify(context.Background(), payload.ToUserID, notificationVideoCallInvite, data); err != nil {
		s.logger.Error("call invite notification failed",
			zap.String("recipient", payload.ToUserID),
			zap.Error(err))
	}
}

// handleSignal forwards opaque peer-negotiation data; it is not part of the
// call state machine. Unknown targets are dropped silently.
func (s *SocketServer) handleSignal(payload signalPayload) {
	target, ok := s.hub.Lookup(payload.To)
	if !ok {
		return
	}
	if err := target.SendEvent(eventSignal, signalForwardPayload{From: payload.From, Signal: payload.Signal}); err != nil {
		s.logger.Warn("signal delivery failed",
			zap.String("connection_id", payload.To),
			zap.Error(err))
	}
}

func (s *SocketServer) handleChatMessage(client *Client, payload chatMessagePayload) {
	s.registry.Broadcast(payload.WorkspaceID, "", eventChatMessage, payload.Message)

	data, err := json.Marshal(messageNotificationData{
		Message:        fmt.Sprintf("%s sent a message", payload.SenderName),
		WorkspaceID:    payload.WorkspaceID,
		SenderName:     payload.SenderName,
		MessagePreview: chatPreview(payload.Message),
	})
	if err != nil {
		return
	}
	for _, member := range s.registry.Members(payload.WorkspaceID) {
		if member.ConnectionID == client.ID() {
			continue
		}
		identity, ok := s.directory.IdentityFor(member.ConnectionID)
		if !ok || identity == payload.SenderID {
			continue
		}
		if err := s.dispatcher.Notify(context.Background(), identity, notificationNewMessage, data); err != nil {
			s.logger.Error("message notification failed",
				zap.String("recipient", identity),
				zap.Error(err))
		}
	}
}

func chatPreview(message json.RawMessage) string {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(message, &body); err != nil {
		return ""
	}
	if len(body.Text) > chatPreviewLimit {
		return body.Text[:chatPreviewLimit]
	}
	return body.Text
}

func (s *SocketServer) handleDocSubscribe(client *Client, payload docSubscribePayload) {
	if payload.WorkspaceID == "" {
		s.logger.Warn("document subscription without workspace",
			zap.String("doc_id", payload.DocID))
	} else {
		s.engine.Associate(payload.DocID, payload.WorkspaceID)
	}

	snapshot, err := s.engine.Snapshot(context.Background(), payload.DocID)
	if err != nil {
		s.logger.Error("document load failed",
			zap.String("doc_id", payload.DocID),
			zap.Error(err))
		return
	}
	s.hub.SubscribeDoc(payload.DocID, client)
	if len(snapshot) > 0 {
		_ = client.SendEvent(eventDocUpdate, docUpdatePayload{
			DocID:     payload.DocID,
			UpdateB64: base64.StdEncoding.EncodeToString(snapshot),
		})
	}
}

func (s *SocketServer) handleDocUpdate(client *Client, payload docUpdatePayload) {
	fragment, err := base64.StdEncoding.DecodeString(payload.UpdateB64)
	if err != nil {
		s.logger.Debug("discarding update with invalid base64 payload",
			zap.String("doc_id", payload.DocID),
			zap.String("connection_id", client.ID()))
		return
	}
	if err := s.engine.ApplyUpdate(context.Background(), payload.DocID, fragment); err != nil {
		s.logger.Warn("document update rejected",
			zap.String("doc_id", payload.DocID),
			zap.String("connection_id", client.ID()),
			zap.Error(err))
		return
	}
	for _, subscriber := range s.hub.DocSubscribers(payload.DocID, client.ID()) {
		if err := subscriber.SendEvent(eventDocUpdate, payload); err != nil {
			s.logger.Warn("document update delivery failed",
				zap.String("doc_id", payload.DocID),
				zap.String("connection_id", subscriber.ID()),
				zap.Error(err))
		}
	}
}

// disconnect releases everything the connection held: room memberships, any
// call it initiated, its identity entry and its hub registration.
func (s *SocketServer) disconnect(client *Client) {
	for _, room := range s.registry.LeaveAll(client) {
		s.endCallIfInitiator(client, room)
	}
	if client.UserID() != "" {
		s.directory.Unregister(client.UserID(), client.ID())
	}
	s.hub.Unregister(client)
	client.close()
	s.logger.Info("client disconnected",
		zap.String("connection_id", client.ID()),
		zap.String("user_id", client.UserID()))
}
