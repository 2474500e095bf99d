package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/collabflexify/backend/internal/docsync"
	"github.com/collabflexify/backend/internal/notify"
)

const userIDContextKey = "collab_user_id"

var (
	errMissingTokenValidator      = errors.New("token validator dependency required")
	errMissingNotificationService = errors.New("notification service dependency required")
	errMissingDocumentEngine      = errors.New("document engine dependency required")
	errMissingSocketServer        = errors.New("socket server dependency required")
	errInvalidAuthorization       = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a bearer token and returns its subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Tokens        TokenValidator
	Notifications *notify.Service
	Documents     *docsync.Engine
	Socket        *SocketServer
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Notifications == nil {
		return nil, errMissingNotificationService
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentEngine
	}
	if deps.Socket == nil {
		return nil, errMissingSocketServer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.Tokens,
		notifications: deps.Notifications,
		documents:     deps.Documents,
		logger:        logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", deps.Socket.HandleConnection)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.PUT("/notifications/:id/read", handler.handleMarkNotificationRead)
	protected.PUT("/notifications/read-all", handler.handleMarkAllNotificationsRead)
	protected.POST("/documents", handler.handleCreateDocument)
	protected.GET("/documents", handler.handleListDocuments)
	protected.GET("/documents/:id", handler.handleGetDocument)

	return router, nil
}

type httpHandler struct {
	tokens        TokenValidator
	notifications *notify.Service
	documents     *docsync.Engine
	logger        *zap.Logger
}

type notificationPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	IsRead    bool            `json:"isRead"`
	CreatedAt int64           `json:"createdAt"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	records, err := h.notifications.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]notificationPayload, 0, len(records))
	for _, record := range records {
		data := json.RawMessage(nil)
		if record.Data != "" {
			data = json.RawMessage(record.Data)
		}
		response = append(response, notificationPayload{
			ID:        record.ID,
			Type:      record.Type,
			Data:      data,
			IsRead:    record.IsRead,
			CreatedAt: record.CreatedAt.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": response})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	notificationID := strings.TrimSpace(c.Param("id"))
	if notificationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), notificationID); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to mark notification read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleMarkAllNotificationsRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.notifications.MarkAllRead(c.Request.Context(), userID); err != nil {
		h.logger.Error("failed to mark notifications read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createDocumentPayload struct {
	DocID       string `json:"docId"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
}

type documentPayload struct {
	DocID       string `json:"docId"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func documentResponse(record docsync.Document) documentPayload {
	return documentPayload{
		DocID:       record.DocID,
		WorkspaceID: record.Workspace,
		Name:        record.Name,
		UpdatedAt:   record.UpdatedAt.UnixMilli(),
	}
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	var request createDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.DocID) == "" || strings.TrimSpace(request.WorkspaceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.documents.Create(c.Request.Context(), request.DocID, request.WorkspaceID, request.Name)
	if err != nil {
		h.logger.Error("failed to create document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, documentResponse(record))
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	workspace := strings.TrimSpace(c.Query("workspace"))
	if workspace == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	records, err := h.documents.ListByWorkspace(c.Request.Context(), workspace)
	if err != nil {
		h.logger.Error("failed to list documents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]documentPayload, 0, len(records))
	for _, record := range records {
		response = append(response, documentResponse(record))
	}
	c.JSON(http.StatusOK, gin.H{"documents": response})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	docID := strings.TrimSpace(c.Param("id"))
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.documents.Find(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, docsync.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to load document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, documentResponse(record))
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
