package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/collabflexify/backend/internal/auth"
	"github.com/collabflexify/backend/internal/calls"
	"github.com/collabflexify/backend/internal/docsync"
	"github.com/collabflexify/backend/internal/notify"
	"github.com/collabflexify/backend/internal/presence"
)

var testDatabaseSequence int

type testEnvironment struct {
	server        *httptest.Server
	issuer        *auth.TokenIssuer
	notifications *notify.Service
	engine        *docsync.Engine
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDatabaseSequence++
	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", testDatabaseSequence)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&notify.Notification{}, &docsync.Document{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	notificationService, err := notify.NewService(notify.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct notification service: %v", err)
	}

	engine, err := docsync.NewEngine(docsync.EngineConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct document engine: %v", err)
	}

	registry := presence.NewRegistry(nil)
	directory := presence.NewDirectory()
	hub := NewHub()

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Service:  notificationService,
		Resolver: directory,
		Pusher:   hub,
	})
	if err != nil {
		t.Fatalf("failed to construct dispatcher: %v", err)
	}

	socket, err := NewSocketServer(SocketConfig{
		Registry:    registry,
		Directory:   directory,
		Coordinator: calls.NewCoordinator(time.Now),
		Dispatcher:  dispatcher,
		Engine:      engine,
		Hub:         hub,
		Tokens:      issuer,
	})
	if err != nil {
		t.Fatalf("failed to construct socket server: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:        issuer,
		Notifications: notificationService,
		Documents:     engine,
		Socket:        socket,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnvironment{
		server:        server,
		issuer:        issuer,
		notifications: notificationService,
		engine:        engine,
	}
}

func (env *testEnvironment) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := env.issuer.IssueToken(userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (env *testEnvironment) doJSON(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	request, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	return response
}

func decodeBody(t *testing.T, response *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	env := newTestEnvironment(t)
	response := env.doJSON(t, http.MethodGet, "/healthz", "", nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusOK)
	}
}

func TestProtectedRoutesRejectMissingAndInvalidTokens(t *testing.T) {
	env := newTestEnvironment(t)

	response := env.doJSON(t, http.MethodGet, "/api/notifications", "", nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected rejection without token, got %d", response.StatusCode)
	}

	response = env.doJSON(t, http.MethodGet, "/api/notifications", "not-a-token", nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected rejection with invalid token, got %d", response.StatusCode)
	}
}

func TestNotificationLifecycleOverREST(t *testing.T) {
	env := newTestEnvironment(t)
	token := env.tokenFor(t, "user-alice")

	first, err := env.notifications.Create(context.Background(), "user-alice", "workspace_join", `{"message":"Bob joined"}`)
	if err != nil {
		t.Fatalf("failed to seed notification: %v", err)
	}
	if _, err := env.notifications.Create(context.Background(), "user-alice", "new_message", `{"message":"hello"}`); err != nil {
		t.Fatalf("failed to seed notification: %v", err)
	}
	if _, err := env.notifications.Create(context.Background(), "user-bob", "new_message", `{"message":"other"}`); err != nil {
		t.Fatalf("failed to seed notification: %v", err)
	}

	var listing struct {
		Notifications []notificationPayload `json:"notifications"`
	}
	response := env.doJSON(t, http.MethodGet, "/api/notifications", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected list status: %d", response.StatusCode)
	}
	decodeBody(t, response, &listing)
	if len(listing.Notifications) != 2 {
		t.Fatalf("expected 2 notifications for recipient, got %d", len(listing.Notifications))
	}

	response = env.doJSON(t, http.MethodPut, "/api/notifications/"+first.ID+"/read", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected mark-read status: %d", response.StatusCode)
	}

	response = env.doJSON(t, http.MethodPut, "/api/notifications/missing-id/read", token, nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found for unknown notification, got %d", response.StatusCode)
	}

	response = env.doJSON(t, http.MethodPut, "/api/notifications/read-all", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected read-all status: %d", response.StatusCode)
	}

	response = env.doJSON(t, http.MethodGet, "/api/notifications", token, nil)
	decodeBody(t, response, &listing)
	for _, record := range listing.Notifications {
		if !record.IsRead {
			t.Fatalf("expected all notifications read, found unread %s", record.ID)
		}
	}
}

func TestDocumentEndpoints(t *testing.T) {
	env := newTestEnvironment(t)
	token := env.tokenFor(t, "user-alice")

	response := env.doJSON(t, http.MethodPost, "/api/documents", token, createDocumentPayload{
		DocID:       "doc-1",
		WorkspaceID: "ws-1",
		Name:        "Plans",
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected create status: %d", response.StatusCode)
	}
	var created documentPayload
	decodeBody(t, response, &created)
	if created.DocID != "doc-1" || created.WorkspaceID != "ws-1" || created.Name != "Plans" {
		t.Fatalf("unexpected created document: %#v", created)
	}

	response = env.doJSON(t, http.MethodPost, "/api/documents", token, createDocumentPayload{DocID: "doc-2"})
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected rejection without workspace, got %d", response.StatusCode)
	}

	var listing struct {
		Documents []documentPayload `json:"documents"`
	}
	response = env.doJSON(t, http.MethodGet, "/api/documents?workspace=ws-1", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected list status: %d", response.StatusCode)
	}
	decodeBody(t, response, &listing)
	if len(listing.Documents) != 1 || listing.Documents[0].DocID != "doc-1" {
		t.Fatalf("unexpected workspace listing: %#v", listing.Documents)
	}

	response = env.doJSON(t, http.MethodGet, "/api/documents/doc-1", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected lookup status: %d", response.StatusCode)
	}

	response = env.doJSON(t, http.MethodGet, "/api/documents/doc-missing", token, nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found for unknown document, got %d", response.StatusCode)
	}
}
