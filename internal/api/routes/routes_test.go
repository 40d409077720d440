package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-relay/internal/api/handlers"
	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/repositories/postgres"
	"chat-relay/internal/services"
	"chat-relay/internal/websocket"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/common/expfmt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "routes-test-secret"

type testServer struct {
	engine *gin.Engine
	relay  *websocket.Relay
	issuer *auth.Issuer
}

func newTestServer(t *testing.T, limiter *services.RedisService) *testServer {
	t.Helper()
	db, err := database.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	verifier := auth.NewJWTVerifier(testSecret)
	convRepo := postgres.NewConversationRepository(db)
	msgRepo := postgres.NewMessageRepository(db)
	opts := websocket.Options{StrictMembership: true}
	if limiter != nil {
		opts.Presence = limiter
	}
	relay := websocket.NewRelay(verifier, convRepo, msgRepo, opts)

	deps := Dependencies{
		Config:        &config.Config{},
		Relay:         relay,
		Conversations: services.NewConversationService(convRepo, msgRepo, relay),
		Verifier:      verifier,
		HealthChecks: map[string]handlers.HealthCheck{
			"database": func(ctx context.Context) error { return sqlDB.PingContext(ctx) },
		},
	}
	if limiter != nil {
		deps.Limiter = limiter
		deps.Statuses = limiter
	}

	router := NewRouter(deps)
	router.SetupRoutes()
	return &testServer{engine: router.GetEngine(), relay: relay, issuer: auth.NewIssuer(testSecret, time.Hour)}
}

func (s *testServer) do(t *testing.T, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		token, err := s.issuer.Issue(identity)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func createConversation(t *testing.T, s *testServer, creator string, participants ...string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/conversations", creator, map[string]any{"participants": participants})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var conv struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &conv))
	return conv.ID
}

func TestRoutes_Health(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)
}

func TestRoutes_RequireAuth(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, w).Code)
}

func TestRoutes_ConversationLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	convID := createConversation(t, s, "alice", "bob")

	// creating the same direct conversation returns the existing one
	w := s.do(t, http.MethodPost, "/api/v1/conversations", "bob", map[string]any{"participants": []string{"alice"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), convID)

	w = s.do(t, http.MethodGet, "/api/v1/conversations", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), convID)

	w = s.do(t, http.MethodGet, "/api/v1/conversations/"+convID, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/conversations/missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	for i := 0; i < 3; i++ {
		w = s.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", "alice",
			map[string]string{"content": fmt.Sprintf("hi %d", i)})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", "alice", map[string]string{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/conversations/"+convID+"/messages?page=1&limit=2", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.JSONEq(t, `{"total":3,"page":1,"pages":2}`, string(env.Meta))

	w = s.do(t, http.MethodGet, "/api/v1/conversations/"+convID+"/messages?page=x", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/conversations/"+convID+"/unread", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"unread":3}`, string(decode(t, w).Data))

	w = s.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/read", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":3}`, string(decode(t, w).Data))

	w = s.do(t, http.MethodGet, "/api/v1/conversations/"+convID+"/unread", "bob", nil)
	assert.JSONEq(t, `{"unread":0}`, string(decode(t, w).Data))
}

func TestRoutes_Participants(t *testing.T) {
	s := newTestServer(t, nil)
	direct := createConversation(t, s, "alice", "bob")
	group := createConversation(t, s, "alice", "bob", "carol")

	w := s.do(t, http.MethodPost, "/api/v1/conversations/"+direct+"/participants", "alice", map[string]string{"userId": "dave"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/conversations/"+group+"/participants", "mallory", map[string]string{"userId": "mallory"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/conversations/"+group+"/participants", "alice", map[string]string{"userId": "dave"})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/conversations/"+group, "dave", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/conversations/"+group+"/participants/remove", "alice", map[string]string{"userId": "dave"})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/conversations/"+group, "dave", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoutes_RestMessageReachesWebsocketSubscribers(t *testing.T) {
	s := newTestServer(t, nil)
	convID := createConversation(t, s, "alice", "bob")

	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)

	token, err := s.issuer.Issue("bob")
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + token
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return len(s.relay.Rooms().SubscribersOf(convID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w := s.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", "alice", map[string]string{"content": "over rest"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event":"newMessage"`)
	assert.Contains(t, string(raw), `"content":"over rest"`)
}

func TestRoutes_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	createConversation(t, s, "alice", "bob")

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(w.Body)
	require.NoError(t, err)
	require.Contains(t, families, "chat_relay_connections")
	assert.Zero(t, families["chat_relay_connections"].GetMetric()[0].GetGauge().GetValue())
}

func TestRoutes_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := newTestServer(t, services.NewRedisService(database.NewRedisClient(client)))

	var last int
	for i := 0; i < 101; i++ {
		last = s.do(t, http.MethodGet, "/api/v1/conversations", "alice", nil).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// other callers have their own window
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/conversations", "bob", nil).Code)
}

func TestRoutes_Presence(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := newTestServer(t, services.NewRedisService(database.NewRedisClient(client)))

	w := s.do(t, http.MethodGet, "/api/v1/presence/bob", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"bob","online":false,"status":"offline"}`, string(decode(t, w).Data))

	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)
	token, err := s.issuer.Issue("bob")
	require.NoError(t, err)
	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		stored, _ := mr.IsMember("online_users", "bob")
		return s.relay.IsOnline("bob") && stored
	}, 2*time.Second, 10*time.Millisecond)
	w = s.do(t, http.MethodGet, "/api/v1/presence/bob", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := string(decode(t, w).Data)
	assert.Contains(t, data, `"online":true`)
	assert.Contains(t, data, `"lastSeen":`)

	w = s.do(t, http.MethodGet, "/api/v1/presence", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"online":["bob"]}`, string(decode(t, w).Data))
}

func TestRoutes_PresenceWithoutRedisUsesRelaySessions(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)

	token, err := s.issuer.Issue("carol")
	require.NoError(t, err)
	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.relay.IsOnline("carol") }, 2*time.Second, 10*time.Millisecond)

	w := s.do(t, http.MethodGet, "/api/v1/presence", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"online":["carol"]}`, string(decode(t, w).Data))
}
