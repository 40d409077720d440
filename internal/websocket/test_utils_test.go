package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chat-relay/internal/apperror"
	"chat-relay/internal/models"
)

// mockConn records every frame sent to it
type mockConn struct {
	id    string
	token string

	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode int
	sendErr   error
}

func newMockConn(id, token string) *mockConn {
	return &mockConn{id: id, token: token}
}

func (m *mockConn) ID() string         { return m.id }
func (m *mockConn) Credential() string { return m.token }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClientDisconnected
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.frames = append(m.frames, data)
	return nil
}

func (m *mockConn) Close() error {
	return m.CloseWithReason(1000, "")
}

func (m *mockConn) CloseWithReason(code int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.closeCode = code
	}
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type receivedEvent struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
	ID    string          `json:"id"`
}

func (m *mockConn) events() []receivedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]receivedEvent, 0, len(m.frames))
	for _, f := range m.frames {
		var ev receivedEvent
		if err := json.Unmarshal(f, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

func (m *mockConn) eventsOf(t EventType) []receivedEvent {
	var out []receivedEvent
	for _, ev := range m.events() {
		if ev.Event == t {
			out = append(out, ev)
		}
	}
	return out
}

func (m *mockConn) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
}

// stubVerifier accepts tokens of the form "token-<identity>" unless revoked
type stubVerifier struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func newStubVerifier() *stubVerifier {
	return &stubVerifier{revoked: make(map[string]bool)}
}

func tokenFor(identity string) string {
	return "token-" + identity
}

func (v *stubVerifier) Verify(token string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.revoked[token] {
		return "", apperror.Unauthorized("token expired")
	}
	identity, ok := strings.CutPrefix(token, "token-")
	if !ok || identity == "" {
		return "", apperror.Unauthorized("invalid token")
	}
	return identity, nil
}

func (v *stubVerifier) revoke(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.revoked[token] = true
}

// memStore is an in-memory ConversationStore and MessageStore
type memStore struct {
	mu           sync.Mutex
	participants map[string]map[string]bool
	messages     []models.Message
	listErr      error
	createErr    error
	authCalls    atomic.Int64
	markReadBy   []string
	seq          int
}

func newMemStore() *memStore {
	return &memStore{participants: make(map[string]map[string]bool)}
}

func (s *memStore) addConversation(id string, identities ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make(map[string]bool)
	for _, identity := range identities {
		members[identity] = true
	}
	s.participants[id] = members
}

func (s *memStore) removeParticipant(id, identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants[id], identity)
}

func (s *memStore) ListConversationsFor(ctx context.Context, identity string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for id, members := range s.participants {
		if members[identity] {
			out = append(out, models.Conversation{ID: id})
		}
	}
	return out, s.listErr
}

func (s *memStore) IsParticipant(ctx context.Context, identity, conversationID string) (bool, error) {
	s.authCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.participants[conversationID]
	if !ok {
		return false, apperror.NotFound("conversation not found")
	}
	return members[identity], nil
}

func (s *memStore) GetParticipants(ctx context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.participants[conversationID]
	if !ok {
		return nil, apperror.NotFound("conversation not found")
	}
	out := make([]string, 0, len(members))
	for identity := range members {
		out = append(out, identity)
	}
	return out, nil
}

func (s *memStore) Create(ctx context.Context, sender, conversationID, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.seq++
	msg := models.Message{
		ID:             fmt.Sprintf("msg-%d", s.seq),
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *memStore) MarkRead(ctx context.Context, conversationID, reader string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReadBy = append(s.markReadBy, reader)
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ConversationID == conversationID && m.SenderID != reader && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
	calls  []string
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]bool)}
}

func (p *fakePresence) SetUserOnline(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	p.calls = append(p.calls, "online:"+userID)
	return nil
}

func (p *fakePresence) SetUserOffline(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	p.calls = append(p.calls, "offline:"+userID)
	return nil
}

func (p *fakePresence) isOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

type fakeJournal struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (j *fakeJournal) PublishMessage(ctx context.Context, msg *models.Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.messages = append(j.messages, msg.ID)
	return nil
}

var errStoreDown = errors.New("store unavailable")

type testRelay struct {
	*Relay
	store    *memStore
	verifier *stubVerifier
	presence *fakePresence
	journal  *fakeJournal
}

func createTestRelay(strict bool) *testRelay {
	store := newMemStore()
	verifier := newStubVerifier()
	presence := newFakePresence()
	journal := &fakeJournal{}
	relay := NewRelay(verifier, store, store, Options{
		StrictMembership: strict,
		StoreTimeout:     time.Second,
		Presence:         presence,
		Journal:          journal,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testRelay{Relay: relay, store: store, verifier: verifier, presence: presence, journal: journal}
}

// connect opens an authenticated mock connection for identity
func (tr *testRelay) connect(id, identity string) *mockConn {
	conn := newMockConn(id, tokenFor(identity))
	if _, err := tr.Connect(context.Background(), conn, conn.token); err != nil {
		panic(err)
	}
	return conn
}

func frame(event EventType, id string, data any) []byte {
	raw, err := json.Marshal(map[string]any{"event": event, "id": id, "data": data})
	if err != nil {
		panic(err)
	}
	return raw
}
