package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/quillchat/quill/internal/auth"
	"github.com/quillchat/quill/internal/conversation"
	"github.com/quillchat/quill/internal/relay"
)

// stubAuth scripts the auth collaborator. The zero value is an
// authenticated session for a test user.
type stubAuth struct {
	anonymous  bool
	sessionErr error
	signInErr  error
	signOutErr error
}

func (a *stubAuth) Session(ctx context.Context, cookieHeader string) (*auth.Session, error) {
	if a.sessionErr != nil {
		return nil, a.sessionErr
	}
	if a.anonymous {
		return nil, nil
	}
	return &auth.Session{
		ID:        "sess-test",
		UserID:    "user-test",
		ExpiresAt: time.Now().Add(time.Hour),
		User:      auth.User{ID: "user-test", Email: "writer@example.com"},
	}, nil
}

func (a *stubAuth) SignIn(ctx context.Context, email, password string) (*auth.Session, string, error) {
	if a.signInErr != nil {
		return nil, "", a.signInErr
	}
	return &auth.Session{User: auth.User{ID: "user-test", Email: email}}, "session=fresh; HttpOnly", nil
}

func (a *stubAuth) SignOut(ctx context.Context, cookieHeader string) error {
	return a.signOutErr
}

// memStore is an in-memory ConversationStore.
type memStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*conversation.Conversation
	messages      map[uuid.UUID][]*conversation.Message

	failAppend error
	failList   error
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[uuid.UUID]*conversation.Conversation),
		messages:      make(map[uuid.UUID][]*conversation.Message),
	}
}

func (s *memStore) CreateConversation(ctx context.Context, title string, scope conversation.Scope) (*conversation.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, conversation.ErrTitleRequired
	}
	if len(title) > conversation.MaxTitleLength {
		return nil, conversation.ErrTitleTooLong
	}
	if scope == "" {
		scope = conversation.ScopeGeneral
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: %q", conversation.ErrInvalidScope, scope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	conv := &conversation.Conversation{
		ID:        uuid.New(),
		Title:     title,
		Scope:     scope,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *memStore) Conversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return conv, nil
}

func (s *memStore) Conversations(ctx context.Context, limit, offset int32) ([]*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList != nil {
		return nil, s.failList
	}
	out := make([]*conversation.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if int(offset) >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if int(limit) < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) RenameConversation(ctx context.Context, id uuid.UUID, title string) (*conversation.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, conversation.ErrTitleRequired
	}
	if len(title) > conversation.MaxTitleLength {
		return nil, conversation.ErrTitleTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return conv, nil
}

func (s *memStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, role conversation.Role, content string) (*conversation.Message, error) {
	if !role.Valid() {
		return nil, conversation.ErrInvalidRole
	}
	if strings.TrimSpace(content) == "" {
		return nil, conversation.ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		return nil, s.failAppend
	}
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, conversation.ErrNotFound
	}

	msg := &conversation.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SequenceNumber: int64(len(s.messages[conversationID]) + 1),
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv.UpdatedAt = time.Now()
	return msg, nil
}

func (s *memStore) Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if int(offset) >= len(msgs) {
		return nil, nil
	}
	msgs = msgs[offset:]
	if limit > 0 && int(limit) < len(msgs) {
		msgs = msgs[:limit]
	}
	out := make([]*conversation.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memStore) LastMessage(ctx context.Context, conversationID uuid.UUID) (*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if len(msgs) == 0 {
		return nil, conversation.ErrNotFound
	}
	return msgs[len(msgs)-1], nil
}

// stubCompleter streams a scripted response word by word.
type stubCompleter struct {
	mu         sync.Mutex
	response   string
	err        error
	title      string
	titleCalls []string
	turns      [][]*ai.Message
}

func (c *stubCompleter) Stream(ctx context.Context, turns []*ai.Message, callback relay.StreamCallback) (string, error) {
	c.mu.Lock()
	c.turns = append(c.turns, turns)
	response, err := c.response, c.err
	c.mu.Unlock()

	if err != nil {
		return "", err
	}
	if callback != nil {
		for _, word := range strings.SplitAfter(response, " ") {
			if word == "" {
				continue
			}
			if cbErr := callback(ctx, word); cbErr != nil {
				return "", cbErr
			}
		}
	}
	return response, nil
}

func (c *stubCompleter) Title(ctx context.Context, userMessage string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titleCalls = append(c.titleCalls, userMessage)
	return c.title
}

// testServer bundles the server with its scripted collaborators.
type testServer struct {
	handler   http.Handler
	store     *memStore
	completer *stubCompleter
	auth      *stubAuth
}

func newTestServer(t *testing.T, mutate func(*ServerConfig)) *testServer {
	t.Helper()

	ts := &testServer{
		store:     newMemStore(),
		completer: &stubCompleter{response: "mock response"},
		auth:      &stubAuth{},
	}

	cfg := ServerConfig{
		Logger:      slog.New(slog.DiscardHandler),
		Store:       ts.store,
		Completer:   ts.completer,
		Auth:        ts.auth,
		CORSOrigins: []string{"http://localhost:3000"},
		IsDev:       true,
		RateBurst:   1000,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts.handler = srv.Handler()
	return ts
}

// do runs a request through the full middleware stack.
func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// seedConversation creates a conversation directly in the store.
func (ts *testServer) seedConversation(t *testing.T, title string) *conversation.Conversation {
	t.Helper()
	conv, err := ts.store.CreateConversation(context.Background(), title, conversation.ScopeGeneral)
	if err != nil {
		t.Fatalf("seeding conversation: %v", err)
	}
	return conv
}
