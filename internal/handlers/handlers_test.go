package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pliu/securedm/internal/auth"
	"github.com/pliu/securedm/internal/blob"
	"github.com/pliu/securedm/internal/chat"
	"github.com/pliu/securedm/internal/middleware"
	"github.com/pliu/securedm/internal/store/sqlstore"
	"github.com/pliu/securedm/internal/verify"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	auth     *AuthHandler
	chat     *ChatHandler
	sessions *auth.Sessions
	sender   *captureSender
}

type captureSender struct {
	message string
}

func (c *captureSender) Send(_ context.Context, _, message string) error {
	c.message = message
	return nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlstore.New("sqlite3", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewBadgerStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	sessions, err := auth.NewSessions("test-secret", "securedm", time.Hour)
	require.NoError(t, err)

	sender := &captureSender{}
	return &testServer{
		auth: &AuthHandler{
			Identities: &auth.Service{Store: store, Sessions: sessions, HashCost: bcrypt.MinCost},
			Verifier:   &verify.Service{Codes: verify.NewMemoryStore(), Sender: sender},
		},
		chat: &ChatHandler{
			Chat: chat.NewService(store, blobs, nil, nil),
		},
		sessions: sessions,
		sender:   sender,
	}
}

func jsonRequest(method, path string, v interface{}) *http.Request {
	body, _ := json.Marshal(v)
	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (s *testServer) do(h http.HandlerFunc, req *http.Request, token string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	if token == "" {
		h.ServeHTTP(rr, req)
		return rr
	}
	req.Header.Set("Authorization", "Bearer "+token)
	middleware.AuthMiddleware(s.sessions)(h).ServeHTTP(rr, req)
	return rr
}

// signup registers a user and returns the session response.
func (s *testServer) signup(t *testing.T, email, phone string) SessionResponse {
	t.Helper()
	rr := s.do(s.auth.Signup, jsonRequest("POST", "/signup", SignupRequest{Email: email, Password: "password123", Phone: phone}), "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}
