package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"convohub/internal/middleware"
	"convohub/internal/mocks"
)

type testMocks struct {
	users    *mocks.UserServiceMock
	chats    *mocks.ChatServiceMock
	messages *mocks.MessageServiceMock
	invites  *mocks.InviteServiceMock
}

func (m testMocks) assert(t *testing.T) {
	m.users.AssertExpectations(t)
	m.chats.AssertExpectations(t)
	m.messages.AssertExpectations(t)
	m.invites.AssertExpectations(t)
}

// setupRouter mounts the full route table behind a stub auth that admits any
// bearer as u1.
func setupRouter() (*gin.Engine, testMocks) {
	gin.SetMode(gin.TestMode)
	m := testMocks{
		users:    new(mocks.UserServiceMock),
		chats:    new(mocks.ChatServiceMock),
		messages: new(mocks.MessageServiceMock),
		invites:  new(mocks.InviteServiceMock),
	}
	r := gin.New()
	auth := func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Set(middleware.UserIDKey, "u1")
		c.Next()
	}
	RegisterRoutes(r, Handlers{
		Users:    NewUserHandler(m.users),
		Chats:    NewChatHandler(m.chats),
		Messages: NewMessageHandler(m.messages),
		Invites:  NewInviteHandler(m.invites),
	}, auth)
	return r, m
}

func do(t *testing.T, r http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer test")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}
