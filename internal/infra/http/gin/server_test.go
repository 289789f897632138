package ginserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	authsvc "clinix/internal/app/services/auth"
	chatsvc "clinix/internal/app/services/chat"
	domainuser "clinix/internal/domain/user"
	"clinix/internal/infra/config"
	"clinix/internal/infra/obs"
	"clinix/internal/infra/realtime"
	"clinix/internal/infra/security"
	"clinix/internal/infra/storage/memory"
)

type testApp struct {
	handler http.Handler
	auth    *authsvc.Service
	chat    *chatsvc.Service
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	hub := realtime.NewHub(nil)
	t.Cleanup(hub.Close)

	chatStore := memory.NewChatStore(hub)
	users := memory.NewUserRepository()
	branches := memory.NewBranchRepository()

	chatService := &chatsvc.Service{Store: chatStore, Feed: hub, OpTimeout: time.Second}
	t.Cleanup(chatService.Close)
	authService := &authsvc.Service{
		Users:      users,
		Sessions:   memory.NewSessionStore(),
		Profiles:   chatStore,
		Passwords:  security.BcryptHasher{Cost: 4},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: time.Hour,
	}

	handlers := Handlers{
		Auth:           AuthHandler{Service: authService, Chat: chatService},
		Chat:           ChatHandler{Service: chatService},
		Admin:          AdminHandler{Users: users, Service: authService},
		Branch:         BranchHandler{Branches: branches},
		AuthMiddleware: AuthMiddleware{Service: authService}.Handle,
	}
	cfg := config.Config{
		Env:         "test",
		HTTPAddr:    ":0",
		CORSOrigins: []string{"http://localhost:5173"},
	}
	server := NewServer(cfg, obs.Middleware{}, obs.HealthHandlers{}, handlers)
	return &testApp{handler: server.Handler, auth: authService, chat: chatService}
}

func (a *testApp) createUser(t *testing.T, email, name, password string, role domainuser.Role) *domainuser.User {
	t.Helper()
	user, err := a.auth.CreateUser(context.Background(), authsvc.CreateUserParams{
		Email: email, Name: name, Password: password, Role: role,
	})
	require.NoError(t, err)
	return user
}

func (a *testApp) login(t *testing.T, email, password string) string {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func (a *testApp) do(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/livez", "", nil).Code)
	require.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/readyz", "", nil).Code)
}

func TestAuthFlow(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice@clinic.test", "Alice", "sup3rsecret", domainuser.RoleDoctor)

	// Wrong password is rejected.
	resp := app.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "alice@clinic.test", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	token := app.login(t, "alice@clinic.test", "sup3rsecret")

	me := app.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, me.Code)
	var profile struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &profile))
	require.Equal(t, "alice@clinic.test", profile.Email)
	require.Equal(t, "doctor", profile.Role)

	// No token means no identity.
	require.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/api/v1/auth/me", "", nil).Code)

	require.Equal(t, http.StatusNoContent, app.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil).Code)
	require.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/api/v1/auth/me", token, nil).Code)
}

func TestConversationLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	alice := app.createUser(t, "alice@clinic.test", "Alice", "sup3rsecret", domainuser.RoleDoctor)
	bob := app.createUser(t, "bob@clinic.test", "Bob", "sup3rsecret", domainuser.RoleStaff)
	_ = alice

	aliceToken := app.login(t, "alice@clinic.test", "sup3rsecret")
	bobToken := app.login(t, "bob@clinic.test", "sup3rsecret")

	created := app.do(t, http.MethodPost, "/api/v1/chat/conversations", aliceToken, map[string]any{
		"name":       "front desk",
		"member_ids": []string{string(bob.ID)},
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var conversation struct {
		ID        string `json:"id"`
		CreatedBy string `json:"created_by"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &conversation))
	require.NotEmpty(t, conversation.ID)

	// Empty names are rejected.
	require.Equal(t, http.StatusBadRequest, app.do(t, http.MethodPost, "/api/v1/chat/conversations", aliceToken, map[string]any{
		"name": "   ",
	}).Code)

	// Both members see the conversation in their directory.
	for _, token := range []string{aliceToken, bobToken} {
		listing := app.do(t, http.MethodGet, "/api/v1/chat/conversations", token, nil)
		require.Equal(t, http.StatusOK, listing.Code)
		var body struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
		}
		require.NoError(t, json.Unmarshal(listing.Body.Bytes(), &body))
		require.Len(t, body.Items, 1)
		require.Equal(t, conversation.ID, body.Items[0].ID)
	}

	opened := app.do(t, http.MethodPost, "/api/v1/chat/conversations/"+conversation.ID+"/open", aliceToken, nil)
	require.Equal(t, http.StatusOK, opened.Code)

	// Sending returns 202: the message lands in the cache through the feed
	// echo, not the request path.
	sent := app.do(t, http.MethodPost, "/api/v1/chat/conversations/"+conversation.ID+"/messages", aliceToken, map[string]string{
		"text": "hello bob",
	})
	require.Equal(t, http.StatusAccepted, sent.Code)
	require.Equal(t, http.StatusBadRequest, app.do(t, http.MethodPost, "/api/v1/chat/conversations/"+conversation.ID+"/messages", aliceToken, map[string]string{
		"text": "   ",
	}).Code)

	// Bob opens via the history endpoint and sees the echoed message.
	require.Eventually(t, func() bool {
		history := app.do(t, http.MethodGet, "/api/v1/chat/conversations/"+conversation.ID+"/messages", bobToken, nil)
		if history.Code != http.StatusOK {
			return false
		}
		var page struct {
			Items []struct {
				Text string `json:"text"`
			} `json:"items"`
		}
		if err := json.Unmarshal(history.Body.Bytes(), &page); err != nil {
			return false
		}
		return len(page.Items) == 1 && page.Items[0].Text == "hello bob"
	}, 2*time.Second, 10*time.Millisecond)

	listing := app.do(t, http.MethodGet, "/api/v1/chat/conversations", bobToken, nil)
	require.Equal(t, http.StatusOK, listing.Code)
	var withPreview struct {
		Items []struct {
			LastMessage *struct {
				Text string `json:"text"`
			} `json:"last_message"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(listing.Body.Bytes(), &withPreview))
	require.Len(t, withPreview.Items, 1)
	require.NotNil(t, withPreview.Items[0].LastMessage)
	require.Equal(t, "hello bob", withPreview.Items[0].LastMessage.Text)

	// Only the creator deletes.
	require.Equal(t, http.StatusForbidden, app.do(t, http.MethodDelete, "/api/v1/chat/conversations/"+conversation.ID, bobToken, nil).Code)
	require.Equal(t, http.StatusNoContent, app.do(t, http.MethodDelete, "/api/v1/chat/conversations/"+conversation.ID, aliceToken, nil).Code)
	require.Equal(t, http.StatusNotFound, app.do(t, http.MethodDelete, "/api/v1/chat/conversations/"+conversation.ID, aliceToken, nil).Code)
}

func TestMemberManagementOverHTTP(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice@clinic.test", "Alice", "sup3rsecret", domainuser.RoleDoctor)
	carol := app.createUser(t, "carol@clinic.test", "Carol", "sup3rsecret", domainuser.RoleStaff)
	aliceToken := app.login(t, "alice@clinic.test", "sup3rsecret")

	created := app.do(t, http.MethodPost, "/api/v1/chat/conversations", aliceToken, map[string]any{"name": "ward"})
	require.Equal(t, http.StatusCreated, created.Code)
	var conversation struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &conversation))

	base := "/api/v1/chat/conversations/" + conversation.ID
	require.Equal(t, http.StatusNoContent, app.do(t, http.MethodPost, base+"/members", aliceToken, map[string]string{
		"user_id": string(carol.ID),
	}).Code)
	require.Equal(t, http.StatusBadRequest, app.do(t, http.MethodPost, base+"/members", aliceToken, map[string]string{
		"user_id": string(carol.ID),
	}).Code, "adding twice is rejected")

	require.Equal(t, http.StatusNoContent, app.do(t, http.MethodDelete, base+"/members/"+string(carol.ID), aliceToken, nil).Code)

	// The chat roster lists every synced profile.
	profiles := app.do(t, http.MethodGet, "/api/v1/chat/users", aliceToken, nil)
	require.Equal(t, http.StatusOK, profiles.Code)
	var roster struct {
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(profiles.Body.Bytes(), &roster))
	require.Len(t, roster.Items, 2)
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "root@clinic.test", "Root", "sup3rsecret", domainuser.RoleAdmin)
	app.createUser(t, "alice@clinic.test", "Alice", "sup3rsecret", domainuser.RoleDoctor)
	adminToken := app.login(t, "root@clinic.test", "sup3rsecret")
	doctorToken := app.login(t, "alice@clinic.test", "sup3rsecret")

	require.Equal(t, http.StatusForbidden, app.do(t, http.MethodGet, "/api/v1/admin/users", doctorToken, nil).Code)
	require.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/api/v1/admin/users", "", nil).Code)

	created := app.do(t, http.MethodPost, "/api/v1/admin/users", adminToken, map[string]any{
		"email":      "new@clinic.test",
		"name":       "Newcomer",
		"password":   "sup3rsecret",
		"role":       "staff",
		"branch_ids": []string{"b1"},
	})
	require.Equal(t, http.StatusCreated, created.Code)

	dup := app.do(t, http.MethodPost, "/api/v1/admin/users", adminToken, map[string]any{
		"email": "new@clinic.test", "name": "Again", "password": "sup3rsecret", "role": "staff",
	})
	require.Equal(t, http.StatusConflict, dup.Code)

	listing := app.do(t, http.MethodGet, "/api/v1/admin/users?query=new", adminToken, nil)
	require.Equal(t, http.StatusOK, listing.Code)
	var body struct {
		Items []struct {
			Email string `json:"email"`
		} `json:"items"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(listing.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	require.Equal(t, "new@clinic.test", body.Items[0].Email)
}

func TestBranchEndpoints(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "root@clinic.test", "Root", "sup3rsecret", domainuser.RoleAdmin)
	app.createUser(t, "alice@clinic.test", "Alice", "sup3rsecret", domainuser.RoleDoctor)
	adminToken := app.login(t, "root@clinic.test", "sup3rsecret")
	doctorToken := app.login(t, "alice@clinic.test", "sup3rsecret")

	payload := map[string]string{"id": "b1", "name": "Main Street", "address": "1 Main St"}
	require.Equal(t, http.StatusForbidden, app.do(t, http.MethodPost, "/api/v1/settings/branches", doctorToken, payload).Code)
	require.Equal(t, http.StatusCreated, app.do(t, http.MethodPost, "/api/v1/settings/branches", adminToken, payload).Code)
	require.Equal(t, http.StatusConflict, app.do(t, http.MethodPost, "/api/v1/settings/branches", adminToken, payload).Code)

	// Any signed-in user reads the branch list.
	listing := app.do(t, http.MethodGet, "/api/v1/settings/branches", doctorToken, nil)
	require.Equal(t, http.StatusOK, listing.Code)
	var body struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(listing.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "Main Street", body.Items[0].Name)

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPut, "/api/v1/settings/branches/b1", adminToken, map[string]string{
		"name": "Main Street Clinic",
	}).Code)
	require.Equal(t, http.StatusNotFound, app.do(t, http.MethodPut, "/api/v1/settings/branches/missing", adminToken, map[string]string{
		"name": "Ghost",
	}).Code)
	require.Equal(t, http.StatusNoContent, app.do(t, http.MethodDelete, "/api/v1/settings/branches/b1", adminToken, nil).Code)
}
