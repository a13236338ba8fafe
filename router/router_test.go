package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chat-service/bot"
	"chat-service/controller"
	"chat-service/database"
	"chat-service/service"

	"github.com/casbin/casbin/v2"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func newService(t *testing.T, db *gorm.DB) *service.Service {
	t.Helper()
	return service.New(service.Options{
		DB:      db,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout: 5 * time.Second,
	})
}

type memTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *memTokens) Set(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}

func (m *memTokens) Get(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[userID], nil
}

type fakeBot struct {
	calls []string
}

func (b *fakeBot) Broadcast(_ context.Context, content string) (*bot.Report, error) {
	b.calls = append(b.calls, content)
	return &bot.Report{Sent: 2, Failed: []string{}}, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type api struct {
	app      *fiber.App
	enforcer *casbin.Enforcer
	db       *gorm.DB
	bot      *fakeBot
	svc      *service.Service
}

func newAPI(t *testing.T) *api {
	t.Helper()
	t.Setenv("JWT_ACCESS_KEY", "access-secret")
	t.Setenv("JWT_REFRESH_KEY", "refresh-secret")
	t.Setenv("OTP_ISSUER", "chat-service")

	db := openDB(t)
	enforcer, err := database.NewEnforcer(db)
	require.NoError(t, err)

	svc := newService(t, db)
	b := &fakeBot{}
	app := fiber.New(fiber.Config{StrictRouting: true})
	Rest(app,
		&controller.Auth{DB: db, Tokens: &memTokens{tokens: map[string]string{}}, Enforcer: enforcer, Cost: bcrypt.MinCost},
		&controller.Chat{Service: svc, Bot: b},
		enforcer,
	)
	return &api{app: app, enforcer: enforcer, db: db, bot: b, svc: svc}
}

func (a *api) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := envelope{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// register signs a user up and in, returning its id and access token.
func (a *api) register(t *testing.T, username string) (string, string) {
	t.Helper()
	status, out := a.do(t, "POST", "/v1/auth/signup", "", controller.AuthSignupInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		Name:     username,
	})
	require.Equal(t, fiber.StatusOK, status)
	created := struct {
		ID string `json:"id"`
	}{}
	require.NoError(t, json.Unmarshal(out.Data, &created))

	status, out = a.do(t, "POST", "/v1/auth/signin", "", controller.AuthLoginInput{
		Login:    username,
		Password: "password123",
	})
	require.Equal(t, fiber.StatusOK, status)
	tokens := struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}{}
	require.NoError(t, json.Unmarshal(out.Data, &tokens))
	return created.ID, tokens.Access
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type idDoc struct {
	ID string `json:"id"`
}

func TestSignupValidation(t *testing.T) {
	a := newAPI(t)
	a.register(t, "alice")

	status, out := a.do(t, "POST", "/v1/auth/signup", "", controller.AuthSignupInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: "password123",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, out.Message)
	assert.Equal(t, "Username is already registered", *out.Message)

	status, _ = a.do(t, "POST", "/v1/auth/signup", "", controller.AuthSignupInput{
		Username: "bob",
		Email:    "not-an-email",
		Password: "password123",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = a.do(t, "POST", "/v1/auth/signin", "", controller.AuthLoginInput{
		Login:    "alice@example.com",
		Password: "wrong-password",
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestTokenRenew(t *testing.T) {
	a := newAPI(t)
	a.register(t, "alice")

	status, out := a.do(t, "POST", "/v1/auth/signin", "", controller.AuthLoginInput{
		Login:    "alice@example.com",
		Password: "password123",
	})
	require.Equal(t, fiber.StatusOK, status)
	tokens := decode[map[string]any](t, out.Data)

	status, _ = a.do(t, "POST", "/v1/auth/token/renew", "", controller.AuthRenewTokenInput{
		RefreshToken: tokens["refresh"].(string),
	})
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = a.do(t, "POST", "/v1/auth/token/renew", "", controller.AuthRenewTokenInput{
		RefreshToken: tokens["access"].(string),
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRoutesRequireToken(t *testing.T) {
	a := newAPI(t)

	status, _ := a.do(t, "GET", "/v1/inboxes", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = a.do(t, "GET", "/v1/inboxes", "garbage.token.value", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestFriendshipAndMessagingFlow(t *testing.T) {
	a := newAPI(t)
	aliceID, alice := a.register(t, "alice")
	bobID, bob := a.register(t, "bob")
	_, carol := a.register(t, "carol")

	status, out := a.do(t, "GET", "/v1/users/search?q=bo", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	found := decode[[]idDoc](t, out.Data)
	require.Len(t, found, 1)
	assert.Equal(t, bobID, found[0].ID)

	status, _ = a.do(t, "POST", "/v1/friends/requests", alice, controller.SendRequestInput{UserID: bobID})
	require.Equal(t, fiber.StatusOK, status)

	status, _ = a.do(t, "POST", "/v1/friends/requests", bob, controller.SendRequestInput{UserID: aliceID})
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = a.do(t, "POST", "/v1/friends/requests", alice, controller.SendRequestInput{UserID: aliceID})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, out = a.do(t, "GET", "/v1/friends/requests/received", bob, nil)
	require.Equal(t, fiber.StatusOK, status)
	received := decode[[]idDoc](t, out.Data)
	require.Len(t, received, 1)

	status, _ = a.do(t, "POST", "/v1/friends/requests/"+received[0].ID+"/accept", alice, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, out = a.do(t, "POST", "/v1/friends/requests/"+received[0].ID+"/accept", bob, nil)
	require.Equal(t, fiber.StatusOK, status)
	inbox := decode[idDoc](t, out.Data)
	require.NotEmpty(t, inbox.ID)

	status, out = a.do(t, "GET", "/v1/inboxes", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, decode[[]idDoc](t, out.Data), 1)

	status, _ = a.do(t, "POST", "/v1/inboxes/"+inbox.ID+"/messages", alice, controller.AppendMessageInput{Content: "hi bob"})
	require.Equal(t, fiber.StatusOK, status)

	status, _ = a.do(t, "POST", "/v1/inboxes/"+inbox.ID+"/messages", alice, controller.AppendMessageInput{Content: ""})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = a.do(t, "POST", "/v1/inboxes/"+inbox.ID+"/messages", carol, controller.AppendMessageInput{Content: "hey"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = a.do(t, "POST", "/v1/inboxes/missing/messages", alice, controller.AppendMessageInput{Content: "hey"})
	assert.Equal(t, fiber.StatusNotFound, status)

	status, out = a.do(t, "GET", "/v1/inboxes/"+inbox.ID+"/messages", bob, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, decode[[]idDoc](t, out.Data), 2)

	status, out = a.do(t, "POST", "/v1/inboxes/lookup", alice, controller.LookupInboxInput{UserIDs: []string{bobID}})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, inbox.ID, decode[idDoc](t, out.Data).ID)

	status, out = a.do(t, "GET", "/v1/friends", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	friendships := decode[[]idDoc](t, out.Data)
	require.Len(t, friendships, 1)

	status, _ = a.do(t, "DELETE", "/v1/friends/"+friendships[0].ID, carol, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = a.do(t, "DELETE", "/v1/friends/"+friendships[0].ID, bob, nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestGroupFlow(t *testing.T) {
	a := newAPI(t)
	_, alice := a.register(t, "alice")
	bobID, bob := a.register(t, "bob")

	status, out := a.do(t, "POST", "/v1/groups", alice, controller.CreateGroupInput{Name: "Team", UserIDs: []string{bobID, "ghost"}})
	require.Equal(t, fiber.StatusOK, status)
	created := decode[struct {
		Group  idDoc    `json:"group"`
		Failed []string `json:"failed"`
	}](t, out.Data)
	require.NotEmpty(t, created.Group.ID)
	assert.Equal(t, []string{"ghost"}, created.Failed)

	status, out = a.do(t, "GET", "/v1/invitations/received", bob, nil)
	require.Equal(t, fiber.StatusOK, status)
	invitations := decode[[]idDoc](t, out.Data)
	require.Len(t, invitations, 1)

	status, _ = a.do(t, "POST", "/v1/invitations/"+invitations[0].ID+"/accept", bob, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _ = a.do(t, "PUT", "/v1/groups/"+created.Group.ID+"/name", bob, controller.RenameGroupInput{Name: "Mine"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = a.do(t, "PUT", "/v1/groups/"+created.Group.ID+"/name", alice, controller.RenameGroupInput{Name: "Renamed"})
	assert.Equal(t, fiber.StatusOK, status)

	status, out = a.do(t, "POST", "/v1/groups/"+created.Group.ID+"/leave", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	result := decode[service.Result](t, out.Data)
	assert.False(t, result.Result)
	assert.Equal(t, "You can't leave the group, because you are the leader!", result.Message)

	status, out = a.do(t, "GET", "/v1/groups", bob, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, decode[[]idDoc](t, out.Data), 1)

	status, _ = a.do(t, "DELETE", "/v1/groups/"+created.Group.ID, alice, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = a.do(t, "GET", "/v1/inboxes/"+created.Group.ID+"/header", bob, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestSessionsLookup(t *testing.T) {
	a := newAPI(t)
	aliceID, alice := a.register(t, "alice")

	_, err := a.svc.OnLogin(context.Background(), aliceID, "conn-1")
	require.NoError(t, err)

	status, out := a.do(t, "GET", "/v1/sessions?ids="+aliceID+",unknown", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	sessions := decode[[]struct {
		UserID string `json:"userId"`
		Online bool   `json:"online"`
	}](t, out.Data)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Online)
}

func TestAdminBroadcastRequiresRole(t *testing.T) {
	a := newAPI(t)
	aliceID, alice := a.register(t, "alice")

	status, _ := a.do(t, "POST", "/v1/admin/bot/broadcast", alice, controller.BroadcastInput{Content: "hello"})
	assert.Equal(t, fiber.StatusForbidden, status)

	_, err := a.enforcer.AddGroupingPolicy(aliceID, database.RoleAdmin)
	require.NoError(t, err)

	status, _ = a.do(t, "POST", "/v1/admin/bot/broadcast", alice, controller.BroadcastInput{Content: "hello"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []string{"hello"}, a.bot.calls)
}
