package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavitra93/go-tenant-rbac/shared/app"
	"github.com/pavitra93/go-tenant-rbac/shared/auth"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/config"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/metrics"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
	"github.com/pavitra93/go-tenant-rbac/shared/testutil"
)

var gifPixel = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return events.Event{}
	}
	return p.events[len(p.events)-1]
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryObjects) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryObjects) URL(key string) string {
	return "http://objects.test/" + key
}

func (m *memoryObjects) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Error   string              `json:"error"`
	Errors  map[string][]string `json:"errors"`
}

type testServer struct {
	*Server
	router    *gin.Engine
	published *recordingPublisher
	objects   *memoryObjects
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db := testutil.NewDB(t)
	registry := authz.DefaultRegistry()
	require.NoError(t, authz.Provision(ctx, db, registry))
	az := authz.NewService(registry, db, authz.Options{})
	_, rdb := testutil.NewRedis(t)

	cfg := &config.Config{JWT: config.JWTConfig{Secret: "test-secret", Issuer: "test", TTL: time.Hour}}
	core := app.NewCoreFrom("admin", cfg, db, rdb, az, metrics.New("admin"))

	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("password")
	require.NoError(t, err)
	require.NoError(t, core.Store.SeedDemo(ctx, hash))

	ts := &testServer{published: &recordingPublisher{}, objects: newMemoryObjects()}
	ts.Server = &Server{
		Core:    core,
		Hasher:  hasher,
		Objects: ts.objects,
	}
	core.Events = ts.published
	ts.router = setupRouter(ts.Server)
	return ts
}

func (ts *testServer) user(t *testing.T, email string) *models.User {
	t.Helper()
	user, err := ts.Store.Users.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return user
}

func (ts *testServer) tenantID(t *testing.T, name string) uuid.UUID {
	t.Helper()
	tenant, err := ts.Store.Tenants.FirstOrCreate(context.Background(), name)
	require.NoError(t, err)
	return tenant.ID
}

// login opens a session for a seeded user without going through the auth service
func (ts *testServer) login(t *testing.T, email string) string {
	t.Helper()
	user := ts.user(t, email)
	token, _, err := ts.Tokens.Issue(user.ID, user.Email)
	require.NoError(t, err)
	_, err = ts.Sessions.Create(context.Background(), token, models.UserProfile{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.PrimaryRole(),
		TenantID: user.TenantID,
	}, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) serve(req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func (ts *testServer) do(method, path, token, body string) (*httptest.ResponseRecorder, envelope) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	return ts.serve(req, token)
}

func (ts *testServer) upload(path, token, field, filename string, content []byte) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile(field, filename)
	_, _ = part.Write(content)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.serve(req, token)
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}
