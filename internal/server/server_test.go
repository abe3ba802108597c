package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/migrate"
	"pressline/internal/scheduler"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("shop-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return testClock }
	s := scheduler.New(conn, cfg)
	s.Now = func() time.Time { return testClock }
	handler, err := New(Config{
		Engine:    e,
		Scheduler: s,
		BasePath:  "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asStaff() map[string]string {
	return map[string]string{"X-Actor-Id": "staff-1"}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	return env
}

func createProject(t *testing.T, srv *testServer) domain.Project {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"item": "500 business cards",
	}, asStaff())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", env.Error.Code)
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "boss",
		"roles":    []string{"admin"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("unmarshal token: %v (%s)", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal whoami: %v", err)
	}
	if who.ActorID != "boss" || len(who.Roles) != 1 || who.Roles[0] != "admin" {
		t.Fatalf("unexpected identity %+v", who)
	}

	// A garbage token is rejected outright.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", res.StatusCode)
	}
}

func TestProjectEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProject(t, srv)

	// Skipping ahead is a lifecycle violation, not a schema error.
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+p.ID+"/status", map[string]any{
		"status": "Delivered",
	}, asStaff())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q", env.Error.Code)
	}

	// Acknowledging before scope approval is closed off.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/acknowledge", map[string]any{
		"department": "graphics",
	}, asStaff())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "scope_approval_incomplete" {
		t.Fatalf("expected scope_approval_incomplete, got %q", env.Error.Code)
	}

	// The legal next step succeeds.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+p.ID+"/status", map[string]any{
		"status": "Pending Scope Approval",
	}, asStaff())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}
	var moved domain.Project
	if err := json.Unmarshal(data, &moved); err != nil || string(moved.Status) != "Pending Scope Approval" {
		t.Fatalf("unexpected transition result: %v %s", err, string(data))
	}

	// Force without the admin role is forbidden.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+p.ID+"/status", map[string]any{
		"status": "Delivered",
		"force":  true,
	}, asStaff())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+p.ID, nil, asStaff())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/nope", nil, asStaff())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}

	// The transition left an activity-log trail.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/events", nil, asStaff())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("expected created + transition events, got %d", len(events))
	}
}

func TestReminderEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProject(t, srv)

	// Malformed timestamps are a 400.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders", map[string]any{
		"project_id":   p.ID,
		"title":        "follow up",
		"trigger_mode": "absolute_time",
		"remind_at":    "next tuesday",
	}, asStaff())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "invalid_time" {
		t.Fatalf("expected invalid_time, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders", map[string]any{
		"project_id":   p.ID,
		"title":        "follow up",
		"trigger_mode": "absolute_time",
		"remind_at":    testClock.Add(time.Hour).Format(time.RFC3339),
	}, asStaff())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create reminder status %d: %s", res.StatusCode, string(data))
	}
	var rm domain.Reminder
	if err := json.Unmarshal(data, &rm); err != nil {
		t.Fatalf("unmarshal reminder: %v", err)
	}
	if !rm.Channels.InApp {
		t.Fatalf("in_app channel should default on")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders?project_id="+p.ID, nil, asStaff())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list reminders status %d: %s", res.StatusCode, string(data))
	}
	var items []domain.Reminder
	if err := json.Unmarshal(data, &items); err != nil || len(items) != 1 {
		t.Fatalf("expected one reminder: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reminders/"+rm.ID+"/snooze", map[string]any{
		"minutes": 15,
	}, asStaff())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("snooze status %d: %s", res.StatusCode, string(data))
	}

	// A stranger cannot act on someone else's reminder.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reminders/"+rm.ID+"/complete", nil,
		map[string]string{"X-Actor-Id": "somebody-else"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	// Deleting while scheduled is an explicit two-step.
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/reminders/"+rm.ID, nil, asStaff())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "cannot_delete_scheduled" {
		t.Fatalf("expected cannot_delete_scheduled, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reminders/"+rm.ID+"/cancel", nil, asStaff())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/reminders/"+rm.ID, nil, asStaff())
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders/"+rm.ID, nil, asStaff())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestRBACEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// Only admins may reshape roles. Bootstrap one directly.
	if err := srv.Engine.Auth.GrantRole(context.Background(), "boss", "admin"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rbac/roles/grant", map[string]any{
		"actor_id": "staff-1",
		"role_id":  "admin",
	}, asStaff())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin grant, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rbac/roles/grant", map[string]any{
		"actor_id": "staff-1",
		"role_id":  "admin",
	}, map[string]string{"X-Actor-Id": "boss"})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("grant status %d: %s", res.StatusCode, string(data))
	}

	// The grant shows up for the actor.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rbac/actors/staff-1/roles", nil,
		map[string]string{"X-Actor-Id": "boss"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("roles status %d: %s", res.StatusCode, string(data))
	}
	var roles []string
	if err := json.Unmarshal(data, &roles); err != nil || len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("unexpected roles: %v %s", err, string(data))
	}
}
