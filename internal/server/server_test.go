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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/lifecycle"
	"caseline/internal/migrate"
	"caseline/internal/repo"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine lifecycle.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := lifecycle.New(conn)
	if err := app.SeedRoles(context.Background(), e.Repo, config.Default()); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
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

func asActor(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func grant(t *testing.T, srv *testServer, actorID, role string) {
	t.Helper()
	if err := srv.Engine.Auth.GrantRole(context.Background(), actorID, role); err != nil {
		t.Fatalf("grant %s to %s: %v", role, actorID, err)
	}
}

func createCase(t *testing.T, srv *testServer, actorID string) domain.Case {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"title": "Case over HTTP",
	}, asActor(actorID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create case status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Case
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	return c
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", string(data), err)
	}
	return body.Error.Code
}

func TestCaseWalkOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	grant(t, srv, "gen-1", "producer")
	grant(t, srv, "pl-1", "product_lead")

	created := createCase(t, srv, "init-1")
	base := srv.URL + "/v0/cases/" + created.ID

	res, data := doJSON(t, client, http.MethodPost, base+"/generate", map[string]any{}, asActor("init-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("generate status %d: %s", res.StatusCode, string(data))
	}
	var tr TransitionResponse
	_ = json.Unmarshal(data, &tr)
	if tr.Status != "prd_drafting" {
		t.Fatalf("expected prd_drafting, got %s", tr.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/edit", map[string]any{
		"content": "# PRD\n\nSell more widgets.",
	}, asActor("gen-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("edit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/submit", map[string]any{}, asActor("init-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &tr)
	if tr.Status != "prd_pending_review" {
		t.Fatalf("expected prd_pending_review, got %s", tr.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/approve", map[string]any{}, asActor("pl-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &tr)
	if tr.Status != "system_design_drafting" {
		t.Fatalf("expected system_design_drafting, got %s", tr.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/history", nil, asActor("init-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var hist HistoryResponse
	_ = json.Unmarshal(data, &hist)
	// create, trigger, edit, submit, approve
	if len(hist.Events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(hist.Events))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/artifacts/prd", nil, asActor("init-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("artifact status %d: %s", res.StatusCode, string(data))
	}
	var art domain.Artifact
	_ = json.Unmarshal(data, &art)
	if art.GeneratedBy != "gen-1" {
		t.Fatalf("expected artifact by gen-1, got %q", art.GeneratedBy)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	grant(t, srv, "gen-1", "producer")

	created := createCase(t, srv, "init-1")
	base := srv.URL + "/v0/cases/" + created.ID

	// approve is not legal from intake
	res, data := doJSON(t, client, http.MethodPost, base+"/approve", map[string]any{}, asActor("init-1"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("expected 409 invalid_transition, got %d %s", res.StatusCode, string(data))
	}

	doJSON(t, client, http.MethodPost, base+"/generate", map[string]any{}, asActor("init-1"))
	doJSON(t, client, http.MethodPost, base+"/edit", map[string]any{"content": "draft"}, asActor("gen-1"))

	// stale version token
	res, data = doJSON(t, client, http.MethodPost, base+"/submit", map[string]any{
		"expected_version": created.Version,
	}, asActor("init-1"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "conflict" {
		t.Fatalf("expected 409 conflict, got %d %s", res.StatusCode, string(data))
	}

	// blank content
	res, data = doJSON(t, client, http.MethodPost, base+"/edit", map[string]any{"content": "  "}, asActor("init-1"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("expected 422 validation_failed, got %d %s", res.StatusCode, string(data))
	}

	doJSON(t, client, http.MethodPost, base+"/submit", map[string]any{}, asActor("init-1"))

	// reviewer role missing
	res, data = doJSON(t, client, http.MethodPost, base+"/approve", map[string]any{}, asActor("stranger"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected 403 forbidden, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/absent", nil, asActor("init-1"))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	if err := srv.Engine.Auth.EnsureActor(ctx, nil, "svc-1"); err != nil {
		t.Fatal(err)
	}
	secret := uuid.NewString()
	if err := srv.Engine.Repo.InsertAPIKey(ctx, domain.APIKey{
		ID:      uuid.NewString(),
		ActorID: "svc-1",
		KeyHash: repo.HashAPIKey(secret),
	}); err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"title": "via api key",
	}, map[string]string{"X-Api-Key": secret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", res.StatusCode, string(data))
	}
	var c domain.Case
	_ = json.Unmarshal(data, &c)
	if c.InitiatorID != "svc-1" {
		t.Fatalf("expected initiator svc-1, got %s", c.InitiatorID)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d %s", res.StatusCode, string(data))
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "jwt-user",
		"roles": []string{"product_lead"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"title": "via jwt",
	}, map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, map[string]string{"Authorization": "Bearer bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, string(data))
	}
}

func TestRoleAdminEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	grant(t, srv, "admin-1", "admin")

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/roles/stages/prd", map[string]any{
		"approver_role": "architect",
	}, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set stage role status %d: %s", res.StatusCode, string(data))
	}

	// non-admins may read but not write
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/roles/stages/prd", map[string]any{
		"approver_role": "product_lead",
	}, asActor("init-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/roles/stages", nil, asActor("init-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list stage roles status %d: %s", res.StatusCode, string(data))
	}
	var roles StageRolesResponse
	_ = json.Unmarshal(data, &roles)
	found := false
	for _, sr := range roles.Stages {
		if sr.Stage == "prd" && sr.ApproverRole == "architect" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected updated prd role in %+v", roles.Stages)
	}
}
