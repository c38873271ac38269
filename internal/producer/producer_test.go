package producer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/lifecycle"
	"caseline/internal/lifecycle/auth"
	"caseline/internal/migrate"
	"caseline/internal/producer"
)

var initiator = auth.Identity{ActorID: "init-1"}

func newEngine(t *testing.T) (lifecycle.Engine, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := lifecycle.New(conn)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := app.SeedRoles(ctx, eng.Repo, config.Default()); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	return eng, ctx
}

func TestDispatcherWritesDraftBack(t *testing.T) {
	eng, ctx := newEngine(t)
	d := producer.NewDispatcher(eng, config.Default(), nil)
	eng.Dispatch = d

	c, err := eng.CreateCase(ctx, lifecycle.CaseCreateOptions{Title: "Dispatch", Actor: initiator})
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.Advance(ctx, lifecycle.Request{CaseID: c.ID, Action: lifecycle.ActionTriggerGeneration, Actor: initiator})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.Status != "prd_drafting" {
		t.Fatalf("expected prd_drafting, got %s", res.Status)
	}
	d.Wait()

	art, err := eng.Repo.GetArtifact(ctx, c.ID, "prd")
	if err != nil {
		t.Fatalf("expected generated artifact: %v", err)
	}
	if art.GeneratedBy != producer.CallbackActorID {
		t.Fatalf("expected generated_by %s, got %s", producer.CallbackActorID, art.GeneratedBy)
	}
	if art.Content == "" || art.Version != 1 {
		t.Fatalf("unexpected artifact: %+v", art)
	}
	// generation left the case in drafting
	updated, err := eng.Repo.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != "prd_drafting" {
		t.Fatalf("expected prd_drafting after callback, got %s", updated.Status)
	}
}

func TestHTTPProducer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CaseID string `json:"case_id"`
			Stage  string `json:"stage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"content": "remote draft for " + req.Stage + " of " + req.CaseID,
		})
	}))
	defer srv.Close()

	p := producer.HTTP{URL: srv.URL, Timeout: time.Second}
	content, err := p.Generate(context.Background(), "case-1", "prd", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if content != "remote draft for prd of case-1" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestHTTPProducerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := producer.HTTP{URL: srv.URL, Timeout: time.Second}
	_, err := p.Generate(context.Background(), "case-1", "prd", nil)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestRegisteredProducerOverride(t *testing.T) {
	eng, ctx := newEngine(t)
	d := producer.NewDispatcher(eng, config.Default(), nil)
	d.Register("prd", fixedProducer("canned prd"))
	eng.Dispatch = d

	c, err := eng.CreateCase(ctx, lifecycle.CaseCreateOptions{Title: "Override", Actor: initiator})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Advance(ctx, lifecycle.Request{CaseID: c.ID, Action: lifecycle.ActionTriggerGeneration, Actor: initiator}); err != nil {
		t.Fatal(err)
	}
	d.Wait()

	art, err := eng.Repo.GetArtifact(ctx, c.ID, "prd")
	if err != nil {
		t.Fatal(err)
	}
	if art.Content != "canned prd" {
		t.Fatalf("expected override content, got %q", art.Content)
	}
}

func TestLateCallbackCannotCrossStages(t *testing.T) {
	eng, ctx := newEngine(t)
	gate := make(chan struct{})
	d := producer.NewDispatcher(eng, config.Default(), nil)
	d.Register("prd", gatedProducer{release: gate, content: "stale prd draft"})
	d.Register("system_design", fixedProducer("design draft"))
	eng.Dispatch = d

	writer := auth.Identity{ActorID: "producer", Roles: []string{"producer"}}
	if err := eng.Auth.GrantRole(ctx, "pl-1", "product_lead"); err != nil {
		t.Fatal(err)
	}

	c, err := eng.CreateCase(ctx, lifecycle.CaseCreateOptions{Title: "Slow producer", Actor: initiator})
	if err != nil {
		t.Fatal(err)
	}
	// the prd producer is now stuck behind the gate
	if _, err := eng.Advance(ctx, lifecycle.Request{CaseID: c.ID, Action: lifecycle.ActionTriggerGeneration, Actor: initiator}); err != nil {
		t.Fatal(err)
	}
	// humans draft and approve prd without waiting on it
	if _, err := eng.Advance(ctx, lifecycle.Request{CaseID: c.ID, Action: lifecycle.ActionEdit, Actor: writer, Content: "human prd draft"}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Advance(ctx, lifecycle.Request{CaseID: c.ID, Action: lifecycle.ActionSubmitDraft, Actor: initiator}); err != nil {
		t.Fatal(err)
	}
	res, err := eng.Advance(ctx, lifecycle.Request{CaseID: c.ID, Action: lifecycle.ActionApprove, Actor: auth.Identity{ActorID: "pl-1"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "system_design_drafting" {
		t.Fatalf("expected system_design_drafting, got %s", res.Status)
	}

	close(gate)
	d.Wait()

	// the stale prd callback was dropped, not written into the current stage
	design, err := eng.Repo.GetArtifact(ctx, c.ID, "system_design")
	if err != nil {
		t.Fatal(err)
	}
	if design.Content != "design draft" {
		t.Fatalf("expected the system_design producer's draft, got %q", design.Content)
	}
	prd, err := eng.Repo.GetArtifact(ctx, c.ID, "prd")
	if err != nil {
		t.Fatal(err)
	}
	if prd.Content != "human prd draft" {
		t.Fatalf("expected the approved prd draft to survive, got %q", prd.Content)
	}
}

type gatedProducer struct {
	release chan struct{}
	content string
}

func (g gatedProducer) Generate(ctx context.Context, _, _ string, _ *domain.Artifact) (string, error) {
	select {
	case <-g.release:
		return g.content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type fixedProducer string

func (f fixedProducer) Generate(context.Context, string, string, *domain.Artifact) (string, error) {
	return string(f), nil
}
