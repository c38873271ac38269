package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/lifecycle/auth"
	"caseline/internal/repo"
)

// GenerationTrigger asks a stage producer to draft content for a case.
// CaseVersion is the case version as of the transition that emitted the
// trigger; the write-back presents it as its expected version, so a callback
// that outlives its stage fails with Conflict instead of landing in whatever
// stage the case has moved on to.
type GenerationTrigger struct {
	CaseID      string
	Stage       string
	RequestedBy string
	CaseVersion int64
}

// Dispatcher receives generation triggers after a successful transition.
// Delivery is fire-and-forget: a trigger that never completes leaves the case
// parked in drafting, where the initiator may re-trigger.
type Dispatcher interface {
	Trigger(ctx context.Context, t GenerationTrigger)
}

// Engine validates and executes every case transition. It is stateless
// between calls; all case state lives in the store and every write is
// conditioned on the version observed at read time.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Auth     auth.Service
	Dispatch Dispatcher
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CaseCreateOptions are parameters for opening a new case.
type CaseCreateOptions struct {
	ID      string
	Title   string
	Summary string
	Actor   auth.Identity
}

// CreateCase inserts a case in intake status. The first producer run is not
// triggered here; the initiator starts the pipeline with TriggerGeneration.
func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (domain.Case, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Case{}, ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if opts.Actor.ActorID == "" {
		return domain.Case{}, ValidationError{Field: "actor_id", Reason: "must not be empty"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	c := domain.Case{
		ID:          id,
		Title:       opts.Title,
		Summary:     opts.Summary,
		InitiatorID: opts.Actor.ActorID,
		Status:      StatusIntake,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, opts.Actor.ActorID); err != nil {
		return domain.Case{}, err
	}
	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	if err := e.Events.Append(ctx, tx, domain.Event{
		CaseID:     c.ID,
		TS:         now,
		ActorID:    opts.Actor.ActorID,
		Action:     ActionCreate,
		FromStatus: StatusIntake,
		ToStatus:   StatusIntake,
	}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// Request is one transition attempt against a case.
type Request struct {
	CaseID  string
	Action  string
	Actor   auth.Identity
	Content string // edit payload
	Reason  string // optional reject reason

	// ExpectedVersion, when set, is the version token the caller observed.
	// A stale token fails with Conflict before anything is evaluated.
	ExpectedVersion *int64
}

// Result of a successful transition.
type Result struct {
	Status string
	Case   domain.Case
}

// step is a validated transition ready to be written.
type step struct {
	to       string
	note     string
	artifact *domain.Artifact
	trigger  *GenerationTrigger
}

// Advance validates req against the transition table and, when legal, commits
// the new status, any artifact mutation and exactly one history entry in a
// single conditional write.
func (e Engine) Advance(ctx context.Context, req Request) (Result, error) {
	if req.Actor.ActorID == "" {
		return Result{}, ValidationError{Field: "actor_id", Reason: "must not be empty"}
	}
	c, err := e.Repo.GetCase(ctx, req.CaseID)
	if err != nil {
		return Result{}, err
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != c.Version {
		return Result{}, ConflictError{CaseID: c.ID}
	}
	if IsTerminal(c.Status) {
		return Result{}, InvalidTransitionError{Status: c.Status, Action: req.Action}
	}
	st, err := e.plan(ctx, c, req)
	if err != nil {
		return Result{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateCaseStatusTx(ctx, tx, c.ID, st.to, now, c.Version)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		exists, err := e.Repo.CaseExists(ctx, c.ID)
		if err != nil {
			return Result{}, err
		}
		if !exists {
			return Result{}, repo.ErrNotFound
		}
		return Result{}, ConflictError{CaseID: c.ID}
	}
	if st.artifact != nil {
		a := *st.artifact
		a.UpdatedAt = now
		if a.CreatedAt == "" {
			a.CreatedAt = now
		}
		if err := e.Repo.UpsertArtifactTx(ctx, tx, a); err != nil {
			return Result{}, fmt.Errorf("write artifact: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, domain.Event{
		CaseID:     c.ID,
		TS:         now,
		ActorID:    req.Actor.ActorID,
		Action:     req.Action,
		FromStatus: c.Status,
		ToStatus:   st.to,
		Note:       st.note,
	}); err != nil {
		return Result{}, err
	}
	if st.trigger != nil {
		if err := e.Repo.InsertGenerationRequestTx(ctx, tx, domain.GenerationRequest{
			CaseID:      st.trigger.CaseID,
			Stage:       st.trigger.Stage,
			RequestedBy: st.trigger.RequestedBy,
			RequestedAt: now,
		}); err != nil {
			return Result{}, err
		}
	}
	// Read the outcome inside the transaction, so the returned case cannot
	// reflect a later transition that commits between our commit and a
	// separate re-read.
	full, err := e.Repo.GetCaseFullTx(ctx, tx, c.ID)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	if st.trigger != nil && e.Dispatch != nil {
		e.Dispatch.Trigger(ctx, *st.trigger)
	}
	return Result{Status: st.to, Case: full}, nil
}

// plan resolves the (status, action) pair against the transition table.
// Check order matters: state legality first (InvalidTransition), then actor
// authorization (Forbidden), then payload shape (ValidationFailed).
func (e Engine) plan(ctx context.Context, c domain.Case, req Request) (step, error) {
	switch req.Action {
	case ActionTriggerGeneration:
		return e.planTrigger(ctx, c, req)
	case ActionEdit:
		return e.planEdit(ctx, c, req)
	case ActionSubmitDraft:
		return e.planSubmit(ctx, c, req)
	case ActionApprove:
		return e.planApprove(ctx, c, req)
	case ActionReject:
		return e.planReject(ctx, c, req)
	default:
		return step{}, ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
}

func (e Engine) planTrigger(ctx context.Context, c domain.Case, req Request) (step, error) {
	var target Stage
	var to string
	switch {
	case c.Status == StatusIntake:
		target = Stages[0]
		to = target.Drafting
	default:
		stage, kind, ok := stageFor(c.Status)
		if !ok || kind != "drafting" {
			return step{}, InvalidTransitionError{Status: c.Status, Action: req.Action}
		}
		target = stage
		to = c.Status
	}
	if err := requireInitiator(c, req.Actor); err != nil {
		return step{}, err
	}
	return step{
		to:   to,
		note: "generation requested: " + target.Name,
		trigger: &GenerationTrigger{
			CaseID:      c.ID,
			Stage:       target.Name,
			RequestedBy: req.Actor.ActorID,
			CaseVersion: c.Version + 1,
		},
	}, nil
}

func (e Engine) planEdit(ctx context.Context, c domain.Case, req Request) (step, error) {
	stage, kind, ok := stageFor(c.Status)
	if !ok || kind != "drafting" {
		return step{}, InvalidTransitionError{Status: c.Status, Action: req.Action}
	}
	producerRole, err := e.roleSetting(ctx, repo.SettingProducerRole)
	if err != nil {
		return step{}, err
	}
	isInitiator := req.Actor.ActorID == c.InitiatorID
	isProducer := false
	if !isInitiator {
		isProducer, err = e.Auth.Satisfies(ctx, req.Actor, producerRole)
		if err != nil {
			return step{}, err
		}
		if !isProducer {
			return step{}, auth.ForbiddenError{Requirement: "case initiator or role " + producerRole}
		}
	}
	if strings.TrimSpace(req.Content) == "" {
		return step{}, ValidationError{Field: "content", Reason: "must not be empty"}
	}
	art, err := e.Repo.GetArtifact(ctx, c.ID, stage.Name)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		// Only a producer callback may create the first draft.
		if !isProducer {
			return step{}, InvalidTransitionError{Status: c.Status, Action: req.Action}
		}
		art = domain.Artifact{CaseID: c.ID, Stage: stage.Name, Version: 1}
	case err != nil:
		return step{}, err
	default:
		art.Version++
	}
	art.Content = req.Content
	art.GeneratedBy = req.Actor.ActorID
	return step{
		to:       c.Status,
		note:     fmt.Sprintf("artifact %s v%d", stage.Name, art.Version),
		artifact: &art,
	}, nil
}

func (e Engine) planSubmit(ctx context.Context, c domain.Case, req Request) (step, error) {
	stage, kind, ok := stageFor(c.Status)
	if !ok || kind != "drafting" {
		return step{}, InvalidTransitionError{Status: c.Status, Action: req.Action}
	}
	if err := requireInitiator(c, req.Actor); err != nil {
		return step{}, err
	}
	art, err := e.Repo.GetArtifact(ctx, c.ID, stage.Name)
	if errors.Is(err, repo.ErrNotFound) {
		return step{}, InvalidTransitionError{Status: c.Status, Action: req.Action}
	}
	if err != nil {
		return step{}, err
	}
	if strings.TrimSpace(art.Content) == "" {
		return step{}, ValidationError{Field: "content", Reason: "artifact for stage " + stage.Name + " is empty"}
	}
	return step{to: stage.PendingReview}, nil
}

func (e Engine) planApprove(ctx context.Context, c domain.Case, req Request) (step, error) {
	if c.Status == StatusPendingFinalApproval {
		if err := e.requireRole(ctx, req.Actor, repo.SettingFinalApproverRole); err != nil {
			return step{}, err
		}
		return step{to: StatusApproved}, nil
	}
	stage, kind, ok := stageFor(c.Status)
	if !ok || kind != "pending_review" {
		return step{}, InvalidTransitionError{Status: c.Status, Action: req.Action}
	}
	sr, err := e.stageRole(ctx, stage)
	if err != nil {
		return step{}, err
	}
	allowed, err := e.Auth.Satisfies(ctx, req.Actor, sr.ApproverRole)
	if err != nil {
		return step{}, err
	}
	if !allowed && sr.AllowSelfApproval && req.Actor.ActorID == c.InitiatorID {
		allowed = true
	}
	if !allowed {
		return step{}, auth.ForbiddenError{Requirement: "role " + sr.ApproverRole}
	}
	next, ok := nextAfter(stage)
	if !ok {
		return step{to: StatusPendingFinalApproval}, nil
	}
	return step{
		to:   next.Drafting,
		note: "generation requested: " + next.Name,
		trigger: &GenerationTrigger{
			CaseID:      c.ID,
			Stage:       next.Name,
			RequestedBy: req.Actor.ActorID,
			CaseVersion: c.Version + 1,
		},
	}, nil
}

func (e Engine) planReject(ctx context.Context, c domain.Case, req Request) (step, error) {
	// Rejection is always recorded, reason or not, so history alone answers
	// why a case is back in drafting.
	if c.Status == StatusPendingFinalApproval {
		if err := e.requireRole(ctx, req.Actor, repo.SettingFinalApproverRole); err != nil {
			return step{}, err
		}
		return step{to: StatusRejected, note: req.Reason}, nil
	}
	stage, kind, ok := stageFor(c.Status)
	if !ok || kind != "pending_review" {
		return step{}, InvalidTransitionError{Status: c.Status, Action: req.Action}
	}
	sr, err := e.stageRole(ctx, stage)
	if err != nil {
		return step{}, err
	}
	allowed, err := e.Auth.Satisfies(ctx, req.Actor, sr.ApproverRole)
	if err != nil {
		return step{}, err
	}
	if !allowed {
		return step{}, auth.ForbiddenError{Requirement: "role " + sr.ApproverRole}
	}
	return step{to: stage.Drafting, note: req.Reason}, nil
}

func (e Engine) stageRole(ctx context.Context, stage Stage) (domain.StageRole, error) {
	sr, err := e.Repo.GetStageRole(ctx, stage.Name)
	if errors.Is(err, repo.ErrNotFound) {
		return sr, fmt.Errorf("approver role for stage %s not configured", stage.Name)
	}
	return sr, err
}

func (e Engine) roleSetting(ctx context.Context, key string) (string, error) {
	value, err := e.Repo.GetSetting(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return "", fmt.Errorf("setting %s not configured", key)
	}
	return value, err
}

func (e Engine) requireRole(ctx context.Context, actor auth.Identity, settingKey string) error {
	role, err := e.roleSetting(ctx, settingKey)
	if err != nil {
		return err
	}
	ok, err := e.Auth.Satisfies(ctx, actor, role)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Requirement: "role " + role}
	}
	return nil
}

func requireInitiator(c domain.Case, actor auth.Identity) error {
	if actor.ActorID != c.InitiatorID {
		return auth.ForbiddenError{Requirement: "case initiator"}
	}
	return nil
}
