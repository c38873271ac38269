package producer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/lifecycle"
	"caseline/internal/lifecycle/auth"
)

// CallbackActorID is the identity producers write back under. It holds the
// configured producer role and goes through the same Advance entry point and
// conditional write as any human edit.
const CallbackActorID = "producer"

// Dispatcher runs stage producers in the background when the engine emits a
// generation trigger. Failures are logged and swallowed; the case stays in
// drafting and the initiator may re-trigger.
type Dispatcher struct {
	engine   lifecycle.Engine
	actor    auth.Identity
	byStage  map[string]Producer
	fallback Producer
	logger   *log.Logger

	wg sync.WaitGroup
}

// NewDispatcher wires one producer per stage from the config's endpoint map,
// falling back to the built-in template producer for unmapped stages.
func NewDispatcher(engine lifecycle.Engine, cfg *config.Config, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	byStage := map[string]Producer{}
	producerRole := "producer"
	if cfg != nil {
		producerRole = cfg.ProducerRole
		timeout := time.Duration(cfg.Producers.TimeoutSeconds) * time.Second
		for stage, url := range cfg.Producers.Endpoints {
			if url == "" {
				continue
			}
			byStage[stage] = HTTP{URL: url, Timeout: timeout}
		}
	}
	return &Dispatcher{
		engine:   engine,
		actor:    auth.Identity{ActorID: CallbackActorID, Roles: []string{producerRole}},
		byStage:  byStage,
		fallback: Template{},
		logger:   logger,
	}
}

// Register overrides the producer for a stage.
func (d *Dispatcher) Register(stage string, p Producer) {
	d.byStage[stage] = p
}

// Trigger implements lifecycle.Dispatcher.
func (d *Dispatcher) Trigger(_ context.Context, t lifecycle.GenerationTrigger) {
	p, ok := d.byStage[t.Stage]
	if !ok {
		p = d.fallback
	}
	if p == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Detached from the request context: the caller's response does not
		// wait on generation.
		d.run(context.Background(), p, t)
	}()
}

func (d *Dispatcher) run(ctx context.Context, p Producer, t lifecycle.GenerationTrigger) {
	var current *domain.Artifact
	if a, err := d.engine.Repo.GetArtifact(ctx, t.CaseID, t.Stage); err == nil {
		current = &a
	}
	content, err := p.Generate(ctx, t.CaseID, t.Stage, current)
	if err != nil {
		d.logger.Printf("producer: generate %s for case %s failed: %v", t.Stage, t.CaseID, err)
		return
	}
	// The write-back is conditioned on the version the trigger was emitted
	// at. If the case moved on while the producer was working, the edit
	// conflicts and the draft is dropped rather than written into the wrong
	// stage.
	req := lifecycle.Request{
		CaseID:  t.CaseID,
		Action:  lifecycle.ActionEdit,
		Actor:   d.actor,
		Content: content,
	}
	if t.CaseVersion > 0 {
		expected := t.CaseVersion
		req.ExpectedVersion = &expected
	}
	if _, err := d.engine.Advance(ctx, req); err != nil {
		var conflict lifecycle.ConflictError
		if errors.As(err, &conflict) {
			d.logger.Printf("producer: dropping stale %s draft for case %s", t.Stage, t.CaseID)
			return
		}
		d.logger.Printf("producer: write back %s for case %s failed: %v", t.Stage, t.CaseID, err)
	}
}

// Wait blocks until all in-flight generations finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
