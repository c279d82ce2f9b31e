// Package engine is the workflow execution runtime: the state-machine
// lifecycle of executions, the per-node-type executors, and the
// optimistic-concurrency advancement logic that keeps a single execution
// moving strictly one node at a time.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dripline/dripline/internal/generation"
	"github.com/dripline/dripline/internal/queue"
	"github.com/dripline/dripline/internal/store"
	"github.com/dripline/dripline/internal/validation"
	"github.com/dripline/dripline/pkg/schema"
)

// DefaultMaxAttempts bounds recorded node dispatches per execution. It is a
// runaway guard against redelivery storms and misbehaving graphs; normal
// sequences stay far below it.
const DefaultMaxAttempts = 1000

// Config holds engine tunables.
type Config struct {
	// MaxAttempts caps the execution's attempts counter; 0 means DefaultMaxAttempts.
	MaxAttempts int
}

// Engine coordinates workflow executions. All dependencies are injected; the
// engine owns no goroutines of its own and is driven by the queue dispatcher
// and the delayed poller.
type Engine struct {
	store      store.Store
	queue      queue.Queue
	generator  generation.Generator
	logger     *slog.Logger
	conditions *conditionEvaluator

	maxAttempts int
	now         func() time.Time
}

// New creates an Engine.
func New(st store.Store, q queue.Queue, gen generation.Generator, logger *slog.Logger, cfg Config) *Engine {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{
		store:       st,
		queue:       q,
		generator:   gen,
		logger:      logger,
		conditions:  newConditionEvaluator(),
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ValidateDefinition runs the full validation pipeline on a definition.
func (e *Engine) ValidateDefinition(def *schema.WorkflowDefinition) *schema.ValidationResult {
	return validation.ValidateDefinition(def)
}

// ActivateDefinition re-validates the definition and, only if it reports zero
// errors, marks it active. Definitions may be edited while inactive, so every
// activation attempt validates from scratch.
func (e *Engine) ActivateDefinition(ctx context.Context, orgID, id string) error {
	def, err := e.store.GetDefinition(ctx, orgID, id)
	if err != nil {
		return err
	}

	if result := validation.ValidateDefinition(def); !result.IsValid() {
		return result.ToError()
	}

	if err := e.store.SetDefinitionActive(ctx, orgID, id, true); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "workflow definition activated",
		slog.String("definition_id", id),
		slog.String("org_id", orgID),
	)
	return nil
}

// DeactivateDefinition marks the definition inactive. Running executions
// referencing it continue; new starts are rejected.
func (e *Engine) DeactivateDefinition(ctx context.Context, orgID, id string) error {
	if err := e.store.SetDefinitionActive(ctx, orgID, id, false); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "workflow definition deactivated",
		slog.String("definition_id", id),
		slog.String("org_id", orgID),
	)
	return nil
}
