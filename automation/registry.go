package automation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler executes one kind of task and returns the data it produced.
type Handler func(ctx context.Context, task Task) (map[string]any, error)

// Executor runs tasks that passed the policy checks.
type Executor interface {
	Execute(ctx context.Context, task Task) (map[string]any, error)
}

// Registry maps actions to handlers. It implements Executor.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Action]Handler
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[Action]Handler),
		logger:   logger.With().Str("component", "automation_registry").Logger(),
	}
}

// Register registers a handler for an action.
func (r *Registry) Register(action Action, h Handler) {
	r.logger.Debug().Str("action", string(action)).Msg("Registering automation handler")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Execute dispatches task to its handler.
func (r *Registry) Execute(ctx context.Context, task Task) (map[string]any, error) {
	r.mu.RLock()
	h, ok := r.handlers[task.Action]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error().Str("action", string(task.Action)).Msg("No handler for action")
		return nil, fmt.Errorf("no handler registered for action: %s", task.Action)
	}

	r.logger.Info().Str("action", string(task.Action)).Msg("Executing automation task")
	data, err := h(ctx, task)
	if err != nil {
		r.logger.Warn().Str("action", string(task.Action)).Err(err).Msg("Automation handler returned error")
		return nil, err
	}
	r.logger.Info().Str("action", string(task.Action)).Int("fields", len(data)).Msg("Automation handler returned result")
	return data, nil
}
