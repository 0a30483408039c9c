package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/RemiBp/ProofOrigin/logging"
)

const (
	TaskAnchorProof       = "anchor_proof"
	TaskReindexSimilarity = "reindex_similarity"
)

type Handler func(ctx context.Context, payload map[string]string) error

// Queue accepts named tasks for execution. Registration work enqueues here so
// slow follow-ups never sit on the critical path of a request.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload map[string]string) error
}

// Registry is the in-process queue: handlers are registered by name and
// enqueued tasks run immediately on the calling goroutine. It doubles as the
// dispatch table for any external queue worker.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

func (r *Registry) Enqueue(ctx context.Context, name string, payload map[string]string) error {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for task %s", name)
	}
	if err := handler(ctx, payload); err != nil {
		logging.Logger.Errorf("task %s failed, err=%s", name, err.Error())
		return err
	}
	return nil
}
