package service

import (
	"context"
	"fmt"

	"github.com/RemiBp/ProofOrigin/anchor"
	"github.com/RemiBp/ProofOrigin/fingerprint"
	"github.com/RemiBp/ProofOrigin/tasks"
)

// RegisterTasks binds the background jobs to their handlers.
func RegisterTasks(registry *tasks.Registry, scheduler *anchor.Scheduler, engine *fingerprint.Engine) {
	registry.Register(tasks.TaskAnchorProof, func(ctx context.Context, payload map[string]string) error {
		batchId := payload["batch_id"]
		if batchId == "" {
			return fmt.Errorf("anchor task payload misses batch_id")
		}
		return scheduler.Nudge(ctx, batchId)
	})
	registry.Register(tasks.TaskReindexSimilarity, func(ctx context.Context, payload map[string]string) error {
		proofId := payload["proof_id"]
		if proofId == "" {
			return fmt.Errorf("reindex task payload misses proof_id")
		}
		return engine.Reindex(proofId)
	})
}
