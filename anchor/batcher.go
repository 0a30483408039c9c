package anchor

import (
	"time"

	"github.com/google/uuid"

	"github.com/RemiBp/ProofOrigin/config"
	"github.com/RemiBp/ProofOrigin/db"
)

// Batcher assigns freshly registered proofs to anchor batches. The oldest
// pending batch is filled first; once it reaches the configured size a new
// batch opens.
type Batcher struct {
	dao       db.ProofDao
	batchSize int
}

func NewBatcher(dao db.ProofDao, cfg *config.AnchorConfig) *Batcher {
	return &Batcher{
		dao:       dao,
		batchSize: cfg.GetBatchSize(),
	}
}

func (b *Batcher) BatchSize() int {
	return b.batchSize
}

// Assign returns the id of the batch the next proof should join.
func (b *Batcher) Assign() (string, error) {
	batch, err := b.dao.GetOldestPendingBatch()
	if err != nil {
		return "", err
	}
	if batch.Id != "" {
		count, err := b.dao.CountBatchMembers(batch.Id)
		if err != nil {
			return "", err
		}
		if count < int64(b.batchSize) {
			return batch.Id, nil
		}
	}
	fresh := &db.AnchorBatch{
		Id:          uuid.NewString(),
		Status:      db.BatchPending,
		CreatedTime: time.Now().Unix(),
	}
	if err := b.dao.CreateBatch(fresh); err != nil {
		return "", err
	}
	return fresh.Id, nil
}

// Requeue opens a fresh batch and moves the unanchored members of a failed
// batch into it.
func (b *Batcher) Requeue(failedBatchId string) (string, error) {
	fresh := &db.AnchorBatch{
		Id:          uuid.NewString(),
		Status:      db.BatchPending,
		CreatedTime: time.Now().Unix(),
	}
	if err := b.dao.RequeueBatchMembers(failedBatchId, fresh); err != nil {
		return "", err
	}
	return fresh.Id, nil
}
