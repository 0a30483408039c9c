package anchor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RemiBp/ProofOrigin/config"
	"github.com/RemiBp/ProofOrigin/db"
	"github.com/RemiBp/ProofOrigin/keys"
	"github.com/RemiBp/ProofOrigin/logging"
	"github.com/RemiBp/ProofOrigin/metrics"
	"github.com/RemiBp/ProofOrigin/util"
)

// submission tracks one batch through the submit-then-confirm cycle. A batch
// with an empty txHash is awaiting (re)submission; once txHash is set the
// scheduler only polls for confirmation.
type submission struct {
	merkleRoot  string
	signature   string
	txHash      string
	payload     string
	attempts    int
	submittedAt time.Time
	nextAttempt time.Time
}

// Scheduler drives pending batches to an anchored or failed terminal state.
// Each tick submits full batches, polls inflight transactions and applies
// exponential backoff between attempts; a batch that exhausts its retries is
// failed exactly once and its members requeued into a fresh batch.
type Scheduler struct {
	dao            db.ProofDao
	backend        ChainBackend
	batcher        *Batcher
	calendar       *CalendarClient
	keyContext     *keys.KeyContext
	maxRetries     int
	backoff        time.Duration
	confirmTimeout time.Duration
	tickInterval   time.Duration
	maxBatchAge    time.Duration

	// OnAnchored, when set, runs after a batch reaches its anchored state,
	// outside the scheduler lock semantics callers should rely on.
	OnAnchored func(batchId, merkleRoot, txHash string)

	mu       sync.Mutex
	inflight map[string]*submission
}

func NewScheduler(dao db.ProofDao, backend ChainBackend, batcher *Batcher, calendar *CalendarClient,
	keyContext *keys.KeyContext, cfg *config.AnchorConfig) *Scheduler {
	return &Scheduler{
		dao:            dao,
		backend:        backend,
		batcher:        batcher,
		calendar:       calendar,
		keyContext:     keyContext,
		maxRetries:     cfg.GetMaxRetries(),
		backoff:        time.Duration(cfg.GetBackoffSeconds()) * time.Second,
		confirmTimeout: time.Duration(cfg.GetConfirmTimeoutSeconds()) * time.Second,
		tickInterval:   time.Duration(cfg.GetTickIntervalSeconds()) * time.Second,
		maxBatchAge:    time.Duration(cfg.GetMaxBatchAgeSeconds()) * time.Second,
		inflight:       make(map[string]*submission),
	}
}

func (s *Scheduler) StartLoop() {
	for {
		if err := s.Tick(context.Background()); err != nil {
			logging.Logger.Errorf("anchor scheduler tick failed, err=%s", err.Error())
		}
		time.Sleep(s.tickInterval)
	}
}

// Tick runs one pass over the pending batches.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches, err := s.dao.GetPendingBatches()
	if err != nil {
		return err
	}
	metrics.PendingBatchGauge.Set(float64(len(batches)))
	pending := make(map[string]struct{}, len(batches))
	for _, batch := range batches {
		pending[batch.Id] = struct{}{}
		sub := s.inflight[batch.Id]
		if sub != nil && sub.txHash != "" {
			s.confirm(ctx, batch, sub)
			continue
		}
		s.submit(ctx, batch, false)
	}
	for id := range s.inflight {
		if _, ok := pending[id]; !ok {
			delete(s.inflight, id)
		}
	}
	return nil
}

// Nudge evaluates one batch right away instead of waiting for the next tick.
// It is the entry point for the anchor task queue; the usual fill and age
// rules still decide whether the batch actually submits.
func (s *Scheduler) Nudge(ctx context.Context, batchId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, err := s.dao.GetBatchById(batchId)
	if err != nil {
		return err
	}
	if batch.Id == "" || batch.Status != db.BatchPending {
		return nil
	}
	sub := s.inflight[batch.Id]
	if sub != nil && sub.txHash != "" {
		s.confirm(ctx, batch, sub)
		return nil
	}
	s.submit(ctx, batch, false)
	return nil
}

func (s *Scheduler) submit(ctx context.Context, batch *db.AnchorBatch, force bool) {
	sub := s.inflight[batch.Id]
	if sub == nil {
		sub = &submission{}
		s.inflight[batch.Id] = sub
	}
	if time.Now().Before(sub.nextAttempt) {
		return
	}
	count, err := s.dao.CountBatchMembers(batch.Id)
	if err != nil {
		logging.Logger.Errorf("failed to count members of batch %s, err=%s", batch.Id, err.Error())
		return
	}
	if count == 0 {
		return
	}
	// age based flush so a trickle of registrations still anchors
	if time.Since(time.Unix(batch.CreatedTime, 0)) > s.maxBatchAge {
		force = true
	}
	if !force && count < int64(s.batcher.BatchSize()) {
		return
	}
	merkleRoot, signature, err := s.buildRoot(batch.Id)
	if err != nil {
		logging.Logger.Errorf("failed to build merkle root for batch %s, err=%s", batch.Id, err.Error())
		return
	}
	if err = s.dao.UpdateBatchRoot(batch.Id, merkleRoot); err != nil {
		logging.Logger.Errorf("failed to record merkle root of batch %s, err=%s", batch.Id, err.Error())
		return
	}
	result, err := s.backend.SubmitRoot(ctx, merkleRoot, signature)
	if err != nil {
		logging.Logger.Errorf("failed to submit root of batch %s, err=%s", batch.Id, err.Error())
		s.recordFailure(batch, sub)
		return
	}
	sub.merkleRoot = merkleRoot
	sub.signature = signature
	sub.txHash = result.TxHash
	sub.payload = result.Payload
	sub.submittedAt = time.Now()
	logging.Logger.Infof("submitted batch %s with root %s, tx %s", batch.Id, merkleRoot, result.TxHash)
}

func (s *Scheduler) confirm(ctx context.Context, batch *db.AnchorBatch, sub *submission) {
	if time.Since(sub.submittedAt) > s.confirmTimeout {
		logging.Logger.Errorf("confirmation of batch %s timed out, tx %s", batch.Id, sub.txHash)
		sub.txHash = ""
		s.recordFailure(batch, sub)
		return
	}
	confirmed, err := s.backend.ConfirmTx(ctx, sub.txHash)
	if err != nil {
		logging.Logger.Errorf("failed to confirm tx %s of batch %s, err=%s", sub.txHash, batch.Id, err.Error())
		sub.txHash = ""
		s.recordFailure(batch, sub)
		return
	}
	if !confirmed {
		return
	}
	err = s.dao.MarkBatchAnchored(batch.Id, sub.merkleRoot, sub.txHash, sub.signature,
		s.backend.Name(), sub.payload, s.calendarReceipts(ctx, sub), time.Now().Unix())
	if err == db.ErrBatchNotPending {
		delete(s.inflight, batch.Id)
		return
	}
	if err != nil {
		logging.Logger.Errorf("failed to finalize batch %s, err=%s", batch.Id, err.Error())
		return
	}
	metrics.AnchoredBatchCounter.Inc()
	delete(s.inflight, batch.Id)
	logging.Logger.Infof("batch %s anchored on %s, tx %s", batch.Id, s.backend.Name(), sub.txHash)
	if s.OnAnchored != nil {
		s.OnAnchored(batch.Id, sub.merkleRoot, sub.txHash)
	}
}

func (s *Scheduler) recordFailure(batch *db.AnchorBatch, sub *submission) {
	sub.attempts++
	if sub.attempts < s.maxRetries {
		sub.nextAttempt = time.Now().Add(s.backoff * (1 << (sub.attempts - 1)))
		return
	}
	if err := s.dao.MarkBatchFailed(batch.Id); err != nil && err != db.ErrBatchNotPending {
		logging.Logger.Errorf("failed to mark batch %s failed, err=%s", batch.Id, err.Error())
		return
	}
	freshId, err := s.batcher.Requeue(batch.Id)
	if err != nil {
		logging.Logger.Errorf("failed to requeue members of batch %s, err=%s", batch.Id, err.Error())
	} else {
		logging.Logger.Infof("batch %s failed after %d attempts, members requeued into %s", batch.Id, sub.attempts, freshId)
	}
	metrics.AnchorFailureCounter.Inc()
	delete(s.inflight, batch.Id)
}

func (s *Scheduler) buildRoot(batchId string) (string, string, error) {
	proofs, err := s.dao.GetProofsByBatch(batchId)
	if err != nil {
		return "", "", err
	}
	leaves := make([]string, 0, len(proofs))
	for _, proof := range proofs {
		leaf, err := util.HashLeaf(proof.NormalizedHash)
		if err != nil {
			return "", "", err
		}
		leaves = append(leaves, leaf)
	}
	merkleRoot, err := ComputeRoot(leaves)
	if err != nil {
		return "", "", err
	}
	signature, err := keys.SignHash(merkleRoot, s.keyContext.AnchorKey)
	if err != nil {
		return "", "", err
	}
	return merkleRoot, signature, nil
}

// calendarReceipts gathers timestamp calendar attestations over the root as
// receipt templates, one row per attestation alongside the backend receipt.
func (s *Scheduler) calendarReceipts(ctx context.Context, sub *submission) []*db.ChainReceipt {
	if s.calendar == nil {
		return nil
	}
	stamps := s.calendar.Stamp(ctx, sub.merkleRoot)
	receipts := make([]*db.ChainReceipt, 0, len(stamps))
	for _, stamp := range stamps {
		payload, err := json.Marshal(stamp)
		if err != nil {
			logging.Logger.Errorf("failed to encode calendar attestation from %s, err=%s", stamp.Endpoint, err.Error())
			continue
		}
		receipts = append(receipts, &db.ChainReceipt{
			Chain:      CalendarChainName,
			TxHash:     stamp.Token,
			Payload:    string(payload),
			AnchoredAt: stamp.Timestamp,
		})
	}
	return receipts
}
