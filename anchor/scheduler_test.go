package anchor

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/RemiBp/ProofOrigin/config"
	"github.com/RemiBp/ProofOrigin/db"
	"github.com/RemiBp/ProofOrigin/keys"
	"github.com/RemiBp/ProofOrigin/util"
)

func newTestHarness(t *testing.T, cfg *config.AnchorConfig, backend ChainBackend) (*Scheduler, *Batcher, db.ProofDao) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite, err=%v", err)
	}
	db.AutoMigrateDB(database)
	dao := db.NewProofSvcDB(database)
	master := make([]byte, keys.MasterKeySize)
	keyCfg := &config.KeyConfig{
		SecretsBackend: config.SecretsBackendLocal,
		MasterKeyB64:   base64.StdEncoding.EncodeToString(master),
	}
	keyContext, err := keys.NewKeyContext(keyCfg, keys.NewMasterKeyProvider(keyCfg))
	if err != nil {
		t.Fatalf("init key context, err=%v", err)
	}
	batcher := NewBatcher(dao, cfg)
	return NewScheduler(dao, backend, batcher, nil, keyContext, cfg), batcher, dao
}

func seedBatchMember(t *testing.T, dao db.ProofDao, id, batchId string, sequence uint64) {
	t.Helper()
	normalizedHash := util.Sha256HexString("normalized-" + id)
	leaf, err := util.HashLeaf(normalizedHash)
	if err != nil {
		t.Fatalf("leaf, err=%v", err)
	}
	proof := &db.Proof{
		Id:             id,
		OwnerId:        "owner-1",
		FileHash:       util.Sha256HexString("file-" + id),
		NormalizedHash: normalizedHash,
		Signature:      "sig",
		PublicKey:      "pub",
		AnchorBatchId:  batchId,
		CreatedTime:    time.Now().Unix(),
	}
	entry := &db.LedgerEntry{
		Namespace:      "default",
		Sequence:       sequence,
		ProofId:        id,
		FileHash:       proof.FileHash,
		NormalizedHash: normalizedHash,
		MerkleRoot:     leaf,
		MerkleLeaf:     leaf,
		EntryHash:      util.Sha256HexString("entry-" + id),
		Signature:      "sig",
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		CreatedTime:    time.Now().Unix(),
	}
	if err := dao.SaveProofAndEntry(proof, entry, nil, nil); err != nil {
		t.Fatalf("seed %s, err=%v", id, err)
	}
}

func TestBatcherFillsOldestPendingFirst(t *testing.T) {
	cfg := &config.AnchorConfig{BatchSize: 2}
	_, batcher, dao := newTestHarness(t, cfg, NewSimulatedBackend())
	first, err := batcher.Assign()
	if err != nil {
		t.Fatalf("assign, err=%v", err)
	}
	seedBatchMember(t, dao, "p1", first, 1)
	second, err := batcher.Assign()
	if err != nil {
		t.Fatalf("assign, err=%v", err)
	}
	if second != first {
		t.Fatalf("batch with capacity should be reused")
	}
	seedBatchMember(t, dao, "p2", first, 2)
	third, err := batcher.Assign()
	if err != nil {
		t.Fatalf("assign, err=%v", err)
	}
	if third == first {
		t.Fatalf("full batch should not accept more members")
	}
}

func TestSchedulerAnchorsFullBatch(t *testing.T) {
	cfg := &config.AnchorConfig{BatchSize: 2, MaxRetries: 3, BackoffSeconds: 1, ConfirmTimeoutSeconds: 30, TickIntervalSeconds: 1}
	scheduler, batcher, dao := newTestHarness(t, cfg, NewSimulatedBackend())
	batchId, err := batcher.Assign()
	if err != nil {
		t.Fatalf("assign, err=%v", err)
	}
	seedBatchMember(t, dao, "p1", batchId, 1)
	seedBatchMember(t, dao, "p2", batchId, 2)

	ctx := context.Background()
	if err = scheduler.Tick(ctx); err != nil {
		t.Fatalf("submit tick, err=%v", err)
	}
	if err = scheduler.Tick(ctx); err != nil {
		t.Fatalf("confirm tick, err=%v", err)
	}
	batch, err := dao.GetBatchById(batchId)
	if err != nil {
		t.Fatalf("read batch, err=%v", err)
	}
	if batch.Status != db.BatchAnchored {
		t.Fatalf("batch should be anchored, status %d", batch.Status)
	}
	if !strings.HasPrefix(batch.TxHash, "simulated://") {
		t.Fatalf("unexpected tx hash %s", batch.TxHash)
	}
	proofs, err := dao.GetProofsByBatch(batchId)
	if err != nil {
		t.Fatalf("read members, err=%v", err)
	}
	for _, proof := range proofs {
		if proof.AnchoredAt == 0 || proof.AnchorTx != batch.TxHash {
			t.Fatalf("member %s not anchored with the batch", proof.Id)
		}
	}
}

func TestSchedulerSkipsPartialBatch(t *testing.T) {
	cfg := &config.AnchorConfig{BatchSize: 10, MaxRetries: 3, BackoffSeconds: 1, ConfirmTimeoutSeconds: 30, MaxBatchAgeSeconds: 3600}
	scheduler, batcher, dao := newTestHarness(t, cfg, NewSimulatedBackend())
	batchId, err := batcher.Assign()
	if err != nil {
		t.Fatalf("assign, err=%v", err)
	}
	seedBatchMember(t, dao, "p1", batchId, 1)
	ctx := context.Background()
	if err = scheduler.Tick(ctx); err != nil {
		t.Fatalf("tick, err=%v", err)
	}
	if err = scheduler.Tick(ctx); err != nil {
		t.Fatalf("tick, err=%v", err)
	}
	batch, err := dao.GetBatchById(batchId)
	if err != nil || batch.Status != db.BatchPending {
		t.Fatalf("partial batch must stay pending, status %d, err=%v", batch.Status, err)
	}
}

func TestSchedulerRecordsCalendarAttestations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"token":"cal-token"}`)); err != nil {
			t.Errorf("write response, err=%v", err)
		}
	}))
	defer server.Close()
	cfg := &config.AnchorConfig{BatchSize: 1, MaxRetries: 3, BackoffSeconds: 1, ConfirmTimeoutSeconds: 30}
	scheduler, batcher, dao := newTestHarness(t, cfg, NewSimulatedBackend())
	scheduler.calendar = NewCalendarClient([]string{server.URL})
	batchId, err := batcher.Assign()
	if err != nil {
		t.Fatalf("assign, err=%v", err)
	}
	seedBatchMember(t, dao, "p1", batchId, 1)
	ctx := context.Background()
	if err = scheduler.Tick(ctx); err != nil {
		t.Fatalf("submit tick, err=%v", err)
	}
	if err = scheduler.Tick(ctx); err != nil {
		t.Fatalf("confirm tick, err=%v", err)
	}
	// the calendar attestation lands as its own receipt row next to the
	// backend receipt
	receipts, err := dao.GetReceiptsByProof("p1")
	if err != nil || len(receipts) != 2 {
		t.Fatalf("expected 2 receipts, got %d, err=%v", len(receipts), err)
	}
	chains := map[string]string{}
	for _, receipt := range receipts {
		chains[receipt.Chain] = receipt.TxHash
	}
	if chains[CalendarChainName] != "cal-token" {
		t.Fatalf("calendar attestation missing, got %v", chains)
	}
	if !strings.HasPrefix(chains[SimulatedChainName], "simulated://") {
		t.Fatalf("backend receipt missing, got %v", chains)
	}
}

func TestSimulatedBackendDeterministic(t *testing.T) {
	backend := NewSimulatedBackend()
	ctx := context.Background()
	first, err := backend.SubmitRoot(ctx, "ab", "sig")
	if err != nil {
		t.Fatalf("submit, err=%v", err)
	}
	second, err := backend.SubmitRoot(ctx, "ab", "sig")
	if err != nil {
		t.Fatalf("submit, err=%v", err)
	}
	if first.TxHash != second.TxHash {
		t.Fatalf("simulated anchoring must be reproducible")
	}
	if first.TxHash != "simulated://"+util.Sha256HexString("ab:sig") {
		t.Fatalf("unexpected simulated tx %s", first.TxHash)
	}
}

// failingBackend rejects every submission.
type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }

func (failingBackend) SubmitRoot(context.Context, string, string) (*SubmitResult, error) {
	return nil, errors.New("chain unavailable")
}

func (failingBackend) ConfirmTx(context.Context, string) (bool, error) {
	return false, nil
}

func TestSchedulerFailsBatchAndRequeues(t *testing.T) {
	cfg := &config.AnchorConfig{BatchSize: 1, MaxRetries: 1, BackoffSeconds: 1, ConfirmTimeoutSeconds: 30}
	scheduler, batcher, dao := newTestHarness(t, cfg, failingBackend{})
	batchId, err := batcher.Assign()
	if err != nil {
		t.Fatalf("assign, err=%v", err)
	}
	seedBatchMember(t, dao, "p1", batchId, 1)
	if err = scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("tick, err=%v", err)
	}
	batch, err := dao.GetBatchById(batchId)
	if err != nil || batch.Status != db.BatchFailed {
		t.Fatalf("batch should be failed, status %d, err=%v", batch.Status, err)
	}
	orphans, err := dao.GetProofsByBatch(batchId)
	if err != nil || len(orphans) != 0 {
		t.Fatalf("failed batch should not keep its members, err=%v", err)
	}
	fresh, err := dao.GetOldestPendingBatch()
	if err != nil || fresh.Id == "" || fresh.Id == batchId {
		t.Fatalf("members should land in a fresh pending batch, err=%v", err)
	}
	moved, err := dao.GetProofsByBatch(fresh.Id)
	if err != nil || len(moved) != 1 || moved[0].Id != "p1" {
		t.Fatalf("member not requeued, err=%v", err)
	}
}

// flakyBackend fails a fixed number of submissions before accepting.
type flakyBackend struct {
	failures int
	inner    ChainBackend
}

func (b *flakyBackend) Name() string { return b.inner.Name() }

func (b *flakyBackend) SubmitRoot(ctx context.Context, merkleRoot, signature string) (*SubmitResult, error) {
	if b.failures > 0 {
		b.failures--
		return nil, errors.New("transient chain error")
	}
	return b.inner.SubmitRoot(ctx, merkleRoot, signature)
}

func (b *flakyBackend) ConfirmTx(ctx context.Context, txHash string) (bool, error) {
	return b.inner.ConfirmTx(ctx, txHash)
}

func TestSchedulerRetriesWithBackoff(t *testing.T) {
	cfg := &config.AnchorConfig{BatchSize: 1, MaxRetries: 3, BackoffSeconds: 1, ConfirmTimeoutSeconds: 30}
	scheduler, batcher, dao := newTestHarness(t, cfg, &flakyBackend{failures: 1, inner: NewSimulatedBackend()})
	batchId, err := batcher.Assign()
	if err != nil {
		t.Fatalf("assign, err=%v", err)
	}
	seedBatchMember(t, dao, "p1", batchId, 1)
	ctx := context.Background()
	if err = scheduler.Tick(ctx); err != nil {
		t.Fatalf("tick, err=%v", err)
	}
	batch, err := dao.GetBatchById(batchId)
	if err != nil || batch.Status != db.BatchPending {
		t.Fatalf("one failure must not fail the batch, status %d, err=%v", batch.Status, err)
	}
	// wait out the backoff, then the retry should submit and confirm
	time.Sleep(1100 * time.Millisecond)
	if err = scheduler.Tick(ctx); err != nil {
		t.Fatalf("retry tick, err=%v", err)
	}
	if err = scheduler.Tick(ctx); err != nil {
		t.Fatalf("confirm tick, err=%v", err)
	}
	batch, err = dao.GetBatchById(batchId)
	if err != nil || batch.Status != db.BatchAnchored {
		t.Fatalf("batch should anchor after backoff, status %d, err=%v", batch.Status, err)
	}
}
