package ledger

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
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

func newTestLedger(t *testing.T) (*TransparencyLedger, db.ProofDao, *gorm.DB) {
	t.Helper()
	// busy timeout keeps concurrent writers waiting instead of erroring
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")+"?_busy_timeout=10000"), &gorm.Config{
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
	ledgerCfg := &config.LedgerConfig{Namespace: "default", MaxAppendRetries: 3}
	return NewTransparencyLedger(dao, keyContext, ledgerCfg), dao, database
}

func testProof(id string) *db.Proof {
	return &db.Proof{
		Id:             id,
		OwnerId:        "owner-1",
		FileHash:       util.Sha256HexString("file-" + id),
		NormalizedHash: util.Sha256HexString("normalized-" + id),
		Signature:      "sig",
		PublicKey:      "pub",
		AnchorBatchId:  "b1",
		CreatedTime:    time.Now().Unix(),
	}
}

func TestAppendFirstEntry(t *testing.T) {
	l, _, _ := newTestLedger(t)
	proof := testProof("p1")
	entry, err := l.Append(proof, nil, nil)
	if err != nil {
		t.Fatalf("append failed, err=%v", err)
	}
	if entry.Sequence != 1 {
		t.Fatalf("first entry should take sequence 1, got %d", entry.Sequence)
	}
	if entry.ParentHash != "" {
		t.Fatalf("first entry should have no parent, got %s", entry.ParentHash)
	}
	leaf, err := util.HashLeaf(proof.NormalizedHash)
	if err != nil {
		t.Fatalf("leaf, err=%v", err)
	}
	if entry.MerkleLeaf != leaf || entry.MerkleRoot != leaf {
		t.Fatalf("provisional root should equal the leaf")
	}
	if err = l.VerifyChain(0); err != nil {
		t.Fatalf("fresh chain does not verify, err=%v", err)
	}
}

func TestAppendChainsEntries(t *testing.T) {
	l, _, _ := newTestLedger(t)
	var parent string
	for i, id := range []string{"p1", "p2", "p3"} {
		entry, err := l.Append(testProof(id), nil, nil)
		if err != nil {
			t.Fatalf("append %s failed, err=%v", id, err)
		}
		if entry.Sequence != uint64(i)+1 {
			t.Fatalf("expected sequence %d, got %d", i+1, entry.Sequence)
		}
		if entry.ParentHash != parent {
			t.Fatalf("entry %s not chained to its parent", id)
		}
		parent = entry.EntryHash
	}
	if err := l.VerifyChain(0); err != nil {
		t.Fatalf("chain does not verify, err=%v", err)
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	l, _, database := newTestLedger(t)
	for _, id := range []string{"p1", "p2", "p3"} {
		if _, err := l.Append(testProof(id), nil, nil); err != nil {
			t.Fatalf("append %s failed, err=%v", id, err)
		}
	}
	if err := database.Model(db.LedgerEntry{}).Where("sequence = ?", 2).
		Update("file_hash", util.Sha256HexString("evil")).Error; err != nil {
		t.Fatalf("tamper update failed, err=%v", err)
	}
	if err := l.VerifyChain(0); !errors.Is(err, ErrEntryTampered) {
		t.Fatalf("expected ErrEntryTampered, got %v", err)
	}
}

func TestVerifyChainDetectsBadSignature(t *testing.T) {
	l, _, database := newTestLedger(t)
	if _, err := l.Append(testProof("p1"), nil, nil); err != nil {
		t.Fatalf("append failed, err=%v", err)
	}
	if err := database.Model(db.LedgerEntry{}).Where("sequence = ?", 1).
		Update("signature", base64.StdEncoding.EncodeToString(make([]byte, 64))).Error; err != nil {
		t.Fatalf("tamper update failed, err=%v", err)
	}
	if err := l.VerifyChain(0); !errors.Is(err, ErrBadEntrySignature) {
		t.Fatalf("expected ErrBadEntrySignature, got %v", err)
	}
}

// racingDao injects a competing append between the tail read and the save, so
// the first save loses the sequence race exactly once.
type racingDao struct {
	db.ProofDao
	l        *TransparencyLedger
	injected bool
}

func (d *racingDao) SaveProofAndEntry(proof *db.Proof, entry *db.LedgerEntry, receipts []*db.ChainReceipt, fingerprints []*db.AssetFingerprint) error {
	if !d.injected {
		d.injected = true
		if _, err := d.l.Append(testProof("rival"), nil, nil); err != nil {
			return err
		}
	}
	return d.ProofDao.SaveProofAndEntry(proof, entry, receipts, fingerprints)
}

func TestAppendRetriesOnSequenceConflict(t *testing.T) {
	l, dao, _ := newTestLedger(t)
	racing := &racingDao{ProofDao: dao, l: l}
	contended := NewTransparencyLedger(racing, l.keyContext, &config.LedgerConfig{Namespace: "default", MaxAppendRetries: 3})
	entry, err := contended.Append(testProof("p1"), nil, nil)
	if err != nil {
		t.Fatalf("append should survive one lost race, err=%v", err)
	}
	if entry.Sequence != 2 {
		t.Fatalf("loser should rebuild on sequence 2, got %d", entry.Sequence)
	}
	if err = l.VerifyChain(0); err != nil {
		t.Fatalf("chain does not verify after contention, err=%v", err)
	}
}

func TestConcurrentAppendsAreGapless(t *testing.T) {
	const writers = 8
	l, dao, _ := newTestLedger(t)
	// every loser may retry against each rival, so the bound scales with N
	contended := NewTransparencyLedger(dao, l.keyContext, &config.LedgerConfig{Namespace: "default", MaxAppendRetries: 8 * writers})
	var wg sync.WaitGroup
	sequences := make(chan uint64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := contended.Append(testProof(fmt.Sprintf("p%d", i)), nil, nil)
			if err != nil {
				t.Errorf("append %d failed, err=%v", i, err)
				return
			}
			sequences <- entry.Sequence
		}(i)
	}
	wg.Wait()
	close(sequences)
	seen := make(map[uint64]bool)
	for sequence := range sequences {
		if seen[sequence] {
			t.Fatalf("sequence %d assigned twice", sequence)
		}
		seen[sequence] = true
	}
	for want := uint64(1); want <= writers; want++ {
		if !seen[want] {
			t.Fatalf("sequence %d missing, got %v", want, seen)
		}
	}
	if err := l.VerifyChain(0); err != nil {
		t.Fatalf("chain does not verify after concurrent appends, err=%v", err)
	}
}

func TestVerifyInclusion(t *testing.T) {
	l, _, database := newTestLedger(t)
	for _, id := range []string{"p1", "p2"} {
		if _, err := l.Append(testProof(id), nil, nil); err != nil {
			t.Fatalf("append %s failed, err=%v", id, err)
		}
	}
	entry, err := l.dao.GetEntryBySequence("default", 1)
	if err != nil {
		t.Fatalf("read entry, err=%v", err)
	}
	receipt := l.BuildReceipt(entry)
	if err = l.VerifyInclusion(receipt); err != nil {
		t.Fatalf("genuine receipt should be included, err=%v", err)
	}
	// a receipt pointing past the log has no covering entry
	beyond := *receipt
	beyond.Sequence = 9
	if err = l.VerifyInclusion(&beyond); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
	// a stored entry diverging from the receipt is a break too
	if err = database.Model(db.LedgerEntry{}).Where("sequence = ?", 1).
		Update("entry_hash", util.Sha256HexString("evil")).Error; err != nil {
		t.Fatalf("tamper update failed, err=%v", err)
	}
	if err = l.VerifyInclusion(receipt); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
}

func TestTrustedRootRequiresAnchor(t *testing.T) {
	l, dao, _ := newTestLedger(t)
	if err := dao.CreateBatch(&db.AnchorBatch{Id: "b1", Status: db.BatchPending, CreatedTime: time.Now().Unix()}); err != nil {
		t.Fatalf("create batch, err=%v", err)
	}
	entry, err := l.Append(testProof("p1"), nil, nil)
	if err != nil {
		t.Fatalf("append failed, err=%v", err)
	}
	root, sequence, err := l.TrustedRoot()
	if err != nil || root != "" || sequence != 0 {
		t.Fatalf("provisional root must not be trusted, got %s at %d", root, sequence)
	}
	if err = dao.MarkBatchAnchored("b1", "final-root", "tx", "sig", "simulated", "{}", nil, time.Now().Unix()); err != nil {
		t.Fatalf("anchor, err=%v", err)
	}
	root, sequence, err = l.TrustedRoot()
	if err != nil || root != "final-root" || sequence != entry.Sequence {
		t.Fatalf("anchored root not reported, got %s at %d, err=%v", root, sequence, err)
	}
}

func TestBuildReceipt(t *testing.T) {
	l, _, _ := newTestLedger(t)
	entry, err := l.Append(testProof("p1"), nil, nil)
	if err != nil {
		t.Fatalf("append failed, err=%v", err)
	}
	receipt := l.BuildReceipt(entry)
	if receipt.Sequence != 1 || receipt.EntryHash != entry.EntryHash {
		t.Fatalf("receipt does not mirror the entry")
	}
	if receipt.PublicKey != l.PublicKey() {
		t.Fatalf("receipt misses the log public key")
	}
	if receipt.Anchored {
		t.Fatalf("fresh entry must not claim anchoring")
	}
	if !keys.VerifySignature(receipt.EntryHash, receipt.Signature, l.keyContext.LedgerPub) {
		t.Fatalf("receipt signature does not verify")
	}
}
