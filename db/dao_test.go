package db

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDao(t *testing.T) ProofDao {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite, err=%v", err)
	}
	AutoMigrateDB(database)
	return NewProofSvcDB(database)
}

func testProof(id, fileHash, normalizedHash, batchId string) *Proof {
	return &Proof{
		Id:             id,
		OwnerId:        "owner-1",
		FileHash:       fileHash,
		NormalizedHash: normalizedHash,
		Signature:      "sig",
		PublicKey:      "pub",
		AnchorBatchId:  batchId,
		CreatedTime:    time.Now().Unix(),
	}
}

func testEntry(namespace string, sequence uint64, proofId, entryHash, parentHash string) *LedgerEntry {
	return &LedgerEntry{
		Namespace:      namespace,
		Sequence:       sequence,
		ProofId:        proofId,
		FileHash:       "fh-" + proofId,
		NormalizedHash: "nh-" + proofId,
		MerkleRoot:     "leaf-" + proofId,
		MerkleLeaf:     "leaf-" + proofId,
		ParentHash:     parentHash,
		EntryHash:      entryHash,
		Signature:      "sig",
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		CreatedTime:    time.Now().Unix(),
	}
}

func TestSaveProofAndEntryLinksRows(t *testing.T) {
	dao := newTestDao(t)
	proof := testProof("p1", "fh1", "nh1", "b1")
	entry := testEntry("default", 1, "p1", "eh1", "")
	fingerprints := []*AssetFingerprint{
		{FingerprintType: FingerprintTypeSha256, Value: "nh1", CreatedTime: 1},
	}
	if err := dao.SaveProofAndEntry(proof, entry, nil, fingerprints); err != nil {
		t.Fatalf("save failed, err=%v", err)
	}
	stored, err := dao.GetProofById("p1")
	if err != nil || stored.Id != "p1" {
		t.Fatalf("proof not stored, err=%v", err)
	}
	if stored.LedgerEntryId != entry.Id {
		t.Fatalf("proof not linked to entry, got %d want %d", stored.LedgerEntryId, entry.Id)
	}
	prints, err := dao.GetFingerprintsByProof("p1")
	if err != nil || len(prints) != 1 {
		t.Fatalf("fingerprints not stored, err=%v", err)
	}
}

func TestSaveProofAndEntryDuplicateRollsBack(t *testing.T) {
	dao := newTestDao(t)
	if err := dao.SaveProofAndEntry(testProof("p1", "fh1", "nh1", "b1"), testEntry("default", 1, "p1", "eh1", ""), nil, nil); err != nil {
		t.Fatalf("first save failed, err=%v", err)
	}
	// same sequence: unique (namespace, sequence) index must reject
	err := dao.SaveProofAndEntry(testProof("p2", "fh2", "nh2", "b1"), testEntry("default", 1, "p2", "eh2", "eh1"), nil, nil)
	if !IsDuplicateEntryErr(err) {
		t.Fatalf("expected duplicate entry error, got %v", err)
	}
	stored, err := dao.GetProofById("p2")
	if err != nil {
		t.Fatalf("read failed, err=%v", err)
	}
	if stored.Id != "" {
		t.Fatalf("rolled back proof should not exist")
	}
}

func TestGetTailEntry(t *testing.T) {
	dao := newTestDao(t)
	tail, err := dao.GetTailEntry("default")
	if err != nil {
		t.Fatalf("tail read failed, err=%v", err)
	}
	if tail.Sequence != 0 {
		t.Fatalf("empty log should report zero tail")
	}
	for seq := uint64(1); seq <= 3; seq++ {
		proofId := "p" + string(rune('0'+seq))
		entry := testEntry("default", seq, proofId, "eh"+proofId, "")
		if err := dao.SaveProofAndEntry(testProof(proofId, "fh"+proofId, "nh"+proofId, "b1"), entry, nil, nil); err != nil {
			t.Fatalf("save %d failed, err=%v", seq, err)
		}
	}
	tail, err = dao.GetTailEntry("default")
	if err != nil || tail.Sequence != 3 {
		t.Fatalf("expected tail 3, got %d, err=%v", tail.Sequence, err)
	}
}

func TestMarkBatchAnchoredFanOut(t *testing.T) {
	dao := newTestDao(t)
	batch := &AnchorBatch{Id: "b1", Status: BatchPending, CreatedTime: time.Now().Unix()}
	if err := dao.CreateBatch(batch); err != nil {
		t.Fatalf("create batch, err=%v", err)
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		entry := testEntry("default", map[string]uint64{"p1": 1, "p2": 2, "p3": 3}[id], id, "eh-"+id, "")
		if err := dao.SaveProofAndEntry(testProof(id, "fh-"+id, "nh-"+id, "b1"), entry, nil, nil); err != nil {
			t.Fatalf("save %s, err=%v", id, err)
		}
	}
	anchoredAt := time.Now().Unix()
	extras := []*ChainReceipt{
		{Chain: "calendar", TxHash: "cal-token", Payload: `{"endpoint":"https://calendar.example"}`, AnchoredAt: anchoredAt},
	}
	err := dao.MarkBatchAnchored("b1", "root", "tx", "sig", "simulated", `{"k":"v"}`, extras, anchoredAt)
	if err != nil {
		t.Fatalf("anchoring failed, err=%v", err)
	}
	proofs, err := dao.GetProofsByBatch("b1")
	if err != nil || len(proofs) != 3 {
		t.Fatalf("expected 3 members, err=%v", err)
	}
	for _, proof := range proofs {
		if proof.AnchoredAt != anchoredAt || proof.AnchorTx != "tx" {
			t.Fatalf("member %s not anchored", proof.Id)
		}
		entry, err := dao.GetEntryByProofId(proof.Id)
		if err != nil || entry.MerkleRoot != "root" || entry.AnchoredAt != anchoredAt {
			t.Fatalf("entry of %s not finalized, err=%v", proof.Id, err)
		}
		// both anchors land as distinct receipt rows per member
		receipts, err := dao.GetReceiptsByProof(proof.Id)
		if err != nil || len(receipts) != 2 {
			t.Fatalf("expected 2 receipts for %s, got %d, err=%v", proof.Id, len(receipts), err)
		}
		chains := map[string]string{}
		for _, receipt := range receipts {
			chains[receipt.Chain] = receipt.TxHash
		}
		if chains["simulated"] != "tx" || chains["calendar"] != "cal-token" {
			t.Fatalf("receipts of %s incomplete, got %v", proof.Id, chains)
		}
	}
	// a second transition must be rejected
	if err = dao.MarkBatchAnchored("b1", "root", "tx", "sig", "simulated", "{}", nil, anchoredAt); err != ErrBatchNotPending {
		t.Fatalf("expected ErrBatchNotPending, got %v", err)
	}
	if err = dao.MarkBatchFailed("b1"); err != ErrBatchNotPending {
		t.Fatalf("anchored batch must not fail, got %v", err)
	}
}

func TestRequeueBatchMembers(t *testing.T) {
	dao := newTestDao(t)
	if err := dao.CreateBatch(&AnchorBatch{Id: "b1", Status: BatchPending, CreatedTime: time.Now().Unix()}); err != nil {
		t.Fatalf("create batch, err=%v", err)
	}
	if err := dao.SaveProofAndEntry(testProof("p1", "fh1", "nh1", "b1"), testEntry("default", 1, "p1", "eh1", ""), nil, nil); err != nil {
		t.Fatalf("save, err=%v", err)
	}
	if err := dao.MarkBatchFailed("b1"); err != nil {
		t.Fatalf("fail batch, err=%v", err)
	}
	fresh := &AnchorBatch{Id: "b2", Status: BatchPending, CreatedTime: time.Now().Unix()}
	if err := dao.RequeueBatchMembers("b1", fresh); err != nil {
		t.Fatalf("requeue, err=%v", err)
	}
	moved, err := dao.GetProofsByBatch("b2")
	if err != nil || len(moved) != 1 || moved[0].Id != "p1" {
		t.Fatalf("member not moved, err=%v", err)
	}
	failed, err := dao.GetBatchById("b1")
	if err != nil || failed.Status != BatchFailed {
		t.Fatalf("failed batch row should survive, err=%v", err)
	}
}

func TestGetLatestAnchoredEntry(t *testing.T) {
	dao := newTestDao(t)
	if err := dao.CreateBatch(&AnchorBatch{Id: "b1", Status: BatchPending, CreatedTime: time.Now().Unix()}); err != nil {
		t.Fatalf("create batch, err=%v", err)
	}
	if err := dao.SaveProofAndEntry(testProof("p1", "fh1", "nh1", "b1"), testEntry("default", 1, "p1", "eh1", ""), nil, nil); err != nil {
		t.Fatalf("save, err=%v", err)
	}
	entry, err := dao.GetLatestAnchoredEntry("default")
	if err != nil || entry.Sequence != 0 {
		t.Fatalf("unanchored log reported a trusted entry, err=%v", err)
	}
	if err = dao.MarkBatchAnchored("b1", "root", "tx", "sig", "simulated", "{}", nil, time.Now().Unix()); err != nil {
		t.Fatalf("anchor, err=%v", err)
	}
	entry, err = dao.GetLatestAnchoredEntry("default")
	if err != nil || entry.Sequence != 1 || entry.MerkleRoot != "root" {
		t.Fatalf("anchored entry not found, err=%v", err)
	}
}
