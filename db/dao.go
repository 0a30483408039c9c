package db

import (
	"errors"

	"gorm.io/gorm"
)

// ErrBatchNotPending is returned when a batch transition targets a batch that
// already left the pending state. Transitions happen exactly once.
var ErrBatchNotPending = errors.New("anchor batch is not pending")

type ProofDao interface {
	ProofDB
	LedgerDB
	BatchDB
	FingerprintDB
	ReceiptDB
	SaveProofAndEntry(proof *Proof, entry *LedgerEntry, receipts []*ChainReceipt, fingerprints []*AssetFingerprint) error
}

type ProofSvcDB struct {
	db *gorm.DB
}

func NewProofSvcDB(db *gorm.DB) ProofDao {
	return &ProofSvcDB{
		db,
	}
}

type ProofDB interface {
	GetProofById(id string) (*Proof, error)
	GetProofByFileHash(hash string) (*Proof, error)
	GetProofByNormalizedHash(hash string) (*Proof, error)
	GetProofsByOwner(ownerId string) ([]*Proof, error)
	GetProofsByBatch(batchId string) ([]*Proof, error)
	UpdateProofDerived(id string, riskScore int, manifestRef string) error
}

func (d *ProofSvcDB) GetProofById(id string) (*Proof, error) {
	proof := Proof{}
	err := d.db.Model(Proof{}).Where("id = ?", id).Take(&proof).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &proof, nil
}

func (d *ProofSvcDB) GetProofByFileHash(hash string) (*Proof, error) {
	proof := Proof{}
	err := d.db.Model(Proof{}).Where("file_hash = ?", hash).Take(&proof).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &proof, nil
}

func (d *ProofSvcDB) GetProofByNormalizedHash(hash string) (*Proof, error) {
	proof := Proof{}
	err := d.db.Model(Proof{}).Where("normalized_hash = ?", hash).Take(&proof).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &proof, nil
}

func (d *ProofSvcDB) GetProofsByOwner(ownerId string) ([]*Proof, error) {
	proofs := make([]*Proof, 0)
	if err := d.db.Where("owner_id = ?", ownerId).Order("created_time asc").Find(&proofs).Error; err != nil {
		return proofs, err
	}
	return proofs, nil
}

func (d *ProofSvcDB) GetProofsByBatch(batchId string) ([]*Proof, error) {
	proofs := make([]*Proof, 0)
	if err := d.db.Where("anchor_batch_id = ?", batchId).Order("created_time asc").Find(&proofs).Error; err != nil {
		return proofs, err
	}
	return proofs, nil
}

func (d *ProofSvcDB) UpdateProofDerived(id string, riskScore int, manifestRef string) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Model(Proof{}).Where("id = ?", id).Updates(
			map[string]interface{}{"risk_score": riskScore, "manifest_ref": manifestRef}).Error
	})
}

type LedgerDB interface {
	GetTailEntry(namespace string) (*LedgerEntry, error)
	GetEntryBySequence(namespace string, sequence uint64) (*LedgerEntry, error)
	GetEntriesUpTo(namespace string, sequence uint64) ([]*LedgerEntry, error)
	GetEntryByProofId(proofId string) (*LedgerEntry, error)
	GetEntryById(id int64) (*LedgerEntry, error)
	GetLatestAnchoredEntry(namespace string) (*LedgerEntry, error)
}

func (d *ProofSvcDB) GetTailEntry(namespace string) (*LedgerEntry, error) {
	entry := LedgerEntry{}
	err := d.db.Model(LedgerEntry{}).Where("namespace = ?", namespace).Order("sequence desc").Take(&entry).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &entry, nil
}

func (d *ProofSvcDB) GetEntryBySequence(namespace string, sequence uint64) (*LedgerEntry, error) {
	entry := LedgerEntry{}
	err := d.db.Model(LedgerEntry{}).Where("namespace = ? and sequence = ?", namespace, sequence).Take(&entry).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &entry, nil
}

func (d *ProofSvcDB) GetEntriesUpTo(namespace string, sequence uint64) ([]*LedgerEntry, error) {
	entries := make([]*LedgerEntry, 0)
	if err := d.db.Where("namespace = ? and sequence <= ?", namespace, sequence).Order("sequence asc").Find(&entries).Error; err != nil {
		return entries, err
	}
	return entries, nil
}

func (d *ProofSvcDB) GetEntryByProofId(proofId string) (*LedgerEntry, error) {
	entry := LedgerEntry{}
	err := d.db.Model(LedgerEntry{}).Where("proof_id = ?", proofId).Take(&entry).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &entry, nil
}

func (d *ProofSvcDB) GetEntryById(id int64) (*LedgerEntry, error) {
	entry := LedgerEntry{}
	err := d.db.Model(LedgerEntry{}).Where("id = ?", id).Take(&entry).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &entry, nil
}

func (d *ProofSvcDB) GetLatestAnchoredEntry(namespace string) (*LedgerEntry, error) {
	entry := LedgerEntry{}
	err := d.db.Model(LedgerEntry{}).Where("namespace = ? and anchored_at > 0", namespace).Order("sequence desc").Take(&entry).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &entry, nil
}

type BatchDB interface {
	CreateBatch(batch *AnchorBatch) error
	GetBatchById(id string) (*AnchorBatch, error)
	GetOldestPendingBatch() (*AnchorBatch, error)
	GetPendingBatches() ([]*AnchorBatch, error)
	CountBatchMembers(batchId string) (int64, error)
	UpdateBatchRoot(batchId, merkleRoot string) error
	MarkBatchAnchored(batchId, merkleRoot, txHash, signature, chain, payload string, extras []*ChainReceipt, anchoredAt int64) error
	MarkBatchFailed(batchId string) error
	RequeueBatchMembers(failedBatchId string, fresh *AnchorBatch) error
}

func (d *ProofSvcDB) CreateBatch(batch *AnchorBatch) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Create(batch).Error
	})
}

func (d *ProofSvcDB) GetBatchById(id string) (*AnchorBatch, error) {
	batch := AnchorBatch{}
	err := d.db.Model(AnchorBatch{}).Where("id = ?", id).Take(&batch).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &batch, nil
}

func (d *ProofSvcDB) GetOldestPendingBatch() (*AnchorBatch, error) {
	batch := AnchorBatch{}
	err := d.db.Model(AnchorBatch{}).Where("status = ?", BatchPending).Order("created_time asc").Take(&batch).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return &batch, nil
}

func (d *ProofSvcDB) GetPendingBatches() ([]*AnchorBatch, error) {
	batches := make([]*AnchorBatch, 0)
	if err := d.db.Where("status = ?", BatchPending).Order("created_time asc").Find(&batches).Error; err != nil {
		return batches, err
	}
	return batches, nil
}

func (d *ProofSvcDB) CountBatchMembers(batchId string) (int64, error) {
	var count int64
	if err := d.db.Model(Proof{}).Where("anchor_batch_id = ?", batchId).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (d *ProofSvcDB) UpdateBatchRoot(batchId, merkleRoot string) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Model(AnchorBatch{}).Where("id = ?", batchId).Updates(
			map[string]interface{}{"merkle_root": merkleRoot}).Error
	})
}

// MarkBatchAnchored finalizes a confirmed batch: the batch row, every member
// proof and every member ledger entry are updated, and receipts are written,
// all inside a single transaction. Every member gets the backend receipt plus
// one row per extra attestation, so independent anchors of the same proof
// coexist as distinct receipt rows. No observer can see the batch anchored
// while a member is not.
func (d *ProofSvcDB) MarkBatchAnchored(batchId, merkleRoot, txHash, signature, chain, payload string, extras []*ChainReceipt, anchoredAt int64) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		res := dbTx.Model(AnchorBatch{}).Where("id = ? and status = ?", batchId, BatchPending).Updates(
			map[string]interface{}{
				"merkle_root":      merkleRoot,
				"status":           BatchAnchored,
				"tx_hash":          txHash,
				"anchor_signature": signature,
				"anchored_at":      anchoredAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrBatchNotPending
		}
		proofs := make([]*Proof, 0)
		if err := dbTx.Where("anchor_batch_id = ?", batchId).Find(&proofs).Error; err != nil {
			return err
		}
		for _, proof := range proofs {
			if err := dbTx.Model(Proof{}).Where("id = ?", proof.Id).Updates(
				map[string]interface{}{
					"anchor_tx":        txHash,
					"anchor_signature": signature,
					"anchored_at":      anchoredAt,
				}).Error; err != nil {
				return err
			}
			if err := dbTx.Model(LedgerEntry{}).Where("proof_id = ?", proof.Id).Updates(
				map[string]interface{}{
					"merkle_root": merkleRoot,
					"anchored_at": anchoredAt,
				}).Error; err != nil {
				return err
			}
			receipt := &ChainReceipt{
				ProofId:       proof.Id,
				LedgerEntryId: proof.LedgerEntryId,
				Chain:         chain,
				TxHash:        txHash,
				Payload:       payload,
				AnchoredAt:    anchoredAt,
				CreatedTime:   anchoredAt,
			}
			if err := dbTx.Create(receipt).Error; err != nil {
				return err
			}
			for _, extra := range extras {
				attestation := &ChainReceipt{
					ProofId:       proof.Id,
					LedgerEntryId: proof.LedgerEntryId,
					Chain:         extra.Chain,
					TxHash:        extra.TxHash,
					Payload:       extra.Payload,
					AnchoredAt:    extra.AnchoredAt,
					CreatedTime:   anchoredAt,
				}
				if err := dbTx.Create(attestation).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (d *ProofSvcDB) MarkBatchFailed(batchId string) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		res := dbTx.Model(AnchorBatch{}).Where("id = ? and status = ?", batchId, BatchPending).Updates(
			AnchorBatch{Status: BatchFailed})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrBatchNotPending
		}
		return nil
	})
}

// RequeueBatchMembers moves the unanchored members of a failed batch into a
// fresh pending batch. The failed batch row itself is kept as an immutable
// record of the failed attempt.
func (d *ProofSvcDB) RequeueBatchMembers(failedBatchId string, fresh *AnchorBatch) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		if err := dbTx.Create(fresh).Error; err != nil {
			return err
		}
		return dbTx.Model(Proof{}).Where("anchor_batch_id = ? and anchored_at = 0", failedBatchId).Updates(
			map[string]interface{}{"anchor_batch_id": fresh.Id}).Error
	})
}

type FingerprintDB interface {
	ReplaceFingerprints(proofId string, fingerprints []*AssetFingerprint) error
	GetFingerprintsByProof(proofId string) ([]*AssetFingerprint, error)
	ReplaceSimilarityMatches(proofId string, matches []*SimilarityMatch) error
	GetMatchesByProof(proofId string) ([]*SimilarityMatch, error)
	CreateKeyRevocation(revocation *KeyRevocation) error
	GetRevocationsByOwner(ownerId string) ([]*KeyRevocation, error)
}

func (d *ProofSvcDB) ReplaceFingerprints(proofId string, fingerprints []*AssetFingerprint) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		if err := dbTx.Where("proof_id = ?", proofId).Delete(&AssetFingerprint{}).Error; err != nil {
			return err
		}
		if len(fingerprints) != 0 {
			if err := dbTx.Create(fingerprints).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *ProofSvcDB) GetFingerprintsByProof(proofId string) ([]*AssetFingerprint, error) {
	fingerprints := make([]*AssetFingerprint, 0)
	if err := d.db.Where("proof_id = ?", proofId).Find(&fingerprints).Error; err != nil {
		return fingerprints, err
	}
	return fingerprints, nil
}

func (d *ProofSvcDB) ReplaceSimilarityMatches(proofId string, matches []*SimilarityMatch) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		if err := dbTx.Where("proof_id = ?", proofId).Delete(&SimilarityMatch{}).Error; err != nil {
			return err
		}
		if len(matches) != 0 {
			if err := dbTx.Create(matches).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *ProofSvcDB) GetMatchesByProof(proofId string) ([]*SimilarityMatch, error) {
	matches := make([]*SimilarityMatch, 0)
	if err := d.db.Where("proof_id = ?", proofId).Order("score desc").Find(&matches).Error; err != nil {
		return matches, err
	}
	return matches, nil
}

func (d *ProofSvcDB) CreateKeyRevocation(revocation *KeyRevocation) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Create(revocation).Error
	})
}

func (d *ProofSvcDB) GetRevocationsByOwner(ownerId string) ([]*KeyRevocation, error) {
	revocations := make([]*KeyRevocation, 0)
	if err := d.db.Where("owner_id = ?", ownerId).Order("revoked_time desc").Find(&revocations).Error; err != nil {
		return revocations, err
	}
	return revocations, nil
}

type ReceiptDB interface {
	CreateReceipt(receipt *ChainReceipt) error
	GetReceiptsByProof(proofId string) ([]*ChainReceipt, error)
}

func (d *ProofSvcDB) CreateReceipt(receipt *ChainReceipt) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Create(receipt).Error
	})
}

func (d *ProofSvcDB) GetReceiptsByProof(proofId string) ([]*ChainReceipt, error) {
	receipts := make([]*ChainReceipt, 0)
	if err := d.db.Where("proof_id = ?", proofId).Order("created_time asc").Find(&receipts).Error; err != nil {
		return receipts, err
	}
	return receipts, nil
}

// SaveProofAndEntry persists a proof together with its transparency log entry,
// receipts and fingerprints. Either everything is written or nothing is; a
// unique constraint violation (duplicate hash, claimed sequence) aborts the
// whole transaction and surfaces to the caller untouched.
func (d *ProofSvcDB) SaveProofAndEntry(proof *Proof, entry *LedgerEntry, receipts []*ChainReceipt, fingerprints []*AssetFingerprint) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		if err := dbTx.Create(entry).Error; err != nil {
			return err
		}
		proof.LedgerEntryId = entry.Id
		if err := dbTx.Create(proof).Error; err != nil {
			return err
		}
		for _, receipt := range receipts {
			receipt.ProofId = proof.Id
			receipt.LedgerEntryId = entry.Id
			if err := dbTx.Create(receipt).Error; err != nil {
				return err
			}
		}
		for _, fingerprint := range fingerprints {
			fingerprint.ProofId = proof.Id
		}
		if len(fingerprints) != 0 {
			if err := dbTx.Create(fingerprints).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func AutoMigrateDB(db *gorm.DB) {
	var err error
	if err = db.AutoMigrate(&Proof{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&LedgerEntry{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&AnchorBatch{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&ChainReceipt{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&AssetFingerprint{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&SimilarityMatch{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&KeyRevocation{}); err != nil {
		panic(err)
	}
}
