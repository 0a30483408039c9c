package db

type Proof struct {
	Id              string `gorm:"primaryKey;size:36"`
	OwnerId         string `gorm:"NOT NULL;index:idx_proof_owner;size:36"`
	FileHash        string `gorm:"NOT NULL;uniqueIndex:idx_proof_file_hash;size:64"`
	NormalizedHash  string `gorm:"NOT NULL;uniqueIndex:idx_proof_normalized_hash;size:64"`
	Signature       string `gorm:"NOT NULL;type:text"`
	PublicKey       string `gorm:"NOT NULL;type:text"` // base64 encoded owner signing key, carried into exported artifacts
	FileName        string
	MimeType        string
	FileSize        int64
	Metadata        string `gorm:"type:text"`
	PHash           string
	DHash           string
	TextEmbedding   string `gorm:"type:text"`
	PipelineVersion string `gorm:"size:16"`
	RiskScore       int
	ManifestRef     string
	LedgerEntryId   int64  `gorm:"index:idx_proof_ledger_entry"`
	AnchorBatchId   string `gorm:"index:idx_proof_anchor_batch;size:36"`
	AnchorTx        string
	AnchorSignature string `gorm:"type:text"`
	AnchoredAt      int64  // unix seconds, zero until the batch is confirmed
	CreatedTime     int64  `gorm:"NOT NULL"`
}

func (*Proof) TableName() string {
	return "proof"
}
