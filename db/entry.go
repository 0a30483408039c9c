package db

// LedgerEntry is one link of the per-namespace transparency log. Rows are
// append-only: nothing but MerkleRoot and AnchoredAt is ever updated after
// insert, and only by the batch fan-out transaction.
type LedgerEntry struct {
	Id             int64
	Namespace      string `gorm:"NOT NULL;uniqueIndex:idx_entry_namespace_sequence,priority:1;size:64"`
	Sequence       uint64 `gorm:"NOT NULL;uniqueIndex:idx_entry_namespace_sequence,priority:2"`
	ProofId        string `gorm:"NOT NULL;index:idx_entry_proof;size:36"`
	FileHash       string `gorm:"NOT NULL;size:64"`
	NormalizedHash string `gorm:"NOT NULL;size:64"`
	MerkleRoot     string `gorm:"NOT NULL;size:64"`
	MerkleLeaf     string `gorm:"NOT NULL;size:64"`
	ParentHash     string `gorm:"size:64"` // empty for the first entry of a namespace
	EntryHash      string `gorm:"NOT NULL;uniqueIndex:idx_entry_hash;size:64"`
	Signature      string `gorm:"NOT NULL;type:text"`
	Timestamp      string `gorm:"NOT NULL;size:64"` // RFC3339Nano, covered by the entry signature
	AnchoredAt     int64
	CreatedTime    int64 `gorm:"NOT NULL"`
}

func (*LedgerEntry) TableName() string {
	return "ledger_entry"
}
