package db

type BatchStatus int

const (
	BatchPending  BatchStatus = 0
	BatchAnchored BatchStatus = 1
	BatchFailed   BatchStatus = 2 // members of a failed batch are re-queued into a fresh batch, never re-submitted
)

type AnchorBatch struct {
	Id              string      `gorm:"primaryKey;size:36"`
	MerkleRoot      string      `gorm:"size:64"`
	Status          BatchStatus `gorm:"NOT NULL;index:idx_batch_status"`
	TxHash          string
	AnchorSignature string `gorm:"type:text"`
	AnchoredAt      int64
	CreatedTime     int64 `gorm:"NOT NULL"`
}

func (*AnchorBatch) TableName() string {
	return "anchor_batch"
}

type ChainReceipt struct {
	Id            int64
	ProofId       string `gorm:"NOT NULL;index:idx_receipt_proof;size:36"`
	LedgerEntryId int64  `gorm:"index:idx_receipt_entry"`
	Chain         string `gorm:"NOT NULL;size:32"`
	TxHash        string
	Payload       string `gorm:"type:text"`
	AnchoredAt    int64
	CreatedTime   int64 `gorm:"NOT NULL"`
}

func (*ChainReceipt) TableName() string {
	return "chain_receipt"
}
