package ledger

import (
	"encoding/json"

	"github.com/RemiBp/ProofOrigin/db"
)

// Receipt is the portable inclusion receipt for one log entry. Everything a
// third party needs to check the entry offline is embedded, including the
// log's public key.
type Receipt struct {
	Namespace      string `json:"namespace"`
	Sequence       uint64 `json:"sequence"`
	ProofId        string `json:"proof_id"`
	FileHash       string `json:"file_hash"`
	NormalizedHash string `json:"normalized_hash"`
	EntryHash      string `json:"entry_hash"`
	ParentHash     string `json:"parent_hash,omitempty"`
	MerkleLeaf     string `json:"merkle_leaf"`
	MerkleRoot     string `json:"merkle_root"`
	Signature      string `json:"signature"`
	PublicKey      string `json:"public_key"`
	Timestamp      string `json:"timestamp"`
	Anchored       bool   `json:"anchored"`
	AnchoredAt     int64  `json:"anchored_at,omitempty"`
}

func (l *TransparencyLedger) BuildReceipt(entry *db.LedgerEntry) *Receipt {
	return &Receipt{
		Namespace:      entry.Namespace,
		Sequence:       entry.Sequence,
		ProofId:        entry.ProofId,
		FileHash:       entry.FileHash,
		NormalizedHash: entry.NormalizedHash,
		EntryHash:      entry.EntryHash,
		ParentHash:     entry.ParentHash,
		MerkleLeaf:     entry.MerkleLeaf,
		MerkleRoot:     entry.MerkleRoot,
		Signature:      entry.Signature,
		PublicKey:      l.PublicKey(),
		Timestamp:      entry.Timestamp,
		Anchored:       entry.AnchoredAt != 0,
		AnchoredAt:     entry.AnchoredAt,
	}
}

// MarshalReceipt renders a receipt as indented JSON for export alongside the
// portable proof artifact.
func MarshalReceipt(receipt *Receipt) ([]byte, error) {
	return json.MarshalIndent(receipt, "", "  ")
}
