package ledger

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RemiBp/ProofOrigin/config"
	"github.com/RemiBp/ProofOrigin/db"
	"github.com/RemiBp/ProofOrigin/keys"
	"github.com/RemiBp/ProofOrigin/logging"
	"github.com/RemiBp/ProofOrigin/metrics"
	"github.com/RemiBp/ProofOrigin/util"
)

var (
	ErrSequenceGap       = errors.New("ledger sequence has a gap")
	ErrChainBroken       = errors.New("ledger parent hash chain is broken")
	ErrEntryTampered     = errors.New("ledger entry hash does not match its content")
	ErrBadEntrySignature = errors.New("ledger entry signature does not verify")
	ErrAppendContention  = errors.New("ledger append retries exhausted")
)

// entryPayload is the canonical signing form of a log entry. Field order is
// the alphabetical key order of the serialized JSON; changing it invalidates
// every recorded entry hash.
type entryPayload struct {
	FileHash       string  `json:"file_hash"`
	MerkleLeaf     string  `json:"merkle_leaf"`
	MerkleRoot     string  `json:"merkle_root"`
	Namespace      string  `json:"namespace"`
	NormalizedHash string  `json:"normalized_hash"`
	ParentHash     *string `json:"parent_hash"`
	ProofId        string  `json:"proof_id"`
	Sequence       uint64  `json:"sequence"`
	Timestamp      string  `json:"timestamp"`
}

// TransparencyLedger appends signed, hash-chained entries to the per-namespace
// log. Appends race on the (namespace, sequence) unique index and retry, so
// sequences come out gapless without a table lock.
type TransparencyLedger struct {
	dao        db.ProofDao
	keyContext *keys.KeyContext
	namespace  string
	maxRetries int
}

func NewTransparencyLedger(dao db.ProofDao, keyContext *keys.KeyContext, cfg *config.LedgerConfig) *TransparencyLedger {
	return &TransparencyLedger{
		dao:        dao,
		keyContext: keyContext,
		namespace:  cfg.Namespace,
		maxRetries: cfg.GetMaxAppendRetries(),
	}
}

func (l *TransparencyLedger) Namespace() string {
	return l.namespace
}

func (l *TransparencyLedger) PublicKey() string {
	return base64.StdEncoding.EncodeToString(l.keyContext.LedgerPub)
}

// Append persists the proof together with its log entry in one transaction.
// When two appends claim the same sequence, the loser detects the unique
// index violation on (namespace, sequence) and rebuilds against the new tail.
func (l *TransparencyLedger) Append(proof *db.Proof, receipts []*db.ChainReceipt, fingerprints []*db.AssetFingerprint) (*db.LedgerEntry, error) {
	merkleLeaf, err := util.HashLeaf(proof.NormalizedHash)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		tail, err := l.dao.GetTailEntry(l.namespace)
		if err != nil {
			return nil, err
		}
		entry, err := l.buildEntry(proof, tail, merkleLeaf)
		if err != nil {
			return nil, err
		}
		proof.LedgerEntryId = 0
		err = l.dao.SaveProofAndEntry(proof, entry, receipts, fingerprints)
		if err == nil {
			metrics.LedgerSequenceGauge.Set(float64(entry.Sequence))
			return entry, nil
		}
		if db.IsDuplicateEntryErr(err) && isSequenceConflict(err) {
			logging.Logger.Infof("ledger sequence %d taken in namespace %s, retrying against new tail", entry.Sequence, l.namespace)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w after %d attempts in namespace %s", ErrAppendContention, l.maxRetries, l.namespace)
}

func (l *TransparencyLedger) buildEntry(proof *db.Proof, tail *db.LedgerEntry, merkleLeaf string) (*db.LedgerEntry, error) {
	now := time.Now()
	entry := &db.LedgerEntry{
		Namespace:      l.namespace,
		Sequence:       tail.Sequence + 1,
		ProofId:        proof.Id,
		FileHash:       proof.FileHash,
		NormalizedHash: proof.NormalizedHash,
		MerkleRoot:     merkleLeaf, // provisional single leaf root, replaced once the batch anchors
		MerkleLeaf:     merkleLeaf,
		ParentHash:     tail.EntryHash,
		Timestamp:      now.UTC().Format(time.RFC3339Nano),
		CreatedTime:    now.Unix(),
	}
	entryHash, err := HashEntry(entry)
	if err != nil {
		return nil, err
	}
	signature, err := keys.SignHash(entryHash, l.keyContext.LedgerKey)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = entryHash
	entry.Signature = signature
	return entry, nil
}

// HashEntry computes the canonical hash of an entry. The merkle root covered
// by the hash is the provisional one, which always equals the merkle leaf, so
// the hash stays verifiable after the stored root is finalized by anchoring.
func HashEntry(entry *db.LedgerEntry) (string, error) {
	payload := entryPayload{
		FileHash:       entry.FileHash,
		MerkleLeaf:     entry.MerkleLeaf,
		MerkleRoot:     entry.MerkleLeaf,
		Namespace:      entry.Namespace,
		NormalizedHash: entry.NormalizedHash,
		ProofId:        entry.ProofId,
		Sequence:       entry.Sequence,
		Timestamp:      entry.Timestamp,
	}
	if entry.ParentHash != "" {
		parent := entry.ParentHash
		payload.ParentHash = &parent
	}
	bz, err := json.Marshal(&payload)
	if err != nil {
		return "", err
	}
	return util.Sha256Hex(bz), nil
}

// VerifyChain replays the log up to the given sequence and checks gapless
// numbering, parent linkage, entry hashes and signatures. A zero upTo means
// the whole log.
func (l *TransparencyLedger) VerifyChain(upTo uint64) error {
	if upTo == 0 {
		tail, err := l.dao.GetTailEntry(l.namespace)
		if err != nil {
			return err
		}
		upTo = tail.Sequence
	}
	entries, err := l.dao.GetEntriesUpTo(l.namespace, upTo)
	if err != nil {
		return err
	}
	parentHash := ""
	for i, entry := range entries {
		if entry.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: expected sequence %d, found %d", ErrSequenceGap, i+1, entry.Sequence)
		}
		if entry.ParentHash != parentHash {
			return fmt.Errorf("%w at sequence %d", ErrChainBroken, entry.Sequence)
		}
		entryHash, err := HashEntry(entry)
		if err != nil {
			return err
		}
		if entryHash != entry.EntryHash {
			return fmt.Errorf("%w at sequence %d", ErrEntryTampered, entry.Sequence)
		}
		if !keys.VerifySignature(entry.EntryHash, entry.Signature, l.keyContext.LedgerPub) {
			return fmt.Errorf("%w at sequence %d", ErrBadEntrySignature, entry.Sequence)
		}
		parentHash = entry.EntryHash
	}
	return nil
}

// VerifyInclusion checks a portable receipt against the stored log: the entry
// at the receipt's sequence must carry the same hash, and the chain up to
// that sequence must replay cleanly from the available prior entries.
func (l *TransparencyLedger) VerifyInclusion(receipt *Receipt) error {
	entry, err := l.dao.GetEntryBySequence(receipt.Namespace, receipt.Sequence)
	if err != nil {
		return err
	}
	if entry.Sequence == 0 || entry.EntryHash != receipt.EntryHash {
		return fmt.Errorf("%w: no entry with hash %s at sequence %d", ErrChainBroken, receipt.EntryHash, receipt.Sequence)
	}
	return l.VerifyChain(receipt.Sequence)
}

// TrustedRoot returns the merkle root of the newest anchored entry. Roots of
// unanchored entries are provisional and never reported as trusted.
func (l *TransparencyLedger) TrustedRoot() (string, uint64, error) {
	entry, err := l.dao.GetLatestAnchoredEntry(l.namespace)
	if err != nil {
		return "", 0, err
	}
	if entry.Sequence == 0 {
		return "", 0, nil
	}
	return entry.MerkleRoot, entry.Sequence, nil
}

// isSequenceConflict distinguishes a lost sequence race from other unique
// violations in the same transaction, e.g. a concurrent duplicate file hash.
func isSequenceConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "idx_entry_namespace_sequence") ||
		strings.Contains(msg, "ledger_entry.sequence") ||
		strings.Contains(msg, "ledger_entry.namespace")
}
