package packager

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/RemiBp/ProofOrigin/db"
	"github.com/RemiBp/ProofOrigin/keys"
	"github.com/RemiBp/ProofOrigin/ledger"
	"github.com/RemiBp/ProofOrigin/util"
)

const ProtocolVersion = "POP-1.0"

const (
	ReasonHashMismatch = "hash_mismatch"
	ReasonChainBreak   = "chain_break"
	ReasonBadSignature = "bad_signature"
)

// AnchorClaim asserts that the proof's merkle leaf is covered by an anchored
// root. A claim is only honored when its receipt shows a finalized anchor.
type AnchorClaim struct {
	Chain      string `json:"chain"`
	TxHash     string `json:"tx_hash"`
	MerkleRoot string `json:"merkle_root"`
	MerkleLeaf string `json:"merkle_leaf"`
	Signature  string `json:"signature"`
	AnchoredAt int64  `json:"anchored_at"`
}

// Artifact is the self-contained portable proof. Holders verify it offline
// against the original content bytes; no server round trip is involved.
type Artifact struct {
	Protocol       string          `json:"protocol"`
	ProofId        string          `json:"proof_id"`
	OwnerId        string          `json:"owner_id"`
	FileName       string          `json:"file_name,omitempty"`
	MimeType       string          `json:"mime_type,omitempty"`
	FileHash       string          `json:"file_hash"`
	NormalizedHash string          `json:"normalized_hash"`
	Signature      string          `json:"signature"`
	PublicKey      string          `json:"public_key"`
	Timestamp      string          `json:"timestamp"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Receipt        *ledger.Receipt `json:"receipt"`
	Anchor         *AnchorClaim    `json:"anchor,omitempty"`
}

// VerifyResult reports the independent verification checks. Every check runs
// even after one fails, so Reasons lists everything wrong at once.
type VerifyResult struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

// BuildArtifact assembles the portable artifact for a registered proof. The
// anchor claim is attached only once the proof's batch has been confirmed;
// provisional roots never leave the server as anchoring claims.
func BuildArtifact(proof *db.Proof, receipt *ledger.Receipt, ownerPublicKeyB64, chain string) *Artifact {
	artifact := &Artifact{
		Protocol:       ProtocolVersion,
		ProofId:        proof.Id,
		OwnerId:        proof.OwnerId,
		FileName:       proof.FileName,
		MimeType:       proof.MimeType,
		FileHash:       proof.FileHash,
		NormalizedHash: proof.NormalizedHash,
		Signature:      proof.Signature,
		PublicKey:      ownerPublicKeyB64,
		Timestamp:      receipt.Timestamp,
		Receipt:        receipt,
	}
	if proof.Metadata != "" {
		artifact.Metadata = json.RawMessage(proof.Metadata)
	}
	if proof.AnchoredAt != 0 {
		artifact.Anchor = &AnchorClaim{
			Chain:      chain,
			TxHash:     proof.AnchorTx,
			MerkleRoot: receipt.MerkleRoot,
			MerkleLeaf: receipt.MerkleLeaf,
			Signature:  proof.AnchorSignature,
			AnchoredAt: proof.AnchoredAt,
		}
	}
	return artifact
}

// Marshal renders the artifact with a canonical byte layout: keys sorted,
// compact separators. Two exports of the same proof state are byte-identical.
func Marshal(artifact *Artifact) ([]byte, error) {
	bz, err := json.Marshal(artifact)
	if err != nil {
		return nil, err
	}
	var tree interface{}
	if err = json.Unmarshal(bz, &tree); err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func Parse(bz []byte) (*Artifact, error) {
	var artifact Artifact
	if err := json.Unmarshal(bz, &artifact); err != nil {
		return nil, err
	}
	if artifact.Protocol != ProtocolVersion {
		return nil, fmt.Errorf("unsupported artifact protocol %q", artifact.Protocol)
	}
	return &artifact, nil
}

// Verify checks an artifact against the original content bytes and the
// normalized hash of that content. The three checks are independent:
// content hashes, owner signature, and the embedded log receipt.
func Verify(artifact *Artifact, content []byte, normalizedHash string) *VerifyResult {
	reasons := make([]string, 0)
	if util.Sha256Hex(content) != artifact.FileHash || normalizedHash != artifact.NormalizedHash {
		reasons = append(reasons, ReasonHashMismatch)
	}
	if !verifyOwnerSignature(artifact) {
		reasons = append(reasons, ReasonBadSignature)
	}
	if !verifyReceipt(artifact) {
		reasons = append(reasons, ReasonChainBreak)
	}
	return &VerifyResult{
		Valid:   len(reasons) == 0,
		Reasons: reasons,
	}
}

func verifyOwnerSignature(artifact *Artifact) bool {
	publicKey, err := base64.StdEncoding.DecodeString(artifact.PublicKey)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return keys.VerifySignature(artifact.NormalizedHash, artifact.Signature, publicKey)
}

// verifyReceipt replays the embedded log entry: the canonical entry hash must
// match, the log signature must verify, and an anchor claim must agree with
// an actually anchored receipt.
func verifyReceipt(artifact *Artifact) bool {
	receipt := artifact.Receipt
	if receipt == nil {
		return false
	}
	if receipt.ProofId != artifact.ProofId ||
		receipt.FileHash != artifact.FileHash ||
		receipt.NormalizedHash != artifact.NormalizedHash {
		return false
	}
	entry := &db.LedgerEntry{
		Namespace:      receipt.Namespace,
		Sequence:       receipt.Sequence,
		ProofId:        receipt.ProofId,
		FileHash:       receipt.FileHash,
		NormalizedHash: receipt.NormalizedHash,
		MerkleLeaf:     receipt.MerkleLeaf,
		ParentHash:     receipt.ParentHash,
		Timestamp:      receipt.Timestamp,
	}
	entryHash, err := ledger.HashEntry(entry)
	if err != nil || entryHash != receipt.EntryHash {
		return false
	}
	logKey, err := base64.StdEncoding.DecodeString(receipt.PublicKey)
	if err != nil || len(logKey) != ed25519.PublicKeySize {
		return false
	}
	if !keys.VerifySignature(receipt.EntryHash, receipt.Signature, logKey) {
		return false
	}
	if artifact.Anchor != nil {
		if !receipt.Anchored || receipt.AnchoredAt == 0 {
			return false
		}
		if artifact.Anchor.MerkleLeaf != receipt.MerkleLeaf || artifact.Anchor.MerkleRoot != receipt.MerkleRoot {
			return false
		}
	}
	return true
}
