package service

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RemiBp/ProofOrigin/anchor"
	"github.com/RemiBp/ProofOrigin/cache"
	"github.com/RemiBp/ProofOrigin/config"
	"github.com/RemiBp/ProofOrigin/db"
	"github.com/RemiBp/ProofOrigin/fingerprint"
	"github.com/RemiBp/ProofOrigin/keys"
	"github.com/RemiBp/ProofOrigin/ledger"
	"github.com/RemiBp/ProofOrigin/logging"
	"github.com/RemiBp/ProofOrigin/metrics"
	"github.com/RemiBp/ProofOrigin/normalizer"
	"github.com/RemiBp/ProofOrigin/packager"
	"github.com/RemiBp/ProofOrigin/tasks"
	"github.com/RemiBp/ProofOrigin/util"
)

const (
	maxMetadataEntries = 64
	maxMetadataValue   = 4096
)

// RegisterRequest carries one registration. The owner's private key arrives
// in its encrypted form together with the password unlocking it; the service
// never sees a plaintext key at rest.
type RegisterRequest struct {
	OwnerId      string
	FileName     string
	MimeType     string
	Content      []byte
	Metadata     map[string]string
	Password     string
	EncryptedKey *keys.EncryptedKey
	PublicKey    ed25519.PublicKey
}

type RegisterResult struct {
	Proof    *db.Proof
	Entry    *db.LedgerEntry
	Receipt  *ledger.Receipt
	Artifact []byte
	Matches  []*db.SimilarityMatch
	Warnings []string
}

// VerifyHashResult is the outcome of a hash lookup against the registry.
type VerifyHashResult struct {
	Exists     bool   `json:"exists"`
	ProofId    string `json:"proof_id,omitempty"`
	OwnerId    string `json:"owner_id,omitempty"`
	Sequence   uint64 `json:"sequence,omitempty"`
	Anchored   bool   `json:"anchored"`
	AnchoredAt int64  `json:"anchored_at,omitempty"`
	AnchorTx   string `json:"anchor_tx,omitempty"`
}

// ProofService orchestrates the registration pipeline: normalize, fingerprint,
// sign, append to the transparency log, assign an anchor batch and emit the
// portable artifact.
type ProofService struct {
	dao        db.ProofDao
	keySvc     *keys.Service
	ledger     *ledger.TransparencyLedger
	engine     *fingerprint.Engine
	batcher    *anchor.Batcher
	normalizer *normalizer.Normalizer
	cache      cache.Cache
	queue      tasks.Queue
	sink       EventSink
}

func NewProofService(dao db.ProofDao, keySvc *keys.Service, transparencyLedger *ledger.TransparencyLedger,
	engine *fingerprint.Engine, batcher *anchor.Batcher, norm *normalizer.Normalizer,
	localCache cache.Cache, queue tasks.Queue, sink EventSink) *ProofService {
	if sink == nil {
		sink = LogSink{}
	}
	return &ProofService{
		dao:        dao,
		keySvc:     keySvc,
		ledger:     transparencyLedger,
		engine:     engine,
		batcher:    batcher,
		normalizer: norm,
		cache:      localCache,
		queue:      queue,
		sink:       sink,
	}
}

// Register runs the full pipeline for one upload. Duplicate content is
// rejected before any ledger or key work happens; a failure anywhere leaves
// no partial rows behind because the proof and its log entry commit in one
// transaction.
func (s *ProofService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	fileHash := util.Sha256Hex(req.Content)
	existing, err := s.dao.GetProofByFileHash(fileHash)
	if err != nil {
		return nil, err
	}
	if existing.Id != "" {
		return nil, NewDuplicateProofError(existing.Id)
	}

	normalized := s.normalizer.Normalize(req.Content, req.MimeType, req.FileName)
	existing, err = s.dao.GetProofByNormalizedHash(normalized.Hash)
	if err != nil {
		return nil, err
	}
	if existing.Id != "" {
		return nil, NewDuplicateProofError(existing.Id)
	}

	privateKey, err := s.keySvc.DecryptPrivateKey(req.EncryptedKey, req.Password)
	if err != nil {
		return nil, NewCryptographicError(err, "cannot unlock signing key for owner %s", req.OwnerId)
	}
	signature, err := keys.SignHash(normalized.Hash, privateKey)
	if err != nil {
		return nil, NewCryptographicError(err, "cannot sign normalized hash")
	}

	phash, dhash, vector, embedding := s.computeChannels(ctx, req, normalized)

	batchId, err := s.batcher.Assign()
	if err != nil {
		return nil, NewAnchorSubmissionError(err, "cannot assign anchor batch")
	}

	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, NewValidationError("metadata is not encodable: %v", err)
	}
	now := time.Now().Unix()
	proof := &db.Proof{
		Id:              uuid.NewString(),
		OwnerId:         req.OwnerId,
		FileHash:        fileHash,
		NormalizedHash:  normalized.Hash,
		Signature:       signature,
		PublicKey:       base64.StdEncoding.EncodeToString(req.PublicKey),
		FileName:        req.FileName,
		MimeType:        req.MimeType,
		FileSize:        int64(len(req.Content)),
		Metadata:        metadata,
		PHash:           phash,
		DHash:           dhash,
		TextEmbedding:   fingerprint.EncodeVector(embedding),
		PipelineVersion: config.PipelineVersion,
		AnchorBatchId:   batchId,
		CreatedTime:     now,
	}

	entry, err := s.ledger.Append(proof, nil, buildFingerprints(proof, vector, now))
	if err != nil {
		if db.IsDuplicateEntryErr(err) {
			return nil, NewDuplicateProofError("")
		}
		if errors.Is(err, ledger.ErrAppendContention) {
			return nil, NewLedgerConsistencyError(err, "transparency log append contention")
		}
		return nil, err
	}
	metrics.RegistrationCounter.Inc()

	matches := s.indexSimilarity(proof, normalized.Warnings)
	receipt := s.ledger.BuildReceipt(entry)
	artifact, err := packager.Marshal(packager.BuildArtifact(proof, receipt, proof.PublicKey, ""))
	if err != nil {
		return nil, err
	}

	s.sink.Emit(newEvent(EventProofGenerated, proof.Id, proof.OwnerId, map[string]interface{}{
		"file_hash":       proof.FileHash,
		"normalized_hash": proof.NormalizedHash,
		"sequence":        entry.Sequence,
		"batch_id":        batchId,
	}))
	s.enqueue(ctx, tasks.TaskAnchorProof, map[string]string{"batch_id": batchId})
	s.enqueue(ctx, tasks.TaskReindexSimilarity, map[string]string{"proof_id": proof.Id})

	return &RegisterResult{
		Proof:    proof,
		Entry:    entry,
		Receipt:  receipt,
		Artifact: artifact,
		Matches:  matches,
		Warnings: normalized.Warnings,
	}, nil
}

// VerifyHash resolves a hex digest against registered proofs, matching the
// raw file hash first and the normalized hash second. Anchored proofs are
// immutable, so only those are served from cache.
func (s *ProofService) VerifyHash(hash string) (*VerifyHashResult, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	cacheKey := cache.ProofKeyPrefix + hash
	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKey); ok {
			return cached.(*VerifyHashResult), nil
		}
	}
	proof, err := s.dao.GetProofByFileHash(hash)
	if err != nil {
		return nil, err
	}
	if proof.Id == "" {
		if proof, err = s.dao.GetProofByNormalizedHash(hash); err != nil {
			return nil, err
		}
	}
	result := &VerifyHashResult{}
	if proof.Id != "" {
		entry, err := s.dao.GetEntryByProofId(proof.Id)
		if err != nil {
			return nil, err
		}
		result = &VerifyHashResult{
			Exists:     true,
			ProofId:    proof.Id,
			OwnerId:    proof.OwnerId,
			Sequence:   entry.Sequence,
			Anchored:   proof.AnchoredAt != 0,
			AnchoredAt: proof.AnchoredAt,
			AnchorTx:   proof.AnchorTx,
		}
	}
	if s.cache != nil && result.Anchored {
		s.cache.Set(cacheKey, result)
	}
	s.sink.Emit(newEvent(EventProofVerified, result.ProofId, result.OwnerId, map[string]interface{}{
		"hash":   hash,
		"exists": result.Exists,
	}))
	return result, nil
}

// VerifyArtifact checks a portable artifact against content bytes. When the
// embedded receipt names this service's log, the stored chain up to the
// receipt's sequence is replayed as well; receipts from other namespaces fall
// back to the offline replay alone.
func (s *ProofService) VerifyArtifact(artifactBytes, content []byte, declaredMime, filename string) (*packager.VerifyResult, error) {
	artifact, err := packager.Parse(artifactBytes)
	if err != nil {
		return nil, NewValidationError("unparsable artifact: %v", err)
	}
	normalized := s.normalizer.Normalize(content, declaredMime, filename)
	result := packager.Verify(artifact, content, normalized.Hash)
	if receipt := artifact.Receipt; receipt != nil && receipt.Namespace == s.ledger.Namespace() {
		if err = s.ledger.VerifyInclusion(receipt); err != nil {
			logging.Logger.Warningf("receipt of artifact %s fails against the stored log, err=%s", artifact.ProofId, err.Error())
			result.Valid = false
			if !hasReason(result.Reasons, packager.ReasonChainBreak) {
				result.Reasons = append(result.Reasons, packager.ReasonChainBreak)
			}
		}
	}
	s.sink.Emit(newEvent(EventProofVerified, artifact.ProofId, artifact.OwnerId, map[string]interface{}{
		"valid":   result.Valid,
		"reasons": result.Reasons,
	}))
	return result, nil
}

// ExportArtifact rebuilds the portable artifact for an existing proof,
// reflecting its current anchoring state.
func (s *ProofService) ExportArtifact(proofId string) ([]byte, error) {
	proof, err := s.dao.GetProofById(proofId)
	if err != nil {
		return nil, err
	}
	if proof.Id == "" {
		return nil, NewValidationError("unknown proof %s", proofId)
	}
	entry, err := s.dao.GetEntryByProofId(proof.Id)
	if err != nil {
		return nil, err
	}
	chain := ""
	receipts, err := s.dao.GetReceiptsByProof(proof.Id)
	if err != nil {
		return nil, err
	}
	for _, receipt := range receipts {
		// the backend receipt carries the anchoring transaction; calendar
		// attestation rows never name the claim's chain
		if receipt.TxHash == proof.AnchorTx {
			chain = receipt.Chain
			break
		}
	}
	return packager.Marshal(packager.BuildArtifact(proof, s.ledger.BuildReceipt(entry), proof.PublicKey, chain))
}

// ExportReceipt renders the standalone inclusion receipt for a proof as
// indented JSON, reflecting its current anchoring state.
func (s *ProofService) ExportReceipt(proofId string) ([]byte, error) {
	proof, err := s.dao.GetProofById(proofId)
	if err != nil {
		return nil, err
	}
	if proof.Id == "" {
		return nil, NewValidationError("unknown proof %s", proofId)
	}
	entry, err := s.dao.GetEntryByProofId(proof.Id)
	if err != nil {
		return nil, err
	}
	return ledger.MarshalReceipt(s.ledger.BuildReceipt(entry))
}

// NotifyBatchAnchored emits a proof.anchored event for every member of a
// freshly anchored batch. Wired as the anchor scheduler's completion hook.
func (s *ProofService) NotifyBatchAnchored(batchId, merkleRoot, txHash string) {
	proofs, err := s.dao.GetProofsByBatch(batchId)
	if err != nil {
		logging.Logger.Errorf("failed to load members of anchored batch %s, err=%s", batchId, err.Error())
		return
	}
	for _, proof := range proofs {
		s.sink.Emit(newEvent(EventProofAnchored, proof.Id, proof.OwnerId, map[string]interface{}{
			"batch_id":    batchId,
			"merkle_root": merkleRoot,
			"tx_hash":     txHash,
		}))
	}
}

// RotateOwnerKey swaps an owner's signing key, leaving a revocation record.
func (s *ProofService) RotateOwnerKey(ownerId string, oldPublicKey ed25519.PublicKey, password string) (*keys.Rotation, error) {
	rotation, err := s.keySvc.RotateKey(s.dao, ownerId, oldPublicKey, password)
	if err != nil {
		return nil, NewCryptographicError(err, "key rotation failed for owner %s", ownerId)
	}
	return rotation, nil
}

func (s *ProofService) computeChannels(ctx context.Context, req *RegisterRequest, normalized *normalizer.NormalizedAsset) (string, string, []float64, []float64) {
	var phash, dhash string
	var vector, embedding []float64
	mime := strings.ToLower(req.MimeType)
	switch {
	case strings.HasPrefix(mime, "image/"):
		phash, dhash, vector = s.engine.ComputeImageHashes(normalized.Bytes)
	case strings.HasPrefix(mime, "text/"):
		embedding = s.engine.ComputeTextEmbedding(ctx, string(normalized.Bytes))
	}
	return phash, dhash, vector, embedding
}

// indexSimilarity ranks the fresh proof against the owner's corpus and stores
// the derived risk score. Failures here degrade the proof's enrichment, never
// the registration itself.
func (s *ProofService) indexSimilarity(proof *db.Proof, warnings []string) []*db.SimilarityMatch {
	matches, err := s.engine.TopMatches(proof)
	if err != nil {
		logging.Logger.Errorf("similarity indexing failed for proof %s, err=%s", proof.Id, err.Error())
		return nil
	}
	if err = s.dao.ReplaceSimilarityMatches(proof.Id, matches); err != nil {
		logging.Logger.Errorf("failed to store matches of proof %s, err=%s", proof.Id, err.Error())
		return matches
	}
	proof.ManifestRef = "manifests/" + proof.Id + ".json"
	proof.RiskScore = fingerprint.RiskScore(matches, warnings, proof.ManifestRef != "", proof.AnchoredAt != 0)
	if err = s.dao.UpdateProofDerived(proof.Id, proof.RiskScore, proof.ManifestRef); err != nil {
		logging.Logger.Errorf("failed to store derived fields of proof %s, err=%s", proof.Id, err.Error())
	}
	return matches
}

func hasReason(reasons []string, reason string) bool {
	for _, have := range reasons {
		if have == reason {
			return true
		}
	}
	return false
}

func (s *ProofService) enqueue(ctx context.Context, name string, payload map[string]string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, name, payload); err != nil {
		logging.Logger.Errorf("failed to enqueue task %s, err=%s", name, err.Error())
	}
}

func validateRequest(req *RegisterRequest) error {
	if req.OwnerId == "" {
		return NewValidationError("owner id is required")
	}
	if len(req.Content) == 0 {
		return NewValidationError("content must not be empty")
	}
	if req.EncryptedKey == nil || req.Password == "" {
		return NewValidationError("an encrypted signing key and its password are required")
	}
	if len(req.PublicKey) != ed25519.PublicKeySize {
		return NewValidationError("owner public key must be a %d byte ed25519 key", ed25519.PublicKeySize)
	}
	if len(req.Metadata) > maxMetadataEntries {
		return NewValidationError("metadata exceeds %d entries", maxMetadataEntries)
	}
	for key, value := range req.Metadata {
		if key == "" {
			return NewValidationError("metadata keys must not be empty")
		}
		if len(value) > maxMetadataValue {
			return NewValidationError("metadata value for %q exceeds %d bytes", key, maxMetadataValue)
		}
	}
	return nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	bz, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(bz), nil
}

func buildFingerprints(proof *db.Proof, vector []float64, now int64) []*db.AssetFingerprint {
	fingerprints := []*db.AssetFingerprint{
		{
			FingerprintType: db.FingerprintTypeSha256,
			Value:           proof.NormalizedHash,
			CreatedTime:     now,
		},
	}
	if proof.PHash != "" {
		fingerprints = append(fingerprints, &db.AssetFingerprint{
			FingerprintType: db.FingerprintTypePHash,
			Value:           proof.PHash,
			Vector:          fingerprint.EncodeVector(vector),
			CreatedTime:     now,
		})
	}
	if proof.DHash != "" {
		fingerprints = append(fingerprints, &db.AssetFingerprint{
			FingerprintType: db.FingerprintTypeDHash,
			Value:           proof.DHash,
			CreatedTime:     now,
		})
	}
	if proof.TextEmbedding != "" {
		fingerprints = append(fingerprints, &db.AssetFingerprint{
			FingerprintType: db.FingerprintTypeVector,
			Value:           util.Sha256HexString(proof.TextEmbedding),
			Vector:          proof.TextEmbedding,
			CreatedTime:     now,
		})
	}
	return fingerprints
}
