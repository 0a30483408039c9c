package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"
	"time"

	"github.com/RemiBp/ProofOrigin/cache"
	"github.com/RemiBp/ProofOrigin/config"
	"github.com/RemiBp/ProofOrigin/db"
	"github.com/RemiBp/ProofOrigin/logging"
	"github.com/RemiBp/ProofOrigin/util"
)

const (
	MatchTypePHash    = "phash"
	MatchTypeText     = "text"
	MatchTypeCombined = "combined"
)

// Channels holds the comparable fingerprint channels of one asset. A zero
// value in a channel means that channel is unavailable for the asset.
type Channels struct {
	PHash     string
	DHash     string
	Embedding []float64
}

// Engine computes perceptual fingerprints and cross-asset similarity. Scores
// are the mean over channels available on both sides, so assets missing a
// channel are never penalized for it.
type Engine struct {
	dao      db.ProofDao
	hasher   ImageHasher
	embedder Embedder
	cache    cache.Cache
	topK     int
	minScore float64
}

func NewEngine(dao db.ProofDao, hasher ImageHasher, embedder Embedder, localCache cache.Cache, cfg *config.FingerprintConfig) *Engine {
	if hasher == nil {
		hasher = NullHasher{}
	}
	if embedder == nil {
		embedder = NullEmbedder{}
	}
	return &Engine{
		dao:      dao,
		hasher:   hasher,
		embedder: embedder,
		cache:    localCache,
		topK:     cfg.GetTopK(),
		minScore: cfg.GetMinScore(),
	}
}

// ComputeImageHashes derives the perceptual hash channels from normalized
// image bytes. Undecodable input leaves the channels empty rather than
// failing registration.
func (e *Engine) ComputeImageHashes(normalized []byte) (string, string, []float64) {
	img, _, err := image.Decode(bytes.NewReader(normalized))
	if err != nil {
		logging.Logger.Warningf("failed to decode normalized image for hashing, err=%s", err.Error())
		return "", "", nil
	}
	phash, dhash, vector, err := e.hasher.Hashes(img)
	if err != nil {
		logging.Logger.Warningf("failed to compute perceptual hashes, err=%s", err.Error())
		return "", "", nil
	}
	return phash, dhash, vector
}

// ComputeTextEmbedding resolves the embedding vector for text content,
// consulting the local cache keyed by content hash first.
func (e *Engine) ComputeTextEmbedding(ctx context.Context, text string) []float64 {
	key := cache.EmbeddingKeyPrefix + util.Sha256HexString(text)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			return cached.([]float64)
		}
	}
	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		logging.Logger.Warningf("failed to embed text content, err=%s", err.Error())
		return nil
	}
	if vector != nil && e.cache != nil {
		e.cache.Set(key, vector)
	}
	return vector
}

// HammingSimilarity maps a perceptual hash distance onto [0, 1].
func (e *Engine) HammingSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	distance, err := e.hasher.Distance(a, b)
	if err != nil {
		return 0
	}
	return 1 - float64(distance)/float64(perceptualHashBits)
}

func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Similarity returns the combined score and the per-channel breakdown for two
// assets. Channels absent on either side are excluded from the mean.
func (e *Engine) Similarity(a, b *Channels) (float64, map[string]float64) {
	parts := make(map[string]float64)
	if a.PHash != "" && b.PHash != "" {
		parts[MatchTypePHash] = e.HammingSimilarity(a.PHash, b.PHash)
	}
	if len(a.Embedding) != 0 && len(b.Embedding) != 0 {
		parts[MatchTypeText] = CosineSimilarity(a.Embedding, b.Embedding)
	}
	if len(parts) == 0 {
		return 0, parts
	}
	var sum float64
	for _, score := range parts {
		sum += score
	}
	return sum / float64(len(parts)), parts
}

// TopMatches ranks the owner's other proofs against the given one and keeps
// the top K above the score threshold.
func (e *Engine) TopMatches(proof *db.Proof) ([]*db.SimilarityMatch, error) {
	others, err := e.dao.GetProofsByOwner(proof.OwnerId)
	if err != nil {
		return nil, err
	}
	subject := channelsOf(proof)
	matches := make([]*db.SimilarityMatch, 0)
	now := time.Now().Unix()
	for _, other := range others {
		if other.Id == proof.Id {
			continue
		}
		score, parts := e.Similarity(subject, channelsOf(other))
		if score <= e.minScore {
			continue
		}
		details, err := json.Marshal(parts)
		if err != nil {
			return nil, err
		}
		matches = append(matches, &db.SimilarityMatch{
			ProofId:        proof.Id,
			MatchedProofId: other.Id,
			Score:          score,
			MatchType:      matchType(parts),
			Details:        string(details),
			CreatedTime:    now,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > e.topK {
		matches = matches[:e.topK]
	}
	return matches, nil
}

// Reindex recomputes and replaces the stored matches for one proof.
func (e *Engine) Reindex(proofId string) error {
	proof, err := e.dao.GetProofById(proofId)
	if err != nil {
		return err
	}
	if proof.Id == "" {
		return nil
	}
	matches, err := e.TopMatches(proof)
	if err != nil {
		return err
	}
	return e.dao.ReplaceSimilarityMatches(proof.Id, matches)
}

// highMatchScore is the similarity above which a match counts as a likely
// reuse of existing content.
const highMatchScore = 0.9

// RiskScore grades a proof on [0, 100] by adding up provenance weaknesses:
// normalization warnings weigh 5 points each up to 20, a missing manifest
// reference 30, a proof without a confirmed anchor 25, and any similarity
// match at or above highMatchScore another 30.
func RiskScore(matches []*db.SimilarityMatch, warnings []string, manifestPresent, anchored bool) int {
	score := 0
	if len(warnings) != 0 {
		penalty := 5 * len(warnings)
		if penalty > 20 {
			penalty = 20
		}
		score += penalty
	}
	if !manifestPresent {
		score += 30
	}
	if !anchored {
		score += 25
	}
	for _, match := range matches {
		if match.Score >= highMatchScore {
			score += 30
			break
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func channelsOf(proof *db.Proof) *Channels {
	return &Channels{
		PHash:     proof.PHash,
		DHash:     proof.DHash,
		Embedding: decodeVector(proof.TextEmbedding),
	}
}

func matchType(parts map[string]float64) string {
	if len(parts) > 1 {
		return MatchTypeCombined
	}
	for name := range parts {
		return name
	}
	return MatchTypeCombined
}

// EncodeVector renders an embedding for storage; empty vectors store as the
// empty string so the channel stays recognizably absent.
func EncodeVector(vector []float64) string {
	if len(vector) == 0 {
		return ""
	}
	bz, err := json.Marshal(vector)
	if err != nil {
		return ""
	}
	return string(bz)
}

func decodeVector(encoded string) []float64 {
	if encoded == "" {
		return nil
	}
	vector := make([]float64, 0)
	if err := json.Unmarshal([]byte(encoded), &vector); err != nil {
		return nil
	}
	return vector
}
