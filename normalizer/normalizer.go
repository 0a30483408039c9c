package normalizer

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/RemiBp/ProofOrigin/util"
)

const (
	WarnUnhandledMime    = "unhandled_mime"
	WarnTextDecodeFailed = "text_decode_failed"
)

// NormalizedAsset is the result of the deterministic canonicalization applied
// to uploaded bytes before hashing.
type NormalizedAsset struct {
	Bytes     []byte
	Hash      string
	Mime      string
	Extension string
	Warnings  []string
}

type Normalizer struct {
	targetSize int
}

// NewNormalizer returns a normalizer bounding images to targetSize on their
// largest dimension.
func NewNormalizer(targetSize int) *Normalizer {
	return &Normalizer{targetSize: targetSize}
}

// Normalize canonicalizes the input so that cosmetically different encodings
// of the same content hash identically. It never fails: any internal error
// degrades to an identity transform with a recorded warning, so normalization
// can never block registration.
func (n *Normalizer) Normalize(data []byte, declaredMime, filename string) *NormalizedAsset {
	mime := strings.ToLower(strings.TrimSpace(declaredMime))
	if mime == "" {
		mime = "application/octet-stream"
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return n.normalizeImage(data)
	case strings.HasPrefix(mime, "text/"):
		return n.normalizeText(data)
	}
	return identityAsset(data, mime, strings.TrimPrefix(filepath.Ext(filename), "."), WarnUnhandledMime)
}

func (n *Normalizer) normalizeText(data []byte) *NormalizedAsset {
	if !utf8.Valid(data) {
		return identityAsset(data, "text/plain", "txt", WarnTextDecodeFailed)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	normalized := strings.TrimSpace(strings.Join(lines, "\n"))
	bz := []byte(normalized)
	return &NormalizedAsset{
		Bytes:     bz,
		Hash:      util.Sha256Hex(bz),
		Mime:      "text/plain; charset=utf-8",
		Extension: "txt",
	}
}

func identityAsset(data []byte, mime, extension string, warnings ...string) *NormalizedAsset {
	return &NormalizedAsset{
		Bytes:     data,
		Hash:      util.Sha256Hex(data),
		Mime:      mime,
		Extension: extension,
		Warnings:  warnings,
	}
}
