package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/RemiBp/ProofOrigin/config"
)

const (
	ledgerKeyInfo = "prooforigin-ledger"
	anchorKeyInfo = "prooforigin-anchor"
)

// KeyContext carries the process-wide signing keys: the dedicated transparency
// log key and the anchoring signature key. It is constructed once at startup
// and injected into the ledger and the anchor submitter; nothing reads ambient
// global key state.
type KeyContext struct {
	LedgerKey ed25519.PrivateKey
	LedgerPub ed25519.PublicKey
	AnchorKey ed25519.PrivateKey
	AnchorPub ed25519.PublicKey
}

func NewKeyContext(cfg *config.KeyConfig, provider MasterKeyProvider) (*KeyContext, error) {
	ledgerKey, err := resolveLedgerKey(cfg, provider)
	if err != nil {
		return nil, err
	}
	master, err := provider.ResolveMasterKey()
	if err != nil {
		return nil, err
	}
	anchorKey := deriveKey(master, anchorKeyInfo)
	return &KeyContext{
		LedgerKey: ledgerKey,
		LedgerPub: ledgerKey.Public().(ed25519.PublicKey),
		AnchorKey: anchorKey,
		AnchorPub: anchorKey.Public().(ed25519.PublicKey),
	}, nil
}

func resolveLedgerKey(cfg *config.KeyConfig, provider MasterKeyProvider) (ed25519.PrivateKey, error) {
	if cfg.LedgerSigningKeyB64 != "" {
		seed, err := base64.StdEncoding.DecodeString(cfg.LedgerSigningKeyB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode ledger signing key, err=%s", err.Error())
		}
		if len(seed) < ed25519.SeedSize {
			return nil, fmt.Errorf("ledger signing key is too short, need %d bytes", ed25519.SeedSize)
		}
		return ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize]), nil
	}
	master, err := provider.ResolveMasterKey()
	if err != nil {
		return nil, err
	}
	return deriveKey(master, ledgerKeyInfo), nil
}

func deriveKey(master []byte, info string) ed25519.PrivateKey {
	digest := sha256.New()
	digest.Write(master)
	digest.Write([]byte(info))
	seed := digest.Sum(nil)
	return ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
}
