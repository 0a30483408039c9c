package anchor

import (
	"context"
	"encoding/json"

	"github.com/RemiBp/ProofOrigin/util"
)

const SimulatedChainName = "simulated"

// SubmitResult is what a backend hands back for a submitted root. Payload is
// an opaque JSON blob the backend wants recorded on the chain receipt.
type SubmitResult struct {
	TxHash  string
	Payload string
}

// ChainBackend abstracts the external anchoring target. The scheduler drives
// any backend through the same submit-then-confirm cycle.
type ChainBackend interface {
	Name() string
	SubmitRoot(ctx context.Context, merkleRoot, signature string) (*SubmitResult, error)
	ConfirmTx(ctx context.Context, txHash string) (bool, error)
}

// SimulatedBackend anchors without any external chain. The transaction hash
// is a pure function of the root and its signature, so a rerun of the same
// batch reproduces the same receipt.
type SimulatedBackend struct{}

func NewSimulatedBackend() *SimulatedBackend {
	return &SimulatedBackend{}
}

func (b *SimulatedBackend) Name() string {
	return SimulatedChainName
}

func (b *SimulatedBackend) SubmitRoot(_ context.Context, merkleRoot, signature string) (*SubmitResult, error) {
	payload, err := json.Marshal(map[string]string{
		"chain":       SimulatedChainName,
		"merkle_root": merkleRoot,
		"signature":   signature,
	})
	if err != nil {
		return nil, err
	}
	return &SubmitResult{
		TxHash:  "simulated://" + util.Sha256HexString(merkleRoot+":"+signature),
		Payload: string(payload),
	}, nil
}

func (b *SimulatedBackend) ConfirmTx(context.Context, string) (bool, error) {
	return true, nil
}
