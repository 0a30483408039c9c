package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrEmptyTree = errors.New("cannot compute a merkle root over zero leaves")

// ComputeRoot folds hex encoded leaves into a merkle root by pairwise SHA-256.
// A level with an odd node count duplicates its last node, so any leaf count
// reduces to a single root.
func ComputeRoot(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return "", ErrEmptyTree
	}
	nodes := make([][]byte, 0, len(leaves))
	for _, leaf := range leaves {
		bz, err := hex.DecodeString(leaf)
		if err != nil {
			return "", err
		}
		nodes = append(nodes, bz)
	}
	for len(nodes) > 1 {
		if len(nodes)%2 != 0 {
			nodes = append(nodes, nodes[len(nodes)-1])
		}
		next := make([][]byte, 0, len(nodes)/2)
		for i := 0; i < len(nodes); i += 2 {
			digest := sha256.Sum256(append(append([]byte{}, nodes[i]...), nodes[i+1]...))
			next = append(next, digest[:])
		}
		nodes = next
	}
	return hex.EncodeToString(nodes[0]), nil
}
