package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/RemiBp/ProofOrigin/util"
)

func leafOf(t *testing.T, content string) string {
	t.Helper()
	leaf, err := util.HashLeaf(util.Sha256HexString(content))
	if err != nil {
		t.Fatalf("leaf, err=%v", err)
	}
	return leaf
}

func TestComputeRootSingleLeaf(t *testing.T) {
	leaf := leafOf(t, "a")
	root, err := ComputeRoot([]string{leaf})
	if err != nil {
		t.Fatalf("root, err=%v", err)
	}
	if root != leaf {
		t.Fatalf("single leaf tree root should be the leaf itself")
	}
}

func TestComputeRootPair(t *testing.T) {
	left, right := leafOf(t, "a"), leafOf(t, "b")
	root, err := ComputeRoot([]string{left, right})
	if err != nil {
		t.Fatalf("root, err=%v", err)
	}
	leftBz, _ := hex.DecodeString(left)
	rightBz, _ := hex.DecodeString(right)
	expected := sha256.Sum256(append(leftBz, rightBz...))
	if root != hex.EncodeToString(expected[:]) {
		t.Fatalf("pair root mismatch, got %s", root)
	}
}

func TestComputeRootOddCountDuplicatesLast(t *testing.T) {
	leaves := []string{leafOf(t, "a"), leafOf(t, "b"), leafOf(t, "c")}
	odd, err := ComputeRoot(leaves)
	if err != nil {
		t.Fatalf("root, err=%v", err)
	}
	padded, err := ComputeRoot(append(append([]string{}, leaves...), leaves[2]))
	if err != nil {
		t.Fatalf("root, err=%v", err)
	}
	if odd != padded {
		t.Fatalf("odd level should duplicate its last node")
	}
}

func TestComputeRootRejectsBadInput(t *testing.T) {
	if _, err := ComputeRoot(nil); err != ErrEmptyTree {
		t.Fatalf("expected ErrEmptyTree, got %v", err)
	}
	if _, err := ComputeRoot([]string{"zz"}); err == nil {
		t.Fatalf("expected error for non hex leaf")
	}
}
