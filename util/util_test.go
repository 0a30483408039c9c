package util

import (
	"testing"
)

func TestSha256Hex(t *testing.T) {
	digest := Sha256Hex([]byte("Hello World"))
	if digest != "a591a6d40bf420404a011733cfb7b190d62c65bf0bcda32b57b277d9ad9f146e" {
		t.Fatalf("unexpected digest %s", digest)
	}
	if digest != Sha256HexString("Hello World") {
		t.Fatalf("byte and string hashing disagree")
	}
}

func TestHashLeaf(t *testing.T) {
	hexHash := Sha256Hex([]byte("content"))
	leaf, err := HashLeaf(hexHash)
	if err != nil {
		t.Fatalf("hash leaf failed, err=%v", err)
	}
	if len(leaf) != 64 {
		t.Fatalf("leaf should be a hex sha256, got %s", leaf)
	}
	upper, err := HashLeaf("0X" + hexHash)
	if err != nil {
		t.Fatalf("prefixed hash rejected, err=%v", err)
	}
	if upper != leaf {
		t.Fatalf("leaf should not depend on hex casing or prefix")
	}
	if _, err = HashLeaf("not-hex"); err == nil {
		t.Fatalf("expected error for non hex input")
	}
}

func TestStringToUint64(t *testing.T) {
	value, err := StringToUint64("42")
	if err != nil || value != 42 {
		t.Fatalf("expected 42, got %d, err=%v", value, err)
	}
	if Uint64ToString(42) != "42" {
		t.Fatalf("uint64 round trip broken")
	}
	if _, err = StringToUint64("-1"); err == nil {
		t.Fatalf("expected error for negative input")
	}
}

func TestSplitByComma(t *testing.T) {
	parts := SplitByComma(" a, b ,,c ")
	if len(parts) != 3 || parts[0] != "a" || parts[1] != "b" || parts[2] != "c" {
		t.Fatalf("unexpected parts %v", parts)
	}
}
