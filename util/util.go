package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Sha256Hex returns the hex encoded SHA-256 digest of the given bytes.
func Sha256Hex(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// Sha256HexString hashes a string payload, typically a colon joined tuple.
func Sha256HexString(payload string) string {
	return Sha256Hex([]byte(payload))
}

// HashLeaf computes the Merkle leaf for a hex encoded file hash. The leaf is
// the digest of the decoded hash bytes so that leaves stay fixed width even
// when callers hand in mixed-case hex.
func HashLeaf(hexHash string) (string, error) {
	bz, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(hexHash), "0x"))
	if err != nil {
		return "", err
	}
	return Sha256Hex(bz), nil
}

func StringToUint64(str string) (uint64, error) {
	ui64, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, err
	}
	return ui64, nil
}

func Uint64ToString(u uint64) string {
	return strconv.FormatUint(u, 10)
}

func SplitByComma(str string) []string {
	str = strings.TrimSpace(str)
	strArr := strings.Split(str, ",")
	var trimStr []string
	for _, item := range strArr {
		if len(strings.TrimSpace(item)) > 0 {
			trimStr = append(trimStr, strings.TrimSpace(item))
		}
	}
	return trimStr
}
