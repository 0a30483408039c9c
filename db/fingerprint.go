package db

const (
	FingerprintTypeSha256 = "sha256"
	FingerprintTypePHash  = "phash"
	FingerprintTypeDHash  = "dhash"
	FingerprintTypeVector = "vector"
)

type AssetFingerprint struct {
	Id              int64
	ProofId         string `gorm:"NOT NULL;index:idx_fingerprint_proof;size:36"`
	FingerprintType string `gorm:"NOT NULL;size:16"`
	Value           string `gorm:"NOT NULL;type:text"`
	Vector          string `gorm:"type:text"` // JSON encoded []float64, optional
	CreatedTime     int64  `gorm:"NOT NULL"`
}

func (*AssetFingerprint) TableName() string {
	return "asset_fingerprint"
}

type SimilarityMatch struct {
	Id             int64
	ProofId        string  `gorm:"NOT NULL;index:idx_match_proof;size:36"`
	MatchedProofId string  `gorm:"size:36"`
	Score          float64 `gorm:"NOT NULL"`
	MatchType      string  `gorm:"size:32"`
	Details        string  `gorm:"type:text"`
	CreatedTime    int64   `gorm:"NOT NULL"`
}

func (*SimilarityMatch) TableName() string {
	return "similarity_match"
}

type KeyRevocation struct {
	Id           int64
	OwnerId      string `gorm:"NOT NULL;index:idx_revocation_owner;size:36"`
	OldPublicKey string `gorm:"NOT NULL;type:text"` // base64 encoded superseded public key
	RevokedTime  int64  `gorm:"NOT NULL"`
}

func (*KeyRevocation) TableName() string {
	return "key_revocation"
}
