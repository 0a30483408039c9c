package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/RemiBp/ProofOrigin/config"
	"github.com/RemiBp/ProofOrigin/db"
)

const (
	saltSize  = 16
	nonceSize = 12
)

var (
	ErrDecryptFailed = errors.New("failed to decrypt private key")
)

// EncryptedKey is the persisted form of an account private key. Plaintext
// private keys never hit storage.
type EncryptedKey struct {
	Ciphertext []byte
	Nonce      []byte
	Salt       []byte
}

// Service encrypts and decrypts per-account signing keys. The per-account
// encryption key is argon2id(password, salt) combined with the server master
// key, so neither the password alone nor a storage dump alone recovers a key.
type Service struct {
	cfg    *config.KeyConfig
	master []byte
}

func NewService(cfg *config.KeyConfig, provider MasterKeyProvider) (*Service, error) {
	master, err := provider.ResolveMasterKey()
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, master: master}, nil
}

// GenerateKeypair produces a fresh ed25519 signing keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func (s *Service) deriveEncryptionKey(password string, salt []byte) []byte {
	material := argon2.IDKey([]byte(password), salt,
		s.cfg.GetArgon2Time(), s.cfg.GetArgon2MemoryKB(), s.cfg.GetArgon2Threads(), MasterKeySize)
	key := make([]byte, MasterKeySize)
	for i := range key {
		key[i] = material[i] ^ s.master[i]
	}
	return key
}

func (s *Service) EncryptPrivateKey(privateKey ed25519.PrivateKey, password string) (*EncryptedKey, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	aead, err := newAEAD(s.deriveEncryptionKey(password, salt))
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, privateKey, nil)
	return &EncryptedKey{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Salt:       salt,
	}, nil
}

func (s *Service) DecryptPrivateKey(encrypted *EncryptedKey, password string) (ed25519.PrivateKey, error) {
	aead, err := newAEAD(s.deriveEncryptionKey(password, encrypted.Salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, encrypted.Nonce, encrypted.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	if len(plaintext) != ed25519.PrivateKeySize {
		return nil, ErrDecryptFailed
	}
	return ed25519.PrivateKey(plaintext), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SignHash signs a hex encoded digest and returns the base64 signature.
func SignHash(hexHash string, privateKey ed25519.PrivateKey) (string, error) {
	digest, err := hex.DecodeString(hexHash)
	if err != nil {
		return "", err
	}
	signature := ed25519.Sign(privateKey, digest)
	return base64.StdEncoding.EncodeToString(signature), nil
}

// VerifySignature reports whether the base64 signature covers the hex digest
// under the given public key. It never raises: any malformed input is just a
// failed verification.
func VerifySignature(hexHash, signatureB64 string, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	digest, err := hex.DecodeString(hexHash)
	if err != nil {
		return false
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, digest, signature)
}

// Rotation is the outcome of an all-or-nothing key rotation.
type Rotation struct {
	PublicKey  ed25519.PublicKey
	Encrypted  *EncryptedKey
	Revocation *db.KeyRevocation
}

// RotateKey generates a replacement keypair for the owner, encrypts it under
// the same password, and records an immutable revocation of the superseded
// public key. Nothing is persisted unless every step succeeds.
func (s *Service) RotateKey(dao db.ProofDao, ownerId string, oldPublicKey ed25519.PublicKey, password string) (*Rotation, error) {
	publicKey, privateKey, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	encrypted, err := s.EncryptPrivateKey(privateKey, password)
	if err != nil {
		return nil, err
	}
	revocation := &db.KeyRevocation{
		OwnerId:      ownerId,
		OldPublicKey: base64.StdEncoding.EncodeToString(oldPublicKey),
		RevokedTime:  time.Now().Unix(),
	}
	if err := dao.CreateKeyRevocation(revocation); err != nil {
		return nil, err
	}
	return &Rotation{
		PublicKey:  publicKey,
		Encrypted:  encrypted,
		Revocation: revocation,
	}, nil
}
