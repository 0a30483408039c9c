package keys

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"

	"github.com/RemiBp/ProofOrigin/config"
)

const MasterKeySize = 32

var ErrMasterKeyMissing = errors.New("master key is not configured")

// MasterKeyProvider resolves the 32-byte server-held master key. The backend
// is chosen once at startup by configuration; callers never branch on the
// backend per call.
type MasterKeyProvider interface {
	ResolveMasterKey() ([]byte, error)
}

func NewMasterKeyProvider(cfg *config.KeyConfig) MasterKeyProvider {
	switch cfg.SecretsBackend {
	case config.SecretsBackendAWSSecrets:
		return &awsSecretsProvider{cfg: cfg}
	case config.SecretsBackendAWSKMS:
		return &kmsProvider{cfg: cfg}
	}
	return &localProvider{cfg: cfg}
}

type localProvider struct {
	cfg *config.KeyConfig
}

func (p *localProvider) ResolveMasterKey() ([]byte, error) {
	candidate := p.cfg.MasterKeyB64
	if candidate == "" {
		candidate = os.Getenv(config.EnvVarMasterKey)
	}
	if candidate == "" {
		return nil, ErrMasterKeyMissing
	}
	key, err := base64.StdEncoding.DecodeString(candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key, err=%s", err.Error())
	}
	return padKey(key), nil
}

type awsSecretsProvider struct {
	cfg *config.KeyConfig
}

func (p *awsSecretsProvider) ResolveMasterKey() ([]byte, error) {
	if p.cfg.AWSSecretName == "" || p.cfg.AWSRegion == "" {
		return nil, ErrMasterKeyMissing
	}
	secret, err := config.GetSecret(p.cfg.AWSSecretName, p.cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key secret, err=%s", err.Error())
	}
	return padKey(key), nil
}

type kmsProvider struct {
	cfg *config.KeyConfig
}

func (p *kmsProvider) ResolveMasterKey() ([]byte, error) {
	if p.cfg.KMSKeyID == "" || p.cfg.AWSRegion == "" {
		return nil, ErrMasterKeyMissing
	}
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(p.cfg.AWSRegion),
	})
	if err != nil {
		return nil, err
	}
	svc := kms.New(sess)
	if p.cfg.KMSEncryptedMasterKey == "" {
		result, err := svc.GenerateDataKey(&kms.GenerateDataKeyInput{
			KeyId:   aws.String(p.cfg.KMSKeyID),
			KeySpec: aws.String(kms.DataKeySpecAes256),
		})
		if err != nil {
			return nil, err
		}
		return padKey(result.Plaintext), nil
	}
	blob, err := base64.StdEncoding.DecodeString(p.cfg.KMSEncryptedMasterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode kms ciphertext, err=%s", err.Error())
	}
	result, err := svc.Decrypt(&kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return nil, err
	}
	return padKey(result.Plaintext), nil
}

func padKey(key []byte) []byte {
	out := make([]byte, MasterKeySize)
	copy(out, key)
	return out
}
