package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	LogConfig         LogConfig         `json:"log_config"`
	DBConfig          DBConfig          `json:"db_config"`
	KeyConfig         KeyConfig         `json:"key_config"`
	LedgerConfig      LedgerConfig      `json:"ledger_config"`
	AnchorConfig      AnchorConfig      `json:"anchor_config"`
	FingerprintConfig FingerprintConfig `json:"fingerprint_config"`
	MetricsConfig     MetricsConfig     `json:"metrics_config"`
}

func (cfg *Config) Validate() {
	cfg.LogConfig.Validate()
	cfg.DBConfig.Validate()
	cfg.LedgerConfig.Validate()
	cfg.AnchorConfig.Validate()
}

type LedgerConfig struct {
	Namespace        string `json:"namespace"`
	MaxAppendRetries int    `json:"max_append_retries"`
}

func (cfg *LedgerConfig) Validate() {
	if cfg.Namespace == "" {
		panic("transparency log namespace should not be empty")
	}
}

func (cfg *LedgerConfig) GetMaxAppendRetries() int {
	if cfg.MaxAppendRetries > 0 {
		return cfg.MaxAppendRetries
	}
	return DefaultMaxAppendRetries
}

type AnchorConfig struct {
	RPCAddrs              []string `json:"rpc_addrs"`          // RPCAddrs is a list of EVM RPC addresses, empty means simulated anchoring
	PrivateKey            string   `json:"private_key"`        // PrivateKey is the hex encoded secp256k1 key of the anchoring account
	ChainID               int64    `json:"chain_id"`
	ChainName             string   `json:"chain_name"`         // ChainName tags receipts produced by the EVM backend, e.g. polygon
	CalendarEndpoints     []string `json:"calendar_endpoints"` // CalendarEndpoints is a list of timestamp calendar addresses
	BatchSize             int      `json:"batch_size"`
	MaxRetries            int      `json:"max_retries"`
	BackoffSeconds        int      `json:"backoff_seconds"`
	ConfirmTimeoutSeconds int      `json:"confirm_timeout_seconds"`
	TickIntervalSeconds   int      `json:"tick_interval_seconds"`
	MaxBatchAgeSeconds    int      `json:"max_batch_age_seconds"` // a pending batch older than this anchors even when not full
}

func (cfg *AnchorConfig) Validate() {
	if len(cfg.RPCAddrs) != 0 && cfg.PrivateKey == "" {
		panic("anchor private key should not be empty when rpc_addrs is set")
	}
	if cfg.BatchSize < 0 || cfg.MaxRetries < 0 {
		panic("anchor batch_size and max_retries should not be negative")
	}
}

func (cfg *AnchorConfig) GetChainName() string {
	if cfg.ChainName != "" {
		return cfg.ChainName
	}
	return DefaultChainName
}

func (cfg *AnchorConfig) GetBatchSize() int {
	if cfg.BatchSize > 0 {
		return cfg.BatchSize
	}
	return DefaultAnchorBatchSize
}

func (cfg *AnchorConfig) GetMaxRetries() int {
	if cfg.MaxRetries > 0 {
		return cfg.MaxRetries
	}
	return DefaultAnchorMaxRetries
}

func (cfg *AnchorConfig) GetBackoffSeconds() int {
	if cfg.BackoffSeconds > 0 {
		return cfg.BackoffSeconds
	}
	return DefaultAnchorBackoffSeconds
}

func (cfg *AnchorConfig) GetConfirmTimeoutSeconds() int {
	if cfg.ConfirmTimeoutSeconds > 0 {
		return cfg.ConfirmTimeoutSeconds
	}
	return DefaultConfirmTimeoutSeconds
}

func (cfg *AnchorConfig) GetMaxBatchAgeSeconds() int {
	if cfg.MaxBatchAgeSeconds > 0 {
		return cfg.MaxBatchAgeSeconds
	}
	return DefaultMaxBatchAgeSeconds
}

func (cfg *AnchorConfig) GetTickIntervalSeconds() int {
	if cfg.TickIntervalSeconds > 0 {
		return cfg.TickIntervalSeconds
	}
	return DefaultTickIntervalSeconds
}

type KeyConfig struct {
	SecretsBackend        string `json:"secrets_backend"` // local, aws_secrets or aws_kms
	MasterKeyB64          string `json:"master_key_b64"`
	AWSRegion             string `json:"aws_region"`
	AWSSecretName         string `json:"aws_secret_name"`
	KMSKeyID              string `json:"kms_key_id"`
	KMSEncryptedMasterKey string `json:"kms_encrypted_master_key"`
	LedgerSigningKeyB64   string `json:"ledger_signing_key_b64"`
	Argon2Time            uint32 `json:"argon2_time"`
	Argon2MemoryKB        uint32 `json:"argon2_memory_kb"`
	Argon2Threads         uint8  `json:"argon2_threads"`
}

func (cfg *KeyConfig) GetArgon2Time() uint32 {
	if cfg.Argon2Time > 0 {
		return cfg.Argon2Time
	}
	return DefaultArgon2Time
}

func (cfg *KeyConfig) GetArgon2MemoryKB() uint32 {
	if cfg.Argon2MemoryKB > 0 {
		return cfg.Argon2MemoryKB
	}
	return DefaultArgon2MemoryKB
}

func (cfg *KeyConfig) GetArgon2Threads() uint8 {
	if cfg.Argon2Threads > 0 {
		return cfg.Argon2Threads
	}
	return DefaultArgon2Threads
}

type FingerprintConfig struct {
	EmbeddingEndpoint string  `json:"embedding_endpoint"` // empty disables the text embedding channel
	TargetSize        int     `json:"target_size"`        // bound for the largest image dimension after normalization
	TopK              int     `json:"top_k"`
	MinScore          float64 `json:"min_score"`
	CacheSize         uint64  `json:"cache_size"`
}

func (cfg *FingerprintConfig) GetTargetSize() int {
	if cfg.TargetSize > 0 {
		return cfg.TargetSize
	}
	return DefaultNormalizeTargetSize
}

func (cfg *FingerprintConfig) GetTopK() int {
	if cfg.TopK > 0 {
		return cfg.TopK
	}
	return DefaultSimilarityTopK
}

func (cfg *FingerprintConfig) GetMinScore() float64 {
	if cfg.MinScore > 0 {
		return cfg.MinScore
	}
	return DefaultSimilarityMinScore
}

func (cfg *FingerprintConfig) GetCacheSize() uint64 {
	if cfg.CacheSize > 0 {
		return cfg.CacheSize
	}
	return DefaultFingerprintCacheSize
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

func (cfg *MetricsConfig) GetAddress() string {
	if cfg.Address != "" {
		return cfg.Address
	}
	return DefaultMetricsAddress
}

type DBConfig struct {
	Dialect      string `json:"dialect"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Url          string `json:"url"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxOpenConns int    `json:"max_open_conns"`
}

func (cfg *DBConfig) Validate() {
	if cfg.Dialect != DBDialectMysql && cfg.Dialect != DBDialectSqlite3 {
		panic(fmt.Sprintf("only %s and %s supported", DBDialectMysql, DBDialectSqlite3))
	}
	if cfg.Dialect == DBDialectMysql && (cfg.Username == "" || cfg.Url == "") {
		panic("db config is not correct, missing username and/or url")
	}
}

type LogConfig struct {
	Level                        string `json:"level"`
	Filename                     string `json:"filename"`
	MaxFileSizeInMB              int    `json:"max_file_size_in_mb"`
	MaxBackupsOfLogFiles         int    `json:"max_backups_of_log_files"`
	MaxAgeToRetainLogFilesInDays int    `json:"max_age_to_retain_log_files_in_days"`
	UseConsoleLogger             bool   `json:"use_console_logger"`
	UseFileLogger                bool   `json:"use_file_logger"`
	Compress                     bool   `json:"compress"`
}

func (cfg *LogConfig) Validate() {
	if cfg.UseFileLogger {
		if cfg.Filename == "" {
			panic("filename should not be empty if use file logger")
		}
		if cfg.MaxFileSizeInMB <= 0 {
			panic("max_file_size_in_mb should be larger than 0 if use file logger")
		}
		if cfg.MaxBackupsOfLogFiles <= 0 {
			panic("max_backups_off_log_files should be larger than 0 if use file logger")
		}
	}
}

func ParseConfigFromJson(content string) *Config {
	var config Config
	if err := json.Unmarshal([]byte(content), &config); err != nil {
		panic(err)
	}
	return &config
}

func ParseConfigFromFile(filePath string) *Config {
	bz, err := os.ReadFile(filePath)
	if err != nil {
		panic(err)
	}

	var config Config
	if err := json.Unmarshal(bz, &config); err != nil {
		panic(err)
	}
	return &config
}
