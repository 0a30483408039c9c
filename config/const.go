package config

const (
	FlagConfigPath         = "config-path"
	FlagConfigType         = "config-type"
	FlagConfigAwsRegion    = "aws-region"
	FlagConfigAwsSecretKey = "aws-secret-key"
	FlagConfigDbPass       = "db-pass"

	LocalConfig = "local"
	AWSConfig   = "aws"

	DBDialectMysql   = "mysql"
	DBDialectSqlite3 = "sqlite3"

	EnvVarConfigFilePath = "CONFIG_FILE_PATH"
	EnvVarConfigType     = "CONFIG_TYPE"
	EnvVarDBUserPass     = "DB_PASSWORD"
	EnvVarMasterKey      = "PROOFORIGIN_MASTER_KEY_B64"

	SecretsBackendLocal      = "local"
	SecretsBackendAWSSecrets = "aws_secrets"
	SecretsBackendAWSKMS     = "aws_kms"

	DefaultChainName             = "polygon"
	DefaultAnchorBatchSize       = 10
	DefaultAnchorMaxRetries      = 5
	DefaultAnchorBackoffSeconds  = 2
	DefaultConfirmTimeoutSeconds = 90
	DefaultTickIntervalSeconds   = 5
	DefaultMaxBatchAgeSeconds    = 600

	DefaultMaxAppendRetries = 5

	DefaultArgon2Time     = 3
	DefaultArgon2MemoryKB = 64 * 1024
	DefaultArgon2Threads  = 4

	DefaultNormalizeTargetSize  = 2048
	DefaultSimilarityTopK       = 5
	DefaultSimilarityMinScore   = 0.5
	DefaultFingerprintCacheSize = 1024

	DefaultMetricsAddress = "0.0.0.0:9090"

	PipelineVersion = "2"
)
