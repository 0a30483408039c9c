package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/RemiBp/ProofOrigin/anchor"
	"github.com/RemiBp/ProofOrigin/cache"
	"github.com/RemiBp/ProofOrigin/config"
	"github.com/RemiBp/ProofOrigin/db"
	"github.com/RemiBp/ProofOrigin/fingerprint"
	"github.com/RemiBp/ProofOrigin/keys"
	"github.com/RemiBp/ProofOrigin/ledger"
	"github.com/RemiBp/ProofOrigin/logging"
	"github.com/RemiBp/ProofOrigin/metrics"
	"github.com/RemiBp/ProofOrigin/normalizer"
	"github.com/RemiBp/ProofOrigin/service"
	"github.com/RemiBp/ProofOrigin/tasks"
)

func initFlags() {
	flag.String(config.FlagConfigPath, "", "config file path")
	flag.String(config.FlagConfigType, "", "config type, local or aws")
	flag.String(config.FlagConfigAwsRegion, "", "aws region")
	flag.String(config.FlagConfigAwsSecretKey, "", "aws secret key")
	flag.String(config.FlagConfigDbPass, "", "prooforigin db password")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		panic(err)
	}
}

func printUsage() {
	fmt.Print("usage: ./prooforigin --config-type local --config-path configFile\n")
	fmt.Print("usage: ./prooforigin --config-type aws --aws-region awsRegion --aws-secret-key awsSecretKey\n")
}

func main() {
	var (
		cfg                        *config.Config
		configType, configFilePath string
	)
	initFlags()
	configType = viper.GetString(config.FlagConfigType)
	if configType == "" {
		configType = os.Getenv(config.EnvVarConfigType)
	}
	if configType != config.AWSConfig && configType != config.LocalConfig {
		printUsage()
		return
	}
	if configType == config.AWSConfig {
		awsSecretKey := viper.GetString(config.FlagConfigAwsSecretKey)
		if awsSecretKey == "" {
			printUsage()
			return
		}
		awsRegion := viper.GetString(config.FlagConfigAwsRegion)
		if awsRegion == "" {
			printUsage()
			return
		}
		configContent, err := config.GetSecret(awsSecretKey, awsRegion)
		if err != nil {
			fmt.Printf("get aws config error, err=%s", err.Error())
			return
		}
		cfg = config.ParseConfigFromJson(configContent)
	} else {
		configFilePath = viper.GetString(config.FlagConfigPath)
		if configFilePath == "" {
			configFilePath = os.Getenv(config.EnvVarConfigFilePath)
			if configFilePath == "" {
				printUsage()
				return
			}
		}
		cfg = config.ParseConfigFromFile(configFilePath)
	}
	if cfg == nil {
		panic("failed to get configuration")
	}
	cfg.Validate()
	logging.InitLogger(&cfg.LogConfig)

	database := config.InitDBWithConfig(&cfg.DBConfig, true)
	dao := db.NewProofSvcDB(database)

	provider := keys.NewMasterKeyProvider(&cfg.KeyConfig)
	keySvc, err := keys.NewService(&cfg.KeyConfig, provider)
	if err != nil {
		panic(fmt.Sprintf("init key service error, err=%s", err.Error()))
	}
	keyContext, err := keys.NewKeyContext(&cfg.KeyConfig, provider)
	if err != nil {
		panic(fmt.Sprintf("init key context error, err=%s", err.Error()))
	}

	localCache, err := cache.NewLocalCache(cfg.FingerprintConfig.GetCacheSize())
	if err != nil {
		panic(fmt.Sprintf("init cache error, err=%s", err.Error()))
	}

	var embedder fingerprint.Embedder = fingerprint.NullEmbedder{}
	if cfg.FingerprintConfig.EmbeddingEndpoint != "" {
		embedder = fingerprint.NewHTTPEmbedder(cfg.FingerprintConfig.EmbeddingEndpoint)
	}
	engine := fingerprint.NewEngine(dao, fingerprint.PerceptualHasher{}, embedder, localCache, &cfg.FingerprintConfig)
	norm := normalizer.NewNormalizer(cfg.FingerprintConfig.GetTargetSize())

	transparencyLedger := ledger.NewTransparencyLedger(dao, keyContext, &cfg.LedgerConfig)

	var backend anchor.ChainBackend
	if len(cfg.AnchorConfig.RPCAddrs) == 0 {
		backend = anchor.NewSimulatedBackend()
	} else {
		backend, err = anchor.NewEVMBackend(&cfg.AnchorConfig)
		if err != nil {
			panic(fmt.Sprintf("init evm backend error, err=%s", err.Error()))
		}
	}
	var calendar *anchor.CalendarClient
	if len(cfg.AnchorConfig.CalendarEndpoints) != 0 {
		calendar = anchor.NewCalendarClient(cfg.AnchorConfig.CalendarEndpoints)
	}
	batcher := anchor.NewBatcher(dao, &cfg.AnchorConfig)
	scheduler := anchor.NewScheduler(dao, backend, batcher, calendar, keyContext, &cfg.AnchorConfig)

	registry := tasks.NewRegistry()
	svc := service.NewProofService(dao, keySvc, transparencyLedger, engine, batcher, norm, localCache, registry, service.LogSink{})
	service.RegisterTasks(registry, scheduler, engine)
	scheduler.OnAnchored = svc.NotifyBatchAnchored

	go scheduler.StartLoop()

	if cfg.MetricsConfig.Enabled {
		m := metrics.NewMetrics(cfg.MetricsConfig.GetAddress())
		go m.Start()
	}
	select {}
}
