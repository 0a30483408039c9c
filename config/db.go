package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/RemiBp/ProofOrigin/db"
)

// InitDBWithConfig opens the configured database and optionally migrates the
// schema. Panics on misconfiguration, matching the rest of startup.
func InitDBWithConfig(cfg *DBConfig, migrate bool) *gorm.DB {
	password := cfg.Password
	if envPass := os.Getenv(EnvVarDBUserPass); envPass != "" {
		password = envPass
	}

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Dialect {
	case DBDialectMysql:
		dbPath := fmt.Sprintf("%s:%s@%s", cfg.Username, password, cfg.Url)
		dialector = mysql.Open(dbPath)
	case DBDialectSqlite3:
		dialector = sqlite.Open(cfg.Url)
	default:
		panic(fmt.Sprintf("unexpected DB dialect %s", cfg.Dialect))
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		panic(fmt.Sprintf("open db error, err=%s", err.Error()))
	}
	dbConfig, err := gormDB.DB()
	if err != nil {
		panic(err)
	}
	if cfg.MaxIdleConns != 0 {
		dbConfig.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns != 0 {
		dbConfig.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if migrate {
		db.AutoMigrateDB(gormDB)
	}
	return gormDB
}
