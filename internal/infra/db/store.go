package db

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mateusicomp/aqua-monitor/internal/config"
)

type Store struct {
	DB *gorm.DB
}

// NewStore connects to Postgres and migrates the ledger tables. Without a DSN
// the gateway runs in no-db mode and the repositories report errDBUnavailable.
func NewStore(cfg config.Config, log *slog.Logger) (*Store, error) {
	if cfg.PostgresDSN == "" {
		if log != nil {
			log.Info("POSTGRES_DSN not set; starting without delivery ledger")
		}
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{DB: gdb}, nil
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&DeliveryReceiptModel{}, &SigningKeyModel{})
}

func (s *Store) Enabled() bool {
	return s != nil && s.DB != nil
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
