package main

import (
	"fmt"
	"os"

	"github.com/waflowhq/waflow/internal/config"
	"github.com/waflowhq/waflow/internal/db"
	"github.com/waflowhq/waflow/internal/logger"
)

func runMigrate(dir string) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	if err := db.Migrate(cfg.Postgres, dir); err != nil {
		return err
	}
	logger.L.Info("migrations applied")
	return nil
}
