// Command migrate_data copies a development SQLite database into PostgreSQL.
// Rows keep their IDs; run sync_sequences afterwards.
package main

import (
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/logging"
	"whatsapp-crm/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const batchSize = 500

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	sqliteDB, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to SQLite")
	}
	log.WithField("path", cfg.DBPath).Info("Connected to SQLite")

	pgCfg := *cfg
	pgCfg.DBDriver = "postgres"
	pgDB, err := database.Open(&pgCfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}

	log.Info("Starting data migration...")

	// parents before children so foreign keys resolve
	steps := []struct {
		table string
		copy  func(src, dst *gorm.DB) (int, error)
	}{
		{"companies", copyTable[models.Company]},
		{"whatsapp_accounts", copyTable[models.WhatsAppAccount]},
		{"forms", copyTable[models.Form]},
		{"products", copyTable[models.Product]},
		{"leads", copyTable[models.Lead]},
		{"lead_notes", copyTable[models.LeadNote]},
		{"messages", copyTable[models.Message]},
		{"flow_responses", copyTable[models.FlowResponse]},
		{"auto_reply_rules", copyTable[models.AutoReplyRule]},
	}

	failed := 0
	for _, step := range steps {
		n, err := step.copy(sqliteDB, pgDB)
		entry := log.WithFields(logrus.Fields{"table": step.table, "rows": n})
		if err != nil {
			entry.WithError(err).Error("Error migrating table")
			failed++
			continue
		}
		entry.Info("Successfully migrated table")
	}

	if failed > 0 {
		log.WithField("failed_tables", failed).Fatal("Migration finished with errors")
	}
	log.Info("Migration completed!")
}

// copyTable streams every row of T from src into dst in one transaction.
func copyTable[T any](src, dst *gorm.DB) (int, error) {
	total := 0
	err := dst.Transaction(func(tx *gorm.DB) error {
		var batch []T
		res := src.FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			if err := tx.Create(&batch).Error; err != nil {
				return err
			}
			total += len(batch)
			return nil
		})
		return res.Error
	})
	return total, err
}
