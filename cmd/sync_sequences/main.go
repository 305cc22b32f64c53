// Command sync_sequences realigns PostgreSQL id sequences after rows were
// inserted with explicit IDs.
package main

import (
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/logging"
	"whatsapp-crm/internal/models"

	"github.com/sirupsen/logrus"
)

type tabler interface {
	TableName() string
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.DBDriver != "postgres" {
		log.WithField("driver", cfg.DBDriver).Fatal("Sequences only exist on the postgres driver")
	}

	db, err := database.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}

	log.Info("Syncing PostgreSQL sequences...")

	for _, model := range models.All() {
		t, ok := model.(tabler)
		if !ok {
			continue
		}
		table := t.TableName()
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			log.WithError(err).WithField("table", table).Error("Error syncing sequence")
			continue
		}
		log.WithField("table", table).Info("Successfully synced sequence")
	}

	log.Info("DONE!")
}
