package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/propwise/chatsync/pkg/db/models"
)

type DB struct {
	DB *gorm.DB

	// BatchSize is used for how many insertions we should do at once. Postgres supports
	// a maximum of 2^16 records per insert.
	BatchSize int
}

func New(dsn string, logLevel logger.LogLevel) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, err
	}

	return &DB{
		DB:        db,
		BatchSize: 1024,
	}, nil
}

// UpdateSchema migrates the four pipeline relations. AutoMigrate is additive,
// so this is safe to run before every load.
func (d *DB) UpdateSchema() error {
	return d.DB.AutoMigrate(
		&models.Transcript{},
		&models.DialogueTurn{},
		&models.Session{},
		&models.SessionEvent{},
	)
}
