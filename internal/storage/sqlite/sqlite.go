package sqlite

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/BridgeRelay/internal/config"
	"github.com/fenggwsx/BridgeRelay/internal/storage"
)

const maxListLimit = 1000

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type eventModel struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Kind       string `gorm:"index"`
	ClientID   string `gorm:"index"`
	ClientType string
	RoomID     string
	At         time.Time `gorm:"index"`
}

func (eventModel) TableName() string {
	return "lifecycle_events"
}

// NewStore opens a SQLite database at the configured journal path.
func NewStore(cfg config.JournalConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal path is empty")
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", cfg.Path)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "journal handle")
	}
	// SQLite allows one writer; ":memory:" databases are per connection.
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return errors.Wrap(s.db.WithContext(ctx).AutoMigrate(&eventModel{}), "migrate journal")
}

// RecordEvents appends a batch of events in one transaction.
func (s *Store) RecordEvents(ctx context.Context, events []storage.Event) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]eventModel, 0, len(events))
	for _, e := range events {
		models = append(models, eventModel{
			Kind:       e.Kind,
			ClientID:   e.ClientID,
			ClientType: e.ClientType,
			RoomID:     e.RoomID,
			At:         e.At.UTC(),
		})
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(&models).Error, "record events")
}

// ListEvents returns up to limit of the most recent events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]storage.Event, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var models []eventModel
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	events := make([]storage.Event, 0, len(models))
	for _, m := range models {
		events = append(events, storage.Event{
			ID:         m.ID,
			Kind:       m.Kind,
			ClientID:   m.ClientID,
			ClientType: m.ClientType,
			RoomID:     m.RoomID,
			At:         m.At,
		})
	}
	return events, nil
}
