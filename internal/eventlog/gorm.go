package eventlog

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormSink appends records to the session_events table.
type GormSink struct {
	db *gorm.DB
}

// OpenPostgres connects with gorm and migrates the records table.
func OpenPostgres(dsn string) (*GormSink, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open event log db: %w", err)
	}
	return NewGormSink(db)
}

func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate event log: %w", err)
	}
	return &GormSink{db: db}, nil
}

func (s *GormSink) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(records, 100).Error
}

// Replay returns a room's records in commit order.
func (s *GormSink) Replay(ctx context.Context, room string) ([]Record, error) {
	var out []Record
	err := s.db.WithContext(ctx).
		Where("room = ?", room).
		Order("version, seq").
		Find(&out).Error
	return out, err
}

func (s *GormSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
