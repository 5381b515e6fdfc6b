// Package history persists finished compression runs in a local SQLite
// database.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pdfslim/internal/pipeline"
)

// CompressionRecord is one finished run as stored on disk.
type CompressionRecord struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	InputPath      string    `json:"input_path"`
	OutputPath     string    `json:"output_path"`
	OriginalSize   int64     `json:"original_size"`
	CompressedSize int64     `json:"compressed_size"`
	SavedPercent   float64   `json:"saved_percent"`
	// Stages holds the comma-joined names of the stages that ran.
	Stages     string    `json:"stages"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats aggregates every recorded run.
type Stats struct {
	Runs       int64 `json:"runs"`
	BytesIn    int64 `json:"bytes_in"`
	BytesOut   int64 `json:"bytes_out"`
	BytesSaved int64 `json:"bytes_saved"`
}

// Store wraps the history database. It implements pipeline.Recorder.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the history database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&CompressionRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores the result of one successful run.
func (s *Store) Record(ctx context.Context, r pipeline.Result) error {
	rec := CompressionRecord{
		ID:             uuid.NewString(),
		InputPath:      r.InputPath,
		OutputPath:     r.OutputPath,
		OriginalSize:   r.OriginalSize,
		CompressedSize: r.CompressedSize,
		SavedPercent:   r.SavedPercent,
		Stages:         strings.Join(r.Stages, ","),
		DurationMS:     r.Duration.Milliseconds(),
		CreatedAt:      time.Now(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]CompressionRecord, error) {
	var recs []CompressionRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// TotalStats sums sizes across all recorded runs.
func (s *Store) TotalStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.WithContext(ctx).
		Model(&CompressionRecord{}).
		Select("COUNT(*) AS runs, COALESCE(SUM(original_size), 0) AS bytes_in, COALESCE(SUM(compressed_size), 0) AS bytes_out").
		Scan(&st).Error
	if err != nil {
		return Stats{}, err
	}
	st.BytesSaved = st.BytesIn - st.BytesOut
	return st, nil
}
