package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/internal/utils"
	"github.com/menta2k/image-sweep/pkg/types"
)

// ResultRecord is one sweep pair in the SQLite ledger
type ResultRecord struct {
	ID                    uint           `gorm:"primaryKey"`
	RunID                 string         `gorm:"index;type:varchar(64)"`
	FilePath              string         `gorm:"index;not null"`
	Quality               int            `gorm:"not null"`
	ScaleFactor           float64        `gorm:"not null"`
	EffectiveMaxDimension int            `gorm:"not null"`
	Width                 int            `gorm:"default:0"`
	Height                int            `gorm:"default:0"`
	EncodedBytes          int            `gorm:"default:0"`
	Success               bool           `gorm:"index"`
	ProcessingTime        float64        `gorm:"default:0"`
	Response              *string        `gorm:"type:text"`
	Error                 string         `gorm:"type:text"`
	ErrorKind             string         `gorm:"type:varchar(32)"`
	Payload               datatypes.JSON `gorm:"type:json"`
	Timestamp             time.Time      `gorm:"index"`
	CreatedAt             time.Time
}

func (ResultRecord) TableName() string {
	return "sweep_results"
}

// Ledger appends results to a SQLite database so runs can be compared
// with SQL after the fact
type Ledger struct {
	db *gorm.DB
}

// OpenLedger opens (or creates) the database at dsn and migrates the schema.
// dsn may be a file path or ":memory:".
func OpenLedger(dsn string) (*Ledger, error) {
	if dsn != ":memory:" {
		if err := utils.EnsureDir(filepath.Dir(dsn)); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStorage, "ledger", "create database directory", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, "ledger", "open database", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, "ledger", "database handle", err)
	}
	// one connection: sqlite has a single writer and ":memory:" is per connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&ResultRecord{}); err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, "ledger", "migrate database", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Save(ctx context.Context, result *types.EvaluationResult) error {
	if result == nil {
		return apperrors.New(apperrors.KindStorage, "ledger", "nil result")
	}

	rec := ResultRecord{
		RunID:                 result.RunID,
		FilePath:              result.FilePath,
		Quality:               result.Quality,
		ScaleFactor:           result.ScaleFactor,
		EffectiveMaxDimension: result.EffectiveMaxDimension,
		Width:                 result.Width,
		Height:                result.Height,
		EncodedBytes:          result.EncodedBytes,
		Success:               result.Success,
		ProcessingTime:        result.ProcessingTime,
		Response:              result.Response,
		Error:                 result.Error,
		ErrorKind:             result.ErrorKind,
		Timestamp:             result.Timestamp,
	}
	if result.Payload != nil {
		payload, err := json.Marshal(result.Payload.Redacted())
		if err != nil {
			return apperrors.Wrap(apperrors.KindStorage, "ledger", "marshal payload", err)
		}
		rec.Payload = datatypes.JSON(payload)
	}

	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "ledger", "insert result", err)
	}
	return nil
}

// Results lists the records of a run in insertion order
func (l *Ledger) Results(ctx context.Context, runID string) ([]ResultRecord, error) {
	var records []ResultRecord
	err := l.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&records).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, "ledger", "query results", err)
	}
	return records, nil
}

// Summary counts successes and failures of a run
func (l *Ledger) Summary(ctx context.Context, runID string) (succeeded, failed int64, err error) {
	err = l.db.WithContext(ctx).Model(&ResultRecord{}).
		Where("run_id = ? AND success = ?", runID, true).
		Count(&succeeded).Error
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.KindStorage, "ledger", "count successes", err)
	}
	err = l.db.WithContext(ctx).Model(&ResultRecord{}).
		Where("run_id = ? AND success = ?", runID, false).
		Count(&failed).Error
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.KindStorage, "ledger", "count failures", err)
	}
	return succeeded, failed, nil
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("ledger handle: %w", err)
	}
	return sqlDB.Close()
}
