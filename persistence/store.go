package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the gorm-backed row storage for diagnoses and crop plans.
//
// Postgres is the production backend; SQLite serves local runs and tests.
type Store struct {
	db *gorm.DB
}

// Open connects to the database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// One connection keeps in-memory databases shared and avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	if err := db.AutoMigrate(&plantRow{}, &cropPlanRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDiagnosis inserts a plant diagnosis.
func (s *Store) CreateDiagnosis(ctx context.Context, d Diagnosis) (Diagnosis, error) {
	if !d.HealthStatus.Valid() {
		return Diagnosis{}, fmt.Errorf("invalid health status %q", d.HealthStatus)
	}
	if d.Date.IsZero() {
		d.Date = time.Now()
	}
	row := rowFromDiagnosis(d)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Diagnosis{}, err
	}
	return row.diagnosis(), nil
}

// ListDiagnoses returns up to limit diagnoses, most recent first.
func (s *Store) ListDiagnoses(ctx context.Context, limit int) ([]Diagnosis, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []plantRow
	if err := s.db.WithContext(ctx).Order("date DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Diagnosis, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.diagnosis())
	}
	return out, nil
}

// SaveCropPlan stores a generated plan as JSON.
func (s *Store) SaveCropPlan(ctx context.Context, cropName string, data []byte) error {
	cropName = strings.TrimSpace(cropName)
	if cropName == "" {
		return errors.New("missing crop name")
	}
	row := cropPlanRow{CropName: cropName, Data: string(data)}
	return s.db.WithContext(ctx).Create(&row).Error
}

// StoredPlan is a saved crop plan as raw JSON.
type StoredPlan struct {
	ID        uint64    `json:"id"`
	CropName  string    `json:"cropName"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListCropPlans returns saved plans, newest first.
func (s *Store) ListCropPlans(ctx context.Context, limit int) ([]StoredPlan, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []cropPlanRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]StoredPlan, 0, len(rows))
	for _, r := range rows {
		out = append(out, StoredPlan{ID: r.ID, CropName: r.CropName, Data: r.Data, CreatedAt: r.CreatedAt})
	}
	return out, nil
}
