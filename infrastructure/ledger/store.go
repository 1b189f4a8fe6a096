package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
)

// Store is where ledger records live. Records are only ever appended.
type Store interface {
	Append(ctx context.Context, rec domain.UsageRecord) error
	// List returns records for contextID in insertion order, or every
	// record when contextID is empty.
	List(ctx context.Context, contextID string) ([]domain.UsageRecord, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []domain.UsageRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(_ context.Context, rec domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) List(_ context.Context, contextID string) ([]domain.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UsageRecord, 0, len(s.records))
	for _, r := range s.records {
		if contextID == "" || r.ContextID == contextID {
			out = append(out, r)
		}
	}
	return out, nil
}

// usageRow is the persisted form of a domain.UsageRecord.
type usageRow struct {
	ID           uint   `gorm:"primaryKey"`
	Operation    string `gorm:"size:64;index"`
	ContextID    string `gorm:"size:64;index"`
	ContextKind  string `gorm:"size:16"`
	Model        string `gorm:"size:128"`
	InputTokens  int
	OutputTokens int
	Cost         float64
	Cached       bool
	RecordedAt   time.Time `gorm:"index"`
}

func (usageRow) TableName() string { return "usage_records" }

// GormStore persists records through gorm, on sqlite or postgres.
type GormStore struct {
	db *gorm.DB
}

// Supported database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenDatabase connects to the ledger database.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn must not be empty", driver)
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	return db, nil
}

// NewGormStore migrates the usage table and returns a store over db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&usageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate usage table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Append(ctx context.Context, rec domain.UsageRecord) error {
	row := usageRow{
		Operation:    rec.Operation,
		ContextID:    rec.ContextID,
		ContextKind:  string(rec.ContextKind),
		Model:        rec.Model,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		Cost:         rec.Cost,
		Cached:       rec.Cached,
		RecordedAt:   rec.RecordedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) List(ctx context.Context, contextID string) ([]domain.UsageRecord, error) {
	query := s.db.WithContext(ctx).Order("id")
	if contextID != "" {
		query = query.Where("context_id = ?", contextID)
	}

	var rows []usageRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	out := make([]domain.UsageRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.UsageRecord{
			Operation:    r.Operation,
			ContextID:    r.ContextID,
			ContextKind:  domain.ContextKind(r.ContextKind),
			Model:        r.Model,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			Cost:         r.Cost,
			Cached:       r.Cached,
			RecordedAt:   r.RecordedAt,
		})
	}
	return out, nil
}
