package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"engineroom/internal/types"
)

// RunRecord is one persisted evaluation run: the summary plus enough JSON to
// rebuild the dashboard view without re-evaluating.
type RunRecord struct {
	ID             string
	Mode           types.RuleMode
	ConfigVersion  string
	ItemCount      int
	FailureCount   int
	RevenueDelta   float64
	ProfitDelta    float64
	MarginDeltaPts float64
	SummaryJSON    string
	CreatedAt      time.Time
}

// RunItemRecord is one priced item within a run.
type RunItemRecord struct {
	RunID          string
	ItemID         string
	Group          types.UsageGroup
	Trend          types.TrendDirection
	CurrentPrice   float64
	ProposedPrice  float64
	ProposedMargin *float64
	AppliedRule    string
	CostRisk       bool
	Modified       bool
	Flags          []string
}

// GormStore persists evaluation runs using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: db path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &runItemModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun writes the run summary and its items in one transaction. Saving the
// same run ID again replaces the previous copy.
func (s *GormStore) SaveRun(ctx context.Context, run RunRecord, items []RunItemRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	model := newRunModel(run)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"mode", "config_version", "item_count", "failure_count",
				"revenue_delta", "profit_delta", "margin_delta_pts",
				"summary_json", "created_at",
			}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", run.ID).Delete(&runItemModel{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		models := make([]runItemModel, 0, len(items))
		for _, item := range items {
			item.RunID = run.ID
			models = append(models, newRunItemModel(item))
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// GetRun loads one run summary.
func (s *GormStore) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, false, fmt.Errorf("gorm store not initialized")
	}
	var model runModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	return runModelToRecord(model), true, nil
}

// ListRuns returns run summaries newest first.
func (s *GormStore) ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(models))
	for _, m := range models {
		out = append(out, runModelToRecord(m))
	}
	return out, nil
}

// CountRuns reports how many runs are stored.
func (s *GormStore) CountRuns(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store not initialized")
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&runModel{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// ListRunItems returns a run's items, flagged rows first so review work
// surfaces at the top of the list.
func (s *GormStore) ListRunItems(ctx context.Context, runID string, limit, offset int) ([]RunItemRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	var models []runItemModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("cost_risk DESC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]RunItemRecord, 0, len(models))
	for _, m := range models {
		out = append(out, runItemModelToRecord(m))
	}
	return out, nil
}

// PruneRuns deletes all but the newest keep runs, items included.
func (s *GormStore) PruneRuns(ctx context.Context, keep int) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store not initialized")
	}
	if keep < 0 {
		keep = 0
	}
	var stale []string
	if err := s.db.WithContext(ctx).Model(&runModel{}).
		Order("created_at DESC, id DESC").
		Offset(keep).
		Pluck("run_id", &stale).Error; err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id IN ?", stale).Delete(&runItemModel{}).Error; err != nil {
			return err
		}
		return tx.Where("run_id IN ?", stale).Delete(&runModel{}).Error
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

// --------------------------- Models ------------------------------------

type runModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	RunID          string         `gorm:"column:run_id;uniqueIndex"`
	Mode           string         `gorm:"column:mode"`
	ConfigVersion  string         `gorm:"column:config_version"`
	ItemCount      int            `gorm:"column:item_count"`
	FailureCount   int            `gorm:"column:failure_count"`
	RevenueDelta   float64        `gorm:"column:revenue_delta"`
	ProfitDelta    float64        `gorm:"column:profit_delta"`
	MarginDeltaPts float64        `gorm:"column:margin_delta_pts"`
	SummaryJSON    datatypes.JSON `gorm:"column:summary_json"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
}

func (runModel) TableName() string { return "engine_runs" }

type runItemModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	RunID          string         `gorm:"column:run_id;index"`
	ItemID         string         `gorm:"column:item_id;index"`
	UsageGroup     string         `gorm:"column:usage_group"`
	Trend          string         `gorm:"column:trend"`
	CurrentPrice   float64        `gorm:"column:current_price"`
	ProposedPrice  float64        `gorm:"column:proposed_price"`
	ProposedMargin *float64       `gorm:"column:proposed_margin"`
	AppliedRule    string         `gorm:"column:applied_rule"`
	CostRisk       bool           `gorm:"column:cost_risk"`
	Modified       bool           `gorm:"column:modified"`
	Flags          datatypes.JSON `gorm:"column:flags"`
}

func (runItemModel) TableName() string { return "engine_run_items" }

// --------------------------- Converters ------------------------------------

func newRunModel(rec RunRecord) runModel {
	summary := strings.TrimSpace(rec.SummaryJSON)
	if summary == "" {
		summary = "{}"
	}
	return runModel{
		RunID:          strings.TrimSpace(rec.ID),
		Mode:           string(rec.Mode),
		ConfigVersion:  rec.ConfigVersion,
		ItemCount:      rec.ItemCount,
		FailureCount:   rec.FailureCount,
		RevenueDelta:   rec.RevenueDelta,
		ProfitDelta:    rec.ProfitDelta,
		MarginDeltaPts: rec.MarginDeltaPts,
		SummaryJSON:    datatypes.JSON(summary),
		CreatedAtUnix:  rec.CreatedAt.UnixMilli(),
	}
}

func runModelToRecord(m runModel) RunRecord {
	return RunRecord{
		ID:             m.RunID,
		Mode:           types.RuleMode(m.Mode),
		ConfigVersion:  m.ConfigVersion,
		ItemCount:      m.ItemCount,
		FailureCount:   m.FailureCount,
		RevenueDelta:   m.RevenueDelta,
		ProfitDelta:    m.ProfitDelta,
		MarginDeltaPts: m.MarginDeltaPts,
		SummaryJSON:    string(m.SummaryJSON),
		CreatedAt:      time.UnixMilli(m.CreatedAtUnix),
	}
}

func newRunItemModel(rec RunItemRecord) runItemModel {
	var flags datatypes.JSON
	if len(rec.Flags) > 0 {
		raw, _ := json.Marshal(rec.Flags)
		flags = datatypes.JSON(raw)
	}
	return runItemModel{
		RunID:          rec.RunID,
		ItemID:         strings.TrimSpace(rec.ItemID),
		UsageGroup:     string(rec.Group),
		Trend:          string(rec.Trend),
		CurrentPrice:   rec.CurrentPrice,
		ProposedPrice:  rec.ProposedPrice,
		ProposedMargin: rec.ProposedMargin,
		AppliedRule:    rec.AppliedRule,
		CostRisk:       rec.CostRisk,
		Modified:       rec.Modified,
		Flags:          flags,
	}
}

func runItemModelToRecord(m runItemModel) RunItemRecord {
	rec := RunItemRecord{
		RunID:          m.RunID,
		ItemID:         m.ItemID,
		Group:          types.UsageGroup(m.UsageGroup),
		Trend:          types.TrendDirection(m.Trend),
		CurrentPrice:   m.CurrentPrice,
		ProposedPrice:  m.ProposedPrice,
		ProposedMargin: m.ProposedMargin,
		AppliedRule:    m.AppliedRule,
		CostRisk:       m.CostRisk,
		Modified:       m.Modified,
	}
	if len(m.Flags) > 0 {
		_ = json.Unmarshal(m.Flags, &rec.Flags)
	}
	return rec
}
