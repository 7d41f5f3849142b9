package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"engineroom/internal/config"
	"engineroom/internal/engine"
	"engineroom/internal/ingest"
	"engineroom/internal/logger"
	"engineroom/internal/report"
	"engineroom/internal/store/gormstore"
	"engineroom/internal/store/snapshot"
	"engineroom/internal/types"
)

// ErrNoItems is returned when an evaluation is requested before any item set
// has been loaded.
var ErrNoItems = fmt.Errorf("no item set loaded")

// ErrRunNotFound marks a lookup of a run ID that was never saved or was
// pruned.
var ErrRunNotFound = fmt.Errorf("run not found")

// Service wires ingestion, rule management, evaluation and persistence into
// the operations the HTTP layer exposes.
type Service struct {
	evaluator *engine.Evaluator
	rules     *config.RuleRegistry
	runs      *gormstore.GormStore
	snapshots *snapshot.Store

	mu       sync.RWMutex
	items    []types.Item
	loadedAt time.Time
}

// Options assembles a Service. Runs and Snapshots are optional: without them
// the service still evaluates, it just keeps nothing.
type Options struct {
	Workers   int
	Rules     *config.RuleRegistry
	Runs      *gormstore.GormStore
	Snapshots *snapshot.Store
}

func New(opts Options) (*Service, error) {
	if opts.Rules == nil {
		return nil, fmt.Errorf("service requires a rule registry")
	}
	return &Service{
		evaluator: engine.NewEvaluator(engine.Options{Workers: opts.Workers}),
		rules:     opts.Rules,
		runs:      opts.Runs,
		snapshots: opts.Snapshots,
	}, nil
}

// LoadItems ingests an item upload, fills in the "yesterday" side from the
// snapshot history where the upload did not carry one, and records today's
// market data as a new snapshot.
func (s *Service) LoadItems(ctx context.Context, payload []byte) (int, error) {
	items, err := ingest.ParseItems(payload)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	s.backfillFromHistory(ctx, items, now)
	if s.snapshots != nil {
		if n, err := s.snapshots.SaveItems(ctx, now, items); err != nil {
			logger.Warnf("snapshot save failed, continuing without history: %v", err)
		} else {
			logger.Debugf("saved %d price snapshots", n)
		}
	}
	s.mu.Lock()
	s.items = items
	s.loadedAt = now
	s.mu.Unlock()
	logger.Infof("item set loaded: %d items", len(items))
	return len(items), nil
}

func (s *Service) backfillFromHistory(ctx context.Context, items []types.Item, now time.Time) {
	if s.snapshots == nil {
		return
	}
	for i := range items {
		if items[i].PrevMarketLow != nil {
			continue
		}
		prev, ok, err := s.snapshots.LatestBefore(ctx, items[i].ID, now)
		if err != nil {
			logger.Warnf("snapshot lookup failed for %s: %v", items[i].ID, err)
			continue
		}
		if !ok {
			continue
		}
		items[i].PrevMarketLow = prev.MarketLow
		for name, q := range items[i].Competitors {
			if q.Previous != nil {
				continue
			}
			if hist, found := prev.Competitors[name]; found && hist.Current != nil {
				q.Previous = hist.Current
				items[i].Competitors[name] = q
			}
		}
	}
}

// Items returns a copy of the loaded item set.
func (s *Service) Items() ([]types.Item, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Item, len(s.items))
	copy(out, s.items)
	return out, s.loadedAt
}

// EvaluateRequest selects what to evaluate. A nil Config uses the registry's
// active rule set; Persist controls whether the run is written to the store.
type EvaluateRequest struct {
	Mode    types.RuleMode
	Config  *types.RuleConfig
	Persist bool
}

// RunResult pairs the engine output with its persisted identity.
type RunResult struct {
	RunID  string         `json:"run_id"`
	Result *engine.Result `json:"result"`
}

// Evaluate runs the engine over the loaded item set.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*RunResult, error) {
	items, _ := s.Items()
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	cfg := s.rules.Current()
	if req.Config != nil {
		cfg = req.Config.Clone()
	}
	res, err := s.evaluator.Evaluate(ctx, items, cfg, req.Mode)
	if err != nil {
		return nil, err
	}
	out := &RunResult{RunID: uuid.NewString(), Result: res}
	if req.Persist && s.runs != nil {
		if err := s.persistRun(ctx, out); err != nil {
			return nil, fmt.Errorf("persist run: %w", err)
		}
	}
	logger.Infof("evaluation %s done: mode=%s items=%d failures=%d profit_delta=%.2f",
		out.RunID, res.Mode, len(res.Items), len(res.Failures), res.Impact.ProfitDelta)
	return out, nil
}

func (s *Service) persistRun(ctx context.Context, run *RunResult) error {
	res := run.Result
	summary := *res
	summary.Items = nil
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	rec := gormstore.RunRecord{
		ID:             run.RunID,
		Mode:           res.Mode,
		ConfigVersion:  res.ConfigVersion,
		ItemCount:      len(res.Items),
		FailureCount:   len(res.Failures),
		RevenueDelta:   res.Impact.RevenueDelta,
		ProfitDelta:    res.Impact.ProfitDelta,
		MarginDeltaPts: res.Impact.MarginDeltaPts,
		SummaryJSON:    string(raw),
		CreatedAt:      res.EvaluatedAt,
	}
	items := make([]gormstore.RunItemRecord, 0, len(res.Items))
	for _, it := range res.Items {
		items = append(items, gormstore.RunItemRecord{
			ItemID:         it.ID,
			Group:          it.Group,
			Trend:          it.Trend,
			CurrentPrice:   it.CurrentPrice,
			ProposedPrice:  it.ProposedPrice,
			ProposedMargin: it.ProposedMargin,
			AppliedRule:    it.AppliedRule,
			CostRisk:       it.CostRisk,
			Modified:       it.Modified,
			Flags:          it.Flags,
		})
	}
	return s.runs.SaveRun(ctx, rec, items)
}

// ListRuns returns stored run summaries newest first.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]gormstore.RunRecord, int, error) {
	if s.runs == nil {
		return nil, 0, nil
	}
	runs, err := s.runs.ListRuns(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.runs.CountRuns(ctx)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// GetRun loads one stored run.
func (s *Service) GetRun(ctx context.Context, runID string) (gormstore.RunRecord, error) {
	if s.runs == nil {
		return gormstore.RunRecord{}, ErrRunNotFound
	}
	rec, ok, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return gormstore.RunRecord{}, err
	}
	if !ok {
		return gormstore.RunRecord{}, ErrRunNotFound
	}
	return rec, nil
}

// RunItems loads a stored run's priced items.
func (s *Service) RunItems(ctx context.Context, runID string, limit, offset int) ([]gormstore.RunItemRecord, error) {
	if s.runs == nil {
		return nil, ErrRunNotFound
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.runs.ListRunItems(ctx, runID, limit, offset)
}

// RenderRunChart writes a stored run's report page as HTML.
func (s *Service) RenderRunChart(ctx context.Context, w io.Writer, runID string) error {
	rec, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	var res engine.Result
	if err := json.Unmarshal([]byte(rec.SummaryJSON), &res); err != nil {
		return fmt.Errorf("decode run summary: %w", err)
	}
	title := fmt.Sprintf("Run %s (%s, %s)", rec.ID, rec.Mode, rec.CreatedAt.Format("2006-01-02 15:04"))
	return report.RenderRunReport(w, report.RunInput{Title: title, Result: &res})
}

// SaveSnapshots stores externally supplied market snapshots, for feeds that
// deliver price history separately from item uploads. Entries without a
// capture time are stamped with now.
func (s *Service) SaveSnapshots(ctx context.Context, snaps []snapshot.Snapshot) (int, error) {
	if s.snapshots == nil {
		return 0, fmt.Errorf("snapshot store is not configured")
	}
	now := time.Now().UnixMilli()
	for i := range snaps {
		if snaps[i].CapturedAt <= 0 {
			snaps[i].CapturedAt = now
		}
	}
	return s.snapshots.Insert(ctx, snaps)
}

// SnapshotHistory exposes an item's stored market snapshots.
func (s *Service) SnapshotHistory(ctx context.Context, itemID string, limit int) ([]snapshot.Snapshot, error) {
	if s.snapshots == nil {
		return nil, nil
	}
	return s.snapshots.History(ctx, itemID, limit)
}

// Rules returns the active rule configuration.
func (s *Service) Rules() types.RuleConfig {
	return s.rules.Current()
}

// UpdateRules validates and installs a new rule configuration.
func (s *Service) UpdateRules(cfg types.RuleConfig) error {
	if err := engine.ValidateConfig(cfg); err != nil {
		return err
	}
	s.rules.Update(cfg)
	logger.Infof("rule config updated to version %s", s.rules.Current().Version)
	return nil
}
