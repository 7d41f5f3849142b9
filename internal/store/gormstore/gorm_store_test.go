package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engineroom/internal/types"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(id string, at time.Time) RunRecord {
	return RunRecord{
		ID:             id,
		Mode:           types.RuleModeCombined,
		ConfigVersion:  "v1",
		ItemCount:      2,
		RevenueDelta:   120.5,
		ProfitDelta:    44.1,
		MarginDeltaPts: 1.2,
		SummaryJSON:    `{"bands":{}}`,
		CreatedAt:      at,
	}
}

func TestGormStore_SaveAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := []RunItemRecord{
		{ItemID: "A-001", Group: types.Group1_2, Trend: types.TrendDown,
			CurrentPrice: 11.5, ProposedPrice: 11.11, AppliedRule: "combined:rule1:group1_2:down:10%",
			CostRisk: true, Modified: true, Flags: []string{types.FlagHighPrice}},
		{ItemID: "B-002", Group: types.Group3_4, Trend: types.TrendNone,
			CurrentPrice: 25, ProposedPrice: 23.81},
	}
	require.NoError(t, s.SaveRun(ctx, sampleRun("run-1", time.Now()), items))

	run, ok, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.RuleModeCombined, run.Mode)
	assert.Equal(t, "v1", run.ConfigVersion)
	assert.InDelta(t, 120.5, run.RevenueDelta, 1e-9)

	got, err := s.ListRunItems(ctx, "run-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Cost-risk rows come first.
	assert.Equal(t, "A-001", got[0].ItemID)
	assert.Equal(t, []string{types.FlagHighPrice}, got[0].Flags)
	assert.Empty(t, got[1].Flags)
}

func TestGormStore_GetRunMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormStore_SaveRunReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, sampleRun("run-1", time.Now()), []RunItemRecord{
		{ItemID: "A"}, {ItemID: "B"},
	}))
	run := sampleRun("run-1", time.Now())
	run.ItemCount = 1
	require.NoError(t, s.SaveRun(ctx, run, []RunItemRecord{{ItemID: "C"}}))

	got, _, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ItemCount)

	items, err := s.ListRunItems(ctx, "run-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "C", items[0].ItemID)
}

func TestGormStore_ListAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, s.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute)), nil))
	}

	runs, err := s.ListRuns(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].ID)

	pruned, err := s.PruneRuns(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	total, err := s.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestGormStore_NilReceiver(t *testing.T) {
	var s *GormStore
	assert.NoError(t, s.Close())
	assert.Error(t, s.SaveRun(context.Background(), RunRecord{ID: "x"}, nil))
}
