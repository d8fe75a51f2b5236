package migrate

import (
	"testing"
	"time"

	"github.com/datavisioneasystore/des/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_GroupsByShardKeyAndPreservesOrder(t *testing.T) {
	ts := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	files := []FileToPack{
		{UID: "1", CreatedAt: ts, SizeBytes: 10, SourcePath: "/src/1"},
		{UID: "257", CreatedAt: ts, SizeBytes: 10, SourcePath: "/src/257"},
		{UID: "513", CreatedAt: ts, SizeBytes: 10, SourcePath: "/src/513"},
	}
	cfg := DefaultPlannerConfig()

	plan, err := Plan(files, cfg)
	require.NoError(t, err)
	require.Len(t, plan.Shards, 1)
	assert.Equal(t, int64(30), plan.Shards[0].TotalSizeBytes)
	assert.Equal(t, []string{"1", "257", "513"}, uidsOf(plan.Shards[0].Files))
}

func TestPlan_SplitsWhenShardWouldOverflow(t *testing.T) {
	ts := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	files := []FileToPack{
		{UID: "1", CreatedAt: ts, SizeBytes: 60, SourcePath: "/src/1"},
		{UID: "257", CreatedAt: ts, SizeBytes: 60, SourcePath: "/src/257"},
		{UID: "513", CreatedAt: ts, SizeBytes: 40, SourcePath: "/src/513"},
	}
	cfg := PlannerConfig{MaxShardSizeBytes: 100, NBits: 8}

	plan, err := Plan(files, cfg)
	require.NoError(t, err)
	require.Len(t, plan.Shards, 2)
	assert.Equal(t, []string{"1"}, uidsOf(plan.Shards[0].Files))
	assert.Equal(t, []string{"257", "513"}, uidsOf(plan.Shards[1].Files))
	assert.Equal(t, plan.Shards[0].Key, plan.Shards[1].Key)
}

func TestPlan_DistinctDatesGetDistinctShardKeys(t *testing.T) {
	day1 := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	files := []FileToPack{
		{UID: "100", CreatedAt: day1, SizeBytes: 1, SourcePath: "/src/a"},
		{UID: "100", CreatedAt: day2, SizeBytes: 1, SourcePath: "/src/b"},
	}
	plan, err := Plan(files, DefaultPlannerConfig())
	require.NoError(t, err)
	require.Len(t, plan.Shards, 2)
	assert.NotEqual(t, plan.Shards[0].Key.DateDir, plan.Shards[1].Key.DateDir)
}

func TestPlan_RejectsInvalidFile(t *testing.T) {
	ts := time.Now()
	_, err := Plan([]FileToPack{{UID: "", CreatedAt: ts, SizeBytes: 1, SourcePath: "/x"}}, DefaultPlannerConfig())
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = Plan([]FileToPack{{UID: "1", CreatedAt: ts, SizeBytes: -1, SourcePath: "/x"}}, DefaultPlannerConfig())
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestPlan_RejectsInvalidConfig(t *testing.T) {
	_, err := Plan(nil, PlannerConfig{MaxShardSizeBytes: 0, NBits: 8})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = Plan(nil, PlannerConfig{MaxShardSizeBytes: 100, NBits: 99})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestEstimateShardCounts(t *testing.T) {
	ts := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	files := []FileToPack{
		{UID: "1", CreatedAt: ts, SizeBytes: 60, SourcePath: "/src/1"},
		{UID: "257", CreatedAt: ts, SizeBytes: 60, SourcePath: "/src/257"},
	}
	cfg := PlannerConfig{MaxShardSizeBytes: 100, NBits: 8}
	counts, err := EstimateShardCounts(files, cfg)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	for _, n := range counts {
		assert.Equal(t, 2, n)
	}
}

func uidsOf(files []FileToPack) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.UID
	}
	return out
}
