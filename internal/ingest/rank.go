package ingest

import (
	"sort"

	"engineroom/internal/types"
)

// AssignUsageRanks fills in missing usage ranks (rank 0) by splitting the
// item set into six usage-ordered buckets: the highest-usage sixth gets rank 1
// and so on down to rank 6. Rows that arrived with an explicit rank keep it,
// clamped into [1,6].
func AssignUsageRanks(items []types.Item) {
	var missing []int
	for i := range items {
		switch {
		case items[i].UsageRank < 1:
			missing = append(missing, i)
		case items[i].UsageRank > 6:
			items[i].UsageRank = 6
		}
	}
	if len(missing) == 0 {
		return
	}

	sort.SliceStable(missing, func(a, b int) bool {
		return items[missing[a]].Usage > items[missing[b]].Usage
	})
	bucket := (len(missing) + 5) / 6
	for pos, idx := range missing {
		rank := pos/bucket + 1
		if rank > 6 {
			rank = 6
		}
		items[idx].UsageRank = rank
	}
}
