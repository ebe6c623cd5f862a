package show

import (
	"context"
	"fmt"
	"sort"
)

// Leaderboard ranks every registered item by quantized judge average,
// highest first. Items nobody scored come last and ties go to the newer
// item.
func (e *Engine) Leaderboard(ctx context.Context) ([]Standing, error) {
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	out := make([]Standing, 0, len(items))
	for _, it := range items {
		sum, err := e.judgeSummary(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Standing{Item: it, Average: sum.Average, VoteCount: sum.Count, Distribution: sum.Distribution})
	}
	sort.SliceStable(out, func(i, j int) bool { return rankedBefore(out[i], out[j]) })
	return out, nil
}

func rankedBefore(a, b Standing) bool {
	switch {
	case a.Average == nil && b.Average == nil:
	case a.Average == nil:
		return false
	case b.Average == nil:
		return true
	case *a.Average != *b.Average:
		return *a.Average > *b.Average
	}
	return a.Item.CreatedAt.After(b.Item.CreatedAt)
}
