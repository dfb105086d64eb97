// Package locker provides keyed mutual exclusion for the ledger engines.
// Allocation serializes on "product:<id>" and period writes on "period:YYYY-MM".
package locker

import (
	"context"
	"fmt"
	"sort"
)

// Locker acquires every key or none. Keys are taken in sorted order so two
// callers asking for overlapping key sets cannot deadlock each other.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

func ProductKey(productID fmt.Stringer) string {
	return "product:" + productID.String()
}

func PeriodKey(year, month int) string {
	return fmt.Sprintf("period:%04d-%02d", year, month)
}

// normalize returns the sorted, de-duplicated key set.
func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
