package engine

import (
	"sort"

	"github.com/catalogsync/catalogsync/internal/core"
)

// MergeResult is the deduplicated cross-scope collection.
type MergeResult struct {
	Items             []core.RemoteItem
	DuplicatesRemoved int
}

// Merge combines per-scope items by SKU. Scopes are visited in priority
// order and the first occurrence of a SKU wins. Scopes missing from priority
// are visited afterwards in name order.
func Merge(priority []string, perScope map[string][]core.RemoteItem) MergeResult {
	order := mergeOrder(priority, perScope)

	total := 0
	for _, items := range perScope {
		total += len(items)
	}

	result := MergeResult{Items: make([]core.RemoteItem, 0, total)}
	seen := make(map[string]struct{}, total)
	for _, scope := range order {
		for _, item := range perScope[scope] {
			if _, ok := seen[item.SKU]; ok {
				result.DuplicatesRemoved++
				continue
			}
			seen[item.SKU] = struct{}{}
			result.Items = append(result.Items, item)
		}
	}

	return result
}

func mergeOrder(priority []string, perScope map[string][]core.RemoteItem) []string {
	order := make([]string, 0, len(perScope))
	listed := make(map[string]struct{}, len(priority))
	for _, scope := range priority {
		if _, dup := listed[scope]; dup {
			continue
		}
		listed[scope] = struct{}{}
		order = append(order, scope)
	}

	var rest []string
	for scope := range perScope {
		if _, ok := listed[scope]; !ok {
			rest = append(rest, scope)
		}
	}
	sort.Strings(rest)

	return append(order, rest...)
}
