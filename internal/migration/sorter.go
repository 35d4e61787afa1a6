package migration

import "sort"

// Sort returns a new slice of migrations sorted by Name in lexicographic order.
// The sort is stable to preserve insertion order for equal names.
func Sort(migrations []Migration) []Migration {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	return sorted
}
