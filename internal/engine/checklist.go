package engine

import (
	"sort"

	"programline/internal/config"
)

// LaunchReady returns the required launch items not checked in values.
// An empty result means the gate may fire.
func LaunchReady(items []config.ChecklistItem, values map[string]bool) []string {
	var missing []string
	for _, item := range items {
		if item.Required && !values[item.Key] {
			missing = append(missing, item.Key)
		}
	}
	return missing
}

// CompletionReady counts checked configured items against minChecked.
func CompletionReady(items []config.ChecklistItem, values map[string]bool, minChecked int) (int, bool) {
	checked := 0
	for _, item := range items {
		if values[item.Key] {
			checked++
		}
	}
	return checked, checked >= minChecked
}

// normalizeChecklist keeps only configured keys, defaulting absent ones to false.
func normalizeChecklist(items []config.ChecklistItem, values map[string]bool) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item.Key] = values[item.Key]
	}
	return out
}

func unchecked(items []config.ChecklistItem, values map[string]bool) []string {
	var keys []string
	for _, item := range items {
		if !values[item.Key] {
			keys = append(keys, item.Key)
		}
	}
	sort.Strings(keys)
	return keys
}
