package policy

import (
	"maps"
	"slices"
	"strings"
)

// EnvFile renders config as KEY=value lines sorted by key, one per line.
func EnvFile(config map[string]any) string {
	var b strings.Builder
	for _, key := range slices.Sorted(maps.Keys(config)) {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(stringValue(config[key]))
		b.WriteByte('\n')
	}
	return b.String()
}
