package utils

import (
	"fmt"
	"strings"
)

// Truncate shortens s to at most maxLen runes, ending with "..." when cut.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// HumanSize renders a byte count as KB below one megabyte and MB above it,
// with one decimal place.
func HumanSize(n int64) string {
	const mb = 1024 * 1024
	if n > mb {
		return fmt.Sprintf("%.1fMB", float64(n)/mb)
	}
	return fmt.Sprintf("%.1fKB", float64(n)/1024)
}

// FillTemplate replaces every {key} in tmpl with its value.
func FillTemplate(tmpl string, values map[string]string) string {
	if len(values) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
