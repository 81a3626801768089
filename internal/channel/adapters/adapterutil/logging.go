// Package adapterutil holds helpers shared by the channel adapters.
package adapterutil

import "strings"

const previewRunes = 120

// SummarizeText returns a one-line log preview of text: whitespace runs
// collapse to single spaces and the result is cut to 120 runes.
func SummarizeText(text string) string {
	value := strings.Join(strings.Fields(text), " ")
	runes := []rune(value)
	if len(runes) <= previewRunes {
		return value
	}
	return string(runes[:previewRunes]) + "..."
}
