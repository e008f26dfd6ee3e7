package models

import "unicode/utf8"

// TruncateUTF8 cuts s to at most max bytes without splitting a multi-byte
// code point. The result always decodes cleanly.
func TruncateUTF8(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
