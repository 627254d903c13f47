package db

import (
	"strings"
	"unicode/utf8"
)

// CleanText makes s storable in a Postgres text column: invalid UTF-8 is
// replaced with U+FFFD and NUL bytes are dropped.
func CleanText(s string) string {
	if utf8.ValidString(s) && strings.IndexByte(s, 0) < 0 {
		return s
	}
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	return strings.ReplaceAll(s, "\x00", "")
}

// CleanTextPtr is CleanText for nullable columns.
func CleanTextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	clean := CleanText(*s)
	return &clean
}
