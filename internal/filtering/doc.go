// Package filtering decides which files in a source directory are work units.
//
// A file is a candidate when its extension is one of the allowed image
// suffixes and it passes the include and exclude glob patterns. Patterns are
// compiled once with gobwas/glob, so '*' also matches across '/'.
//
// # Filtering Logic
//
//  1. The file name must end in an allowed suffix (case-insensitive).
//  2. If exclude patterns are specified and match -> exclude (precedence)
//  3. If include patterns are specified and match -> include
//  4. If include patterns are specified but no match -> exclude
//  5. Otherwise -> include
//
// # Usage Example
//
//	filter, err := NewFileFilter([]string{"page_*"}, []string{"*_draft.*"}, nil)
//	if err != nil {
//		return err
//	}
//	ok, reason := filter.ShouldInclude("page_003.jpg")
package filtering
