package filtering

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultImageSuffixes are the extensions the OCR executor accepts.
var DefaultImageSuffixes = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tif", ".tiff"}

// NameFilter decides whether a file name is a work unit.
type NameFilter interface {
	// ShouldInclude returns whether name is a candidate and why.
	ShouldInclude(name string) (bool, string)
}

type compiledPattern struct {
	source string
	glob   glob.Glob
}

// FileFilter is a NameFilter with precompiled patterns.
type FileFilter struct {
	include  []compiledPattern
	exclude  []compiledPattern
	suffixes map[string]struct{}
}

var _ NameFilter = (*FileFilter)(nil)

// NewFileFilter compiles include and exclude patterns. A nil suffixes slice
// means DefaultImageSuffixes.
func NewFileFilter(include, exclude, suffixes []string) (*FileFilter, error) {
	inc, err := compileAll(include)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	exc, err := compileAll(exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}

	if suffixes == nil {
		suffixes = DefaultImageSuffixes
	}
	set := make(map[string]struct{}, len(suffixes))
	for _, s := range suffixes {
		s = strings.ToLower(s)
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		set[s] = struct{}{}
	}

	return &FileFilter{include: inc, exclude: exc, suffixes: set}, nil
}

func compileAll(patterns []string) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		// filepath.Match catches malformed classes that glob accepts.
		if _, err := filepath.Match(pattern, "test"); err != nil {
			return nil, fmt.Errorf("'%s': %w", pattern, err)
		}
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("'%s': %w", pattern, err)
		}
		out = append(out, compiledPattern{source: pattern, glob: compiled})
	}
	return out, nil
}

// ShouldInclude implements NameFilter.
func (f *FileFilter) ShouldInclude(name string) (bool, string) {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := f.suffixes[ext]; !ok {
		return false, fmt.Sprintf("suffix '%s' is not an accepted image type", ext)
	}

	for _, p := range f.exclude {
		if p.glob.Match(name) {
			return false, fmt.Sprintf("excluded by pattern '%s'", p.source)
		}
	}

	if len(f.include) > 0 {
		for _, p := range f.include {
			if p.glob.Match(name) {
				return true, fmt.Sprintf("included by pattern '%s'", p.source)
			}
		}
		return false, "no match found in include patterns"
	}

	if len(f.exclude) > 0 {
		return true, "no match in exclude patterns"
	}
	return true, "no name filters specified"
}
