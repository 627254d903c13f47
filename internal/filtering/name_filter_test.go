package filtering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileFilter_ShouldInclude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		include    []string
		exclude    []string
		suffixes   []string
		file       string
		want       bool
		wantReason string
	}{
		{
			name:       "no_patterns_image",
			file:       "page_003.jpg",
			want:       true,
			wantReason: "no name filters specified",
		},
		{
			name:       "suffix_is_case_insensitive",
			file:       "SCAN_01.TIFF",
			want:       true,
			wantReason: "no name filters specified",
		},
		{
			name:       "not_an_image",
			file:       "notes.txt",
			want:       false,
			wantReason: "suffix '.txt' is not an accepted image type",
		},
		{
			name:       "no_extension",
			file:       "README",
			want:       false,
			wantReason: "suffix '' is not an accepted image type",
		},
		{
			name:       "include_match",
			include:    []string{"page_*"},
			file:       "page_010.png",
			want:       true,
			wantReason: "included by pattern 'page_*'",
		},
		{
			name:       "include_miss",
			include:    []string{"page_*"},
			file:       "cover.png",
			want:       false,
			wantReason: "no match found in include patterns",
		},
		{
			name:       "exclude_takes_precedence",
			include:    []string{"page_*"},
			exclude:    []string{"*_draft.*"},
			file:       "page_004_draft.jpg",
			want:       false,
			wantReason: "excluded by pattern '*_draft.*'",
		},
		{
			name:       "only_exclude_no_match",
			exclude:    []string{"*_draft.*"},
			file:       "page_004.webp",
			want:       true,
			wantReason: "no match in exclude patterns",
		},
		{
			name:       "star_matches_across_slash",
			include:    []string{"batch-7*"},
			file:       "batch-7/page_001.bmp",
			want:       true,
			wantReason: "included by pattern 'batch-7*'",
		},
		{
			name:       "custom_suffixes",
			suffixes:   []string{"pdf"},
			file:       "doc.PDF",
			want:       true,
			wantReason: "no name filters specified",
		},
		{
			name:     "custom_suffixes_reject_images",
			suffixes: []string{".pdf"},
			file:     "page_001.jpg",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := NewFileFilter(tt.include, tt.exclude, tt.suffixes)
			require.NoError(t, err)

			got, reason := f.ShouldInclude(tt.file)
			assert.Equal(t, tt.want, got)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

func TestNewFileFilter_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := NewFileFilter([]string{"page_[.jpg"}, nil, nil)
	require.ErrorContains(t, err, "invalid include pattern")

	_, err = NewFileFilter(nil, []string{"[z-a"}, nil)
	require.ErrorContains(t, err, "invalid exclude pattern")
}
