package ytid

import (
	"testing"

	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_TokenAnywhere(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare id", input: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "bare id with spaces", input: "  dQw4w9WgXcQ ", want: "dQw4w9WgXcQ"},
		{name: "watch url", input: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "watch url with extra params", input: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", want: "dQw4w9WgXcQ"},
		{name: "short link", input: "https://youtu.be/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "shorts", input: "https://youtube.com/shorts/a_b-c1234XY", want: "a_b-c1234XY"},
		{name: "embedded in prose", input: "please dub dQw4w9WgXcQ today", want: "dQw4w9WgXcQ"},
		{name: "mobile url", input: "https://m.youtube.com/watch?v=-_abcdefghi", want: "-_abcdefghi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, Length)
		})
	}
}

func TestExtract_URLShapesWithoutLongToken(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "watch query", input: "https://youtube.com/watch?v=abc123", want: "abc123"},
		{name: "short link", input: "https://youtu.be/xyz", want: "xyz"},
		{name: "short link trailing segment", input: "https://youtu.be/xyz/", want: "xyz"},
		{name: "embed", input: "https://youtube.com/embed/e1", want: "e1"},
		{name: "live", input: "https://youtube.com/live/l1?feature=x", want: "l1"},
		{name: "shorts", input: "https://youtube.com/shorts/s1", want: "s1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not a video",
		"https://vimeo.com/123",
		"https://youtube.com/",
		"https://youtu.be/",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Extract(in)
			require.Error(t, err)
			assert.True(t, domain.IsCode(err, domain.CodeInvalidIdentifier))
		})
	}
}

func TestExtract_Deterministic(t *testing.T) {
	in := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	first, err := Extract(in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Extract(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
