package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnorePatterns_Match(t *testing.T) {
	ip := NewIgnorePatterns(
		"# comment",
		"",
		"*.log",
		"!keep.log",
		"/build/",
		"tmp/",
		"**/node_modules/**",
		"docs/*.md",
	)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"app.log", false, true},
		{"sub/app.log", false, true},
		{"keep.log", false, false},
		{"build", true, true},
		{"build/out.bin", false, true},
		{"build", false, false},
		{"src/build", true, false},
		{"tmp", true, true},
		{"tmp", false, false},
		{"a/tmp/x.go", false, true},
		{"a/node_modules/b/c.js", false, true},
		{"node_modules", true, true},
		{"docs/readme.md", false, true},
		{"x/docs/readme.md", false, true},
		{"docs/sub/readme.md", false, false},
		{"main.go", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ip.Match(tt.path, "", tt.isDir))
		})
	}
}

func TestIgnorePatterns_Relative(t *testing.T) {
	ip := NewIgnorePatterns("/vendor/")
	assert.True(t, ip.Match("/repo/vendor/x.go", "/repo", false))
	assert.False(t, ip.Match("/repo/src/vendor/x.go", "/repo", false))
}

func TestIgnorePatterns_Patterns(t *testing.T) {
	ip := NewIgnorePatterns("a", "  ", "!b/")
	assert.Equal(t, []string{"a", "!b/"}, ip.Patterns())
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Op(0).String())
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/a/b", "/a/b"))
	assert.True(t, within("/a/b/c", "/a/b"))
	assert.True(t, within("/a/b/c", "/a/b/"))
	assert.False(t, within("/a/bc", "/a/b"))
}
