package glob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Matching(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"star within segment", "/w/*.txt", "/w/a.txt", true},
		{"star stops at separator", "/w/*.txt", "/w/sub/a.txt", false},
		{"double star spans segments", "/w/**/*.txt", "/w/a/b/c.txt", true},
		{"double star matches zero segments", "/w/**/*.txt", "/w/c.txt", true},
		{"leading double star", "**/*.log", "/var/log/app.log", true},
		{"trailing double star", "/w/node_modules/**", "/w/node_modules/pkg/index.js", true},
		{"trailing double star other root", "/w/node_modules/**", "/w/src/index.js", false},
		{"embedded double star acts as star", "/w/a**b", "/w/axxb", true},
		{"embedded double star keeps segment", "/w/a**b", "/w/ax/xb", false},
		{"question mark", "/w/?.md", "/w/a.md", true},
		{"question mark needs a char", "/w/?.md", "/w/.md", false},
		{"alternation", "/w/*.{js,ts}", "/w/app.ts", true},
		{"alternation miss", "/w/*.{js,ts}", "/w/app.go", false},
		{"nested alternation", "/w/{a,b{c,d}}.txt", "/w/bd.txt", true},
		{"character class", "/w/file[0-9].txt", "/w/file7.txt", true},
		{"negated class", "/w/file[!0-9].txt", "/w/file7.txt", false},
		{"dot is literal", "/w/*.txt", "/w/atxt", false},
		{"plus is literal", "/w/a+b*", "/w/a+bc", true},
		{"escaped star is literal", `/w/a\*b`, "/w/a*b", true},
		{"escaped star does not wildcard", `/w/a\*b`, "/w/axb", false},
		{"comma outside braces is literal", "/w/a,b*", "/w/a,bc", true},
		{"anchored at start", "*.txt", "x/a.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.pattern, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.MatchString(tt.input), "pattern %q regexp %s", tt.pattern, p.Regexp())
		})
	}
}

func TestCompile_Global(t *testing.T) {
	anchored := MustCompile("*.txt", Options{})
	global := MustCompile("*.txt", Options{Global: true})

	assert.False(t, anchored.MatchString("dir/a.txt"))
	assert.True(t, global.MatchString("dir/a.txt"))
	assert.Equal(t, "*.txt", global.String())
}

func TestCompile_BadPatterns(t *testing.T) {
	for _, pattern := range []string{
		"/w/{a,b",
		"/w/[abc",
		`/w/a\`,
	} {
		t.Run(pattern, func(t *testing.T) {
			p, err := Compile(pattern, Options{})
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrBadPattern)
		})
	}

	assert.Panics(t, func() { MustCompile("/w/[abc", Options{}) })
}

func TestIsGlobLike(t *testing.T) {
	assert.True(t, IsGlobLike("*.txt"))
	assert.True(t, IsGlobLike("/w/?"))
	assert.False(t, IsGlobLike("/w/a.txt"))
	assert.False(t, IsGlobLike("/w/{a,b}"))
}
