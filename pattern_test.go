package weft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePatternExactLiteral(t *testing.T) {
	p, err := CompilePattern("/users", PatternOptions{End: true})
	require.NoError(t, err)

	mr := p.Match("/users")
	require.NotNil(t, mr)
	assert.Empty(t, mr.Params)

	assert.Nil(t, p.Match("/users/1"))
}

func TestCompilePatternRequiredParam(t *testing.T) {
	p, err := CompilePattern("/users/:id", PatternOptions{End: true})
	require.NoError(t, err)

	mr := p.Match("/users/42")
	require.NotNil(t, mr)
	assert.Equal(t, "42", mr.Params["id"])

	assert.Nil(t, p.Match("/users"))
	assert.Nil(t, p.Match("/users/"))
}

func TestCompilePatternOptionalParam(t *testing.T) {
	p, err := CompilePattern("/users/:id?", PatternOptions{End: true})
	require.NoError(t, err)

	mr := p.Match("/users")
	require.NotNil(t, mr)
	_, present := mr.Params["id"]
	assert.False(t, present)

	mr = p.Match("/users/42")
	require.NotNil(t, mr)
	assert.Equal(t, "42", mr.Params["id"])
}

func TestCompilePatternWildcard(t *testing.T) {
	p, err := CompilePattern("/files/*", PatternOptions{End: true})
	require.NoError(t, err)

	mr := p.Match("/files/a/b/c.txt")
	require.NotNil(t, mr)
	assert.Equal(t, "a/b/c.txt", mr.Params["0"])
}

func TestCompilePatternMultipleWildcardsNumberedInOrder(t *testing.T) {
	p, err := CompilePattern("/files/*/archive/*", PatternOptions{End: true})
	require.NoError(t, err)

	mr := p.Match("/files/a/b/archive/c/d.txt")
	require.NotNil(t, mr)
	assert.Equal(t, "a/b", mr.Params["0"])
	assert.Equal(t, "c/d.txt", mr.Params["1"])
}

func TestCompilePatternAdjacentOptionalsRejected(t *testing.T) {
	_, err := CompilePattern("/:a?/:b?", PatternOptions{End: true})
	require.Error(t, err)
}

func TestCompilePatternPrefixMode(t *testing.T) {
	p, err := CompilePattern("/admin", PatternOptions{End: false})
	require.NoError(t, err)

	mr := p.Match("/admin/users")
	require.NotNil(t, mr)
	assert.Equal(t, "/admin", mr.MatchedPrefix)

	assert.Nil(t, p.Match("/adminx"))
}

func TestCompilePatternRootPrefixMatchesEverything(t *testing.T) {
	p, err := CompilePattern("/", PatternOptions{End: false})
	require.NoError(t, err)

	for _, path := range []string{"/", "/a", "/a/b/c"} {
		mr := p.Match(path)
		require.NotNil(t, mr)
		assert.Empty(t, mr.MatchedPrefix)
	}
}

func TestCompilePatternCaseSensitivity(t *testing.T) {
	insensitive, err := CompilePattern("/Users", PatternOptions{End: true})
	require.NoError(t, err)
	assert.NotNil(t, insensitive.Match("/users"))

	sensitive, err := CompilePattern("/Users", PatternOptions{End: true, Sensitive: true})
	require.NoError(t, err)
	assert.Nil(t, sensitive.Match("/users"))
}

func TestCompilePatternStrictTrailingSlash(t *testing.T) {
	lenient, err := CompilePattern("/users", PatternOptions{End: true})
	require.NoError(t, err)
	assert.NotNil(t, lenient.Match("/users/"))

	strict, err := CompilePattern("/users", PatternOptions{End: true, Strict: true})
	require.NoError(t, err)
	assert.Nil(t, strict.Match("/users/"))
}
