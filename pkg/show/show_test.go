package show

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLiteral(t *testing.T, name string) Pattern {
	t.Helper()
	p, err := NewLiteral(name)
	require.NoError(t, err)
	return p
}

func mustRegex(t *testing.T, expr string) Pattern {
	t.Helper()
	p, err := NewRegex(expr)
	require.NoError(t, err)
	return p
}

func TestPatternMatches(t *testing.T) {
	t.Run("literal is case insensitive", func(t *testing.T) {
		p := mustLiteral(t, "show a")
		assert.True(t, p.Matches("[TAG] Show A - 05 [720p].mkv"))
		assert.False(t, p.Matches("[TAG] Show B - 05 [720p].mkv"))
	})

	t.Run("literal does not interpret regex syntax", func(t *testing.T) {
		p := mustLiteral(t, "Show (A)")
		assert.True(t, p.Matches("[TAG] show (a) - 01 [720p].mkv"))
		assert.False(t, p.Matches("[TAG] Show A - 01 [720p].mkv"))
	})

	t.Run("regex is case insensitive", func(t *testing.T) {
		p := mustRegex(t, `show (a|c) - \d+`)
		assert.True(t, p.Matches("[TAG] SHOW A - 05 [720p].mkv"))
		assert.True(t, p.Matches("[TAG] Show C - 12 [720p].mkv"))
		assert.False(t, p.Matches("[TAG] Show B - 05 [720p].mkv"))
	})

	t.Run("invalid regex", func(t *testing.T) {
		_, err := NewRegex("show (a")
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewLiteral("  ")
		assert.ErrorIs(t, err, ErrEmptyPattern)
		_, err = NewRegex("")
		assert.ErrorIs(t, err, ErrEmptyPattern)
	})

	t.Run("zero pattern never matches", func(t *testing.T) {
		assert.False(t, Pattern{}.Matches("anything"))
		assert.False(t, Pattern{Kind: Regex, Expr: "x"}.Matches("x"))
	})
}

func TestMatch(t *testing.T) {
	policies := []Policy{
		{DisplayName: "first", Pattern: mustRegex(t, "show")},
		{DisplayName: "second", Pattern: mustLiteral(t, "Show A")},
	}

	p, ok := Match("[TAG] Show A - 01 [720p].mkv", policies)
	require.True(t, ok)
	assert.Equal(t, "first", p.DisplayName)

	_, ok = Match("[TAG] Other - 01 [720p].mkv", policies)
	assert.False(t, ok)

	_, ok = Match("anything", nil)
	assert.False(t, ok)
}

func TestTargetDir(t *testing.T) {
	yes, no := true, false
	complete := "/data/complete"

	assert.Equal(t, complete, TargetDir(nil, complete, true))
	assert.Equal(t, filepath.Join(complete, "Show A"), TargetDir(&Policy{DisplayName: "Show A"}, complete, true))
	assert.Equal(t, complete, TargetDir(&Policy{DisplayName: "Show A"}, complete, false))
	assert.Equal(t, filepath.Join(complete, "Show A"), TargetDir(&Policy{DisplayName: "Show A", AutoArchive: &yes}, complete, false))
	assert.Equal(t, complete, TargetDir(&Policy{DisplayName: "Show A", AutoArchive: &no}, complete, true))
}

func TestFromRaw(t *testing.T) {
	t.Run("plain name", func(t *testing.T) {
		p, err := FromRaw("Show A")
		require.NoError(t, err)
		assert.Equal(t, "Show A", p.DisplayName)
		assert.Equal(t, Literal, p.Pattern.Kind)
		assert.Nil(t, p.AutoArchive)
	})

	t.Run("map with regex pattern", func(t *testing.T) {
		p, err := FromRaw(map[string]any{
			"name":     "Show A",
			"pattern":  "show a - ",
			"start":    3,
			"automove": true,
		})
		require.NoError(t, err)
		assert.Equal(t, "Show A", p.DisplayName)
		assert.Equal(t, Regex, p.Pattern.Kind)
		assert.Equal(t, 3, p.StartEpisode)
		require.NotNil(t, p.AutoArchive)
		assert.True(t, *p.AutoArchive)
		assert.True(t, p.Pattern.Matches("[TAG] Show A - 05 [720p].mkv"))
	})

	t.Run("nested literal pattern", func(t *testing.T) {
		p, err := FromRaw(map[any]any{
			"name":    "Weird",
			"pattern": map[any]any{"literal": "Show (A)"},
			"start":   "2",
		})
		require.NoError(t, err)
		assert.Equal(t, Literal, p.Pattern.Kind)
		assert.Equal(t, 2, p.StartEpisode)
	})

	t.Run("map without pattern uses name", func(t *testing.T) {
		p, err := FromRaw(map[string]any{"name": "Show A", "autoArchive": "false"})
		require.NoError(t, err)
		assert.Equal(t, Literal, p.Pattern.Kind)
		assert.Equal(t, "Show A", p.Pattern.Expr)
		require.NotNil(t, p.AutoArchive)
		assert.False(t, *p.AutoArchive)
	})

	t.Run("regex without name", func(t *testing.T) {
		p, err := FromRaw(map[string]any{"pattern": "show a"})
		require.NoError(t, err)
		assert.Equal(t, "show a", p.DisplayName)
	})

	t.Run("invalid entries", func(t *testing.T) {
		_, err := FromRaw(42)
		assert.Error(t, err)

		_, err = FromRaw(map[string]any{"name": "x", "pattern": "("})
		assert.Error(t, err)

		_, err = FromRaw(map[string]any{"pattern": map[string]any{"other": "x"}})
		assert.Error(t, err)

		_, err = FromRaw(map[string]any{"name": "x", "start": []int{1}})
		assert.Error(t, err)
	})

	t.Run("list keeps declaration order", func(t *testing.T) {
		policies, err := FromRawList([]any{"B", "A"})
		require.NoError(t, err)
		require.Len(t, policies, 2)
		assert.Equal(t, "B", policies[0].DisplayName)
		assert.Equal(t, "A", policies[1].DisplayName)

		_, err = FromRawList([]any{"ok", 1})
		assert.Error(t, err)
	})
}
