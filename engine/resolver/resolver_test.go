package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidspace/sqs/engine/core"
	"github.com/squidspace/sqs/engine/filter"
)

func chainOf(names ...string) []any {
	out := make([]any, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]any{"filter": n})
	}
	return out
}

func TestLayers(t *testing.T) {
	t.Run("Should let later layers override earlier keys", func(t *testing.T) {
		r, err := New(
			map[string]any{KeyOutDir: "build/", "texture-dir": "assets/textures/"},
			map[string]any{KeyOutDir: "dist/"},
			nil,
			map[string]any{"texture-dir": "tex/"},
		)
		require.NoError(t, err)
		assert.Equal(t, "dist/", r.String(KeyOutDir, ""))
		assert.Equal(t, "tex/", r.String("texture-dir", ""))
		assert.Equal(t, "fallback", r.String("missing", "fallback"))
	})

	t.Run("Should not mutate the receiver when layering", func(t *testing.T) {
		base, err := New(map[string]any{KeyOutDir: "build/"})
		require.NoError(t, err)
		_, err = base.With(map[string]any{KeyOutDir: "other/"})
		require.NoError(t, err)
		assert.Equal(t, "build/", base.String(KeyOutDir, ""))
	})

	t.Run("Should merge filter profiles by name", func(t *testing.T) {
		r, err := New(
			map[string]any{KeyFilterProfiles: map[string]any{
				"textures": chainOf("shellexec"),
				"models":   chainOf("cleanbabylon"),
			}},
			map[string]any{KeyFilterProfiles: map[string]any{
				"textures": chainOf("merge"),
				"docs":     chainOf("merge", "shellexec"),
			}},
		)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"textures", "models", "docs"}, r.Profiles())
		chain, err := r.Profile("textures")
		require.NoError(t, err)
		assert.Equal(t, filter.Chain{{Name: "merge"}}, chain)
		chain, err = r.Profile("models")
		require.NoError(t, err)
		assert.Equal(t, filter.Chain{{Name: "cleanbabylon"}}, chain)
	})

	t.Run("Should reject filter-profiles that are not tables", func(t *testing.T) {
		_, err := New(map[string]any{KeyFilterProfiles: []any{"x"}})
		require.Error(t, err)
		assert.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))
	})

	t.Run("Should return a copy of the merged values", func(t *testing.T) {
		r, err := New(map[string]any{"nested": map[string]any{"a": 1}})
		require.NoError(t, err)
		vals := r.Values()
		vals["nested"].(map[string]any)["a"] = 2
		v, _ := r.Value("nested")
		assert.Equal(t, 1, v.(map[string]any)["a"])
	})
}

func TestChain(t *testing.T) {
	r, err := New(map[string]any{KeyFilterProfiles: map[string]any{
		"profile": chainOf("merge"),
	}})
	require.NoError(t, err)

	t.Run("Should prefer the inline chain over a profile", func(t *testing.T) {
		chain, err := r.Chain(chainOf("shellexec"), "profile")
		require.NoError(t, err)
		assert.Equal(t, filter.Chain{{Name: "shellexec"}}, chain)
	})

	t.Run("Should fall back to the named profile", func(t *testing.T) {
		chain, err := r.Chain(nil, "profile")
		require.NoError(t, err)
		assert.Equal(t, filter.Chain{{Name: "merge"}}, chain)
	})

	t.Run("Should return the identity chain when neither is given", func(t *testing.T) {
		chain, err := r.Chain(nil, "")
		require.NoError(t, err)
		assert.Nil(t, chain)
	})

	t.Run("Should report unknown profiles", func(t *testing.T) {
		_, err := r.Chain(nil, "nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrProfileNotFound))
	})

	t.Run("Should hand out chains that do not alias the configuration", func(t *testing.T) {
		withOpts, err := New(map[string]any{KeyFilterProfiles: map[string]any{
			"p": []any{map[string]any{"filter": "merge", "options": map[string]any{"out-name": "a"}}},
		}})
		require.NoError(t, err)
		first, err := withOpts.Profile("p")
		require.NoError(t, err)
		first[0].Options["out-name"] = "changed"
		second, err := withOpts.Profile("p")
		require.NoError(t, err)
		assert.Equal(t, "a", second[0].Options["out-name"])
	})

	t.Run("Should read chains from cache options", func(t *testing.T) {
		chain, err := r.ChainFor(map[string]any{KeyFilterProfile: "profile"})
		require.NoError(t, err)
		assert.Equal(t, filter.Chain{{Name: "merge"}}, chain)
		chain, err = r.ChainFor(map[string]any{KeyFilters: chainOf("cleanbabylon")})
		require.NoError(t, err)
		assert.Equal(t, filter.Chain{{Name: "cleanbabylon"}}, chain)
		_, err = r.ChainFor(map[string]any{KeyFilterProfile: 7})
		assert.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))
	})
}
