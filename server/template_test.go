package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

// TestParseTemplateSyntax verifies every accepted segment form.
func TestParseTemplateSyntax(t *testing.T) {
	t.Parallel()

	tpl, err := ParseTemplate("/users/{user_id:int}/files/:name/{rest:path}")
	require.NoError(t, err)

	assert.Equal(t, "/users/{user_id:int}/files/{name:str}/{rest:path}", tpl.String())
	assert.Equal(t, map[string]signature.Kind{
		"user_id": signature.KindInt,
		"name":    signature.KindString,
		"rest":    signature.KindPath,
	}, tpl.Params())

	segments := tpl.Segments()
	require.Len(t, segments, 5)
	assert.Equal(t, SegmentLiteral, segments[0].Kind)
	assert.Equal(t, SegmentParam, segments[1].Kind)
	assert.Equal(t, SegmentWildcard, segments[4].Kind)
}

// TestParseTemplateDefaults verifies untyped parameters, bare wildcards and slash normalization.
func TestParseTemplateDefaults(t *testing.T) {
	t.Parallel()

	tpl, err := ParseTemplate("static//{name}/*/")
	require.NoError(t, err)
	assert.Equal(t, "/static/{name:str}/*", tpl.String())
	assert.Equal(t, signature.KindPath, tpl.Params()[signature.WildcardParam])

	root, err := ParseTemplate("/")
	require.NoError(t, err)
	assert.Equal(t, "/", root.String())
	assert.Empty(t, root.Segments())
}

// TestParseTemplateRejects verifies malformed templates are configuration errors.
func TestParseTemplateRejects(t *testing.T) {
	t.Parallel()

	for _, path := range []string{
		"/a/{id:int",
		"/a/{:int}",
		"/a/{id:color}",
		"/a/*/b",
		"/a/{id}/{id:int}",
		"/a/x{id}",
		"/a/:",
	} {
		_, err := ParseTemplate(path)
		assert.ErrorIs(t, err, types.ErrRouteInvalidTemplate, path)
	}
}

// TestJoinPaths verifies scope prefixes combine into one normalized path.
func TestJoinPaths(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/api/v1/users/{id}", JoinPaths("/api/", "v1", "/users/{id}"))
	assert.Equal(t, "/", JoinPaths("", "/"))
}
