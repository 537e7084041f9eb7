package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-dispatch/types"
)

type order struct {
	ID    int    `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// TestRegistryLookup verifies media type parameters and case are ignored.
func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	c, err := r.Get("Application/JSON; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, MediaTypeJSON, c.ContentType())

	c, err = r.Get("text/yaml")
	require.NoError(t, err)
	assert.Equal(t, MediaTypeYAML, c.ContentType())

	c, err = r.Get("")
	require.NoError(t, err)
	assert.Equal(t, MediaTypeJSON, c.ContentType())

	_, err = r.Get("application/msgpack")
	assert.ErrorIs(t, err, types.ErrCodecNotFound)
}

// TestRegistrySetDefault verifies only registered types become the default.
func TestRegistrySetDefault(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.SetDefault("application/yaml"))
	assert.Equal(t, MediaTypeYAML, r.Default().ContentType())

	assert.ErrorIs(t, r.SetDefault("text/csv"), types.ErrCodecNotFound)
}

// TestCodecRoundTrip verifies each codec decodes what it encodes.
func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	for _, c := range []Codec{JSON{}, YAML{}} {
		data, err := c.Encode(order{ID: 7, Label: "seven"})
		require.NoError(t, err)

		var out order
		require.NoError(t, c.Decode(data, &out))
		assert.Equal(t, order{ID: 7, Label: "seven"}, out, c.ContentType())
	}
}

// TestDecodeFailure verifies malformed input wraps the decode sentinel.
func TestDecodeFailure(t *testing.T) {
	t.Parallel()

	var out order
	assert.ErrorIs(t, JSON{}.Decode([]byte("{"), &out), types.ErrCodecDecodeFailed)
	assert.ErrorIs(t, YAML{}.Decode([]byte("id: [unclosed"), &out), types.ErrCodecDecodeFailed)
}
