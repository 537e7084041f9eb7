package codec

import (
	"mime"
	"strings"
	"sync"

	"github.com/saiset-co/sai-dispatch/types"
)

const (
	MediaTypeJSON = "application/json"
	MediaTypeYAML = "application/x-yaml"
)

// Codec turns response values into bytes for one media type and request
// bodies back into values.
type Codec interface {
	ContentType() string
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, target interface{}) error
}

// Registry maps media types to codecs. It is filled during build and read
// concurrently afterwards.
type Registry struct {
	mu          sync.RWMutex
	codecs      map[string]Codec
	defaultType string
}

// NewRegistry returns a registry with JSON as the default and YAML registered.
func NewRegistry() *Registry {
	r := &Registry{
		codecs:      make(map[string]Codec),
		defaultType: MediaTypeJSON,
	}
	r.Register(JSON{})
	r.Register(YAML{})
	r.alias("application/yaml", YAML{})
	r.alias("text/yaml", YAML{})
	return r
}

func (r *Registry) Register(c Codec) {
	r.alias(c.ContentType(), c)
}

func (r *Registry) alias(mediaType string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[Normalize(mediaType)] = c
}

// SetDefault changes the media type used when none is declared.
func (r *Registry) SetDefault(mediaType string) error {
	if _, err := r.Get(mediaType); err != nil {
		return err
	}
	r.mu.Lock()
	r.defaultType = Normalize(mediaType)
	r.mu.Unlock()
	return nil
}

func (r *Registry) Default() Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codecs[r.defaultType]
}

// Get finds the codec for a media type; parameters such as charset are ignored.
func (r *Registry) Get(mediaType string) (Codec, error) {
	if mediaType == "" {
		return r.Default(), nil
	}

	r.mu.RLock()
	c, ok := r.codecs[Normalize(mediaType)]
	r.mu.RUnlock()

	if !ok {
		return nil, types.Errorf(types.ErrCodecNotFound, "media type %q", mediaType)
	}
	return c, nil
}

func (r *Registry) MediaTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.codecs))
	for mt := range r.codecs {
		out = append(out, mt)
	}
	return out
}

func Normalize(mediaType string) string {
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
