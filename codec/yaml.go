package codec

import (
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-dispatch/types"
)

type YAML struct{}

func (YAML) ContentType() string { return MediaTypeYAML }

func (YAML) Encode(v interface{}) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, types.Errorf(types.ErrCodecEncodeFailed, "yaml: %v", err)
	}
	return data, nil
}

func (YAML) Decode(data []byte, target interface{}) error {
	if err := yaml.Unmarshal(data, target); err != nil {
		return types.Errorf(types.ErrCodecDecodeFailed, "yaml: %v", err)
	}
	return nil
}
