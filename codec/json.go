package codec

import (
	"github.com/bytedance/sonic"

	"github.com/saiset-co/sai-dispatch/types"
)

type JSON struct{}

func (JSON) ContentType() string { return MediaTypeJSON }

func (JSON) Encode(v interface{}) ([]byte, error) {
	data, err := sonic.ConfigDefault.Marshal(v)
	if err != nil {
		return nil, types.Errorf(types.ErrCodecEncodeFailed, "json: %v", err)
	}
	return data, nil
}

func (JSON) Decode(data []byte, target interface{}) error {
	if err := sonic.ConfigDefault.Unmarshal(data, target); err != nil {
		return types.Errorf(types.ErrCodecDecodeFailed, "json: %v", err)
	}
	return nil
}
