package signature

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saiset-co/sai-dispatch/types"
)

const DateLayout = "2006-01-02"

// Coerce converts a raw request string into the Go value for kind:
// string, int, float64, bool, uuid.UUID or time.Time.
func Coerce(kind Kind, raw string) (interface{}, error) {
	switch kind {
	case KindUnset, KindString, KindPath, KindAny:
		return raw, nil
	case KindInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, invalid(raw, kind)
		}
		return v, nil
	case KindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalid(raw, kind)
		}
		return v, nil
	case KindBool:
		v, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return nil, invalid(raw, kind)
		}
		return v, nil
	case KindUUID:
		v, err := uuid.Parse(raw)
		if err != nil {
			return nil, invalid(raw, kind)
		}
		return v, nil
	case KindDate:
		if v, err := time.Parse(DateLayout, raw); err == nil {
			return v, nil
		}
		if v, err := time.Parse(time.RFC3339, raw); err == nil {
			return v, nil
		}
		return nil, invalid(raw, kind)
	default:
		return nil, types.Errorf(types.ErrParamKindUnknown, "%d", int(kind))
	}
}

func invalid(raw string, kind Kind) error {
	return types.Errorf(types.ErrParamInvalid, "%q is not a valid %s", raw, kind)
}
