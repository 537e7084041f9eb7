package dispatch

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-dispatch/codec"
	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// binder is the per-request value source for everything a signature reads
// straight from the request.
type binder struct {
	ctx      *types.RequestCtx
	codecs   *codec.Registry
	validate *validator.Validate
}

func (b *binder) Value(_ context.Context, p signature.Param) (interface{}, error) {
	switch p.Source {
	case signature.SourcePath:
		v, ok := b.ctx.PathParam(p.Name)
		if !ok {
			return b.missing(p, signature.SourcePath)
		}
		if raw, isString := v.(string); isString && p.Kind.Scalar() && p.Kind != signature.KindString && p.Kind != signature.KindPath {
			return b.coerce(p, raw)
		}
		return v, nil

	case signature.SourceQuery:
		raw := b.ctx.QueryArgs().Peek(p.WireKey())
		if raw == nil {
			return b.missing(p, p.Source)
		}
		return b.coerce(p, string(raw))

	case signature.SourceHeader:
		raw := b.ctx.Request.Header.Peek(p.WireKey())
		if raw == nil {
			return b.missing(p, p.Source)
		}
		return b.coerce(p, string(raw))

	case signature.SourceCookie:
		raw := b.ctx.Request.Header.Cookie(p.WireKey())
		if raw == nil {
			return b.missing(p, p.Source)
		}
		return b.coerce(p, string(raw))

	case signature.SourceBody:
		return b.body(p)

	case signature.SourceRequest:
		return b.ctx, nil

	case signature.SourceState:
		return b.ctx.State(), nil

	case signature.SourceHeaders:
		headers := make(map[string]string)
		b.ctx.Request.Header.VisitAll(func(key, value []byte) {
			headers[string(key)] = string(value)
		})
		return headers, nil

	case signature.SourceCookies:
		cookies := make(map[string]string)
		b.ctx.Request.Header.VisitAllCookie(func(key, value []byte) {
			cookies[string(key)] = string(value)
		})
		return cookies, nil

	case signature.SourceQueryMap:
		query := make(map[string][]string)
		b.ctx.QueryArgs().VisitAll(func(key, value []byte) {
			query[string(key)] = append(query[string(key)], string(value))
		})
		return query, nil

	default:
		return nil, types.NewConfigurationError(types.ErrSignatureInvalid, "parameter %q has unresolved source %s", p.Name, p.Source)
	}
}

func (b *binder) coerce(p signature.Param, raw string) (interface{}, error) {
	v, err := signature.Coerce(p.Kind, raw)
	if err != nil {
		return nil, types.NewValidationError(err, p.WireKey())
	}
	return v, nil
}

func (b *binder) missing(p signature.Param, source signature.Source) (interface{}, error) {
	if !p.Required {
		return p.Default, nil
	}
	return nil, types.NewValidationError(types.Errorf(types.ErrParamMissing, "%s parameter %q", source, p.WireKey()), p.WireKey())
}

// body decodes the payload with the codec named by Content-Type and runs
// struct validation on the result.
func (b *binder) body(p signature.Param) (interface{}, error) {
	payload := b.ctx.PostBody()
	if len(payload) == 0 {
		return b.missing(p, signature.SourceBody)
	}

	c, err := b.codecs.Get(string(b.ctx.Request.Header.ContentType()))
	if err != nil {
		return nil, types.NewHTTPError(fasthttp.StatusUnsupportedMediaType, "unsupported request media type")
	}

	if p.Type == nil {
		var v interface{}
		if err := c.Decode(payload, &v); err != nil {
			return nil, types.NewValidationError(err, p.Name)
		}
		return v, nil
	}

	target := reflect.New(p.Type)
	if err := c.Decode(payload, target.Interface()); err != nil {
		return nil, types.NewValidationError(err, p.Name)
	}

	if p.Type.Kind() == reflect.Struct {
		if err := b.validate.Struct(target.Interface()); err != nil {
			return nil, validationError(p.Name, err)
		}
	}

	return target.Interface(), nil
}

func validationError(name string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewValidationError(err, name)
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, name+"."+fe.Field())
	}
	return types.NewValidationError(types.Errorf(types.ErrParamInvalid, "%v", err), fields...)
}
