package server

import (
	"strings"

	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

type SegmentKind uint8

const (
	SegmentLiteral SegmentKind = iota
	SegmentParam
	SegmentWildcard
)

type Segment struct {
	Kind  SegmentKind
	Value string
	Type  signature.Kind
}

func (s Segment) String() string {
	switch s.Kind {
	case SegmentParam:
		return "{" + s.Value + ":" + s.Type.String() + "}"
	case SegmentWildcard:
		if s.Value == signature.WildcardParam {
			return "*"
		}
		return "{" + s.Value + ":path}"
	default:
		return s.Value
	}
}

// Template is a parsed path template such as /users/{user_id:int}.
type Template struct {
	raw      string
	segments []Segment
	params   map[string]signature.Kind
}

// ParseTemplate accepts literal segments, {name}, {name:type}, the legacy
// :name form and a trailing * or {name:path} remainder.
func ParseTemplate(path string) (*Template, error) {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	t := &Template{params: make(map[string]signature.Kind)}
	parts := splitPath(path)

	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, types.Errorf(types.ErrRouteInvalidTemplate, "%s: %v", path, err)
		}

		if seg.Kind == SegmentWildcard && i != len(parts)-1 {
			return nil, types.Errorf(types.ErrRouteInvalidTemplate, "%s: remainder segment %q must be last", path, part)
		}

		if seg.Kind != SegmentLiteral {
			if _, dup := t.params[seg.Value]; dup {
				return nil, types.Errorf(types.ErrRouteInvalidTemplate, "%s: parameter %q declared twice", path, seg.Value)
			}
			t.params[seg.Value] = seg.Type
		}

		t.segments = append(t.segments, seg)
	}

	t.raw = t.render()
	return t, nil
}

func MustParseTemplate(path string) *Template {
	t, err := ParseTemplate(path)
	if err != nil {
		panic(err)
	}
	return t
}

func parseSegment(part string) (Segment, error) {
	switch {
	case part == "*":
		return Segment{Kind: SegmentWildcard, Value: signature.WildcardParam, Type: signature.KindPath}, nil

	case part[0] == ':':
		name := part[1:]
		if !validName(name) {
			return Segment{}, types.Errorf(types.ErrInvalidParameter, "invalid parameter %q", part)
		}
		return Segment{Kind: SegmentParam, Value: name, Type: signature.KindString}, nil

	case part[0] == '{':
		if part[len(part)-1] != '}' {
			return Segment{}, types.Errorf(types.ErrInvalidParameter, "unterminated parameter %q", part)
		}
		body := part[1 : len(part)-1]
		name, typeName, _ := strings.Cut(body, ":")
		if !validName(name) {
			return Segment{}, types.Errorf(types.ErrInvalidParameter, "invalid parameter %q", part)
		}
		kind, err := signature.ParseKind(typeName)
		if err != nil {
			return Segment{}, err
		}
		if kind == signature.KindPath {
			return Segment{Kind: SegmentWildcard, Value: name, Type: kind}, nil
		}
		return Segment{Kind: SegmentParam, Value: name, Type: kind}, nil

	case strings.ContainsAny(part, "{}"):
		return Segment{}, types.Errorf(types.ErrInvalidParameter, "unexpected brace in %q", part)

	default:
		return Segment{Kind: SegmentLiteral, Value: part}, nil
	}
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func (t *Template) render() string {
	if len(t.segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range t.segments {
		b.WriteByte('/')
		b.WriteString(seg.String())
	}
	return b.String()
}

func (t *Template) String() string {
	return t.raw
}

func (t *Template) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Params returns the declared parameter kinds by name.
func (t *Template) Params() map[string]signature.Kind {
	out := make(map[string]signature.Kind, len(t.params))
	for k, v := range t.params {
		out[k] = v
	}
	return out
}

// JoinPaths concatenates scope prefixes into one path.
func JoinPaths(parts ...string) string {
	var segments []string
	for _, part := range parts {
		segments = append(segments, splitPath(part)...)
	}
	return "/" + strings.Join(segments, "/")
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}
