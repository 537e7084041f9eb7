package types

import "github.com/valyala/fasthttp"

// Response is a handler result that is already response-shaped. Body is
// encoded with the route codec unless it is []byte or string.
type Response struct {
	Status      int
	Body        interface{}
	ContentType string
	Headers     map[string]string
	Cookies     []*fasthttp.Cookie
}

func NewResponse(status int, body interface{}) *Response {
	return &Response{Status: status, Body: body}
}

func (r *Response) WithHeader(key, value string) *Response {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

func (r *Response) WithCookie(cookie *fasthttp.Cookie) *Response {
	r.Cookies = append(r.Cookies, cookie)
	return r
}

func (r *Response) WithContentType(contentType string) *Response {
	r.ContentType = contentType
	return r
}

func (r *Response) BodyAllowed() bool {
	return r.Status != fasthttp.StatusNoContent &&
		r.Status != fasthttp.StatusNotModified &&
		(r.Status >= 200 || r.Status == 0)
}
