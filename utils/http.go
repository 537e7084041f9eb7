package utils

import "github.com/valyala/fasthttp"

const RequestIDHeader = "X-Request-ID"

func SetNoCacheHeaders(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")
}

func EchoRequestID(ctx *fasthttp.RequestCtx) {
	if requestID := ctx.Request.Header.Peek(RequestIDHeader); len(requestID) > 0 {
		ctx.Response.Header.SetBytesV(RequestIDHeader, requestID)
	}
}

// CreateErrorResponse writes the last-resort 500 used when an error body
// cannot be rendered.
func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	ctx.Response.ResetBody()
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetContentType("application/json")

	SetNoCacheHeaders(ctx)
	EchoRequestID(ctx)

	ctx.SetBodyString(`{"error":"Internal Server Error","message":"An unexpected error occurred","status":500}`)
}
