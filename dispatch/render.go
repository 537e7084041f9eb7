package dispatch

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

const genericErrorMessage = "An unexpected error occurred"

type errorBody struct {
	Error     string   `json:"error"`
	Message   string   `json:"message,omitempty"`
	Status    int      `json:"status"`
	Fields    []string `json:"fields,omitempty"`
	Allowed   []string `json:"allowed,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// renderer builds the OnError callback for a route. handlers are tried in
// order and the first match produces the response; otherwise the default
// JSON error body is written.
func (d *Dispatcher) renderer(handlers []types.ErrorHandler) func(*types.RequestCtx, error) {
	return func(ctx *types.RequestCtx, err error) {
		e := classify(err)
		d.logFailure(ctx, e)

		for _, h := range handlers {
			if !h.Matches(e) {
				continue
			}
			resp := d.applyErrorHandler(ctx, h, e)
			if resp == nil {
				break
			}
			if werr := d.write(ctx, resp, nil); werr != nil {
				d.logger.Error("Failed to write error handler response", zap.Error(werr))
				d.writeError(&ctx.Response, e, ctx.RequestID())
			}
			applyErrorHeaders(&ctx.Response, e)
			return
		}

		d.writeError(&ctx.Response, e, ctx.RequestID())
	}
}

// applyErrorHandler shields the dispatcher from a panicking error handler.
func (d *Dispatcher) applyErrorHandler(ctx *types.RequestCtx, h types.ErrorHandler, e *types.Error) (resp *types.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("Error handler panicked", zap.Any("panic", rec))
			resp = nil
		}
	}()
	return h.Handle(ctx, e)
}

func classify(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	return types.NewHandlerError(err)
}

func (d *Dispatcher) writeError(resp *fasthttp.Response, e *types.Error, requestID string) {
	message := e.Message
	if !e.ClientFacing() && !d.config.Debug {
		message = genericErrorMessage
	} else if message == "" && e.Err != nil {
		message = e.Err.Error()
	}

	body, err := utils.Marshal(errorBody{
		Error:     e.Title(),
		Message:   message,
		Status:    e.Status,
		Fields:    e.Fields,
		Allowed:   e.Allowed,
		RequestID: requestID,
	})
	if err != nil {
		d.logger.Error("Failed to encode error response", zap.Error(err))
		body = []byte(`{"error":"Internal Server Error","message":"` + genericErrorMessage + `","status":500}`)
		e = types.NewHandlerError(err)
	}

	resp.ResetBody()
	resp.SetStatusCode(e.Status)
	resp.Header.SetContentType("application/json")
	resp.SetBody(body)
	applyErrorHeaders(resp, e)
	if requestID != "" {
		resp.Header.Set(utils.RequestIDHeader, requestID)
	}
}

func applyErrorHeaders(resp *fasthttp.Response, e *types.Error) {
	for k, v := range e.Headers {
		resp.Header.Set(k, v)
	}
}

func (d *Dispatcher) logFailure(ctx *types.RequestCtx, e *types.Error) {
	d.logError(e, requestFields(ctx.Method(), ctx.Path(), ctx.RequestID()))
}

// requestFields copies the request attributes logged with a failure.
func requestFields(method, path []byte, requestID string) []zap.Field {
	fields := []zap.Field{
		zap.String("method", string(method)),
		zap.String("path", string(path)),
	}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return fields
}

func (d *Dispatcher) logError(e *types.Error, fields []zap.Field) {
	fields = append([]zap.Field{
		zap.String("kind", e.Kind.String()),
		zap.Int("status", e.Status),
	}, fields...)

	switch {
	case e.Status >= 500:
		d.logger.ErrorWithErrStack("Request failed", e, fields...)
	case e.Kind == types.KindCancelled:
		d.logger.Debug("Request cancelled", fields...)
	default:
		d.logger.Warn("Request rejected", append(fields, zap.Error(e))...)
	}
}
