package api

import (
	"net/http"

	"stockagent/pkg/stockagent"
)

// writeToolError maps a coded error to an HTTP status and emits the
// {"error": message} shape.
func writeToolError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), messageForError(err))
}

// messageForError strips the code prefix: tool callers see the human
// message only.
func messageForError(err error) string {
	if e, ok := err.(*stockagent.Error); ok {
		return e.Message
	}
	return err.Error()
}

func statusForError(err error) int {
	switch stockagent.CodeOf(err) {
	case stockagent.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case stockagent.ErrCodeNotFound:
		return http.StatusNotFound
	case stockagent.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case stockagent.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case stockagent.ErrCodeAuth, stockagent.ErrCodeConfig:
		return http.StatusServiceUnavailable
	case stockagent.ErrCodeUpstream, stockagent.ErrCodeUpstreamData,
		stockagent.ErrCodeHTTP, stockagent.ErrCodeMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
