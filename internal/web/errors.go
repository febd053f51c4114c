package web

// errors.go turns handler errors into responses. The technical error is
// logged with the request id; the client gets the mapped user message as
// JSON, an HTMX fragment or plain text.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/mailmerge/internal/core"
	"github.com/JonMunkholm/mailmerge/internal/logging"
	"github.com/JonMunkholm/mailmerge/internal/source"
	"github.com/JonMunkholm/mailmerge/internal/web/templates"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// requestError is a malformed request. Its message is safe to show.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *requestError) Unwrap() error { return e.err }

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var parseErr *core.ParseError
	var reqErr *requestError
	var maxBytes *http.MaxBytesError
	var verrs validator.ValidationErrors

	switch {
	case errors.Is(err, source.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &reqErr), errors.As(err, &verrs),
		errors.Is(err, core.ErrInvalidConfig),
		errors.Is(err, core.ErrInvalidTemplate),
		errors.Is(err, core.ErrUnsupportedFormat),
		errors.Is(err, source.ErrUnsupportedFormat),
		errors.Is(err, source.ErrEmptyFile),
		errors.Is(err, core.ErrNoRecords):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRunNotFound), errors.Is(err, core.ErrUnknownField):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoDataSource), errors.Is(err, core.ErrNoTemplate),
		errors.Is(err, core.ErrRunNotActive), errors.Is(err, errNoOutput):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyLoads):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the user-facing response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{"path", r.URL.Path, "method", r.Method, "status", status, "error", err.Error(), "code", msg.Code}
	if status >= 500 {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	switch {
	case isHTMX(r):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
	case wantsJSON(r):
		resp := ErrorResponse{
			Error:     msg.Message,
			Message:   msg.Message,
			Action:    msg.Action,
			Code:      msg.Code,
			Detail:    detail(err),
			RequestID: middleware.GetReqID(r.Context()),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	default:
		http.Error(w, msg.Message+" ("+msg.Code+")", status)
	}
}

// detail returns the part of err that is safe and useful to show: parse
// positions, request problems and validation failures.
func detail(err error) string {
	var parseErr *core.ParseError
	var reqErr *requestError
	switch {
	case errors.As(err, &parseErr):
		return parseErr.Error()
	case errors.As(err, &reqErr):
		return reqErr.msg
	case errors.Is(err, core.ErrInvalidConfig), errors.Is(err, core.ErrInvalidTemplate),
		errors.Is(err, core.ErrUnknownField), errors.Is(err, errNoOutput):
		return err.Error()
	}
	return ""
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json") ||
		strings.HasPrefix(r.URL.Path, "/api/")
}
